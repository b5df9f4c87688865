package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/resp"
	"github.com/MorseWayne/library_api/internal/service"
)

func newUserRouter(svc service.UserService, user *domain.User) *gin.Engine {
	router := setupTestRouter()
	h := NewUserHandler(svc, zap.NewNop())

	auth := router.Group("/api/auth")
	auth.POST("/register", h.Register)
	auth.POST("/login", h.Login)
	auth.POST("/refresh-token", h.RefreshToken)
	auth.POST("/logout", asUser(user), h.Logout)
	auth.GET("/me", asUser(user), h.Me)

	users := router.Group("/api/users", asUser(user))
	users.GET("", h.ListUsers)
	users.GET("/:id", h.GetUser)
	users.PUT("/:id", h.UpdateUser)
	users.PATCH("/:id/role", h.UpdateUserRole)
	return router
}

func TestUserHandler_Register(t *testing.T) {
	router := newUserRouter(&MockUserService{}, nil)

	w := doJSON(router, http.MethodPost, "/api/auth/register", map[string]any{
		"username": "alice", "email": "alice@example.com", "password": "Passw0rd!",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	data := decode(t, w).Data.(map[string]any)
	assert.Equal(t, "alice", data["username"])
	assert.Equal(t, "MEMBER", data["role"])
	assert.NotContains(t, data, "password")
}

func TestUserHandler_RegisterValidation(t *testing.T) {
	router := newUserRouter(&MockUserService{}, nil)

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"weak password", map[string]any{"username": "alice", "email": "a@example.com", "password": "password1"}, "password"},
		{"no symbol", map[string]any{"username": "alice", "email": "a@example.com", "password": "Passw0rd1"}, "password"},
		{"short password", map[string]any{"username": "alice", "email": "a@example.com", "password": "Pa0!"}, "password"},
		{"bad email", map[string]any{"username": "alice", "email": "not-an-email", "password": "Passw0rd!"}, "email"},
		{"username symbols", map[string]any{"username": "al ice", "email": "a@example.com", "password": "Passw0rd!"}, "username"},
		{"username short", map[string]any{"username": "al", "email": "a@example.com", "password": "Passw0rd!"}, "username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/api/auth/register", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			env := decode(t, w)
			assert.Equal(t, resp.CodeValidation, env.Code)
			require.NotEmpty(t, env.Errors)
			assert.Equal(t, tt.field, env.Errors[0].Field)
		})
	}
}

func TestUserHandler_RegisterConflict(t *testing.T) {
	svc := &MockUserService{
		registerFunc: func(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error) {
			return nil, service.ErrUserExists
		},
	}
	w := doJSON(newUserRouter(svc, nil), http.MethodPost, "/api/auth/register", map[string]any{
		"username": "alice", "email": "alice@example.com", "password": "Passw0rd!",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, resp.CodeConflict, decode(t, w).Code)
}

func TestUserHandler_Login(t *testing.T) {
	svc := &MockUserService{
		loginFunc: func(ctx context.Context, req *domain.LoginRequest) (*domain.User, *service.TokenPair, error) {
			if req.Password != "Passw0rd!" {
				return nil, nil, service.ErrInvalidCredentials
			}
			return &domain.User{ID: 1, Username: req.Username}, &service.TokenPair{
				AccessToken: "access", RefreshToken: "refresh", AccessTokenExpiresIn: 900,
			}, nil
		},
	}
	router := newUserRouter(svc, nil)

	w := doJSON(router, http.MethodPost, "/api/auth/login", map[string]any{"username": "alice", "password": "Passw0rd!"})
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]any)
	tokens := data["tokens"].(map[string]any)
	assert.Equal(t, "access", tokens["accessToken"])
	assert.Equal(t, "refresh", tokens["refreshToken"])
	assert.EqualValues(t, 900, tokens["accessTokenExpiresIn"])
	assert.Equal(t, "alice", data["user"].(map[string]any)["username"])

	w = doJSON(router, http.MethodPost, "/api/auth/login", map[string]any{"username": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, resp.CodeUnauthorized, decode(t, w).Code)

	w = doJSON(router, http.MethodPost, "/api/auth/login", map[string]any{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserHandler_RefreshToken(t *testing.T) {
	svc := &MockUserService{
		refreshFunc: func(ctx context.Context, refreshToken string) (*service.TokenPair, error) {
			if refreshToken == "expired" {
				return nil, service.ErrTokenExpired
			}
			return nil, service.ErrInvalidRefreshToken
		},
	}
	router := newUserRouter(svc, nil)

	w := doJSON(router, http.MethodPost, "/api/auth/refresh-token", map[string]any{"refreshToken": "expired"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, resp.CodeTokenExpired, decode(t, w).Code)

	w = doJSON(router, http.MethodPost, "/api/auth/refresh-token", map[string]any{"refreshToken": "revoked"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, resp.CodeInvalidToken, decode(t, w).Code)
}

func TestUserHandler_LogoutAndMe(t *testing.T) {
	var loggedOut int64
	svc := &MockUserService{
		logoutFunc: func(ctx context.Context, userID int64) error {
			loggedOut = userID
			return nil
		},
	}
	router := newUserRouter(svc, testMember)

	w := doJSON(router, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testMember.ID, loggedOut)

	w = doJSON(router, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "member", decode(t, w).Data.(map[string]any)["username"])
}

func TestUserHandler_UpdateUserRole(t *testing.T) {
	var gotRole domain.UserRole
	svc := &MockUserService{
		roleFunc: func(ctx context.Context, principal *domain.User, id int64, role domain.UserRole) (*domain.User, error) {
			gotRole = role
			if !role.Valid() {
				return nil, service.ErrInvalidRole
			}
			return &domain.User{ID: id, Role: role}, nil
		},
	}
	router := newUserRouter(svc, testAdmin)

	w := doJSON(router, http.MethodPatch, "/api/users/7/role", map[string]any{"role": "ADMIN"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.UserRoleAdmin, gotRole)

	w = doJSON(router, http.MethodPatch, "/api/users/7/role", map[string]any{"role": "LIBRARIAN"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, resp.CodeValidation, decode(t, w).Code)
}

func TestUserHandler_ListUsers(t *testing.T) {
	svc := &MockUserService{
		listFunc: func(ctx context.Context, principal *domain.User, req *domain.UserListRequest) ([]*domain.UserWithStats, int64, error) {
			req.Normalize()
			return []*domain.UserWithStats{{User: domain.User{ID: 1}, TotalLoans: 4}}, 1, nil
		},
	}
	w := doJSON(newUserRouter(svc, testAdmin), http.MethodGet, "/api/users?page=1&limit=5", nil)

	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 5, env.Pagination.Limit)
	assert.EqualValues(t, 1, env.Pagination.Total)
}
