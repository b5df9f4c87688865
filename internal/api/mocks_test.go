package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/middleware"
	"github.com/MorseWayne/library_api/internal/resp"
	"github.com/MorseWayne/library_api/internal/service"
)

// MockLoanService for testing
type MockLoanService struct {
	createFunc      func(ctx context.Context, principal *domain.User, req *domain.CreateLoanRequest) (*domain.LoanDetail, error)
	listFunc        func(ctx context.Context, principal *domain.User, req *domain.LoanListRequest) ([]*domain.LoanDetail, int64, error)
	getFunc         func(ctx context.Context, principal *domain.User, id int64) (*domain.LoanDetail, error)
	cancelFunc      func(ctx context.Context, principal *domain.User, id int64) (*domain.LoanDetail, error)
	forceReturnFunc func(ctx context.Context, principal *domain.User, id int64) (*domain.LoanDetail, error)
}

func (m *MockLoanService) CreateLoan(ctx context.Context, principal *domain.User, req *domain.CreateLoanRequest) (*domain.LoanDetail, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, principal, req)
	}
	return &domain.LoanDetail{Loan: domain.Loan{ID: 1, UserID: principal.ID, BookID: req.BookID, Status: domain.LoanStatusBorrowed}}, nil
}

func (m *MockLoanService) ListLoans(ctx context.Context, principal *domain.User, req *domain.LoanListRequest) ([]*domain.LoanDetail, int64, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, principal, req)
	}
	req.Normalize()
	return []*domain.LoanDetail{}, 0, nil
}

func (m *MockLoanService) GetLoan(ctx context.Context, principal *domain.User, id int64) (*domain.LoanDetail, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, principal, id)
	}
	return &domain.LoanDetail{Loan: domain.Loan{ID: id, UserID: principal.ID}}, nil
}

func (m *MockLoanService) CancelLoan(ctx context.Context, principal *domain.User, id int64) (*domain.LoanDetail, error) {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, principal, id)
	}
	return &domain.LoanDetail{Loan: domain.Loan{ID: id, Status: domain.LoanStatusCancelled}}, nil
}

func (m *MockLoanService) ForceReturn(ctx context.Context, principal *domain.User, id int64) (*domain.LoanDetail, error) {
	if m.forceReturnFunc != nil {
		return m.forceReturnFunc(ctx, principal, id)
	}
	return &domain.LoanDetail{Loan: domain.Loan{ID: id, Status: domain.LoanStatusReturned}}, nil
}

func (m *MockLoanService) ReconcileOverdue(ctx context.Context) (int, error) {
	return 0, nil
}

// MockBookService for testing
type MockBookService struct {
	listFunc   func(ctx context.Context, req *domain.BookListRequest) ([]*domain.BookListItem, int64, error)
	getFunc    func(ctx context.Context, id int64) (*domain.BookDetail, error)
	createFunc func(ctx context.Context, principal *domain.User, req *domain.CreateBookRequest) (*domain.BookDetail, error)
	updateFunc func(ctx context.Context, principal *domain.User, id int64, req *domain.UpdateBookRequest) (*domain.BookDetail, error)
	deleteFunc func(ctx context.Context, principal *domain.User, id int64) error
}

func (m *MockBookService) ListBooks(ctx context.Context, req *domain.BookListRequest) ([]*domain.BookListItem, int64, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, req)
	}
	req.Normalize()
	return []*domain.BookListItem{}, 0, nil
}

func (m *MockBookService) GetBook(ctx context.Context, id int64) (*domain.BookDetail, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return &domain.BookDetail{BookListItem: domain.BookListItem{Book: domain.Book{ID: id, Title: "Dune"}}}, nil
}

func (m *MockBookService) CreateBook(ctx context.Context, principal *domain.User, req *domain.CreateBookRequest) (*domain.BookDetail, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, principal, req)
	}
	return &domain.BookDetail{BookListItem: domain.BookListItem{Book: domain.Book{ID: 1, Title: req.Title, Author: req.Author}}}, nil
}

func (m *MockBookService) UpdateBook(ctx context.Context, principal *domain.User, id int64, req *domain.UpdateBookRequest) (*domain.BookDetail, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, principal, id, req)
	}
	return &domain.BookDetail{BookListItem: domain.BookListItem{Book: domain.Book{ID: id}}}, nil
}

func (m *MockBookService) DeleteBook(ctx context.Context, principal *domain.User, id int64) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, principal, id)
	}
	return nil
}

// MockCategoryService for testing
type MockCategoryService struct {
	deleteFunc func(ctx context.Context, principal *domain.User, id int64) error
}

func (m *MockCategoryService) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	return []*domain.Category{{ID: 1, Name: "Fiction"}}, nil
}

func (m *MockCategoryService) CreateCategory(ctx context.Context, principal *domain.User, req *domain.CategoryRequest) (*domain.Category, error) {
	return &domain.Category{ID: 2, Name: req.Name}, nil
}

func (m *MockCategoryService) UpdateCategory(ctx context.Context, principal *domain.User, id int64, req *domain.CategoryRequest) (*domain.Category, error) {
	return &domain.Category{ID: id, Name: req.Name}, nil
}

func (m *MockCategoryService) DeleteCategory(ctx context.Context, principal *domain.User, id int64) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, principal, id)
	}
	return nil
}

// MockUserService for testing
type MockUserService struct {
	registerFunc func(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error)
	loginFunc    func(ctx context.Context, req *domain.LoginRequest) (*domain.User, *service.TokenPair, error)
	refreshFunc  func(ctx context.Context, refreshToken string) (*service.TokenPair, error)
	logoutFunc   func(ctx context.Context, userID int64) error
	listFunc     func(ctx context.Context, principal *domain.User, req *domain.UserListRequest) ([]*domain.UserWithStats, int64, error)
	roleFunc     func(ctx context.Context, principal *domain.User, id int64, role domain.UserRole) (*domain.User, error)
}

func (m *MockUserService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, req)
	}
	return &domain.User{ID: 1, Username: req.Username, Email: req.Email, Role: domain.UserRoleMember}, nil
}

func (m *MockUserService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.User, *service.TokenPair, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, req)
	}
	return &domain.User{ID: 1, Username: req.Username}, &service.TokenPair{AccessToken: "a", RefreshToken: "r", AccessTokenExpiresIn: 900}, nil
}

func (m *MockUserService) RefreshAccessToken(ctx context.Context, refreshToken string) (*service.TokenPair, error) {
	if m.refreshFunc != nil {
		return m.refreshFunc(ctx, refreshToken)
	}
	return &service.TokenPair{AccessToken: "a2", AccessTokenExpiresIn: 900}, nil
}

func (m *MockUserService) Logout(ctx context.Context, userID int64) error {
	if m.logoutFunc != nil {
		return m.logoutFunc(ctx, userID)
	}
	return nil
}

func (m *MockUserService) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return &domain.User{ID: id}, nil
}

func (m *MockUserService) ListUsers(ctx context.Context, principal *domain.User, req *domain.UserListRequest) ([]*domain.UserWithStats, int64, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, principal, req)
	}
	req.Normalize()
	return []*domain.UserWithStats{}, 0, nil
}

func (m *MockUserService) GetUserDetail(ctx context.Context, principal *domain.User, id int64) (*domain.UserDetail, error) {
	return &domain.UserDetail{User: domain.User{ID: id}}, nil
}

func (m *MockUserService) UpdateUser(ctx context.Context, principal *domain.User, id int64, req *domain.UpdateUserRequest) (*domain.User, error) {
	return &domain.User{ID: id}, nil
}

func (m *MockUserService) UpdateUserRole(ctx context.Context, principal *domain.User, id int64, role domain.UserRole) (*domain.User, error) {
	if m.roleFunc != nil {
		return m.roleFunc(ctx, principal, id, role)
	}
	return &domain.User{ID: id, Role: role}, nil
}

var (
	testMember = &domain.User{ID: 7, Username: "member", Role: domain.UserRoleMember}
	testAdmin  = &domain.User{ID: 1, Username: "admin", Role: domain.UserRoleAdmin}
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	RegisterValidators()
	return gin.New()
}

// asUser 模拟认证中间件注入的当前用户
func asUser(user *domain.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user != nil {
			c.Request = c.Request.WithContext(middleware.WithUser(c.Request.Context(), user))
		}
		c.Next()
	}
}

func doJSON(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) resp.Envelope {
	t.Helper()
	var env resp.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid response body %q: %v", w.Body.String(), err)
	}
	return env
}
