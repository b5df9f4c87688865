package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/MorseWayne/library_api/internal/authz"
	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/repo"
)

// recentLoansLimit 用户详情中展示的最近借阅条数
const recentLoansLimit = 5

// UserService 定义用户与认证服务接口
type UserService interface {
	Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error)
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.User, *TokenPair, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error)
	Logout(ctx context.Context, userID int64) error
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)

	ListUsers(ctx context.Context, principal *domain.User, req *domain.UserListRequest) ([]*domain.UserWithStats, int64, error)
	GetUserDetail(ctx context.Context, principal *domain.User, id int64) (*domain.UserDetail, error)
	UpdateUser(ctx context.Context, principal *domain.User, id int64, req *domain.UpdateUserRequest) (*domain.User, error)
	UpdateUserRole(ctx context.Context, principal *domain.User, id int64, role domain.UserRole) (*domain.User, error)
}

// userService 是 UserService 接口的实现
type userService struct {
	userRepo   repo.UserRepository
	loanRepo   repo.LoanRepository
	jwtService JWTService
	logger     *zap.Logger
	now        func() time.Time
}

// NewUserService 创建用户服务实例
func NewUserService(userRepo repo.UserRepository, loanRepo repo.LoanRepository, jwtService JWTService, logger *zap.Logger) UserService {
	return &userService{
		userRepo:   userRepo,
		loanRepo:   loanRepo,
		jwtService: jwtService,
		logger:     logger,
		now:        time.Now,
	}
}

// hashToken 服务端只保存刷新令牌的 SHA-256 摘要
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Register 用户注册
// 业务规则：
// 1. 用户名和邮箱不能重复
// 2. 密码需要进行bcrypt哈希
// 3. 新用户默认为 MEMBER，未填写姓名时使用用户名
func (s *userService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(strings.ToLower(req.Email))

	existing, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		s.logger.Error("failed to check username", zap.Error(err))
		return nil, fmt.Errorf("check username: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	existing, err = s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		s.logger.Error("failed to check email", zap.Error(err))
		return nil, fmt.Errorf("check email: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("failed to hash password", zap.Error(err))
		return nil, fmt.Errorf("hash password: %w", err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = username
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		Name:         name,
		PasswordHash: string(passwordHash),
		Role:         domain.UserRoleMember,
	}

	// 并发注册时由唯一索引兜底
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrUserExists
		}
		s.logger.Error("failed to create user", zap.Error(err))
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered successfully",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
	)

	return user, nil
}

// Login 用户登录：支持用户名或邮箱，成功后轮换服务端保存的刷新令牌
func (s *userService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.User, *TokenPair, error) {
	user, err := s.userRepo.GetByUsername(ctx, req.Username)
	if err != nil {
		s.logger.Error("failed to get user by username", zap.Error(err))
		return nil, nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		user, err = s.userRepo.GetByEmail(ctx, strings.ToLower(req.Username))
		if err != nil {
			s.logger.Error("failed to get user by email", zap.Error(err))
			return nil, nil, fmt.Errorf("get user: %w", err)
		}
	}

	// 用户不存在与密码错误返回同一错误，避免枚举用户名
	if user == nil {
		return nil, nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, nil, ErrInvalidCredentials
		}
		s.logger.Error("failed to compare password", zap.Error(err))
		return nil, nil, fmt.Errorf("compare password: %w", err)
	}

	tokens, err := s.jwtService.GenerateTokenPair(user)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	hash := hashToken(tokens.RefreshToken)
	if err := s.userRepo.SetRefreshTokenHash(ctx, user.ID, &hash); err != nil {
		s.logger.Error("failed to store refresh token", zap.Int64("user_id", user.ID), zap.Error(err))
		return nil, nil, fmt.Errorf("store refresh token: %w", err)
	}
	user.RefreshTokenHash = &hash

	s.logger.Info("user logged in successfully",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
	)

	return user, tokens, nil
}

// RefreshAccessToken 校验刷新令牌签名及其是否为服务端当前保存的那一个，然后签发新的访问令牌
func (s *userService) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.jwtService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil || user.RefreshTokenHash == nil {
		return nil, ErrInvalidRefreshToken
	}

	if subtle.ConstantTimeCompare([]byte(*user.RefreshTokenHash), []byte(hashToken(refreshToken))) != 1 {
		s.logger.Warn("refresh token does not match stored token", zap.Int64("user_id", user.ID))
		return nil, ErrInvalidRefreshToken
	}

	return s.jwtService.GenerateAccessToken(user)
}

// Logout 清除服务端保存的刷新令牌
func (s *userService) Logout(ctx context.Context, userID int64) error {
	if err := s.userRepo.SetRefreshTokenHash(ctx, userID, nil); err != nil {
		s.logger.Error("failed to clear refresh token", zap.Int64("user_id", userID), zap.Error(err))
		return fmt.Errorf("clear refresh token: %w", err)
	}
	s.logger.Info("user logged out", zap.Int64("user_id", userID))
	return nil
}

// GetUserByID 根据ID获取用户
func (s *userService) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("failed to get user by id", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ListUsers 分页列出全部用户（管理员）
func (s *userService) ListUsers(ctx context.Context, principal *domain.User, req *domain.UserListRequest) ([]*domain.UserWithStats, int64, error) {
	if err := authz.Authorize(principal, authz.ListUsers, 0); err != nil {
		return nil, 0, err
	}
	req.Normalize()

	users, total, err := s.userRepo.List(ctx, domain.Offset(req.Page, req.Limit), req.Limit)
	if err != nil {
		s.logger.Error("failed to list users", zap.Error(err))
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

// GetUserDetail 用户详情：本人或管理员可见，附带借阅总数与最近借阅
func (s *userService) GetUserDetail(ctx context.Context, principal *domain.User, id int64) (*domain.UserDetail, error) {
	if err := authz.Authorize(principal, authz.ViewUser, id); err != nil {
		return nil, err
	}

	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	total, err := s.userRepo.CountLoans(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count loans: %w", err)
	}
	recent, err := s.loanRepo.ListRecentByUser(ctx, id, recentLoansLimit)
	if err != nil {
		return nil, fmt.Errorf("list recent loans: %w", err)
	}
	domain.MarkOverdue(recent, s.now())

	return &domain.UserDetail{User: *user, TotalLoans: total, RecentLoans: recent}, nil
}

// UpdateUser 更新资料：本人或管理员；修改密码后需要重新登录
func (s *userService) UpdateUser(ctx context.Context, principal *domain.User, id int64, req *domain.UpdateUserRequest) (*domain.User, error) {
	if err := authz.Authorize(principal, authz.UpdateUser, id); err != nil {
		return nil, err
	}
	if req.IsEmpty() {
		return nil, ErrEmptyUpdate
	}

	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if email != user.Email {
			other, err := s.userRepo.GetByEmail(ctx, email)
			if err != nil {
				return nil, fmt.Errorf("check email: %w", err)
			}
			if other != nil && other.ID != user.ID {
				return nil, ErrEmailTaken
			}
		}
		user.Email = email
	}
	passwordChanged := false
	if req.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = string(hash)
		passwordChanged = true
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		switch {
		case errors.Is(err, repo.ErrDuplicate):
			return nil, ErrEmailTaken
		case errors.Is(err, repo.ErrNotFound):
			return nil, ErrUserNotFound
		}
		s.logger.Error("failed to update user", zap.Int64("user_id", id), zap.Error(err))
		return nil, fmt.Errorf("update user: %w", err)
	}

	if passwordChanged {
		if err := s.Logout(ctx, user.ID); err != nil {
			return nil, err
		}
		user.RefreshTokenHash = nil
	}

	s.logger.Info("user updated",
		zap.Int64("user_id", user.ID),
		zap.Int64("updated_by", principal.ID),
		zap.Bool("password_changed", passwordChanged),
	)
	return user, nil
}

// UpdateUserRole 修改角色（管理员）
func (s *userService) UpdateUserRole(ctx context.Context, principal *domain.User, id int64, role domain.UserRole) (*domain.User, error) {
	if err := authz.Authorize(principal, authz.ChangeUserRole, id); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	if err := s.userRepo.UpdateRole(ctx, id, role); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update role: %w", err)
	}

	s.logger.Info("user role updated",
		zap.Int64("user_id", id),
		zap.String("role", string(role)),
		zap.Int64("updated_by", principal.ID),
	)
	return s.GetUserByID(ctx, id)
}
