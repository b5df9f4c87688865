// Package repo 提供数据访问层实现，负责与数据库交互。
// 仓储模式（Repository Pattern）将数据访问逻辑与业务逻辑分离，
// 使得业务逻辑不依赖于具体的数据存储实现。
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"github.com/MorseWayne/library_api/internal/database"
	"github.com/MorseWayne/library_api/internal/domain"
)

// UserRepository 定义用户数据访问接口
// 使用接口可以方便单元测试时进行模拟（mock）
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	UpdateRole(ctx context.Context, userID int64, role domain.UserRole) error
	SetRefreshTokenHash(ctx context.Context, userID int64, hash *string) error
	// 管理员专用：分页列表，附带每个用户的借阅总数
	List(ctx context.Context, offset, limit int) ([]*domain.UserWithStats, int64, error)
	CountLoans(ctx context.Context, userID int64) (int64, error)
}

const userColumns = `id, username, email, name, password_hash, role, refresh_token_hash, created_at, updated_at`

// userRepo 是 UserRepository 接口的数据库实现
type userRepo struct {
	db *database.DB
}

// NewUserRepository 创建用户仓储实例
func NewUserRepository(db *database.DB) UserRepository {
	return &userRepo{db: db}
}

// Create 创建新用户
// 注意：这里不处理密码哈希，密码哈希应该在服务层处理
func (r *userRepo) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (username, email, name, password_hash, role)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		user.Username,
		user.Email,
		user.Name,
		user.PasswordHash,
		string(user.Role),
	)
	if err != nil {
		return translateError("create user", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	user.ID = id
	return nil
}

// getOne 按单列条件查询用户，不存在时返回 nil, nil
func (r *userRepo) getOne(ctx context.Context, op, column string, value any) (*domain.User, error) {
	user := &domain.User{}
	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s = ?`, userColumns, column)

	if err := r.db.GetContext(ctx, user, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// GetByID 根据ID查询用户
func (r *userRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.getOne(ctx, "get user by id", "id", id)
}

// GetByUsername 根据用户名查询用户
func (r *userRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, "get user by username", "username", username)
}

// GetByEmail 根据邮箱查询用户
func (r *userRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, "get user by email", "email", email)
}

// Update 更新用户资料（姓名、邮箱、密码哈希）
func (r *userRepo) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET name = ?, email = ?, password_hash = ?, updated_at = CURRENT_TIMESTAMP(3)
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, user.Name, user.Email, user.PasswordHash, user.ID)
	if err != nil {
		return translateError("update user", err)
	}
	return requireAffected("update user", result)
}

// UpdateRole 更新用户角色（管理员专用）
func (r *userRepo) UpdateRole(ctx context.Context, userID int64, role domain.UserRole) error {
	query := `UPDATE users SET role = ?, updated_at = CURRENT_TIMESTAMP(3) WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, string(role), userID)
	if err != nil {
		return translateError("update user role", err)
	}
	return requireAffected("update user role", result)
}

// SetRefreshTokenHash 保存或清除（hash 为 nil）用户当前的刷新令牌摘要
func (r *userRepo) SetRefreshTokenHash(ctx context.Context, userID int64, hash *string) error {
	query := `UPDATE users SET refresh_token_hash = ? WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, query, hash, userID); err != nil {
		return translateError("set refresh token", err)
	}
	return nil
}

// List 分页获取用户列表，总数与分页数据并发查询
func (r *userRepo) List(ctx context.Context, offset, limit int) ([]*domain.UserWithStats, int64, error) {
	pageQuery, pageArgs, err := sq.
		Select("u.id", "u.username", "u.email", "u.name", "u.role", "u.created_at", "u.updated_at",
			"(SELECT COUNT(*) FROM loans l WHERE l.user_id = u.id) AS total_loans").
		From("users u").
		OrderBy("u.created_at DESC", "u.id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build user list query: %w", err)
	}

	var (
		users []*domain.UserWithStats
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.db.SelectContext(gctx, &users, pageQuery, pageArgs...); err != nil {
			return fmt.Errorf("query users: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := r.db.GetContext(gctx, &total, `SELECT COUNT(*) FROM users`); err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	if users == nil {
		users = []*domain.UserWithStats{}
	}
	return users, total, nil
}

// CountLoans 统计用户的借阅总数（含已归还、已取消）
func (r *userRepo) CountLoans(ctx context.Context, userID int64) (int64, error) {
	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM loans WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("count user loans: %w", err)
	}
	return total, nil
}
