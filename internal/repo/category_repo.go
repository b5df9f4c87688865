package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MorseWayne/library_api/internal/database"
	"github.com/MorseWayne/library_api/internal/domain"
)

// CategoryRepository 分类数据访问接口
type CategoryRepository interface {
	Create(ctx context.Context, category *domain.Category) error
	GetByID(ctx context.Context, id int64) (*domain.Category, error)
	List(ctx context.Context) ([]*domain.Category, error)
	Update(ctx context.Context, category *domain.Category) error
	Delete(ctx context.Context, id int64) error
}

type categoryRepo struct {
	db *database.DB
}

// NewCategoryRepository 创建分类仓储实例
func NewCategoryRepository(db *database.DB) CategoryRepository {
	return &categoryRepo{db: db}
}

func (r *categoryRepo) Create(ctx context.Context, category *domain.Category) error {
	result, err := r.db.ExecContext(ctx, `INSERT INTO categories (name) VALUES (?)`, category.Name)
	if err != nil {
		return translateError("create category", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	category.ID = id
	return nil
}

// GetByID 不存在时返回 nil, nil
func (r *categoryRepo) GetByID(ctx context.Context, id int64) (*domain.Category, error) {
	category := &domain.Category{}
	err := r.db.GetContext(ctx, category,
		`SELECT id, name, created_at, updated_at FROM categories WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get category by id: %w", err)
	}
	return category, nil
}

// List 按名称升序返回全部分类
func (r *categoryRepo) List(ctx context.Context) ([]*domain.Category, error) {
	categories := []*domain.Category{}
	err := r.db.SelectContext(ctx, &categories,
		`SELECT id, name, created_at, updated_at FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

func (r *categoryRepo) Update(ctx context.Context, category *domain.Category) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE categories SET name = ?, updated_at = CURRENT_TIMESTAMP(3) WHERE id = ?`,
		category.Name, category.ID)
	if err != nil {
		return translateError("update category", err)
	}
	return requireAffected("update category", result)
}

// Delete 仍被图书引用时返回 ErrStillReferenced
func (r *categoryRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return translateError("delete category", err)
	}
	return requireAffected("delete category", result)
}
