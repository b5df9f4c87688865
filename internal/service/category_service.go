package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/authz"
	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/repo"
)

// CategoryService 分类服务接口
type CategoryService interface {
	ListCategories(ctx context.Context) ([]*domain.Category, error)
	CreateCategory(ctx context.Context, principal *domain.User, req *domain.CategoryRequest) (*domain.Category, error)
	UpdateCategory(ctx context.Context, principal *domain.User, id int64, req *domain.CategoryRequest) (*domain.Category, error)
	DeleteCategory(ctx context.Context, principal *domain.User, id int64) error
}

type categoryService struct {
	categoryRepo repo.CategoryRepository
	logger       *zap.Logger
}

// NewCategoryService 创建分类服务实例
func NewCategoryService(categoryRepo repo.CategoryRepository, logger *zap.Logger) CategoryService {
	return &categoryService{categoryRepo: categoryRepo, logger: logger}
}

func (s *categoryService) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	categories, err := s.categoryRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

func (s *categoryService) CreateCategory(ctx context.Context, principal *domain.User, req *domain.CategoryRequest) (*domain.Category, error) {
	if err := authz.Authorize(principal, authz.ManageCatalog, 0); err != nil {
		return nil, err
	}

	category := &domain.Category{Name: strings.TrimSpace(req.Name)}
	if err := s.categoryRepo.Create(ctx, category); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrCategoryExists
		}
		return nil, fmt.Errorf("create category: %w", err)
	}

	s.logger.Info("category created", zap.Int64("category_id", category.ID), zap.String("name", category.Name))
	return s.reload(ctx, category.ID)
}

func (s *categoryService) UpdateCategory(ctx context.Context, principal *domain.User, id int64, req *domain.CategoryRequest) (*domain.Category, error) {
	if err := authz.Authorize(principal, authz.ManageCatalog, 0); err != nil {
		return nil, err
	}

	category := &domain.Category{ID: id, Name: strings.TrimSpace(req.Name)}
	if err := s.categoryRepo.Update(ctx, category); err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return nil, ErrCategoryNotFound
		case errors.Is(err, repo.ErrDuplicate):
			return nil, ErrCategoryExists
		}
		return nil, fmt.Errorf("update category: %w", err)
	}

	s.logger.Info("category updated", zap.Int64("category_id", id), zap.String("name", category.Name))
	return s.reload(ctx, id)
}

// DeleteCategory 分类仍被图书引用时拒绝删除
func (s *categoryService) DeleteCategory(ctx context.Context, principal *domain.User, id int64) error {
	if err := authz.Authorize(principal, authz.ManageCatalog, 0); err != nil {
		return err
	}

	if err := s.categoryRepo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return ErrCategoryNotFound
		case errors.Is(err, repo.ErrStillReferenced):
			return ErrCategoryInUse
		}
		return fmt.Errorf("delete category: %w", err)
	}

	s.logger.Info("category deleted", zap.Int64("category_id", id))
	return nil
}

func (s *categoryService) reload(ctx context.Context, id int64) (*domain.Category, error) {
	category, err := s.categoryRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	if category == nil {
		return nil, ErrCategoryNotFound
	}
	return category, nil
}
