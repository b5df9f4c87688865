package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/authz"
	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/repo"
)

// BookService 图书目录服务接口
type BookService interface {
	ListBooks(ctx context.Context, req *domain.BookListRequest) ([]*domain.BookListItem, int64, error)
	GetBook(ctx context.Context, id int64) (*domain.BookDetail, error)
	CreateBook(ctx context.Context, principal *domain.User, req *domain.CreateBookRequest) (*domain.BookDetail, error)
	UpdateBook(ctx context.Context, principal *domain.User, id int64, req *domain.UpdateBookRequest) (*domain.BookDetail, error)
	DeleteBook(ctx context.Context, principal *domain.User, id int64) error
}

type bookService struct {
	bookRepo repo.BookRepository
	loanRepo repo.LoanRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewBookService 创建图书服务实例
func NewBookService(bookRepo repo.BookRepository, loanRepo repo.LoanRepository, logger *zap.Logger) BookService {
	return &bookService{bookRepo: bookRepo, loanRepo: loanRepo, logger: logger, now: time.Now}
}

// ListBooks 目录查询，参数在这里统一规范化
func (s *bookService) ListBooks(ctx context.Context, req *domain.BookListRequest) ([]*domain.BookListItem, int64, error) {
	req.Normalize()

	books, total, err := s.bookRepo.List(ctx, req)
	if err != nil {
		s.logger.Error("failed to list books", zap.Error(err))
		return nil, 0, fmt.Errorf("list books: %w", err)
	}
	return books, total, nil
}

// GetBook 图书详情，附带当前在借记录
func (s *bookService) GetBook(ctx context.Context, id int64) (*domain.BookDetail, error) {
	book, err := s.bookRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if book == nil {
		return nil, ErrBookNotFound
	}

	loans, err := s.loanRepo.ListActiveByBook(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list active loans: %w", err)
	}
	domain.MarkOverdue(loans, s.now())
	return &domain.BookDetail{BookListItem: *book, CurrentLoans: loans}, nil
}

func (s *bookService) CreateBook(ctx context.Context, principal *domain.User, req *domain.CreateBookRequest) (*domain.BookDetail, error) {
	if err := authz.Authorize(principal, authz.ManageCatalog, 0); err != nil {
		return nil, err
	}

	stock := domain.DefaultBookStock
	if req.Stock != nil {
		stock = *req.Stock
	}
	book := &domain.Book{
		Title:       strings.TrimSpace(req.Title),
		Author:      strings.TrimSpace(req.Author),
		Stock:       stock,
		Description: req.Description,
	}

	if err := s.bookRepo.Create(ctx, book, req.Categories); err != nil {
		if errors.Is(err, repo.ErrMissingReference) {
			return nil, ErrCategoryNotFound
		}
		s.logger.Error("failed to create book", zap.Error(err))
		return nil, fmt.Errorf("create book: %w", err)
	}

	s.logger.Info("book created",
		zap.Int64("book_id", book.ID),
		zap.String("title", book.Title),
		zap.Int("stock", book.Stock),
	)
	return s.GetBook(ctx, book.ID)
}

// UpdateBook 局部更新，只写入请求中出现的字段；未提供 stock 时不触碰库存
func (s *bookService) UpdateBook(ctx context.Context, principal *domain.User, id int64, req *domain.UpdateBookRequest) (*domain.BookDetail, error) {
	if err := authz.Authorize(principal, authz.ManageCatalog, 0); err != nil {
		return nil, err
	}
	if req.IsEmpty() {
		return nil, ErrEmptyUpdate
	}

	patch := *req
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		patch.Title = &title
	}
	if patch.Author != nil {
		author := strings.TrimSpace(*patch.Author)
		patch.Author = &author
	}

	if err := s.bookRepo.Update(ctx, id, &patch); err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return nil, ErrBookNotFound
		case errors.Is(err, repo.ErrMissingReference):
			return nil, ErrCategoryNotFound
		}
		s.logger.Error("failed to update book", zap.Int64("book_id", id), zap.Error(err))
		return nil, fmt.Errorf("update book: %w", err)
	}

	s.logger.Info("book updated", zap.Int64("book_id", id), zap.Int64("updated_by", principal.ID))
	return s.GetBook(ctx, id)
}

// DeleteBook 仍有借阅记录的图书不能删除
func (s *bookService) DeleteBook(ctx context.Context, principal *domain.User, id int64) error {
	if err := authz.Authorize(principal, authz.ManageCatalog, 0); err != nil {
		return err
	}

	if err := s.bookRepo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return ErrBookNotFound
		case errors.Is(err, repo.ErrStillReferenced):
			return ErrBookHasLoans
		}
		return fmt.Errorf("delete book: %w", err)
	}

	s.logger.Info("book deleted", zap.Int64("book_id", id), zap.Int64("deleted_by", principal.ID))
	return nil
}
