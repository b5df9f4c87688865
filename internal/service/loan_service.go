package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/authz"
	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/repo"
)

// errNotOverdue 对账时记录已不再逾期（例如已被并发处理），跳过即可
var errNotOverdue = errors.New("loan is not overdue")

// LoanService 借阅生命周期服务。
// 每个借阅读写操作开始前都会先执行一次逾期对账。
type LoanService interface {
	CreateLoan(ctx context.Context, principal *domain.User, req *domain.CreateLoanRequest) (*domain.LoanDetail, error)
	ListLoans(ctx context.Context, principal *domain.User, req *domain.LoanListRequest) ([]*domain.LoanDetail, int64, error)
	GetLoan(ctx context.Context, principal *domain.User, id int64) (*domain.LoanDetail, error)
	CancelLoan(ctx context.Context, principal *domain.User, id int64) (*domain.LoanDetail, error)
	ForceReturn(ctx context.Context, principal *domain.User, id int64) (*domain.LoanDetail, error)
	// ReconcileOverdue 将所有逾期的在借记录自动归还，返回处理条数
	ReconcileOverdue(ctx context.Context) (int, error)
}

// LoanServiceOption 借阅服务可选配置
type LoanServiceOption func(*loanService)

// WithClock 替换时间来源，测试中用于冻结或推进时间
func WithClock(now func() time.Time) LoanServiceOption {
	return func(s *loanService) {
		s.now = now
	}
}

type loanService struct {
	loanRepo repo.LoanRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewLoanService 创建借阅服务实例
func NewLoanService(loanRepo repo.LoanRepository, logger *zap.Logger, opts ...LoanServiceOption) LoanService {
	s := &loanService{
		loanRepo: loanRepo,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateLoan 借书。可借数量、重复借阅检查与库存扣减都在锁定图书行之后的同一事务内完成。
func (s *loanService) CreateLoan(ctx context.Context, principal *domain.User, req *domain.CreateLoanRequest) (*domain.LoanDetail, error) {
	if principal == nil {
		return nil, authz.ErrUnauthenticated
	}
	if err := authz.Authorize(principal, authz.BorrowBook, principal.ID); err != nil {
		return nil, err
	}

	dueDays, err := domain.ResolveDueDays(req.DueDays)
	if err != nil {
		return nil, err
	}

	if _, err := s.ReconcileOverdue(ctx); err != nil {
		return nil, err
	}

	loan := domain.NewLoan(principal.ID, req.BookID, s.now(), dueDays)

	err = s.loanRepo.WithinTx(ctx, func(tx repo.LoanTx) error {
		book, err := tx.LockBook(ctx, req.BookID)
		if err != nil {
			return err
		}
		if book == nil {
			return ErrBookNotFound
		}

		active, err := tx.CountActiveLoans(ctx, book.ID)
		if err != nil {
			return err
		}
		if domain.AvailableStock(book.Stock, active) <= 0 {
			return ErrBookUnavailable
		}

		existing, err := tx.FindActiveLoan(ctx, principal.ID, book.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateLoan
		}

		if err := tx.AdjustBookStock(ctx, book.ID, -1); err != nil {
			if errors.Is(err, repo.ErrInsufficientStock) {
				return ErrBookUnavailable
			}
			return err
		}

		if err := tx.InsertLoan(ctx, loan); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return ErrDuplicateLoan
			}
			return err
		}
		return nil
	})
	if err != nil {
		if isBusinessError(err) {
			s.logger.Info("loan rejected",
				zap.Int64("user_id", principal.ID),
				zap.Int64("book_id", req.BookID),
				zap.Error(err),
			)
			return nil, err
		}
		s.logger.Error("failed to create loan",
			zap.Int64("user_id", principal.ID),
			zap.Int64("book_id", req.BookID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create loan: %w", err)
	}

	s.logger.Info("loan created",
		zap.Int64("loan_id", loan.ID),
		zap.Int64("user_id", principal.ID),
		zap.Int64("book_id", req.BookID),
		zap.Time("due_date", loan.DueDate),
	)
	return s.loadDetail(ctx, loan.ID)
}

// ListLoans 管理员可查看全部借阅，读者只能看到自己的
func (s *loanService) ListLoans(ctx context.Context, principal *domain.User, req *domain.LoanListRequest) ([]*domain.LoanDetail, int64, error) {
	if principal == nil {
		return nil, 0, authz.ErrUnauthenticated
	}
	if _, err := s.ReconcileOverdue(ctx); err != nil {
		return nil, 0, err
	}

	req.Normalize()
	if !authz.Can(principal, authz.ListAllLoans, 0) {
		self := principal.ID
		req.UserID = &self
	}

	loans, total, err := s.loanRepo.List(ctx, req)
	if err != nil {
		s.logger.Error("failed to list loans", zap.Int64("user_id", principal.ID), zap.Error(err))
		return nil, 0, fmt.Errorf("list loans: %w", err)
	}
	s.markOverdue(loans)
	return loans, total, nil
}

// GetLoan 借阅详情：本人或管理员
func (s *loanService) GetLoan(ctx context.Context, principal *domain.User, id int64) (*domain.LoanDetail, error) {
	if principal == nil {
		return nil, authz.ErrUnauthenticated
	}
	if _, err := s.ReconcileOverdue(ctx); err != nil {
		return nil, err
	}

	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(principal, authz.ViewLoan, detail.UserID); err != nil {
		return nil, err
	}
	return detail, nil
}

// CancelLoan 读者在到期前取消借阅，库存 +1
func (s *loanService) CancelLoan(ctx context.Context, principal *domain.User, id int64) (*domain.LoanDetail, error) {
	if principal == nil {
		return nil, authz.ErrUnauthenticated
	}
	if _, err := s.ReconcileOverdue(ctx); err != nil {
		return nil, err
	}

	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(principal, authz.CancelLoan, detail.UserID); err != nil {
		return nil, err
	}

	if err := s.closeLoan(ctx, detail.BookID, id, (*domain.Loan).Cancel); err != nil {
		return nil, s.wrapTransitionError("cancel", id, err)
	}

	s.logger.Info("loan cancelled", zap.Int64("loan_id", id), zap.Int64("by_user", principal.ID))
	return s.loadDetail(ctx, id)
}

// ForceReturn 管理员强制归还，不受到期时间限制
func (s *loanService) ForceReturn(ctx context.Context, principal *domain.User, id int64) (*domain.LoanDetail, error) {
	if err := authz.Authorize(principal, authz.ForceReturnLoan, 0); err != nil {
		return nil, err
	}
	if _, err := s.ReconcileOverdue(ctx); err != nil {
		return nil, err
	}

	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.closeLoan(ctx, detail.BookID, id, (*domain.Loan).Return); err != nil {
		return nil, s.wrapTransitionError("force return", id, err)
	}

	s.logger.Info("loan force returned", zap.Int64("loan_id", id), zap.Int64("by_admin", principal.ID))
	return s.loadDetail(ctx, id)
}

// ReconcileOverdue 逐条在独立事务中处理，重复执行不会重复归还
func (s *loanService) ReconcileOverdue(ctx context.Context) (int, error) {
	overdue, err := s.loanRepo.ListOverdue(ctx, s.now())
	if err != nil {
		s.logger.Error("failed to list overdue loans", zap.Error(err))
		return 0, fmt.Errorf("list overdue loans: %w", err)
	}

	returned := 0
	for _, candidate := range overdue {
		err := s.closeLoan(ctx, candidate.BookID, candidate.ID, func(l *domain.Loan, now time.Time) error {
			if !l.IsOverdue(now) {
				return errNotOverdue
			}
			return l.Return(now)
		})
		switch {
		case err == nil:
			returned++
			s.logger.Info("overdue loan auto returned",
				zap.Int64("loan_id", candidate.ID),
				zap.Int64("book_id", candidate.BookID),
				zap.Time("due_date", candidate.DueDate),
			)
		case errors.Is(err, errNotOverdue), errors.Is(err, ErrLoanNotActive), errors.Is(err, ErrLoanNotFound):
		default:
			s.logger.Error("failed to reconcile overdue loan", zap.Int64("loan_id", candidate.ID), zap.Error(err))
			return returned, fmt.Errorf("reconcile loan %d: %w", candidate.ID, err)
		}
	}
	return returned, nil
}

// closeLoan 先锁图书再锁借阅，与借书流程保持相同的加锁顺序；
// transition 修改内存中的借阅状态，随后在同一事务内持久化并归还库存。
func (s *loanService) closeLoan(ctx context.Context, bookID, loanID int64, transition func(*domain.Loan, time.Time) error) error {
	return s.loanRepo.WithinTx(ctx, func(tx repo.LoanTx) error {
		if _, err := tx.LockBook(ctx, bookID); err != nil {
			return err
		}
		loan, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return ErrLoanNotFound
		}

		if err := transition(loan, s.now()); err != nil {
			return err
		}

		if err := tx.CloseLoan(ctx, loan); err != nil {
			if errors.Is(err, repo.ErrStaleLoan) {
				return ErrLoanNotActive
			}
			return err
		}
		return tx.AdjustBookStock(ctx, loan.BookID, 1)
	})
}

func (s *loanService) wrapTransitionError(op string, loanID int64, err error) error {
	if isBusinessError(err) {
		return err
	}
	s.logger.Error("loan transition failed", zap.String("op", op), zap.Int64("loan_id", loanID), zap.Error(err))
	return fmt.Errorf("%s loan: %w", op, err)
}

func (s *loanService) loadDetail(ctx context.Context, id int64) (*domain.LoanDetail, error) {
	detail, err := s.loanRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get loan: %w", err)
	}
	if detail == nil {
		return nil, ErrLoanNotFound
	}
	detail.IsOverdue = detail.Loan.IsOverdue(s.now())
	return detail, nil
}

func (s *loanService) markOverdue(loans []*domain.LoanDetail) {
	domain.MarkOverdue(loans, s.now())
}

// isBusinessError 可预期的业务拒绝，不按系统错误记录
func isBusinessError(err error) bool {
	for _, target := range []error{
		ErrBookNotFound, ErrBookUnavailable, ErrDuplicateLoan, ErrLoanNotFound,
		ErrLoanNotActive, ErrLoanPastDue, authz.ErrForbidden, authz.ErrUnauthenticated,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
