package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/MorseWayne/library_api/internal/database"
	"github.com/MorseWayne/library_api/internal/domain"
)

// LoanTx 借阅事务内可用的数据操作。
// 库存与借阅状态的每一次成对变更都必须在同一个 LoanTx 中完成。
type LoanTx interface {
	// LockBook 以 SELECT ... FOR UPDATE 锁定图书行，不存在时返回 nil, nil
	LockBook(ctx context.Context, bookID int64) (*domain.Book, error)
	CountActiveLoans(ctx context.Context, bookID int64) (int, error)
	FindActiveLoan(ctx context.Context, userID, bookID int64) (*domain.Loan, error)
	InsertLoan(ctx context.Context, loan *domain.Loan) error
	// LockLoan 锁定借阅行，不存在时返回 nil, nil
	LockLoan(ctx context.Context, loanID int64) (*domain.Loan, error)
	// CloseLoan 将在借记录置为终态；记录已不是 BORROWED 时返回 ErrStaleLoan
	CloseLoan(ctx context.Context, loan *domain.Loan) error
	// AdjustBookStock 按 delta 调整名义库存，结果小于 0 时返回 ErrInsufficientStock
	AdjustBookStock(ctx context.Context, bookID int64, delta int) error
}

// LoanRepository 借阅数据访问接口
type LoanRepository interface {
	// WithinTx 在一个数据库事务中执行 fn，fn 返回错误时整体回滚
	WithinTx(ctx context.Context, fn func(tx LoanTx) error) error
	GetByID(ctx context.Context, id int64) (*domain.LoanDetail, error)
	List(ctx context.Context, filter *domain.LoanListRequest) ([]*domain.LoanDetail, int64, error)
	// ListOverdue 返回 due_date 早于 now 的在借记录
	ListOverdue(ctx context.Context, now time.Time) ([]*domain.Loan, error)
	ListActiveByBook(ctx context.Context, bookID int64) ([]*domain.LoanDetail, error)
	ListRecentByUser(ctx context.Context, userID int64, limit int) ([]*domain.LoanDetail, error)
}

const loanColumns = `id, user_id, book_id, borrow_date, due_date, return_date, status, created_at, updated_at`

type loanRepo struct {
	db *database.DB
}

// NewLoanRepository 创建借阅仓储实例
func NewLoanRepository(db *database.DB) LoanRepository {
	return &loanRepo{db: db}
}

// WithinTx 使用读已提交隔离级别，配合行锁保证库存检查与扣减之间没有其他事务插入
func (r *loanRepo) WithinTx(ctx context.Context, fn func(tx LoanTx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&loanTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type loanTx struct {
	tx *sqlx.Tx
}

func (t *loanTx) LockBook(ctx context.Context, bookID int64) (*domain.Book, error) {
	book := &domain.Book{}
	err := t.tx.GetContext(ctx, book, `
		SELECT id, title, author, stock, description, created_at, updated_at
		FROM books WHERE id = ? FOR UPDATE`, bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock book: %w", err)
	}
	return book, nil
}

func (t *loanTx) CountActiveLoans(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM loans WHERE book_id = ? AND status = ?`, bookID, domain.LoanStatusBorrowed)
	if err != nil {
		return 0, fmt.Errorf("count active loans: %w", err)
	}
	return n, nil
}

func (t *loanTx) FindActiveLoan(ctx context.Context, userID, bookID int64) (*domain.Loan, error) {
	loan := &domain.Loan{}
	err := t.tx.GetContext(ctx, loan,
		`SELECT `+loanColumns+` FROM loans WHERE user_id = ? AND book_id = ? AND status = ? LIMIT 1`,
		userID, bookID, domain.LoanStatusBorrowed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active loan: %w", err)
	}
	return loan, nil
}

func (t *loanTx) InsertLoan(ctx context.Context, loan *domain.Loan) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO loans (user_id, book_id, borrow_date, due_date, status)
		VALUES (?, ?, ?, ?, ?)`,
		loan.UserID, loan.BookID, loan.BorrowDate, loan.DueDate, loan.Status)
	if err != nil {
		return translateError("insert loan", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	loan.ID = id
	return nil
}

func (t *loanTx) LockLoan(ctx context.Context, loanID int64) (*domain.Loan, error) {
	loan := &domain.Loan{}
	err := t.tx.GetContext(ctx, loan, `SELECT `+loanColumns+` FROM loans WHERE id = ? FOR UPDATE`, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock loan: %w", err)
	}
	return loan, nil
}

func (t *loanTx) CloseLoan(ctx context.Context, loan *domain.Loan) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE loans SET status = ?, return_date = ?, updated_at = CURRENT_TIMESTAMP(3)
		WHERE id = ? AND status = ?`,
		loan.Status, loan.ReturnDate, loan.ID, domain.LoanStatusBorrowed)
	if err != nil {
		return translateError("close loan", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("close loan: get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("close loan %d: %w", loan.ID, ErrStaleLoan)
	}
	return nil
}

func (t *loanTx) AdjustBookStock(ctx context.Context, bookID int64, delta int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE books SET stock = stock + ?, updated_at = CURRENT_TIMESTAMP(3)
		WHERE id = ? AND stock + ? >= 0`,
		delta, bookID, delta)
	if err != nil {
		return translateError("adjust book stock", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust book stock: get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("adjust book %d stock by %d: %w", bookID, delta, ErrInsufficientStock)
	}
	return nil
}

// loanDetailRow 借阅联表查询的扫描结构
type loanDetailRow struct {
	domain.Loan
	BookTitle    string `db:"book_title"`
	BookAuthor   string `db:"book_author"`
	UserUsername string `db:"user_username"`
	UserName     string `db:"user_name"`
	UserEmail    string `db:"user_email"`
}

// toDetail 不计算 IsOverdue，逾期标记由服务层按注入的时钟填写
func (row *loanDetailRow) toDetail() *domain.LoanDetail {
	loan := row.Loan
	return &domain.LoanDetail{
		Loan: loan,
		Book: &domain.BookSummary{ID: loan.BookID, Title: row.BookTitle, Author: row.BookAuthor},
		User: &domain.UserSummary{ID: loan.UserID, Username: row.UserUsername, Name: row.UserName, Email: row.UserEmail},
	}
}

func loanDetailSelect() sq.SelectBuilder {
	return sq.Select(
		"l.id", "l.user_id", "l.book_id", "l.borrow_date", "l.due_date", "l.return_date", "l.status",
		"l.created_at", "l.updated_at",
		"b.title AS book_title", "b.author AS book_author",
		"u.username AS user_username", "u.name AS user_name", "u.email AS user_email",
	).
		From("loans l").
		Join("books b ON b.id = l.book_id").
		Join("users u ON u.id = l.user_id")
}

func (r *loanRepo) selectDetails(ctx context.Context, builder sq.SelectBuilder) ([]*domain.LoanDetail, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build loan query: %w", err)
	}

	var rows []*loanDetailRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}

	details := make([]*domain.LoanDetail, 0, len(rows))
	for _, row := range rows {
		details = append(details, row.toDetail())
	}
	return details, nil
}

// GetByID 不存在时返回 nil, nil
func (r *loanRepo) GetByID(ctx context.Context, id int64) (*domain.LoanDetail, error) {
	details, err := r.selectDetails(ctx, loanDetailSelect().Where(sq.Eq{"l.id": id}))
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, nil
	}
	return details[0], nil
}

func buildLoanFilter(filter *domain.LoanListRequest) sq.And {
	where := sq.And{}
	if filter.UserID != nil {
		where = append(where, sq.Eq{"l.user_id": *filter.UserID})
	}
	if filter.BookID != nil {
		where = append(where, sq.Eq{"l.book_id": *filter.BookID})
	}
	if filter.Status != nil {
		where = append(where, sq.Eq{"l.status": string(*filter.Status)})
	}
	return where
}

// List 分页查询借阅记录，按创建时间倒序
func (r *loanRepo) List(ctx context.Context, filter *domain.LoanListRequest) ([]*domain.LoanDetail, int64, error) {
	where := buildLoanFilter(filter)

	var (
		details []*domain.LoanDetail
		total   int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		details, err = r.selectDetails(gctx, loanDetailSelect().
			Where(where).
			OrderBy("l.created_at DESC", "l.id DESC").
			Limit(uint64(filter.Limit)).
			Offset(uint64(domain.Offset(filter.Page, filter.Limit))))
		return err
	})
	g.Go(func() error {
		query, args, err := sq.Select("COUNT(*)").From("loans l").Where(where).ToSql()
		if err != nil {
			return fmt.Errorf("build loan count query: %w", err)
		}
		if err := r.db.GetContext(gctx, &total, query, args...); err != nil {
			return fmt.Errorf("count loans: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return details, total, nil
}

func (r *loanRepo) ListOverdue(ctx context.Context, now time.Time) ([]*domain.Loan, error) {
	loans := []*domain.Loan{}
	err := r.db.SelectContext(ctx, &loans,
		`SELECT `+loanColumns+` FROM loans WHERE status = ? AND due_date < ? ORDER BY due_date ASC`,
		domain.LoanStatusBorrowed, now)
	if err != nil {
		return nil, fmt.Errorf("list overdue loans: %w", err)
	}
	return loans, nil
}

func (r *loanRepo) ListActiveByBook(ctx context.Context, bookID int64) ([]*domain.LoanDetail, error) {
	return r.selectDetails(ctx, loanDetailSelect().
		Where(sq.Eq{"l.book_id": bookID, "l.status": string(domain.LoanStatusBorrowed)}).
		OrderBy("l.due_date ASC"))
}

func (r *loanRepo) ListRecentByUser(ctx context.Context, userID int64, limit int) ([]*domain.LoanDetail, error) {
	return r.selectDetails(ctx, loanDetailSelect().
		Where(sq.Eq{"l.user_id": userID}).
		OrderBy("l.created_at DESC", "l.id DESC").
		Limit(uint64(limit)))
}
