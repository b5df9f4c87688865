package domain

import (
	"errors"
	"time"
)

// LoanStatus 借阅状态
type LoanStatus string

const (
	LoanStatusBorrowed  LoanStatus = "BORROWED"
	LoanStatusReturned  LoanStatus = "RETURNED"
	LoanStatusCancelled LoanStatus = "CANCELLED"
)

// Valid 判断状态取值是否合法
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusBorrowed, LoanStatusReturned, LoanStatusCancelled:
		return true
	}
	return false
}

// IsTerminal RETURNED 与 CANCELLED 为终态
func (s LoanStatus) IsTerminal() bool {
	return s == LoanStatusReturned || s == LoanStatusCancelled
}

// 借阅期限（天）
const (
	DefaultDueDays = 7
	MinDueDays     = 1
	MaxDueDays     = 30
)

var (
	ErrInvalidDueDays = errors.New("dueDays must be between 1 and 30")
	ErrLoanNotActive  = errors.New("loan has already been returned or cancelled")
	ErrLoanPastDue    = errors.New("loan is past its due date and can no longer be cancelled")
)

// ResolveDueDays 未指定时取默认 7 天，超出 [1,30] 返回 ErrInvalidDueDays
func ResolveDueDays(requested *int) (int, error) {
	if requested == nil {
		return DefaultDueDays, nil
	}
	if *requested < MinDueDays || *requested > MaxDueDays {
		return 0, ErrInvalidDueDays
	}
	return *requested, nil
}

// AvailableStock 可借数量 = max(0, 名义库存 - 在借数量)
func AvailableStock(stock, activeLoans int) int {
	if n := stock - activeLoans; n > 0 {
		return n
	}
	return 0
}

// Loan 借阅记录
type Loan struct {
	ID         int64      `json:"id" db:"id"`
	UserID     int64      `json:"userId" db:"user_id"`
	BookID     int64      `json:"bookId" db:"book_id"`
	BorrowDate time.Time  `json:"borrowDate" db:"borrow_date"`
	DueDate    time.Time  `json:"dueDate" db:"due_date"`
	ReturnDate *time.Time `json:"returnDate" db:"return_date"`
	Status     LoanStatus `json:"status" db:"status"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt" db:"updated_at"`
}

// NewLoan 以 now 为借出时间创建一条 BORROWED 借阅
func NewLoan(userID, bookID int64, now time.Time, dueDays int) *Loan {
	return &Loan{
		UserID:     userID,
		BookID:     bookID,
		BorrowDate: now,
		DueDate:    now.AddDate(0, 0, dueDays),
		Status:     LoanStatusBorrowed,
	}
}

// IsOverdue 在借且已超过应还日期
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.Status == LoanStatusBorrowed && l.DueDate.Before(now)
}

// Cancel 读者取消：仅允许在借且未到期的借阅
func (l *Loan) Cancel(now time.Time) error {
	if l.Status != LoanStatusBorrowed {
		return ErrLoanNotActive
	}
	if !now.Before(l.DueDate) {
		return ErrLoanPastDue
	}
	l.close(LoanStatusCancelled, now)
	return nil
}

// Return 归还（管理员强制归还或逾期自动归还），不限制到期时间
func (l *Loan) Return(now time.Time) error {
	if l.Status != LoanStatusBorrowed {
		return ErrLoanNotActive
	}
	l.close(LoanStatusReturned, now)
	return nil
}

func (l *Loan) close(status LoanStatus, now time.Time) {
	l.Status = status
	returned := now
	l.ReturnDate = &returned
}

// MarkOverdue 按 now 为每条借阅填写 IsOverdue
func MarkOverdue(loans []*LoanDetail, now time.Time) {
	for _, l := range loans {
		l.IsOverdue = l.Loan.IsOverdue(now)
	}
}

// LoanDetail 借阅记录 + 图书、用户摘要
type LoanDetail struct {
	Loan
	Book      *BookSummary `json:"book,omitempty"`
	User      *UserSummary `json:"user,omitempty"`
	IsOverdue bool         `json:"isOverdue"`
}

// CreateLoanRequest 借书请求
type CreateLoanRequest struct {
	BookID  int64 `json:"bookId" binding:"required,gt=0"`
	DueDays *int  `json:"dueDays" binding:"omitempty,min=1,max=30"`
}

// LoanListRequest 借阅列表查询参数；UserID 由授权层决定是否强制设置
type LoanListRequest struct {
	Page   int         `json:"-"`
	Limit  int         `json:"-"`
	Status *LoanStatus `json:"status,omitempty"`
	BookID *int64      `json:"bookId,omitempty"`
	UserID *int64      `json:"userId,omitempty"`
}

// Normalize 规范化分页参数
func (r *LoanListRequest) Normalize() {
	r.Page, r.Limit = NormalizePage(r.Page, r.Limit)
}
