package service

import (
	"errors"

	"github.com/MorseWayne/library_api/internal/domain"
)

// 业务错误，由 API 层统一映射为 HTTP 状态码
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrUserExists          = errors.New("username or email already registered")
	ErrEmailTaken          = errors.New("email already in use")
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrInvalidRole         = errors.New("role must be MEMBER or ADMIN")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrEmptyUpdate         = errors.New("at least one field must be provided")

	ErrBookNotFound     = errors.New("book not found")
	ErrBookHasLoans     = errors.New("book still has loan records")
	ErrCategoryNotFound = errors.New("category not found")
	ErrCategoryExists   = errors.New("category name already exists")
	ErrCategoryInUse    = errors.New("category is still assigned to books")

	ErrLoanNotFound    = errors.New("loan not found")
	ErrBookUnavailable = errors.New("book is not available for borrowing")
	ErrDuplicateLoan   = errors.New("you already have an active loan for this book")
	ErrInvalidDueDays  = domain.ErrInvalidDueDays
	ErrLoanNotActive   = domain.ErrLoanNotActive
	ErrLoanPastDue     = domain.ErrLoanPastDue
)
