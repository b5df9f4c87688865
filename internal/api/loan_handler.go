package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/middleware"
	"github.com/MorseWayne/library_api/internal/resp"
	"github.com/MorseWayne/library_api/internal/service"
)

// LoanHandler 借阅处理器
type LoanHandler struct {
	loanService service.LoanService
	logger      *zap.Logger
}

// NewLoanHandler 创建借阅处理器
func NewLoanHandler(loanService service.LoanService, logger *zap.Logger) *LoanHandler {
	return &LoanHandler{loanService: loanService, logger: logger}
}

// CreateLoan 借书
// POST /api/loans
func (h *LoanHandler) CreateLoan(c *gin.Context) {
	var req domain.CreateLoanRequest
	if !bindJSON(c, &req) {
		return
	}

	loan, err := h.loanService.CreateLoan(c.Request.Context(), middleware.CurrentUser(c), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.Created(c.Writer, "book borrowed", loan, requestID(c))
}

// ListLoans 借阅列表，读者只能看到自己的记录
// GET /api/loans?status&bookId&userId&page&limit
func (h *LoanHandler) ListLoans(c *gin.Context) {
	q := newQueryParser(c)
	req := &domain.LoanListRequest{
		Page:   q.intValue("page"),
		Limit:  q.intValue("limit"),
		BookID: q.optionalID("bookId"),
		UserID: q.optionalID("userId"),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := domain.LoanStatus(strings.ToUpper(raw))
		if !status.Valid() {
			q.fail("status", "must be one of BORROWED RETURNED CANCELLED")
		} else {
			req.Status = &status
		}
	}
	if !q.ok() {
		return
	}

	loans, total, err := h.loanService.ListLoans(c.Request.Context(), middleware.CurrentUser(c), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.Page(c.Writer, "loans retrieved", loans, resp.NewPagination(req.Page, req.Limit, total), req, requestID(c))
}

// GetLoan 借阅详情
// GET /api/loans/:id
func (h *LoanHandler) GetLoan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	loan, err := h.loanService.GetLoan(c.Request.Context(), middleware.CurrentUser(c), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, "loan retrieved", loan, requestID(c))
}

// CancelLoan 取消借阅
// DELETE /api/loans/:id/cancel
func (h *LoanHandler) CancelLoan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	loan, err := h.loanService.CancelLoan(c.Request.Context(), middleware.CurrentUser(c), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, "loan cancelled", loan, requestID(c))
}

// ForceReturn 管理员强制归还
// POST /api/loans/:id/force-return
func (h *LoanHandler) ForceReturn(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	loan, err := h.loanService.ForceReturn(c.Request.Context(), middleware.CurrentUser(c), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, "loan returned", loan, requestID(c))
}
