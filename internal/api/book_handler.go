package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/middleware"
	"github.com/MorseWayne/library_api/internal/resp"
	"github.com/MorseWayne/library_api/internal/service"
)

// BookHandler 图书目录处理器
type BookHandler struct {
	bookService service.BookService
	logger      *zap.Logger
}

// NewBookHandler 创建图书处理器
func NewBookHandler(bookService service.BookService, logger *zap.Logger) *BookHandler {
	return &BookHandler{bookService: bookService, logger: logger}
}

// ListBooks 目录查询
// GET /api/books?page&limit&search&author&category&minStock&maxStock&createdFrom&createdTo&sortBy&order
func (h *BookHandler) ListBooks(c *gin.Context) {
	q := newQueryParser(c)
	req := &domain.BookListRequest{
		Page:        q.intValue("page"),
		Limit:       q.intValue("limit"),
		Search:      c.Query("search"),
		Author:      c.Query("author"),
		Category:    c.Query("category"),
		MinStock:    q.optionalInt("minStock", 0),
		MaxStock:    q.optionalInt("maxStock", 0),
		CreatedFrom: q.optionalTime("createdFrom", false),
		CreatedTo:   q.optionalTime("createdTo", true),
		SortBy:      c.Query("sortBy"),
		Order:       c.Query("order"),
	}
	if req.MinStock != nil && req.MaxStock != nil && *req.MinStock > *req.MaxStock {
		q.fail("minStock", "must not be greater than maxStock")
	}
	if !q.ok() {
		return
	}

	books, total, err := h.bookService.ListBooks(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	// req 已被规范化，filters 回显实际生效的查询条件
	resp.Page(c.Writer, "books retrieved", books, resp.NewPagination(req.Page, req.Limit, total), req, requestID(c))
}

// GetBook 图书详情
// GET /api/books/:id
func (h *BookHandler) GetBook(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	book, err := h.bookService.GetBook(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, "book retrieved", book, requestID(c))
}

// CreateBook 新增图书（管理员）
// POST /api/books
func (h *BookHandler) CreateBook(c *gin.Context) {
	var req domain.CreateBookRequest
	if !bindJSON(c, &req) {
		return
	}

	book, err := h.bookService.CreateBook(c.Request.Context(), middleware.CurrentUser(c), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.Created(c.Writer, "book created", book, requestID(c))
}

// UpdateBook 修改图书（管理员）
// PUT /api/books/:id
func (h *BookHandler) UpdateBook(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req domain.UpdateBookRequest
	if !bindJSON(c, &req) {
		return
	}

	book, err := h.bookService.UpdateBook(c.Request.Context(), middleware.CurrentUser(c), id, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, "book updated", book, requestID(c))
}

// DeleteBook 删除图书（管理员）
// DELETE /api/books/:id
func (h *BookHandler) DeleteBook(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.bookService.DeleteBook(c.Request.Context(), middleware.CurrentUser(c), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, "book deleted", nil, requestID(c))
}
