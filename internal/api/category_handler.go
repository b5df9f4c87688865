package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/middleware"
	"github.com/MorseWayne/library_api/internal/resp"
	"github.com/MorseWayne/library_api/internal/service"
)

// CategoryHandler 分类处理器
type CategoryHandler struct {
	categoryService service.CategoryService
	logger          *zap.Logger
}

// NewCategoryHandler 创建分类处理器
func NewCategoryHandler(categoryService service.CategoryService, logger *zap.Logger) *CategoryHandler {
	return &CategoryHandler{categoryService: categoryService, logger: logger}
}

// ListCategories GET /api/categories
func (h *CategoryHandler) ListCategories(c *gin.Context) {
	categories, err := h.categoryService.ListCategories(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, "categories retrieved", categories, requestID(c))
}

// CreateCategory POST /api/categories
func (h *CategoryHandler) CreateCategory(c *gin.Context) {
	var req domain.CategoryRequest
	if !bindJSON(c, &req) {
		return
	}

	category, err := h.categoryService.CreateCategory(c.Request.Context(), middleware.CurrentUser(c), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.Created(c.Writer, "category created", category, requestID(c))
}

// UpdateCategory PUT /api/categories/:id
func (h *CategoryHandler) UpdateCategory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req domain.CategoryRequest
	if !bindJSON(c, &req) {
		return
	}

	category, err := h.categoryService.UpdateCategory(c.Request.Context(), middleware.CurrentUser(c), id, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, "category updated", category, requestID(c))
}

// DeleteCategory DELETE /api/categories/:id
func (h *CategoryHandler) DeleteCategory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.categoryService.DeleteCategory(c.Request.Context(), middleware.CurrentUser(c), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, "category deleted", nil, requestID(c))
}
