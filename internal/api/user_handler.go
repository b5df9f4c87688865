// Package api 提供HTTP API处理器实现。
// API层负责处理HTTP请求/响应，进行数据验证和格式转换；业务错误统一交给 writeError 映射。
package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/domain"
	"github.com/MorseWayne/library_api/internal/middleware"
	"github.com/MorseWayne/library_api/internal/resp"
	"github.com/MorseWayne/library_api/internal/service"
)

// UserHandler 认证与用户管理相关的HTTP处理器
type UserHandler struct {
	userService service.UserService
	logger      *zap.Logger
}

// NewUserHandler 创建用户处理器实例
func NewUserHandler(userService service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		logger:      logger,
	}
}

// registerResponse 注册成功只返回公开字段
type registerResponse struct {
	ID       int64           `json:"id"`
	Username string          `json:"username"`
	Email    string          `json:"email"`
	Name     string          `json:"name"`
	Role     domain.UserRole `json:"role"`
}

// loginResponse 登录响应
type loginResponse struct {
	User   *domain.User       `json:"user"`
	Tokens *service.TokenPair `json:"tokens"`
}

// Register 处理用户注册请求
// POST /api/auth/register
func (h *UserHandler) Register(c *gin.Context) {
	var req domain.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.Register(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp.Created(c.Writer, "registration successful", &registerResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Name:     user.Name,
		Role:     user.Role,
	}, requestID(c))
}

// Login 处理用户登录请求
// POST /api/auth/login
func (h *UserHandler) Login(c *gin.Context) {
	var req domain.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	user, tokens, err := h.userService.Login(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp.OK(c.Writer, "login successful", &loginResponse{User: user, Tokens: tokens}, requestID(c))
}

// RefreshToken 用刷新令牌换取新的访问令牌
// POST /api/auth/refresh-token
func (h *UserHandler) RefreshToken(c *gin.Context) {
	var req domain.RefreshTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	tokens, err := h.userService.RefreshAccessToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp.OK(c.Writer, "token refreshed", tokens, requestID(c))
}

// Logout 清除服务端保存的刷新令牌
// POST /api/auth/logout
func (h *UserHandler) Logout(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if err := h.userService.Logout(c.Request.Context(), user.ID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, "logout successful", nil, requestID(c))
}

// Me 当前登录用户信息
// GET /api/auth/me
func (h *UserHandler) Me(c *gin.Context) {
	resp.OK(c.Writer, "profile retrieved", middleware.CurrentUser(c), requestID(c))
}

// ListUsers 用户列表（管理员）
// GET /api/users
func (h *UserHandler) ListUsers(c *gin.Context) {
	q := newQueryParser(c)
	req := &domain.UserListRequest{Page: q.intValue("page"), Limit: q.intValue("limit")}

	users, total, err := h.userService.ListUsers(c.Request.Context(), middleware.CurrentUser(c), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp.Page(c.Writer, "users retrieved", users, resp.NewPagination(req.Page, req.Limit, total), nil, requestID(c))
}

// GetUser 用户详情（本人或管理员）
// GET /api/users/:id
func (h *UserHandler) GetUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	detail, err := h.userService.GetUserDetail(c.Request.Context(), middleware.CurrentUser(c), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, "user retrieved", detail, requestID(c))
}

// UpdateUser 更新用户资料（本人或管理员）
// PUT /api/users/:id
func (h *UserHandler) UpdateUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req domain.UpdateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.UpdateUser(c.Request.Context(), middleware.CurrentUser(c), id, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, "user updated", user, requestID(c))
}

// UpdateUserRole 修改用户角色（管理员）
// PATCH /api/users/:id/role
func (h *UserHandler) UpdateUserRole(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req domain.UpdateRoleRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.UpdateUserRole(c.Request.Context(), middleware.CurrentUser(c), id, req.Role)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, "user role updated", user, requestID(c))
}

func requestID(c *gin.Context) string {
	return middleware.RequestIDFromContext(c.Request.Context())
}
