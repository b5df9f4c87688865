// Package router 提供 HTTP 路由设置和中间件配置功能
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/api"
	"github.com/MorseWayne/library_api/internal/authz"
	"github.com/MorseWayne/library_api/internal/config"
	"github.com/MorseWayne/library_api/internal/limiter"
	mw "github.com/MorseWayne/library_api/internal/middleware"
	"github.com/MorseWayne/library_api/internal/resp"
	"github.com/MorseWayne/library_api/internal/service"
)

// Dependencies 包含路由设置所需的所有依赖
type Dependencies struct {
	UserHandler     *api.UserHandler
	BookHandler     *api.BookHandler
	CategoryHandler *api.CategoryHandler
	LoanHandler     *api.LoanHandler
	JWTService      service.JWTService
	Users           mw.UserLoader
	// AuthLimiter 为 nil 时认证接口不限流
	AuthLimiter limiter.Limiter
}

// Router 路由器接口
type Router interface {
	Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler
}

// GinRouter Gin路由器实现
type GinRouter struct {
	engine    *gin.Engine
	deps      *Dependencies
	logger    *zap.Logger
	startedAt time.Time
}

// New 创建新的路由器实例
func New() Router {
	return &GinRouter{startedAt: time.Now()}
}

// Setup 设置路由和中间件，返回包裹了 net/http 中间件链的处理器
func (r *GinRouter) Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler {
	// 根据环境设置 Gin 模式
	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	api.RegisterValidators()

	r.engine = gin.New()
	r.deps = deps
	r.logger = lg

	r.engine.NoRoute(func(c *gin.Context) {
		resp.Error(c.Writer, http.StatusNotFound, resp.CodeNotFound, "route not found",
			mw.RequestIDFromContext(c.Request.Context()))
	})

	r.setupRoutes()

	return r.wrap(cfg, r.engine)
}

// wrap 构建中间件链：请求进入时依次经过 request ID → access log → CORS → timeout → recovery
func (r *GinRouter) wrap(cfg *config.Config, h http.Handler) http.Handler {
	h = mw.Recovery(r.logger, !cfg.IsProd())(h)
	h = mw.Timeout(cfg.App.RequestTimeout)(h)
	h = mw.CORS(cfg.CORS)(h)
	h = mw.AccessLog(r.logger)(h)
	return mw.RequestID(h)
}

// setupRoutes 设置所有路由
func (r *GinRouter) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	auth := mw.AuthMiddleware(r.deps.JWTService, r.deps.Users, r.logger)
	can := func(capability authz.Capability) gin.HandlerFunc {
		return mw.RequireCapability(capability, r.logger)
	}

	apiGroup := r.engine.Group("/api")

	// 认证路由
	authGroup := apiGroup.Group("/auth")
	if r.deps.AuthLimiter != nil {
		authGroup.Use(limiter.Middleware(r.deps.AuthLimiter, limiter.ClientIPKey, r.logger))
	}
	{
		h := r.deps.UserHandler
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh-token", h.RefreshToken)
		authGroup.POST("/logout", auth, h.Logout)
		authGroup.GET("/me", auth, h.Me)
	}

	// 用户管理（本人或管理员，由服务层判断归属）
	users := apiGroup.Group("/users", auth)
	{
		h := r.deps.UserHandler
		users.GET("", can(authz.ListUsers), h.ListUsers)
		users.GET("/:id", h.GetUser)
		users.PUT("/:id", h.UpdateUser)
		users.PATCH("/:id/role", can(authz.ChangeUserRole), h.UpdateUserRole)
	}

	// 图书目录：查询公开，修改需要管理员
	books := apiGroup.Group("/books")
	{
		h := r.deps.BookHandler
		books.GET("", h.ListBooks)
		books.GET("/:id", h.GetBook)
		books.POST("", auth, can(authz.ManageCatalog), h.CreateBook)
		books.PUT("/:id", auth, can(authz.ManageCatalog), h.UpdateBook)
		books.DELETE("/:id", auth, can(authz.ManageCatalog), h.DeleteBook)
	}

	categories := apiGroup.Group("/categories")
	{
		h := r.deps.CategoryHandler
		categories.GET("", h.ListCategories)
		categories.POST("", auth, can(authz.ManageCatalog), h.CreateCategory)
		categories.PUT("/:id", auth, can(authz.ManageCatalog), h.UpdateCategory)
		categories.DELETE("/:id", auth, can(authz.ManageCatalog), h.DeleteCategory)
	}

	// 借阅
	loans := apiGroup.Group("/loans", auth)
	{
		h := r.deps.LoanHandler
		loans.POST("", h.CreateLoan)
		loans.GET("", h.ListLoans)
		loans.GET("/:id", h.GetLoan)
		loans.DELETE("/:id/cancel", h.CancelLoan)
		loans.POST("/:id/force-return", can(authz.ForceReturnLoan), h.ForceReturn)
	}
}

// healthResponse 健康检查响应
type healthResponse struct {
	Status    string    `json:"status"`
	Uptime    float64   `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

// healthCheck 健康检查处理器
func (r *GinRouter) healthCheck(c *gin.Context) {
	now := time.Now()
	resp.OK(c.Writer, "service is healthy", &healthResponse{
		Status:    "ok",
		Uptime:    now.Sub(r.startedAt).Seconds(),
		Timestamp: now.UTC(),
	}, mw.RequestIDFromContext(c.Request.Context()))
}
