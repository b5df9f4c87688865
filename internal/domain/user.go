// Package domain 定义借阅系统的领域模型和核心业务规则。
// 领域模型独立于外部依赖（数据库、HTTP等）。
package domain

import (
	"time"
)

// UserRole 定义用户角色类型
type UserRole string

const (
	UserRoleMember UserRole = "MEMBER" // 普通读者
	UserRoleAdmin  UserRole = "ADMIN"  // 管理员
)

// Valid 判断角色取值是否合法
func (r UserRole) Valid() bool {
	return r == UserRoleMember || r == UserRoleAdmin
}

// User 表示用户领域模型
type User struct {
	ID               int64     `json:"id" db:"id"`
	Username         string    `json:"username" db:"username"`
	Email            string    `json:"email" db:"email"`
	Name             string    `json:"name" db:"name"`
	PasswordHash     string    `json:"-" db:"password_hash"`
	Role             UserRole  `json:"role" db:"role"`
	RefreshTokenHash *string   `json:"-" db:"refresh_token_hash"` // 当前有效刷新令牌的摘要
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time `json:"updatedAt" db:"updated_at"`
}

// IsAdmin 判断用户是否为管理员
func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// Summary 返回嵌入借阅记录时使用的用户摘要
func (u *User) Summary() *UserSummary {
	return &UserSummary{ID: u.ID, Username: u.Username, Name: u.Name}
}

// UserSummary 借阅记录中展示的用户信息
type UserSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
}

// UserWithStats 用户列表项，附带借阅总数
type UserWithStats struct {
	User
	TotalLoans int64 `json:"totalLoans" db:"total_loans"`
}

// UserDetail 用户详情，附带最近的借阅记录
type UserDetail struct {
	User
	TotalLoans  int64         `json:"totalLoans"`
	RecentLoans []*LoanDetail `json:"recentLoans"`
}

// RegisterRequest 表示用户注册请求
type RegisterRequest struct {
	Username string `json:"username" binding:"required,alphanum,min=3,max=30"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72,strongpwd"`
	Name     string `json:"name" binding:"omitempty,min=2,max=100"`
}

// LoginRequest 表示用户登录请求，username 也可以填写邮箱
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshTokenRequest 表示刷新令牌请求
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// UpdateUserRequest 更新用户资料，未提供的字段保持不变
type UpdateUserRequest struct {
	Name     *string `json:"name" binding:"omitempty,min=2,max=100"`
	Email    *string `json:"email" binding:"omitempty,email"`
	Password *string `json:"password" binding:"omitempty,min=8,max=72,strongpwd"`
}

// IsEmpty 判断是否没有任何待更新字段
func (r *UpdateUserRequest) IsEmpty() bool {
	return r.Name == nil && r.Email == nil && r.Password == nil
}

// UpdateRoleRequest 修改用户角色请求
type UpdateRoleRequest struct {
	Role UserRole `json:"role" binding:"required"`
}

// UserListRequest 用户列表分页参数
type UserListRequest struct {
	Page  int
	Limit int
}

// Normalize 规范化分页参数
func (r *UserListRequest) Normalize() {
	r.Page, r.Limit = NormalizePage(r.Page, r.Limit)
}
