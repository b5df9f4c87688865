// Package authz 实现基于能力（capability）的授权判断。
// 所有“管理员或本人”规则都集中在这里，HTTP 中间件与服务层共用同一张规则表。
package authz

import (
	"errors"

	"github.com/MorseWayne/library_api/internal/domain"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
)

// Capability 受保护的操作
type Capability string

const (
	ViewUser        Capability = "user:view"
	UpdateUser      Capability = "user:update"
	ListUsers       Capability = "user:list"
	ChangeUserRole  Capability = "user:change-role"
	ViewLoan        Capability = "loan:view"
	ListAllLoans    Capability = "loan:list-all"
	BorrowBook      Capability = "loan:create"
	CancelLoan      Capability = "loan:cancel"
	ForceReturnLoan Capability = "loan:force-return"
	ManageCatalog   Capability = "catalog:manage"
)

// scope 规则作用范围
type scope int

const (
	// 仅管理员
	adminOnly scope = iota
	// 资源所有者或管理员
	ownerOrAdmin
)

var rules = map[Capability]scope{
	ViewUser:        ownerOrAdmin,
	UpdateUser:      ownerOrAdmin,
	ListUsers:       adminOnly,
	ChangeUserRole:  adminOnly,
	ViewLoan:        ownerOrAdmin,
	ListAllLoans:    adminOnly,
	BorrowBook:      ownerOrAdmin,
	CancelLoan:      ownerOrAdmin,
	ForceReturnLoan: adminOnly,
	ManageCatalog:   adminOnly,
}

// Can 判断 principal 能否对属于 ownerID 的资源执行 capability。
// 仅管理员的能力忽略 ownerID；未知能力一律拒绝。
func Can(principal *domain.User, capability Capability, ownerID int64) bool {
	if principal == nil {
		return false
	}
	rule, ok := rules[capability]
	if !ok {
		return false
	}
	if principal.IsAdmin() {
		return true
	}
	return rule == ownerOrAdmin && principal.ID == ownerID
}

// Authorize 与 Can 相同，但返回可供错误映射使用的错误
func Authorize(principal *domain.User, capability Capability, ownerID int64) error {
	if principal == nil {
		return ErrUnauthenticated
	}
	if !Can(principal, capability, ownerID) {
		return ErrForbidden
	}
	return nil
}

// AdminOnly 判断能力是否只对管理员开放，供路由层直接拦截
func AdminOnly(capability Capability) bool {
	rule, ok := rules[capability]
	return !ok || rule == adminOnly
}
