package domain

import (
	"strings"
	"time"
)

// DefaultBookStock 创建图书时未指定库存的默认值
const DefaultBookStock = 1

// Book 图书领域模型，Stock 为名义库存
type Book struct {
	ID          int64     `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Author      string    `json:"author" db:"author"`
	Stock       int       `json:"stock" db:"stock"`
	Description *string   `json:"description" db:"description"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// Summary 返回嵌入借阅记录时使用的图书摘要
func (b *Book) Summary() *BookSummary {
	return &BookSummary{ID: b.ID, Title: b.Title, Author: b.Author}
}

// BookSummary 借阅记录中展示的图书信息
type BookSummary struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

// BookListItem 目录列表项：图书 + 分类 + 派生的可借数量
type BookListItem struct {
	Book
	Categories      []*Category `json:"categories" db:"-"`
	ActiveLoanCount int         `json:"activeLoanCount" db:"active_loans"`
	TotalLoans      int64       `json:"totalLoans" db:"total_loans"`
	AvailableStock  int         `json:"availableStock" db:"-"`
}

// Derive 根据名义库存和在借数量计算可借数量
func (b *BookListItem) Derive() {
	b.AvailableStock = AvailableStock(b.Stock, b.ActiveLoanCount)
	if b.Categories == nil {
		b.Categories = []*Category{}
	}
}

// BookDetail 图书详情，附带当前在借记录
type BookDetail struct {
	BookListItem
	CurrentLoans []*LoanDetail `json:"currentLoans"`
}

// CreateBookRequest 创建图书请求，Categories 为分类 ID 列表
type CreateBookRequest struct {
	Title       string  `json:"title" binding:"required,min=3,max=255"`
	Author      string  `json:"author" binding:"required,min=3,max=255"`
	Stock       *int    `json:"stock" binding:"omitempty,min=0"`
	Description *string `json:"description" binding:"omitempty,max=1000"`
	Categories  []int64 `json:"categories" binding:"omitempty,dive,gt=0"`
}

// UpdateBookRequest 局部更新图书，Categories 非空时整体替换分类集合
type UpdateBookRequest struct {
	Title       *string  `json:"title" binding:"omitempty,min=3,max=255"`
	Author      *string  `json:"author" binding:"omitempty,min=3,max=255"`
	Stock       *int     `json:"stock" binding:"omitempty,min=0"`
	Description *string  `json:"description" binding:"omitempty,max=1000"`
	Categories  *[]int64 `json:"categories"`
}

// IsEmpty 判断是否没有任何待更新字段
func (r *UpdateBookRequest) IsEmpty() bool {
	return r.Title == nil && r.Author == nil && r.Stock == nil && r.Description == nil && r.Categories == nil
}

// 目录可排序字段（对外名称）
const (
	BookSortID        = "id"
	BookSortTitle     = "title"
	BookSortAuthor    = "author"
	BookSortStock     = "stock"
	BookSortCreatedAt = "createdAt"
	BookSortUpdatedAt = "updatedAt"
)

var bookSortFields = map[string]struct{}{
	BookSortID:        {},
	BookSortTitle:     {},
	BookSortAuthor:    {},
	BookSortStock:     {},
	BookSortCreatedAt: {},
	BookSortUpdatedAt: {},
}

// BookListRequest 目录查询参数
type BookListRequest struct {
	Page        int        `json:"-"`
	Limit       int        `json:"-"`
	Search      string     `json:"search,omitempty"`
	Author      string     `json:"author,omitempty"`
	Category    string     `json:"category,omitempty"`
	MinStock    *int       `json:"minStock,omitempty"`
	MaxStock    *int       `json:"maxStock,omitempty"`
	CreatedFrom *time.Time `json:"createdFrom,omitempty"`
	CreatedTo   *time.Time `json:"createdTo,omitempty"`
	SortBy      string     `json:"sortBy"`
	Order       string     `json:"order"`
}

// Normalize 修正分页参数；未知排序字段静默回退为 createdAt，排序方向缺省为 desc
func (r *BookListRequest) Normalize() {
	r.Page, r.Limit = NormalizePage(r.Page, r.Limit)
	r.Search = strings.TrimSpace(r.Search)
	r.Author = strings.TrimSpace(r.Author)
	r.Category = strings.TrimSpace(r.Category)
	if _, ok := bookSortFields[r.SortBy]; !ok {
		r.SortBy = BookSortCreatedAt
	}
	r.Order = strings.ToLower(r.Order)
	if r.Order != "asc" {
		r.Order = "desc"
	}
}
