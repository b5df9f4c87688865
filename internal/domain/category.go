package domain

import "time"

// Category 图书分类，名称唯一
type Category struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// CategoryRequest 创建或修改分类
type CategoryRequest struct {
	Name string `json:"name" binding:"required,min=2,max=50"`
}
