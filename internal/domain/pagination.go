package domain

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// NormalizePage 将页码修正为 >=1，每页条数缺省为 10、上限 50
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

// Offset 计算分页偏移量
func Offset(page, limit int) int {
	return (page - 1) * limit
}
