package orm

import "gorm.io/gorm"

// MaxPageSize 单页上限，防止管理端一次拉全表
const MaxPageSize = 200

// ApplyPagination 应用分页到 GORM 查询
// 如果 page <= 0 或 limit <= 0，则不应用分页
func ApplyPagination(db *gorm.DB, page, limit int) *gorm.DB {
	if page > 0 && limit > 0 {
		if limit > MaxPageSize {
			limit = MaxPageSize
		}
		return db.Offset((page - 1) * limit).Limit(limit)
	}
	return db
}

// Bounds 对内存切片做同样的分页，返回 [start, end)
func Bounds(total, page, limit int) (int, int) {
	if page <= 0 || limit <= 0 {
		return 0, total
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return start, end
}
