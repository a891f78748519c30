package service

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageResponse 是分页列表的通用响应结构。
type PageResponse struct {
	Content       interface{} `json:"content"`
	TotalElements int64       `json:"totalElements"`
	TotalPages    int         `json:"totalPages"`
	Size          int         `json:"size"`
	Number        int         `json:"number"`
}

// normalizePage 把页码规整为从 1 开始，并限制每页条数。
func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func newPage(content interface{}, total int64, page, size int) *PageResponse {
	totalPages := int(total) / size
	if int(total)%size != 0 {
		totalPages++
	}
	return &PageResponse{
		Content:       content,
		TotalElements: total,
		TotalPages:    totalPages,
		Size:          size,
		Number:        page,
	}
}
