package shared

import "math"

// MaxPerPage caps the page size accepted from clients.
const MaxPerPage = 100

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	page, perPage = NormalizePage(page, perPage)
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// NormalizePage applies defaults and the MaxPerPage ceiling.
func NormalizePage(page, perPage int) (int, int) {
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	if page <= 0 {
		page = 1
	}
	return page, perPage
}

// Offset returns the SQL offset for the page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}
