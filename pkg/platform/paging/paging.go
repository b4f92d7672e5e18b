// Package paging carries list queries and paged results shared by the
// sample services.
package paging

import (
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Query selects a page of rows.
type Query struct {
	Page     int
	PageSize int
	// Sort is a field name, descending when prefixed with "-".
	Sort   string
	Search string
}

// ParseQuery reads page, pageSize, sort and search from string params.
// Unparseable numbers fall back to the defaults.
func ParseQuery(get func(string) string) Query {
	page, _ := strconv.Atoi(get("page"))
	size, _ := strconv.Atoi(get("pageSize"))
	return Query{
		Page:     page,
		PageSize: size,
		Sort:     get("sort"),
		Search:   get("search"),
	}.Normalize()
}

// Normalize clamps paging to sane bounds.
func (q Query) Normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	q.Sort = strings.TrimSpace(q.Sort)
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// Offset returns the number of rows skipped before the page.
func (q Query) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// SortField splits Sort into a field and direction.
func (q Query) SortField() (field string, desc bool) {
	if strings.HasPrefix(q.Sort, "-") {
		return q.Sort[1:], true
	}
	return q.Sort, false
}

// Params returns the query as cache-key params.
func (q Query) Params() map[string]any {
	return map[string]any{
		"page":     q.Page,
		"pageSize": q.PageSize,
		"sort":     q.Sort,
		"search":   q.Search,
	}
}

// Page is one page of a listing.
type Page[T any] struct {
	Rows       []T `json:"rows"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

// NewPage fills in the paging totals for rows selected by q.
func NewPage[T any](rows []T, total int, q Query) Page[T] {
	pages := 0
	if q.PageSize > 0 {
		pages = (total + q.PageSize - 1) / q.PageSize
	}
	if rows == nil {
		rows = []T{}
	}
	return Page[T]{Rows: rows, Total: total, Page: q.Page, PageSize: q.PageSize, TotalPages: pages}
}

// Window returns the slice of rows q selects from an already sorted list.
func Window[T any](rows []T, q Query) []T {
	start := q.Offset()
	if start >= len(rows) {
		return nil
	}
	end := min(start+q.PageSize, len(rows))
	return rows[start:end]
}
