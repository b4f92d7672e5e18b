package paging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Query
		want Query
	}{
		{"defaults", Query{}, Query{Page: 1, PageSize: DefaultPageSize}},
		{"clamps size", Query{Page: 3, PageSize: 1000}, Query{Page: 3, PageSize: MaxPageSize}},
		{"trims", Query{Page: 2, PageSize: 5, Sort: " -name ", Search: " desk "}, Query{Page: 2, PageSize: 5, Sort: "-name", Search: "desk"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}

func TestParseQuery(t *testing.T) {
	params := map[string]string{"page": "2", "pageSize": "abc", "sort": "-login"}
	q := ParseQuery(func(k string) string { return params[k] })
	assert.Equal(t, Query{Page: 2, PageSize: DefaultPageSize, Sort: "-login"}, q)

	field, desc := q.SortField()
	assert.Equal(t, "login", field)
	assert.True(t, desc)
}

func TestWindowAndPage(t *testing.T) {
	rows := []int{1, 2, 3, 4, 5}

	q := Query{Page: 2, PageSize: 2}
	assert.Equal(t, []int{3, 4}, Window(rows, q))
	assert.Equal(t, []int{5}, Window(rows, Query{Page: 3, PageSize: 2}))
	assert.Nil(t, Window(rows, Query{Page: 4, PageSize: 2}))

	p := NewPage[int](nil, 5, q)
	assert.Equal(t, 3, p.TotalPages)
	assert.NotNil(t, p.Rows)
}
