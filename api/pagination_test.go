package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageFromQuery(t *testing.T) {
	tests := []struct {
		query string
		want  page
	}{
		{"", page{defaultAuditPageSize, 0}},
		{"limit=20", page{20, 0}},
		{"offset=10", page{defaultAuditPageSize, 10}},
		{"limit=5&offset=15", page{5, 15}},
		{"limit=10000", page{maxAuditPageSize, 0}},
		{"limit=0", page{defaultAuditPageSize, 0}},
		{"limit=-3&offset=-1", page{defaultAuditPageSize, 0}},
		{"limit=ten&offset=x", page{defaultAuditPageSize, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/admin/audit?"+tt.query, nil)
			assert.Equal(t, tt.want, pageFromQuery(r))
		})
	}
}

func TestNewestFirst(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	got, meta := newestFirst(items, page{limit: 3, offset: 0})
	assert.Equal(t, []int{7, 6, 5}, got)
	assert.Equal(t, PaginationMeta{TotalCount: 7, Limit: 3, Offset: 0, HasMore: true}, meta)

	got, meta = newestFirst(items, page{limit: 3, offset: 6})
	assert.Equal(t, []int{1}, got)
	assert.False(t, meta.HasMore)

	got, meta = newestFirst(items, page{limit: 3, offset: 4})
	assert.Equal(t, []int{3, 2, 1}, got)
	assert.False(t, meta.HasMore)

	got, meta = newestFirst(items, page{limit: 3, offset: 50})
	assert.Empty(t, got)
	assert.NotNil(t, got)
	assert.Equal(t, 50, meta.Offset)

	got, meta = newestFirst([]int(nil), page{limit: 10})
	assert.Empty(t, got)
	assert.Equal(t, 0, meta.TotalCount)
}
