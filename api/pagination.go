package api

import (
	"net/http"
	"strconv"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// PaginationMeta is embedded in paginated list responses.
type PaginationMeta struct {
	TotalCount int  `json:"total_count"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
}

// page is a validated limit/offset window.
type page struct {
	limit  int
	offset int
}

// pageFromQuery reads "limit" and "offset". Unparseable or non-positive
// values fall back to the defaults and limit is capped at maxAuditPageSize.
func pageFromQuery(r *http.Request) page {
	p := page{
		limit:  positiveQueryInt(r, "limit", defaultAuditPageSize),
		offset: positiveQueryInt(r, "offset", 0),
	}
	p.limit = min(p.limit, maxAuditPageSize)
	return p
}

func positiveQueryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// newestFirst returns the window p over items read back to front, so that
// offset 0 is the last element of items.
func newestFirst[T any](items []T, p page) ([]T, PaginationMeta) {
	total := len(items)
	start := min(p.offset, total)
	end := min(start+p.limit, total)

	out := make([]T, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, items[total-1-i])
	}
	return out, PaginationMeta{
		TotalCount: total,
		Limit:      p.limit,
		Offset:     p.offset,
		HasMore:    end < total,
	}
}
