package common

import (
	"net/http"
	"strconv"
)

// Pagination describes one page of a list response.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// ParsePagination reads the page and limit query parameters. Missing or
// non-positive values fall back to page 1 and defaultLimit.
func ParsePagination(r *http.Request, defaultLimit int) (page, limit int) {
	q := r.URL.Query()
	return positiveOr(q.Get("page"), 1), positiveOr(q.Get("limit"), defaultLimit)
}

// Paginate clamps page and limit and returns the window [start, end) over
// total items along with the page metadata.
func Paginate(page, limit, maxLimit, total int) (start, end int, p Pagination) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	start = min((page-1)*limit, total)
	end = min(start+limit, total)
	return start, end, Pagination{
		Page:       page,
		Limit:      limit,
		TotalItems: total,
		TotalPages: (total + limit - 1) / limit,
	}
}

func positiveOr(raw string, fallback int) int {
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}
