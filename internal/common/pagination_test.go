package common

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	page, limit := ParsePagination(httptest.NewRequest("GET", "/x?page=3&limit=5", nil), 20)
	require.Equal(t, 3, page)
	require.Equal(t, 5, limit)

	page, limit = ParsePagination(httptest.NewRequest("GET", "/x?page=-1&limit=abc", nil), 20)
	require.Equal(t, 1, page)
	require.Equal(t, 20, limit)
}

func TestPaginate(t *testing.T) {
	start, end, p := Paginate(2, 2, 100, 5)
	require.Equal(t, 2, start)
	require.Equal(t, 4, end)
	require.Equal(t, Pagination{Page: 2, Limit: 2, TotalItems: 5, TotalPages: 3}, p)

	start, end, p = Paginate(9, 500, 100, 5)
	require.Equal(t, 5, start)
	require.Equal(t, 5, end)
	require.Equal(t, 100, p.Limit)

	_, _, p = Paginate(1, 10, 0, 0)
	require.Equal(t, 0, p.TotalPages)
}
