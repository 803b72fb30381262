package common

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdem(t *testing.T) (Idem, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Idem{R: client, TTL: time.Minute}, mr
}

func TestIdemRejectsReplay(t *testing.T) {
	idem, _ := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(path, key, actor string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if key != "" {
			req.Header.Set(IdempotencyHeader, key)
		}
		if actor != "" {
			req = req.WithContext(WithActor(req.Context(), actor))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusCreated, send("/api/v1/quotes/Q-1/versions", "k1", "alice"))
	require.Equal(t, http.StatusConflict, send("/api/v1/quotes/Q-1/versions", "k1", "alice"))
	require.Equal(t, http.StatusCreated, send("/api/v1/quotes/Q-1/versions", "k1", "bob"))
	require.Equal(t, http.StatusCreated, send("/api/v1/quotes/Q-2/versions", "k1", "alice"))
	require.Equal(t, http.StatusCreated, send("/api/v1/quotes/Q-1/versions", "", "alice"))
	require.Equal(t, http.StatusCreated, send("/api/v1/quotes/Q-1/versions", "", "alice"))
	require.Equal(t, 5, calls)
}

func TestIdemReleasesKeyOnUnsuccessfulWrite(t *testing.T) {
	for _, failed := range []int{
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
		http.StatusInternalServerError,
	} {
		t.Run(http.StatusText(failed), func(t *testing.T) {
			idem, mr := newIdem(t)
			status := failed
			h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))

			send := func() int {
				req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes/Q-1/versions", nil)
				req.Header.Set(IdempotencyHeader, "retry-me")
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				return rec.Code
			}

			require.Equal(t, failed, send())
			require.Empty(t, mr.Keys())
			status = http.StatusCreated
			require.Equal(t, http.StatusCreated, send())
			require.Len(t, mr.Keys(), 1)
			require.Equal(t, http.StatusConflict, send())
		})
	}
}

func TestIdemReleasesKeyOnPanic(t *testing.T) {
	idem, mr := newIdem(t)
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes/Q-1/versions", nil)
	req.Header.Set(IdempotencyHeader, "k")
	require.Panics(t, func() { h.ServeHTTP(httptest.NewRecorder(), req) })
	require.Empty(t, mr.Keys())
}

func TestIdemRedisDown(t *testing.T) {
	idem, mr := newIdem(t)
	mr.Close()
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes/Q-1/versions", nil)
	req.Header.Set(IdempotencyHeader, "k")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
