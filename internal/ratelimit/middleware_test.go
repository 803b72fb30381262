package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/cabinet-quote/internal/common"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "ratelimit"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	handler := Handler{
		Limiter: limiter.New(store, limiter.Rate{Period: time.Minute, Limit: 1}),
		Key:     func(*http.Request) string { return "static" },
	}
	counted := handler.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes/calculate", nil)
	rr1 := httptest.NewRecorder()
	counted.ServeHTTP(rr1, req.Clone(req.Context()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	counted.ServeHTTP(rr2, req.Clone(req.Context()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on second request, got %d", rr2.Code)
	}
	if rr2.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("unexpected limit header: %q", rr2.Header().Get("X-RateLimit-Limit"))
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestHandlerBucketsByActor(t *testing.T) {
	handler := Handler{Limiter: limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 1})}
	counted := handler.Middleware(okHandler())

	send := func(actor string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes/calculate", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if actor != "" {
			req = req.WithContext(common.WithActor(req.Context(), actor))
		}
		rr := httptest.NewRecorder()
		counted.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("alice"); code != http.StatusOK {
		t.Fatalf("alice first: %d", code)
	}
	if code := send("bob"); code != http.StatusOK {
		t.Fatalf("bob first: %d", code)
	}
	if code := send("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("alice second: %d", code)
	}
	if code := send(""); code != http.StatusOK {
		t.Fatalf("anonymous first: %d", code)
	}
}

type brokenStore struct{ limiter.Store }

func (brokenStore) Get(context.Context, string, limiter.Rate) (limiter.Context, error) {
	return limiter.Context{}, errors.New("store down")
}

func TestHandlerMiddlewareOnError(t *testing.T) {
	called := false
	handler := Handler{
		Limiter: limiter.New(brokenStore{}, limiter.Rate{Period: time.Second, Limit: 1}),
		OnError: func(error) { called = true },
	}
	counted := handler.Middleware(okHandler())

	rr := httptest.NewRecorder()
	counted.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected handler to proceed on error, got %d", rr.Code)
	}
	if !called {
		t.Fatal("expected OnError callback to be invoked")
	}
}
