package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/noah-isme/cabinet-quote/internal/health"
)

type stubChecker struct {
	dbErr    error
	redisErr error
	rulesErr error
}

func (s stubChecker) PingDB(_ context.Context, _ time.Duration) error {
	return s.dbErr
}

func (s stubChecker) PingRedis(_ context.Context, _ time.Duration) error {
	return s.redisErr
}

func (s stubChecker) CheckRules(_ context.Context, _ time.Duration) error {
	return s.rulesErr
}

func TestLive(t *testing.T) {
	handler := health.Handler{}
	rr := httptest.NewRecorder()
	handler.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "ok" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestReadySuccess(t *testing.T) {
	handler := health.Handler{Checker: stubChecker{}, DBTimeout: 50 * time.Millisecond, RedisTimeout: 50 * time.Millisecond}
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var status map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status["db"] != "ok" || status["redis"] != "ok" || status["rules"] != "ok" {
		t.Fatalf("unexpected status %#v", status)
	}
}

func TestReadyDisabledDependencies(t *testing.T) {
	handler := health.Handler{Checker: stubChecker{dbErr: health.ErrDisabled, redisErr: health.ErrDisabled}}
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var status map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status["db"] != "disabled" || status["redis"] != "disabled" {
		t.Fatalf("unexpected status %#v", status)
	}
}

func TestReadyFailure(t *testing.T) {
	cases := map[string]stubChecker{
		"db":    {dbErr: errors.New("db down")},
		"rules": {rulesErr: errors.New("rules invalid")},
	}
	for name, checker := range cases {
		t.Run(name, func(t *testing.T) {
			handler := health.Handler{Checker: checker, DBTimeout: 10 * time.Millisecond, RedisTimeout: 10 * time.Millisecond}
			rr := httptest.NewRecorder()
			handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rr.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected 503 got %d", rr.Code)
			}
		})
	}
}

// countingChecker records how many dependency checks ran.
type countingChecker struct {
	stubChecker
	calls atomic.Int32
}

func (c *countingChecker) PingDB(ctx context.Context, d time.Duration) error {
	c.calls.Add(1)
	return c.stubChecker.PingDB(ctx, d)
}

func (c *countingChecker) PingRedis(ctx context.Context, d time.Duration) error {
	c.calls.Add(1)
	return c.stubChecker.PingRedis(ctx, d)
}

func (c *countingChecker) CheckRules(ctx context.Context, d time.Duration) error {
	c.calls.Add(1)
	return c.stubChecker.CheckRules(ctx, d)
}

func TestReadyDuringShutdownSkipsDependencyChecks(t *testing.T) {
	t.Cleanup(func() { health.SetReady(true) })
	checker := &countingChecker{stubChecker: stubChecker{rulesErr: errors.New("rules store unreachable")}}
	handler := health.Handler{Checker: checker}

	health.SetReady(false)
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rr.Code)
	}
	var status map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status["status"] != "shutting_down" {
		t.Fatalf("unexpected status %#v", status)
	}
	if n := checker.calls.Load(); n != 0 {
		t.Fatalf("expected no dependency checks while shutting down, got %d", n)
	}

	health.SetReady(true)
	rr = httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from rules check got %d", rr.Code)
	}
	status = nil
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status["rules"] != "rules store unreachable" || status["db"] != "ok" {
		t.Fatalf("unexpected status %#v", status)
	}
	if n := checker.calls.Load(); n != 3 {
		t.Fatalf("expected 3 dependency checks, got %d", n)
	}
}
