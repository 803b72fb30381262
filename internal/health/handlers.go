package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"
)

// ErrDisabled is returned by a probe whose dependency is not configured.
// Disabled dependencies do not fail readiness.
var ErrDisabled = errors.New("disabled")

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
	// CheckRules reports whether valid business rules can be served.
	CheckRules(ctx context.Context, timeout time.Duration) error
}

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady toggles readiness. It is cleared when graceful shutdown begins so
// load balancers drain the instance.
func SetReady(v bool) {
	ready.Store(v)
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
	RulesTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ready.Load() {
		writeStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	ctx := r.Context()
	status := map[string]string{
		"db":    probeStatus(h.Checker.PingDB(ctx, h.dbTimeout())),
		"redis": probeStatus(h.Checker.PingRedis(ctx, h.redisTimeout())),
		"rules": probeStatus(h.Checker.CheckRules(ctx, h.rulesTimeout())),
	}
	code := http.StatusOK
	for _, s := range status {
		if s != "ok" && s != ErrDisabled.Error() {
			code = http.StatusServiceUnavailable
		}
	}
	writeStatus(w, code, status)
}

func probeStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDisabled):
		return ErrDisabled.Error()
	default:
		return err.Error()
	}
}

func writeStatus(w http.ResponseWriter, code int, status map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}

func (h Handler) rulesTimeout() time.Duration {
	if h.RulesTimeout <= 0 {
		return time.Second
	}
	return h.RulesTimeout
}
