package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// IdempotencyHeader names the request header carrying the client's key.
const IdempotencyHeader = "Idempotency-Key"

// Idem rejects a repeated write carrying the same Idempotency-Key while the
// key is remembered, so a retried POST does not append a second version.
type Idem struct {
	R   redis.UniversalClient
	TTL time.Duration
}

// idemKey scopes the client key by actor and route so two callers never
// collide on a shared key.
func idemKey(r *http.Request, header string) string {
	actor, _ := Actor(r.Context())
	sum := sha256.Sum256([]byte(strings.Join([]string{actor, r.Method, r.URL.Path, header}, "\x00")))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware enforces idempotency semantics for write endpoints. Requests
// without the header or without Redis pass through. The key is held only
// once the handler answers below 400.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ttl := i.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ctx := r.Context()
		key := idemKey(r, header)
		ok, err := i.R.SetNX(ctx, key, "locked", ttl).Result()
		if err != nil {
			JSONError(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "idempotency store unavailable", nil)
			return
		}
		if !ok {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}

		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		completed := false
		defer func() {
			// only a successful write consumes the key; a rejected or failed
			// attempt, including a panic, may be retried with the same key
			if !completed || rec.status >= http.StatusBadRequest {
				_ = i.R.Del(context.WithoutCancel(ctx), key).Err()
			}
		}()
		next.ServeHTTP(rec, r)
		completed = true
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
