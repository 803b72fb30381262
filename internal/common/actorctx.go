package common

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const actorKey ctxKey = "quote/actor"

// ActorHeader carries the caller identity recorded on versions and change logs.
const ActorHeader = "X-Actor"

// WithActor stores the acting user identifier on the provided context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// Actor extracts the acting user identifier from the context if present.
func Actor(ctx context.Context) (string, bool) {
	v := ctx.Value(actorKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// ActorMiddleware copies the X-Actor header onto the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			r = r.WithContext(WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
