package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const actorKey contextKey = "actor"

// DefaultActor is recorded when a request carries no actor header.
const DefaultActor = "system"

// ContextWithActor returns a new context carrying the acting user.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the acting user, falling back to DefaultActor.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return DefaultActor
	}
	actor, ok := ctx.Value(actorKey).(string)
	if !ok || actor == "" {
		return DefaultActor
	}
	return actor
}

// ActorMiddleware lifts the X-Actor header into the request context. The
// upstream auth layer owns verifying it; this core only records it.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get("X-Actor"))
		if actor != "" {
			r = r.WithContext(ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
