// Package middleware provides HTTP middleware for caller identity.
package middleware

import (
	"context"
	"net/http"

	"github.com/jonathan/swing-coach/internal/identity"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

// identityKey is the context key for storing the resolved caller.
const identityKey ContextKey = "identity"

// IdentityResolver turns an Authorization header value into a caller.
// It never fails: unverifiable callers resolve to the guest identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, authHeader string) identity.Identity
}

// Identity creates middleware that resolves the caller and stores it in the
// request context. Requests are never rejected here.
func Identity(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identity.Guest()
			if header := r.Header.Get("Authorization"); header != "" && resolver != nil {
				id = resolver.Resolve(r.Context(), header)
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the caller stored by Identity, or the guest identity.
func FromContext(ctx context.Context) identity.Identity {
	if id, ok := ctx.Value(identityKey).(identity.Identity); ok {
		return id
	}
	return identity.Guest()
}
