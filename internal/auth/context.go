package auth

import (
	"context"
	"strings"
)

type claimsContextKey struct{}

// ContextWithClaims attaches verified token claims to the context.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the claims stored by the auth middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(claimsContextKey{}).(*Claims)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok || strings.TrimSpace(claims.UID) == "" {
		return "", false
	}
	return claims.UID, true
}
