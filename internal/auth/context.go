// ABOUTME: Request context helpers for the authenticated API caller
// ABOUTME: Carries verified operator claims from the middleware to handlers

package auth

import "context"

type claimsKey struct{}

// WithClaims returns a new context carrying verified token claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the caller's claims, or nil for unauthenticated requests.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// SubjectFromContext returns the token subject, or "" for unauthenticated requests.
func SubjectFromContext(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.Subject
	}
	return ""
}
