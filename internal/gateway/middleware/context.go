// Package middleware implements the Gateway Security Pipeline's ordered
// stage chain: trace, body limit, request logging, JWT auth,
// RBAC, input filter, output filter, and the outbound proxy.
package middleware

import "context"

// User is the authenticated identity derived from a validated JWT, stored
// in the request context by the JWT auth stage and read by RBAC.
type User struct {
	ID    string
	Roles []string
}

type userKey struct{}
type claimsKey struct{}

// WithUser stores the authenticated user on ctx.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext retrieves the user stored by the JWT auth stage, if any.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok
}

// WithClaims stores the raw validated JWT claims on ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext retrieves the JWT claims stored by the auth stage.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}
