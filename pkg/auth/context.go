package auth

import "context"

type contextKey struct{}

// WithPrincipal returns a child context carrying the resolved principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom extracts the principal stored by WithPrincipal. Requests that
// never passed through the authentication middleware resolve as anonymous.
func PrincipalFrom(ctx context.Context) Principal {
	if p, ok := ctx.Value(contextKey{}).(Principal); ok {
		return p
	}
	return Principal{Kind: KindAnonymous}
}
