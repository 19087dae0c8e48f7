package auth

import "context"

type principalKey struct{}

// ContextWithPrincipal stores the principal resolved for the current request.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the request principal. ok is false when no
// authenticated account is attached.
func PrincipalFromContext(ctx context.Context) (p Principal, ok bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok = ctx.Value(principalKey{}).(Principal)
	return p, ok && p.ID() != ""
}
