package rbac

import "context"

type grantSetContextKey struct{}

// ContextWithGrantSet stores the evaluated grant set in context.
func ContextWithGrantSet(ctx context.Context, gs GrantSet) context.Context {
	return context.WithValue(ctx, grantSetContextKey{}, gs)
}

// GrantSetFromContext extracts the grant set placed by the auth middleware.
func GrantSetFromContext(ctx context.Context) (GrantSet, bool) {
	gs, ok := ctx.Value(grantSetContextKey{}).(GrantSet)
	return gs, ok && gs.PrincipalID != 0
}
