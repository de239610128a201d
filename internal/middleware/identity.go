// ABOUTME: Request-scoped holder letting inner handlers report identity to outer middleware
// ABOUTME: Context values only flow inward, so the access log reads a shared pointer instead

package middleware

import "context"

type identityHolder struct {
	username string
}

type identityHolderKey struct{}

func withIdentityHolder(ctx context.Context, h *identityHolder) context.Context {
	return context.WithValue(ctx, identityHolderKey{}, h)
}

func identityHolderFrom(ctx context.Context) *identityHolder {
	h, _ := ctx.Value(identityHolderKey{}).(*identityHolder)
	return h
}
