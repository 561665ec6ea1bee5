package provider

import "context"

type uidKey struct{}

// WithUID tags a context with the user the adapter call acts for. Refresh
// hooks read it back to know whose credential to persist.
func WithUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, uidKey{}, uid)
}

// UIDFromContext returns the user id set by WithUID, or empty.
func UIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(uidKey{}).(string)
	return uid
}
