package common

import "context"

type userIDKey struct{}

// WithUserID records the signed-in user on ctx. Idempotency keys are scoped by it.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserID returns the user recorded by WithUserID.
func UserID(ctx context.Context) (string, bool) {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id, id != ""
}
