package obs

import "context"

// routePatternKey is the context key storing matched route pattern.
type routePatternKey struct{}

// WithRoutePattern stores the matched router pattern on the context.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext extracts the route pattern from context if present.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(routePatternKey{}).(string); ok {
		return v
	}
	return ""
}

type requestUserKey struct{}

type requestUser struct {
	id string
}

// withRequestUserSlot reserves a slot that inner handlers fill once the caller is authenticated.
func withRequestUserSlot(ctx context.Context) (context.Context, *requestUser) {
	slot := &requestUser{}
	return context.WithValue(ctx, requestUserKey{}, slot), slot
}

// SetRequestUser records the authenticated user for the enclosing request log line.
func SetRequestUser(ctx context.Context, userID string) {
	if ctx == nil {
		return
	}
	if slot, ok := ctx.Value(requestUserKey{}).(*requestUser); ok {
		slot.id = userID
	}
}
