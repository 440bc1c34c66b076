package obs

import "context"

type ctxKeyRoutePattern struct{}

// WithRoutePattern annotates the context with the matched route pattern, e.g.
// "/payments/nbe/checkout/{orderId}".
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKeyRoutePattern{}, pattern)
}

// RoutePatternFromContext returns the annotated pattern, or "" when the
// request never matched a route.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	pattern, _ := ctx.Value(ctxKeyRoutePattern{}).(string)
	return pattern
}
