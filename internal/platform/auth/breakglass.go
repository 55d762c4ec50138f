package auth

import "context"

const (
	breakGlassKey       contextKey = "break_glass"
	breakGlassReasonKey contextKey = "break_glass_reason"
)

// WithBreakGlass returns a context marked as an emergency override carrying
// the clinician's stated reason.
func WithBreakGlass(ctx context.Context, reason string) context.Context {
	ctx = context.WithValue(ctx, breakGlassKey, true)
	return context.WithValue(ctx, breakGlassReasonKey, reason)
}

// IsBreakGlass reports whether the request is an emergency override.
func IsBreakGlass(ctx context.Context) bool {
	v, _ := ctx.Value(breakGlassKey).(bool)
	return v
}

// BreakGlassReason returns the reason supplied with the override, or an
// empty string when break-glass was not invoked.
func BreakGlassReason(ctx context.Context) string {
	v, _ := ctx.Value(breakGlassReasonKey).(string)
	return v
}
