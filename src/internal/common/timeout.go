package common

import (
	"context"
	"time"
)

// WithTimeout wraps context.WithTimeout so call sites stay uniform.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, duration)
}

// ClampTimeout bounds a caller-provided timeout to [min, max], substituting
// def when the caller passed zero.
func ClampTimeout(d, def, min, max time.Duration) time.Duration {
	if d <= 0 {
		d = def
	}
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
