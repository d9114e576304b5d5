package util

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// TestNowHeader carries an epoch-millisecond clock override in test mode.
const TestNowHeader = "x-test-now-ms"

// WithNow pins the request clock.
func WithNow(ctx context.Context, now time.Time) context.Context {
	return context.WithValue(ctx, nowKey, now)
}

// Now returns the pinned request clock, or the wall clock when none is set.
func Now(ctx context.Context) time.Time {
	if now, ok := ctx.Value(nowKey).(time.Time); ok {
		return now
	}
	return time.Now()
}

// RequestNow resolves the clock for r. The header is honoured only when
// testMode is on; malformed values fall back to the wall clock.
func RequestNow(r *http.Request, testMode bool) time.Time {
	if testMode {
		if v := r.Header.Get(TestNowHeader); v != "" {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				return time.UnixMilli(ms)
			}
		}
	}
	return time.Now()
}
