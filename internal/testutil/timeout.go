package testutil

import (
	"context"
	"testing"
	"time"
)

const (
	// DefaultLoopTimeout bounds a test that runs sync cycles against fakes
	// when `go test` sets no deadline.
	DefaultLoopTimeout = 30 * time.Second

	// DefaultTestBuffer is kept free before the test deadline for cleanup.
	DefaultTestBuffer = 10 * time.Second
)

// DeadlineContext returns a context that ends DefaultTestBuffer before the
// test deadline, or after fallback when the test has no usable deadline.
func DeadlineContext(t *testing.T, fallback time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	if deadline, ok := t.Deadline(); ok {
		if end := deadline.Add(-DefaultTestBuffer); end.After(time.Now()) {
			return context.WithDeadline(context.Background(), end)
		}
	}
	return context.WithTimeout(context.Background(), fallback)
}

// ContextWithTimeout returns a context that ends after timeout.
func ContextWithTimeout(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), timeout)
}

// LoopContext returns the context used by tests that run sync cycles.
func LoopContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return DeadlineContext(t, DefaultLoopTimeout)
}
