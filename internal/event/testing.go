package event

import (
	"testing"
	"time"
)

// ReceiveWithTimeout waits for a single value on ch or fails the test.
func ReceiveWithTimeout[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return value
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event after %s", timeout)
	}
	var zero T
	return zero
}
