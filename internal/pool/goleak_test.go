package pool

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain guards the whole pool package against goroutine leaks: every
// dispatcher loop, bounded worker, and ad-hoc unpacker-stdout goroutine
// must exit once Shutdown returns. Grounded on the teacher's
// internal/core/goleak_test.go, which applies the same VerifyTestMain gate
// to its own lock-free concurrent package.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("sync.runtime_Semacquire"),
	)
}
