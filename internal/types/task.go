package types

import "fmt"

// TaskID correlates log lines and output records back to a single dispatch.
// It is unique within a process lifetime (spec invariant): Worker is a
// label for where the ID was minted ("seed", "unpack" or "adhoc"), not the
// goroutine slot that handles the task; Seq comes from a process-wide
// monotonic counter.
type TaskID struct {
	Worker string
	Seq    uint64
}

func (t TaskID) String() string {
	return fmt.Sprintf("%s-%d", t.Worker, t.Seq)
}
