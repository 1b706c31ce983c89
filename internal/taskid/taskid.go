// Package taskid mints process-wide-unique TaskIDs (spec invariant,
// Testable Property 7).
package taskid

import (
	"sync/atomic"

	"github.com/standardbeagle/dispatchd/internal/types"
)

// seq is the single process-wide counter every Generator draws from.
var seq uint64

// Generator hands out monotonically increasing TaskIDs. The zero value is
// ready to use.
type Generator struct{}

// Next returns a TaskID attributed to worker, unique within the process
// lifetime across every Generator.
func (g *Generator) Next(worker string) types.TaskID {
	return types.TaskID{Worker: worker, Seq: atomic.AddUint64(&seq, 1)}
}
