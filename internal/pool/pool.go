// Package pool implements the Pool (spec §4.8): two bounded worker sets
// draining unbounded input/output queues, an ad-hoc unbounded set for live
// unpacker-stdout handoff, and the join() drain protocol.
//
// The bounded sets are modeled the way the teacher bounds concurrent
// fan-out in internal/mcp/integration_test.go: one errgroup.Group per set
// with SetLimit(n), and a dispatcher loop that calls g.Go() once per
// dequeued item — a call that itself blocks once the set is at capacity,
// which is exactly the persistent-N-worker-goroutines behavior spec §4.8
// describes, expressed without hand-rolled worker goroutines.
package pool

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/dispatchd/internal/logger"
	"github.com/standardbeagle/dispatchd/internal/outputhandler"
	"github.com/standardbeagle/dispatchd/internal/preprocess"
	"github.com/standardbeagle/dispatchd/internal/taskid"
	"github.com/standardbeagle/dispatchd/internal/taskrunner"
	"github.com/standardbeagle/dispatchd/internal/types"
)

// joinPollInterval is how often join() re-checks the drain condition
// (spec §9 Open Question: the original polls rather than using a
// signalled barrier).
const joinPollInterval = 10 * time.Millisecond

// Pool owns the two bounded worker sets and their queues, and drives every
// Input through PreProcessor+TaskRunner and every Output through
// OutputHandler.
type Pool struct {
	inputWorkers  *errgroup.Group
	outputWorkers *errgroup.Group
	adHoc         *errgroup.Group // unbounded: spec §9's "ad-hoc threads" for live ChildStdout handoff

	inputQueue  *queue
	outputQueue *queue

	// active is the net "busy" count across both bounded sets and the
	// ad-hoc set: the
	// +1/-1 activity_queue markers spec §4.8 describes, collapsed into a
	// single atomic counter since join() only ever needs their sum.
	active int64

	preprocessor *preprocess.PreProcessor
	runner       *taskrunner.TaskRunner
	outputter    *outputhandler.OutputHandler
	ids          *taskid.Generator
	log          *logger.Logger

	inputSeq  int64
	outputSeq int64
}

// New creates a Pool with inputWorkers concurrent input slots and
// outputWorkers concurrent output slots.
func New(inputWorkers, outputWorkers int, pp *preprocess.PreProcessor, oh *outputhandler.OutputHandler, log *logger.Logger) *Pool {
	p := &Pool{
		inputWorkers:  &errgroup.Group{},
		outputWorkers: &errgroup.Group{},
		adHoc:         &errgroup.Group{},
		inputQueue:    newQueue(),
		outputQueue:   newQueue(),
		preprocessor:  pp,
		outputter:     oh,
		ids:           &taskid.Generator{},
		log:           log,
	}
	p.inputWorkers.SetLimit(inputWorkers)
	p.outputWorkers.SetLimit(outputWorkers)
	p.runner = taskrunner.New(p, p.ids, log)
	return p
}

// Start launches the input and output dispatcher loops. Call Seed to feed
// initial work, then Join to wait for the whole work graph to drain.
func (p *Pool) Start() {
	go p.dispatchInputs()
	go p.dispatchOutputs()
}

// Seed enqueues an initial Input discovered by the engine (from --input),
// equivalent to EnqueueInput but named for call-site clarity at the seed
// point.
func (p *Pool) Seed(in types.Input) {
	p.EnqueueInput(in)
}

// EnqueueInput implements taskrunner.Sink.
func (p *Pool) EnqueueInput(in types.Input) {
	p.inputQueue.push(in)
}

// EnqueueOutput implements taskrunner.Sink.
func (p *Pool) EnqueueOutput(out types.Output) {
	p.outputQueue.push(out)
}

// SpawnAdHoc implements taskrunner.Sink: handles a live ChildStdout Input
// on an unbounded ad-hoc goroutine, bypassing input_queue entirely so the
// producing child is never starved behind other queued work (spec §4.8,
// §9).
func (p *Pool) SpawnAdHoc(in types.Input) {
	atomic.AddInt64(&p.active, 1)
	p.adHoc.Go(func() error {
		defer atomic.AddInt64(&p.active, -1)
		p.handleInput(in)
		return nil
	})
}

func (p *Pool) dispatchInputs() {
	for {
		v, ok := p.inputQueue.pop()
		if !ok {
			return
		}
		in := v.(types.Input)
		atomic.AddInt64(&p.active, 1)
		p.inputWorkers.Go(func() error {
			defer atomic.AddInt64(&p.active, -1)
			p.handleInput(in)
			return nil
		})
	}
}

func (p *Pool) dispatchOutputs() {
	for {
		v, ok := p.outputQueue.pop()
		if !ok {
			return
		}
		out := v.(types.Output)
		atomic.AddInt64(&p.active, 1)
		p.outputWorkers.Go(func() error {
			defer atomic.AddInt64(&p.active, -1)
			p.handleOutput(out)
			return nil
		})
	}
}

// handleInput drains one Input through PreProcessor+TaskRunner (spec
// §4.8: "the handler in an input worker drains one Input through
// PreProcessor+TaskRunner").
func (p *Pool) handleInput(in types.Input) {
	defer cleanupTempInput(in)

	task, ok, err := p.preprocessor.Process(in)
	if err != nil {
		p.log.Task(logger.LevelError, in.TaskID, "preprocess %s: %v", in.ItemPath, err)
		return
	}
	if !ok {
		return // classification miss or unknown type: already logged
	}

	worker := fmt.Sprintf("in%d", atomic.AddInt64(&p.inputSeq, 1))
	if err := p.runner.Run(worker, task); err != nil {
		return // already logged against the task id inside TaskRunner
	}
}

// cleanupTempInput deletes an Input's on-disk bytes once this dispatch has
// fully consumed (or skipped) them, when they were marked temp — spec §3:
// "File(path, temp): a path on disk, flag says delete after read". This is
// what gives recursive unpacker expansions working-directory hygiene
// (Testable Property 5): every file an unpacker's dir/file output produces
// is deleted here whether the recursive classification runs the file
// through a downstream plugin or skips it outright.
func cleanupTempInput(in types.Input) {
	fd, ok := in.Data.(types.FileInputData)
	if !ok || !fd.Temp {
		return
	}
	os.Remove(fd.Path)
	if fd.OnConsumed != nil {
		fd.OnConsumed()
	}
}

// handleOutput drains one Output through OutputHandler.
func (p *Pool) handleOutput(out types.Output) {
	_ = atomic.AddInt64(&p.outputSeq, 1)
	if err := p.outputter.Handle(out); err != nil {
		p.log.Task(logger.LevelError, out.TaskID, "output %s: %v", out.ItemPath, err)
	}
}

// Join blocks until the whole work graph — including inputs discovered by
// unpacker recursion — has drained (spec §4.8 Join protocol, Testable
// Property 6). It returns once active is zero and both queues are empty;
// since every Go() call increments active before it can possibly enqueue
// more work, this condition is stable once reached.
func (p *Pool) Join() {
	time.Sleep(joinPollInterval) // let workers claim the seed Input(s) first
	for {
		if atomic.LoadInt64(&p.active) == 0 && p.inputQueue.len() == 0 && p.outputQueue.len() == 0 {
			return
		}
		time.Sleep(joinPollInterval)
	}
}

// Shutdown closes both dispatcher loops and waits for every in-flight
// worker (bounded and ad-hoc) to finish. Call only after Join has
// returned.
func (p *Pool) Shutdown() {
	p.inputQueue.close()
	p.outputQueue.close()
	p.inputWorkers.Wait()
	p.outputWorkers.Wait()
	p.adHoc.Wait()
}
