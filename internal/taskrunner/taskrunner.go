// Package taskrunner drives one subprocess from spawn to cleanup (spec
// §4.6): materializing its input, wiring stdin/stdout/stderr, waiting for
// exit, and turning whatever it produced into new Inputs (unpacker
// recursion) or Outputs (terminal records).
package taskrunner

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/standardbeagle/dispatchd/internal/errors"
	"github.com/standardbeagle/dispatchd/internal/logger"
	"github.com/standardbeagle/dispatchd/internal/types"
	"github.com/standardbeagle/dispatchd/internal/walker"
)

// Sink is how a TaskRunner hands its products back to the pool without
// importing it: new work for the bounded input/output queues, or a
// live child-stdout pipe that must bypass the bounded pool entirely to
// avoid a producer/consumer deadlock (spec §4.8, §9).
type Sink interface {
	EnqueueInput(types.Input)
	EnqueueOutput(types.Output)
	SpawnAdHoc(types.Input)
}

// IDGenerator mints process-wide-unique TaskIDs for Inputs a TaskRunner
// discovers mid-flight (unpacker children), labelling them "unpack" or
// "adhoc" by how they were found; the worker slot is not recorded.
type IDGenerator interface {
	Next(worker string) types.TaskID
}

// TaskRunner drives subprocesses, one per call to Run. A single TaskRunner
// is shared by every input worker of a Pool and may run several tasks
// concurrently; it holds no per-task state between calls to Run.
type TaskRunner struct {
	sink Sink
	ids  IDGenerator
	log  *logger.Logger
}

// New creates a TaskRunner.
func New(sink Sink, ids IDGenerator, log *logger.Logger) *TaskRunner {
	return &TaskRunner{sink: sink, ids: ids, log: log}
}

// Run executes task to completion. It never returns an error the caller
// must treat as fatal: every failure is logged against the task id and
// item path (spec §7) and returned only so tests and callers can observe
// it; the pool's worker loop ignores the return value in production.
func (r *TaskRunner) Run(worker string, task *types.PreparedTask) error {
	if task.DataCloser != nil {
		defer task.DataCloser.Close()
	}

	plugin := task.Plugin
	cmd := plugin.Cmd

	tempInput, err := r.materializeInput(task)
	if err != nil {
		return r.fail(task, "materialize_input", err)
	}
	if tempInput != "" {
		defer os.Remove(tempInput)
	}

	if dir, ok := plugin.OutputPath.(types.DirOutputPath); ok {
		if err := os.MkdirAll(dir.Path, 0o755); err != nil {
			return r.fail(task, "mkdir_output", err)
		}
	}

	var stdinPipe io.WriteCloser
	if _, ok := plugin.InputPath.(types.StdinInputPath); ok {
		stdinPipe, err = cmd.StdinPipe()
		if err != nil {
			return r.fail(task, "spawn", err)
		}
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return r.fail(task, "spawn", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return r.fail(task, "spawn", err)
	}

	if err := cmd.Start(); err != nil {
		return r.fail(task, "spawn", err)
	}

	// cmd.Wait (below) closes the parent's end of every StdoutPipe/
	// StderrPipe as soon as the child exits, whether or not a consumer
	// has finished reading it. Both pipes are handed to other workers for
	// asynchronous draining, so Wait must not run until each one reports
	// back that it has been fully read; drainWG is that signal.
	var drainWG sync.WaitGroup
	drainWG.Add(2)

	// Stderr always goes to the log sink, ownership transferred
	// immediately so the child is never blocked on a full stderr buffer
	// (spec §4.6 step 3, §5).
	r.sink.EnqueueOutput(types.Output{
		TaskID:     task.TaskID,
		ItemPath:   task.ItemPath,
		ItemType:   task.ItemType,
		PluginName: plugin.PluginName,
		Data:       types.LogStderrOutputData{Pipe: &drainNotifier{ReadCloser: stderrPipe, wg: &drainWG}},
	})

	r.routeStdout(task, &drainNotifier{ReadCloser: stdoutPipe, wg: &drainWG})

	if stdinPipe != nil {
		// May block on the kernel pipe buffer; safe because stdout and
		// stderr are already being drained by other workers (spec §5).
		if _, err := io.Copy(stdinPipe, task.DataReader); err != nil {
			stdinPipe.Close()
			return r.fail(task, "stdin_feed", err)
		}
		if err := stdinPipe.Close(); err != nil {
			return r.fail(task, "stdin_feed", err)
		}
	}

	drainWG.Wait()
	waitErr := cmd.Wait()
	r.log.Task(logger.LevelInfo, task.TaskID, "plugin %s exited (%v)", plugin.PluginName, exitDescription(waitErr))

	return r.materializeOutput(task)
}

// drainNotifier wraps a pipe handed off to another worker so that worker's
// eventual Close — once it has read the pipe to EOF — signals wg, letting
// Run hold off on cmd.Wait until every handed-off pipe has actually
// drained.
type drainNotifier struct {
	io.ReadCloser
	wg   *sync.WaitGroup
	once sync.Once
}

func (d *drainNotifier) Close() error {
	err := d.ReadCloser.Close()
	d.once.Do(d.wg.Done)
	return err
}

// materializeInput creates task's input file on disk when the prepared
// plugin expects one and it isn't already there (spec §4.6 step 1),
// returning its path when it did so the caller can delete it once the
// child exits.
func (r *TaskRunner) materializeInput(task *types.PreparedTask) (string, error) {
	fp, ok := task.Plugin.InputPath.(types.FileInputPath)
	if !ok {
		return "", nil
	}
	if _, err := os.Stat(fp.Path); err == nil {
		return "", nil // already on disk; plugin reads it in place
	}

	f, err := os.Create(fp.Path)
	if err != nil {
		return "", err
	}
	_, copyErr := io.Copy(f, task.DataReader)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(fp.Path)
		return "", copyErr
	}
	if closeErr != nil {
		os.Remove(fp.Path)
		return "", closeErr
	}
	return fp.Path, nil
}

// routeStdout dispatches the child's stdout pipe per spec §4.6 step 4,
// transferring ownership of the pipe to whichever consumer the output
// binding and unpacker flag select.
func (r *TaskRunner) routeStdout(task *types.PreparedTask, pipe io.ReadCloser) {
	plugin := task.Plugin
	_, isStdout := plugin.OutputPath.(types.StdoutOutputPath)

	switch {
	case isStdout && plugin.Unpacker:
		r.sink.SpawnAdHoc(types.Input{
			TaskID:   r.ids.Next("adhoc"),
			ItemPath: task.ItemPath,
			Data:     types.ChildStdoutInputData{Pipe: pipe},
		})
	case isStdout:
		r.sink.EnqueueOutput(types.Output{
			TaskID:     task.TaskID,
			ItemPath:   task.ItemPath,
			ItemType:   task.ItemType,
			PluginName: plugin.PluginName,
			Data:       types.StdoutOutputData{Pipe: pipe},
		})
	default:
		r.sink.EnqueueOutput(types.Output{
			TaskID:     task.TaskID,
			ItemPath:   task.ItemPath,
			ItemType:   task.ItemType,
			PluginName: plugin.PluginName,
			Data:       types.LogStdoutOutputData{Pipe: pipe},
		})
	}
}

// materializeOutput inspects the plugin's resolved output binding once the
// child has exited, producing new Inputs (unpacker recursion) or Outputs
// (terminal records) per spec §4.6 step 8.
func (r *TaskRunner) materializeOutput(task *types.PreparedTask) error {
	plugin := task.Plugin

	switch out := plugin.OutputPath.(type) {
	case types.StdoutOutputPath:
		return nil // already handled while the child was running

	case types.FileOutputPath:
		if plugin.Unpacker {
			r.sink.EnqueueInput(types.Input{
				TaskID:   r.ids.Next("unpack"),
				ItemPath: task.ItemPath,
				Data:     types.FileInputData{Path: out.Path, Temp: true},
			})
			return nil
		}
		r.sink.EnqueueOutput(types.Output{
			TaskID:     task.TaskID,
			ItemPath:   task.ItemPath,
			ItemType:   task.ItemType,
			PluginName: plugin.PluginName,
			Data:       types.FileOutputData{Path: out.Path},
		})
		return nil

	case types.DirOutputPath:
		return r.drainDir(task, out.Path)

	default:
		return r.fail(task, "output_materialize", fmt.Errorf("unrecognized output binding %T", out))
	}
}

// drainDir walks a dir-output plugin's directory, producing one new Input
// per file (unpacker) or one Output per file (terminal), and arranges for
// the directory to be removed once every file has been individually
// consumed (spec §4.6 step 8-9, §9 Open Question). The removal is an
// empty-only rmdir, so a directory that still holds subdirectories is left
// in place.
func (r *TaskRunner) drainDir(task *types.PreparedTask, dir string) error {
	plugin := task.Plugin

	pairs, err := walker.Collect(dir, task.ItemPath)
	if err != nil {
		return r.fail(task, "output_materialize", err)
	}

	remaining := int64(len(pairs))
	if remaining == 0 {
		return walker.RemoveIfEmpty(dir)
	}
	onAllConsumed := func() {
		if atomic.AddInt64(&remaining, -1) == 0 {
			if err := walker.RemoveIfEmpty(dir); err != nil {
				r.log.Task(logger.LevelWarn, task.TaskID, "rmdir %s after drain: %v", dir, err)
			}
		}
	}

	if plugin.Unpacker {
		for _, pair := range pairs {
			r.sink.EnqueueInput(types.Input{
				TaskID:   r.ids.Next("unpack"),
				ItemPath: pair.ItemPath,
				Data:     types.FileInputData{Path: pair.AbsPath, Temp: true, OnConsumed: onAllConsumed},
			})
		}
		return nil
	}

	for _, pair := range pairs {
		r.sink.EnqueueOutput(types.Output{
			TaskID:     task.TaskID,
			ItemPath:   pair.ItemPath,
			ItemType:   task.ItemType,
			PluginName: plugin.PluginName,
			Data:       types.FileOutputData{Path: pair.AbsPath, OnConsumed: onAllConsumed},
		})
	}
	return nil
}

// fail logs err against task's identity and returns a *errors.TaskError;
// the caller never propagates this further than a log line (spec §7).
func (r *TaskRunner) fail(task *types.PreparedTask, stage string, err error) error {
	taskErr := errors.NewTaskError(errors.ErrorTypeIO, task.TaskID, task.ItemPath, task.Plugin.PluginName, stage, err)
	r.log.Task(logger.LevelError, task.TaskID, "%v", taskErr)
	return taskErr
}

// exitDescription renders a subprocess's wait error as an informational
// string; a non-zero exit is never treated as a failure (spec §4.6 step 6,
// §7) so this is logged for visibility only.
func exitDescription(err error) string {
	if err == nil {
		return "status 0"
	}
	return err.Error()
}
