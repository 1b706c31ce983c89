package taskrunner

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/standardbeagle/dispatchd/internal/logger"
	"github.com/standardbeagle/dispatchd/internal/types"
)

// fakeSink stands in for the pool. Real workers drain a task's stdout and
// stderr pipes concurrently with TaskRunner.Run waiting on them, so this
// fake must do the same: every pipe it receives is read to EOF and closed
// on its own goroutine, with the drained bytes recorded for assertions.
// Without this, Run would block forever on its internal drain wait since
// nothing else in the test would ever close the pipes.
type fakeSink struct {
	mu      sync.Mutex
	inputs  []types.Input
	outputs []types.Output
	adhoc   []types.Input

	drainWG     sync.WaitGroup
	stdoutMu    sync.Mutex
	stdoutText  string
	stderrLines string
	adhocText   string
}

func (f *fakeSink) EnqueueInput(in types.Input) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
}

func (f *fakeSink) EnqueueOutput(out types.Output) {
	f.mu.Lock()
	f.outputs = append(f.outputs, out)
	f.mu.Unlock()

	switch d := out.Data.(type) {
	case types.LogStderrOutputData:
		f.drainWG.Add(1)
		go func() {
			defer f.drainWG.Done()
			b, _ := io.ReadAll(d.Pipe)
			d.Pipe.Close()
			f.stdoutMu.Lock()
			f.stderrLines += string(b)
			f.stdoutMu.Unlock()
		}()
	case types.LogStdoutOutputData:
		f.drainWG.Add(1)
		go func() {
			defer f.drainWG.Done()
			io.Copy(io.Discard, d.Pipe)
			d.Pipe.Close()
		}()
	case types.StdoutOutputData:
		f.drainWG.Add(1)
		go func() {
			defer f.drainWG.Done()
			b, _ := io.ReadAll(d.Pipe)
			d.Pipe.Close()
			f.stdoutMu.Lock()
			f.stdoutText += string(b)
			f.stdoutMu.Unlock()
		}()
	}
}

func (f *fakeSink) SpawnAdHoc(in types.Input) {
	f.mu.Lock()
	f.adhoc = append(f.adhoc, in)
	f.mu.Unlock()

	if cd, ok := in.Data.(types.ChildStdoutInputData); ok {
		f.drainWG.Add(1)
		go func() {
			defer f.drainWG.Done()
			b, _ := io.ReadAll(cd.Pipe)
			cd.Pipe.Close()
			f.stdoutMu.Lock()
			f.adhocText += string(b)
			f.stdoutMu.Unlock()
		}()
	}
}

type fakeIDs struct{ n int }

func (f *fakeIDs) Next(worker string) types.TaskID {
	f.n++
	return types.TaskID{Worker: worker, Seq: uint64(f.n)}
}

func newRunner(sink Sink) *TaskRunner {
	return New(sink, &fakeIDs{}, logger.New(io.Discard, logger.LevelInfo))
}

func drainAndClose(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading pipe: %v", err)
	}
	r.Close()
	return string(data)
}

func TestRunStdoutNonUnpacker(t *testing.T) {
	sink := &fakeSink{}
	r := newRunner(sink)

	task := &types.PreparedTask{
		ItemPath: "in.sh",
		ItemType: "script/sh",
		Plugin: &types.PreparedPlugin{
			PluginName: "foo",
			Cmd:        exec.Command("/bin/sh", "-c", "echo foobar"),
			InputPath:  types.FileInputPath{Path: mustExistingFile(t, "")},
			OutputPath: types.StdoutOutputPath{},
		},
		DataReader: strings.NewReader(""),
	}

	if err := r.Run("w1", task); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sink.drainWG.Wait()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.outputs) != 2 {
		t.Fatalf("expected stderr + stdout outputs, got %d", len(sink.outputs))
	}
	if _, ok := sink.outputs[0].Data.(types.LogStderrOutputData); !ok {
		t.Fatalf("expected stderr enqueued first, got %T", sink.outputs[0].Data)
	}
	if _, ok := sink.outputs[1].Data.(types.StdoutOutputData); !ok {
		t.Fatalf("expected stdout output, got %T", sink.outputs[1].Data)
	}
	if got := strings.TrimSpace(sink.stdoutText); got != "foobar" {
		t.Fatalf("unexpected stdout content: %q", got)
	}
}

func TestRunUnpackerStdoutGoesAdHoc(t *testing.T) {
	sink := &fakeSink{}
	r := newRunner(sink)

	task := &types.PreparedTask{
		ItemPath: "in.bin",
		Plugin: &types.PreparedPlugin{
			PluginName: "unpack",
			Cmd:        exec.Command("/bin/sh", "-c", "printf hi"),
			InputPath:  types.FileInputPath{Path: mustExistingFile(t, "")},
			OutputPath: types.StdoutOutputPath{},
			Unpacker:   true,
		},
		DataReader: strings.NewReader(""),
	}

	if err := r.Run("w1", task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.adhoc) != 1 {
		t.Fatalf("expected one ad-hoc Input for the unpacker's stdout, got %d", len(sink.adhoc))
	}
	if _, ok := sink.adhoc[0].Data.(types.ChildStdoutInputData); !ok {
		t.Fatalf("expected ChildStdoutInputData, got %T", sink.adhoc[0].Data)
	}
	sink.adhoc[0].Data.(types.ChildStdoutInputData).Pipe.Close()
}

func TestRunStdinToFile(t *testing.T) {
	sink := &fakeSink{}
	r := newRunner(sink)

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.txt")

	task := &types.PreparedTask{
		ItemPath: "in.txt",
		Plugin: &types.PreparedPlugin{
			PluginName: "cat",
			Cmd:        exec.Command("/bin/sh", "-c", "cat > "+outPath),
			InputPath:  types.StdinInputPath{},
			OutputPath: types.FileOutputPath{Path: outPath},
		},
		DataReader: strings.NewReader("line1\nline2\n"),
	}

	if err := r.Run("w1", task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	// stderr (LogStderr) + LogStdout (since output isn't Stdout) + the
	// terminal File Output, enqueued across the run.
	var fileOut *types.FileOutputData
	for _, o := range sink.outputs {
		if fd, ok := o.Data.(types.FileOutputData); ok {
			fd := fd
			fileOut = &fd
		}
	}
	if fileOut == nil {
		t.Fatalf("expected a FileOutputData, got %+v", sink.outputs)
	}
	if fileOut.Path != outPath {
		t.Fatalf("unexpected output path: %q", fileOut.Path)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output file: %v", err)
	}
	if string(got) != "line1\nline2\n" {
		t.Fatalf("unexpected file content: %q", got)
	}
}

func TestRunUnpackerFileOutputEnqueuesNewInput(t *testing.T) {
	sink := &fakeSink{}
	r := newRunner(sink)

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.bin")

	task := &types.PreparedTask{
		ItemPath: "in.bin",
		Plugin: &types.PreparedPlugin{
			PluginName: "unpack",
			Cmd:        exec.Command("/bin/sh", "-c", "printf payload > "+outPath),
			InputPath:  types.FileInputPath{Path: mustExistingFile(t, "")},
			OutputPath: types.FileOutputPath{Path: outPath},
			Unpacker:   true,
		},
		DataReader: strings.NewReader(""),
	}

	if err := r.Run("w1", task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var found bool
	for _, in := range sink.inputs {
		fd, ok := in.Data.(types.FileInputData)
		if ok && fd.Path == outPath && fd.Temp {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a temp FileInputData for %q, got %+v", outPath, sink.inputs)
	}
}

func TestRunDirOutputNonUnpackerDrainsAndRmdirs(t *testing.T) {
	sink := &fakeSink{}
	r := newRunner(sink)

	dir := t.TempDir()
	outDir := filepath.Join(dir, "outdir")

	task := &types.PreparedTask{
		ItemPath: "in.bin",
		ItemType: "archive/zip",
		Plugin: &types.PreparedPlugin{
			PluginName: "unzip",
			Cmd:        exec.Command("/bin/sh", "-c", "mkdir -p "+outDir+" && printf a > "+outDir+"/a.txt && printf b > "+outDir+"/b.txt"),
			InputPath:  types.FileInputPath{Path: mustExistingFile(t, "")},
			OutputPath: types.DirOutputPath{Path: outDir},
		},
		DataReader: strings.NewReader(""),
	}

	if err := r.Run("w1", task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sink.mu.Lock()
	var fileOutputs []types.FileOutputData
	for _, o := range sink.outputs {
		if fd, ok := o.Data.(types.FileOutputData); ok {
			fileOutputs = append(fileOutputs, fd)
		}
	}
	sink.mu.Unlock()

	if len(fileOutputs) != 2 {
		t.Fatalf("expected 2 file outputs from the drained directory, got %d", len(fileOutputs))
	}

	// Simulate the OutputHandler consuming each file: it deletes the file,
	// then signals OnConsumed.
	for _, fd := range fileOutputs {
		os.Remove(fd.Path)
		if fd.OnConsumed != nil {
			fd.OnConsumed()
		}
	}

	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Fatalf("expected output directory to be removed after full drain, err=%v", err)
	}
}

func TestMaterializeInputCreatesTempFileForStreamData(t *testing.T) {
	sink := &fakeSink{}
	r := newRunner(sink)

	dir := t.TempDir()
	inPath := filepath.Join(dir, "materialized.txt")

	task := &types.PreparedTask{
		ItemPath: "in.sh",
		Plugin: &types.PreparedPlugin{
			PluginName: "foo",
			Cmd:        exec.Command("/bin/sh", "-c", "cat "+inPath),
			InputPath:  types.FileInputPath{Path: inPath},
			OutputPath: types.StdoutOutputPath{},
		},
		DataReader: strings.NewReader("materialized content"),
	}

	if err := r.Run("w1", task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sink.drainWG.Wait()

	sink.mu.Lock()
	_ = sink.outputs[1].Data.(types.StdoutOutputData)
	sink.mu.Unlock()

	// fakeSink has already drained and closed the stdout pipe.
	sink.stdoutMu.Lock()
	got := sink.stdoutText
	sink.stdoutMu.Unlock()
	if got != "materialized content" {
		t.Fatalf("unexpected content read by the child: %q", got)
	}
	if _, err := os.Stat(inPath); !os.IsNotExist(err) {
		t.Fatalf("expected the temp input file to be cleaned up after the child exits")
	}
}

func mustExistingFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "existing.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
