package types

import "io"

// InputData is the tagged variant over an Input's data source. Each
// implementation is a distinct struct rather than a shared interface with
// structural fields, so lifetime ownership of the underlying file handle or
// pipe is obvious at every call site (spec design note: prefer explicit
// variants over structural polymorphism).
type InputData interface {
	isInputData()
}

// FileInputData is an input whose bytes live at a path on disk. Temp
// indicates the file was created solely to hold this input's bytes and
// should be deleted once consumed. OnConsumed, when non-nil, is called
// once the file has been deleted — a dir-output unpacker drain uses it to
// detect when every file it produced has been individually consumed, so
// it can rmdir the now-empty directory (spec §3, §9 Open Question).
type FileInputData struct {
	Path       string
	Temp       bool
	OnConsumed func()
}

// StdinInputData is an input read from the process's own standard input.
type StdinInputData struct {
	Reader io.Reader
}

// ChildStdoutInputData is an input fed live from a running unpacker child's
// stdout pipe. It bypasses the input queue: ownership transfers to the
// ad-hoc goroutine that handles it. The handoff itself does not buffer it
// to disk; TaskRunner still copies it into a temp file when the downstream
// plugin takes file input.
type ChildStdoutInputData struct {
	Pipe io.ReadCloser
}

func (FileInputData) isInputData()        {}
func (StdinInputData) isInputData()       {}
func (ChildStdoutInputData) isInputData() {}

// Input is one dispatchable item entering (or re-entering, via an unpacker)
// the pipeline.
type Input struct {
	TaskID   TaskID
	ItemPath string
	Data     InputData
}

// OutputData is the tagged variant over an Output's payload.
type OutputData interface {
	isOutputData()
}

// FileOutputData is a byproduct written to a path on disk by a plugin.
// OnConsumed, when non-nil, is called once the OutputHandler has finished
// reading and deleting Path — TaskRunner uses it to detect when every file
// produced by a dir-output plugin has drained, so it can rmdir the now-empty
// directory (spec.md §9 Open Question: rmdir only after full drain).
type FileOutputData struct {
	Path       string
	OnConsumed func()
}

// StdoutOutputData is a live pipe from a non-unpacker plugin's stdout.
type StdoutOutputData struct {
	Pipe io.ReadCloser
}

// LogStdoutOutputData is a live pipe of plugin chatter destined for the log
// sink rather than the record sink.
type LogStdoutOutputData struct {
	Pipe io.ReadCloser
}

// LogStderrOutputData is a live pipe of plugin stderr, always routed to the
// log sink.
type LogStderrOutputData struct {
	Pipe io.ReadCloser
}

func (FileOutputData) isOutputData()      {}
func (StdoutOutputData) isOutputData()    {}
func (LogStdoutOutputData) isOutputData() {}
func (LogStderrOutputData) isOutputData() {}

// Output carries one byproduct of a subprocess invocation toward the
// OutputHandler.
type Output struct {
	TaskID     TaskID
	ItemPath   string
	ItemType   FileType
	PluginName string
	Data       OutputData
}
