// Package outputhandler implements the OutputHandler (spec §4.7): turning
// one Output into either a log line (child chatter) or an NDJSON record on
// the output sink (child payload).
package outputhandler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/standardbeagle/dispatchd/internal/logger"
	"github.com/standardbeagle/dispatchd/internal/types"
)

// bufSize is the buffered line-reader size spec §4.7 mandates for Stdout
// and File payloads.
const bufSize = 1 << 20

// record is one NDJSON line written to the output sink (spec §4.7).
type record struct {
	Plugin string          `json:"plugin"`
	Path   string          `json:"path"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

// OutputHandler drains one Output at a time onto the log sink or the
// record sink.
type OutputHandler struct {
	sink io.Writer
	mu   *sync.Mutex // serializes whole-line writes across concurrent output workers
	log  *logger.Logger
}

// New creates an OutputHandler writing records to sink (typically
// os.Stdout). mu must be shared by every OutputHandler writing to the same
// sink so that Testable Property 2 (no interleaved lines) holds across the
// whole output-worker pool.
func New(sink io.Writer, mu *sync.Mutex, log *logger.Logger) *OutputHandler {
	return &OutputHandler{sink: sink, mu: mu, log: log}
}

// Handle drains out, returning once its pipe or file has been fully read
// and any owned resource released.
func (h *OutputHandler) Handle(out types.Output) error {
	switch d := out.Data.(type) {
	case types.LogStderrOutputData:
		return h.drainLog(out, d.Pipe, logger.LevelError)
	case types.LogStdoutOutputData:
		return h.drainLog(out, d.Pipe, logger.LevelInfo)
	case types.StdoutOutputData:
		defer d.Pipe.Close()
		return h.drainRecords(out, d.Pipe)
	case types.FileOutputData:
		return h.drainFile(out, d)
	default:
		return fmt.Errorf("outputhandler: unrecognized OutputData variant %T", out.Data)
	}
}

// drainLog reads pipe line-by-line until EOF, logging each line in the
// "PLUGIN <name>: <line>" shape (spec §6) at level.
func (h *OutputHandler) drainLog(out types.Output, pipe io.ReadCloser, level logger.Level) error {
	defer pipe.Close()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), bufSize)
	for scanner.Scan() {
		h.log.Plugin(level, out.PluginName, scanner.Text())
	}
	return scanner.Err()
}

// drainRecords reads r line-by-line until EOF, emitting one record per
// line to the sink.
func (h *OutputHandler) drainRecords(out types.Output, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), bufSize)
	for scanner.Scan() {
		if err := h.emit(out, scanner.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// drainFile opens d.Path as a buffered line reader, emits one record per
// line, then deletes the file and invokes d.OnConsumed — spec §4.6 step 9:
// "the consumer of Output File records is responsible for deleting the
// file after it finishes reading."
func (h *OutputHandler) drainFile(out types.Output, d types.FileOutputData) error {
	f, err := os.Open(d.Path)
	if err != nil {
		// A promised output file that cannot be opened (for instance
		// because the plugin never wrote it) is logged against the task
		// with the open error. The path is not inspected further: a
		// directory at the path opens without error and is not reported
		// here; its read fails below instead.
		h.log.Task(logger.LevelError, out.TaskID, "output file %s for plugin %s: %v", d.Path, out.PluginName, err)
		if d.OnConsumed != nil {
			d.OnConsumed()
		}
		return err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), bufSize)
	var emitErr error
	for scanner.Scan() {
		if emitErr = h.emit(out, scanner.Bytes()); emitErr != nil {
			break
		}
	}
	if emitErr == nil {
		emitErr = scanner.Err()
	}
	f.Close()
	os.Remove(d.Path)
	if d.OnConsumed != nil {
		d.OnConsumed()
	}
	return emitErr
}

// emit builds one record from line and writes it to the sink as a single
// atomic write ending in "\n" (Testable Properties 1 and 2). line has
// already had its trailing CR/LF stripped by bufio.Scanner.
func (h *OutputHandler) emit(out types.Output, line []byte) error {
	var payload json.RawMessage
	if json.Valid(line) {
		payload = append(json.RawMessage(nil), line...)
	} else {
		encoded, err := json.Marshal(string(line))
		if err != nil {
			return err
		}
		payload = encoded
	}

	rec := record{
		Plugin: out.PluginName,
		Path:   out.ItemPath,
		Type:   string(out.ItemType),
		Data:   payload,
	}

	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	_, err = h.sink.Write(buf)
	h.mu.Unlock()
	return err
}
