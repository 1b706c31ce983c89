// Package engine implements the Engine façade (spec §3, §6): working
// directory lifecycle, seeding the pipeline from --input, and driving it
// to completion.
package engine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/standardbeagle/dispatchd/internal/classifier"
	"github.com/standardbeagle/dispatchd/internal/logger"
	"github.com/standardbeagle/dispatchd/internal/outputhandler"
	"github.com/standardbeagle/dispatchd/internal/pathgen"
	"github.com/standardbeagle/dispatchd/internal/pool"
	"github.com/standardbeagle/dispatchd/internal/preprocess"
	"github.com/standardbeagle/dispatchd/internal/taskid"
	"github.com/standardbeagle/dispatchd/internal/types"
	"github.com/standardbeagle/dispatchd/internal/walker"
)

// Options configures one Engine run.
type Options struct {
	Config        *types.Config
	Classifier    classifier.Classifier
	InputPath     string // "" means read a single item from stdin
	Log           *logger.Logger
	Sink          io.Writer // record sink, typically os.Stdout
	InputWorkers  int
	OutputWorkers int
}

// Engine owns one end-to-end run of the dispatch pipeline: a fresh working
// directory, a seeded Pool, and teardown.
type Engine struct {
	opts Options
	ids  taskid.Generator
}

// New creates an Engine from opts.
func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Run creates the working directory, seeds the pipeline from opts.InputPath
// (or stdin), drives it to completion, and tears the working directory
// down. It returns an error only for engine-level failures (spec §6:
// "non-zero only on engine-level failures"); individual plugin failures
// are logged and never reach here.
func (e *Engine) Run() error {
	origCwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}

	workDir, err := e.createWorkDir(origCwd)
	if err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}
	defer func() {
		os.Chdir(origCwd)
		os.RemoveAll(workDir)
	}()

	if err := os.Chdir(workDir); err != nil {
		return fmt.Errorf("chdir to working directory: %w", err)
	}

	gen := pathgen.New(workDir)
	pp := preprocess.New(e.opts.Classifier, e.opts.Config, gen, e.opts.Log)

	sink := e.opts.Sink
	if sink == nil {
		sink = os.Stdout
	}
	var sinkMu sync.Mutex
	oh := outputhandler.New(sink, &sinkMu, e.opts.Log)

	p := pool.New(e.opts.InputWorkers, e.opts.OutputWorkers, pp, oh, e.opts.Log)
	p.Start()

	if err := e.seed(p); err != nil {
		return fmt.Errorf("seed input: %w", err)
	}

	p.Join()
	p.Shutdown()
	return nil
}

// createWorkDir creates a fresh "<cwd>/<16-hex>" directory (spec §6).
func (e *Engine) createWorkDir(cwd string) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	dir := filepath.Join(cwd, hex.EncodeToString(buf[:]))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// seed discovers the initial Input(s) from opts.InputPath, or stdin when
// it is empty, and hands them to the pool.
func (e *Engine) seed(p *pool.Pool) error {
	if e.opts.InputPath == "" {
		p.Seed(types.Input{
			TaskID: e.ids.Next("seed"),
			Data:   types.StdinInputData{Reader: os.Stdin},
		})
		return nil
	}

	abs, err := filepath.Abs(e.opts.InputPath)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		p.Seed(types.Input{
			TaskID: e.ids.Next("seed"),
			Data:   types.FileInputData{Path: abs},
		})
		return nil
	}

	return walker.Walk(abs, "", func(pair walker.PathPair) error {
		p.Seed(types.Input{
			TaskID:   e.ids.Next("seed"),
			ItemPath: pair.ItemPath,
			Data:     types.FileInputData{Path: pair.AbsPath},
		})
		return nil
	})
}
