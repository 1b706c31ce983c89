// Package preprocess implements the PreProcessor (spec §4.5): read the
// leading bytes of an incoming Input, classify them, select and prepare a
// plugin, and hand back a PreparedTask ready for the TaskRunner — or a skip
// when classification misses or the classified type has no configured
// plugin.
package preprocess

import (
	"bytes"
	"io"

	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/dispatchd/internal/classifier"
	"github.com/standardbeagle/dispatchd/internal/logger"
	"github.com/standardbeagle/dispatchd/internal/pathgen"
	"github.com/standardbeagle/dispatchd/internal/pluginprep"
	"github.com/standardbeagle/dispatchd/internal/types"
)

// PreProcessor classifies and prepares one Input at a time.
type PreProcessor struct {
	classifier classifier.Classifier
	config     *types.Config
	pathGen    *pathgen.Generator
	log        *logger.Logger
}

// New creates a PreProcessor.
func New(c classifier.Classifier, cfg *types.Config, gen *pathgen.Generator, log *logger.Logger) *PreProcessor {
	return &PreProcessor{classifier: c, config: cfg, pathGen: gen, log: log}
}

// Process reads up to classifier.PrefixBytes from in.Data, classifies it,
// selects the configured Plugin, and prepares it. It returns (task, true,
// nil) on success, (nil, false, nil) on a logged skip (classification miss
// or unknown type), and (nil, false, err) only on an I/O failure reading
// the input itself.
func (p *PreProcessor) Process(in types.Input) (*types.PreparedTask, bool, error) {
	prefix, fullReader, closer, existingPath, err := readPrefixAndReader(in.Data)
	if err != nil {
		closeIfSet(closer)
		return nil, false, err
	}

	ft, ok := p.classifier.Classify(prefix)
	if !ok {
		closeIfSet(closer)
		p.log.Task(logger.LevelWarn, in.TaskID, "type not determined for %s", in.ItemPath)
		return nil, false, nil
	}

	plugin, ok := p.config.Lookup(ft)
	if !ok {
		closeIfSet(closer)
		p.warnUnknownType(in, ft)
		return nil, false, nil
	}

	prepared, err := pluginprep.Prepare(plugin, existingPath, p.pathGen)
	if err != nil {
		closeIfSet(closer)
		return nil, false, err
	}

	return &types.PreparedTask{
		TaskID:     in.TaskID,
		ItemPath:   in.ItemPath,
		ItemType:   ft,
		Plugin:     prepared,
		DataReader: fullReader,
		DataCloser: closer,
	}, true, nil
}

func closeIfSet(c io.Closer) {
	if c != nil {
		c.Close()
	}
}

// readPrefixAndReader returns the classifier prefix, a reader that
// reproduces the input's full byte stream from the start (Testable
// Property 3: classification never consumes), a closer to release once
// that reader has been fully consumed or abandoned (non-nil only for a
// live pipe source), and — when the data is already a file on disk —
// that file's path, so PluginPrep can point the plugin at it directly
// instead of re-materializing a temp copy.
func readPrefixAndReader(data types.InputData) ([]byte, io.Reader, io.Closer, string, error) {
	switch d := data.(type) {
	case types.FileInputData:
		prefix, err := readFilePrefix(d.Path)
		if err != nil {
			return nil, nil, nil, "", err
		}
		return prefix, &lazyFileReader{path: d.Path}, nil, d.Path, nil
	case types.StdinInputData:
		prefix, reader, err := readStreamPrefix(d.Reader)
		return prefix, reader, nil, "", err
	case types.ChildStdoutInputData:
		prefix, reader, err := readStreamPrefix(d.Pipe)
		return prefix, reader, d.Pipe, "", err
	default:
		return nil, nil, nil, "", errUnknownInputData
	}
}

// readStreamPrefix reads the classifier prefix from a non-seekable stream
// and chains it back in front of the remainder so the subprocess still
// sees the full original bytes.
func readStreamPrefix(r io.Reader) ([]byte, io.Reader, error) {
	buf := make([]byte, classifier.PrefixBytes)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, nil, err
	}
	prefix := buf[:n]
	return prefix, io.MultiReader(bytes.NewReader(prefix), r), nil
}

// warnUnknownType logs a skip for a classified type absent from Config,
// suggesting the nearest configured type by Jaro-Winkler similarity so an
// operator can spot a likely config typo at a glance.
func (p *PreProcessor) warnUnknownType(in types.Input, ft types.FileType) {
	known := p.config.KnownTypes()
	suggestion, score, found := nearestKnownType(string(ft), known)
	if found && score > 0.6 {
		p.log.Task(logger.LevelWarn, in.TaskID,
			"unknown type %q for %s (did you mean %q?)", ft, in.ItemPath, suggestion)
		return
	}
	p.log.Task(logger.LevelWarn, in.TaskID, "unknown type %q for %s", ft, in.ItemPath)
}

// nearestKnownType finds the configured FileType closest to candidate by
// Jaro-Winkler similarity (highest score wins).
func nearestKnownType(candidate string, known []types.FileType) (types.FileType, float64, bool) {
	var best types.FileType
	var bestScore float64
	found := false

	for _, ft := range known {
		score, err := edlib.StringsSimilarity(candidate, string(ft), edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = ft, score, true
		}
	}

	return best, bestScore, found
}
