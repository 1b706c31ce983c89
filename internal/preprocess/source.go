package preprocess

import (
	"errors"
	"io"
	"os"

	"github.com/standardbeagle/dispatchd/internal/classifier"
)

var errUnknownInputData = errors.New("preprocess: unrecognized InputData variant")

// readFilePrefix opens path just long enough to read its leading
// classifier.PrefixBytes, then closes it — classification never holds a
// file handle open for the lifetime of a task.
func readFilePrefix(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, classifier.PrefixBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// lazyFileReader reopens a file from byte 0 on first Read, rather than
// sharing the handle readFilePrefix already closed. A FileInputData's
// bytes are on disk and seekable, so reopening from 0 reproduces the exact
// original stream (Testable Property 3) without threading a live handle
// through the classification step. The handle closes itself at EOF or on
// read error, so a task that never reads this reader (the common case: a
// file-mode plugin reads $INPUT directly off disk) never opens one at all.
type lazyFileReader struct {
	path string
	f    *os.File
}

func (l *lazyFileReader) Read(p []byte) (int, error) {
	if l.f == nil {
		f, err := os.Open(l.path)
		if err != nil {
			return 0, err
		}
		l.f = f
	}
	n, err := l.f.Read(p)
	if err != nil {
		l.f.Close()
	}
	return n, err
}
