// Package pathgen produces unique temporary paths under a working
// directory. Collision-free across a process lifetime is the only
// requirement (spec §4.1); cryptographic strength is explicitly not.
package pathgen

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Generator allocates unique paths under a fixed root directory.
type Generator struct {
	root    string
	counter atomic.Uint64
}

// New creates a Generator rooted at root (typically the engine's working
// directory).
func New(root string) *Generator {
	return &Generator{root: root}
}

// Next returns a fresh, as-yet-unused path under the generator's root. The
// name is a 16-character hex fingerprint of a fast-incrementing counter
// folded with wall-clock time via xxhash — the same non-cryptographic
// fast-hash idiom the teacher reaches for whenever it needs a cheap 64-bit
// fingerprint, applied here instead of crypto/rand since uniqueness, not
// unpredictability, is the requirement.
func (g *Generator) Next() string {
	seq := g.counter.Add(1)

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], seq)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(time.Now().UnixNano()))

	h := xxhash.Sum64(buf[:])
	return filepath.Join(g.root, fmt.Sprintf("%016x", h))
}
