// Package classifier defines the Classifier contract (spec §4.4) and a
// concrete default implementation good enough to drive the engine end to
// end. The embedded rule-engine binding named in spec.md's Purpose & Scope
// ("the embedded content-classification rule engine") is out of scope and
// treated as opaque; RuleClassifier is a standalone, regexp-based stand-in,
// not an attempt to reimplement that rule language.
package classifier

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/standardbeagle/dispatchd/internal/types"
)

// PrefixBytes is the number of leading bytes the engine reads from an input
// before handing them to a Classifier (spec §4.4).
const PrefixBytes = 4096

// Classifier maps a byte prefix to a FileType. Implementations must be safe
// for concurrent use from any worker (spec §5) and must not retain the
// slice passed to them beyond the call.
type Classifier interface {
	Classify(prefix []byte) (types.FileType, bool)
}

// rule is one compiled pattern -> FileType mapping.
type rule struct {
	pattern *regexp.Regexp
	fileType types.FileType
}

// RuleClassifier matches a byte prefix against an ordered list of regular
// expressions loaded from a rule file, returning the FileType of the first
// match. Rule files are line-oriented: "<regex> <file-type>", blank lines
// and lines starting with "#" ignored — the same scan-lines-skip-comments
// shape as the teacher's gitignore parser.
type RuleClassifier struct {
	rules []rule
}

// LoadRules reads a rule file from path and compiles it into a
// RuleClassifier.
func LoadRules(path string) (*RuleClassifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules file %s: %w", path, err)
	}
	defer f.Close()

	rc := &RuleClassifier{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("rules file %s line %d: expected \"<pattern> <file-type>\"", path, lineNo)
		}

		pattern := strings.TrimSpace(fields[0])
		ft := strings.TrimSpace(fields[1])

		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("rules file %s line %d: %w", path, lineNo, err)
		}

		rc.rules = append(rc.rules, rule{pattern: re, fileType: types.FileType(ft)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}

	return rc, nil
}

// Classify returns the FileType of the first rule whose pattern matches
// prefix, or (_, false) if none match.
func (rc *RuleClassifier) Classify(prefix []byte) (types.FileType, bool) {
	for _, r := range rc.rules {
		if r.pattern.Match(prefix) {
			return r.fileType, true
		}
	}
	return "", false
}
