package artifact

import (
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Ordered list of file names making up an artifact set.
type Set []string

// A file found in staging or in a published output.
type Entry struct {
	Name   string        // Path relative to the output root.
	Mode   fs.FileMode   // File mode, including type bits.
	Size   int64         // Size in bytes.
	Digest digest.Digest // Content digest of regular files.
}

// Creates a set from names. Names must be non-empty, unique, and must not
// contain path separators.
func NewSet(names ...string) (Set, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no names", ErrInvalidSet)
	}

	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || n == "." || n == ".." || strings.ContainsAny(n, `/\`) {
			return nil, fmt.Errorf("%w: bad name %q", ErrInvalidSet, n)
		}
		if seen[n] {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidSet, n)
		}
		seen[n] = true
	}

	return Set(slices.Clone(names)), nil
}

// Reports whether name belongs to the set.
func (s Set) Contains(name string) bool {
	return slices.Contains(s, name)
}

// Checks that entries hold exactly the names in the set, each an executable
// regular file.
//
// Missing names, unexpected entries, and non-executable files are all
// reported in a single [ErrArtifactMismatch] error.
func (s Set) Check(entries []Entry) error {
	byName := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}

	var missing, extra, notExec []string

	for _, name := range s {
		e, ok := byName[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if !e.Mode.IsRegular() || e.Mode.Perm()&0o111 == 0 {
			notExec = append(notExec, name)
		}
	}

	for _, e := range entries {
		if !s.Contains(e.Name) {
			extra = append(extra, e.Name)
		}
	}

	if len(missing) == 0 && len(extra) == 0 && len(notExec) == 0 {
		return nil
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing "+strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		slices.Sort(extra)
		problems = append(problems, "unexpected "+strings.Join(extra, ", "))
	}
	if len(notExec) > 0 {
		problems = append(problems, "not executable "+strings.Join(notExec, ", "))
	}

	return fmt.Errorf("%w: %s", ErrArtifactMismatch, strings.Join(problems, "; "))
}
