package artifact

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/afero"
)

// Host-side directory collecting the files of an artifact set.
//
// Files are added from tar streams. Entries whose names are not in the set
// are ignored, so a stream may carry more than the set needs.
type Staging struct {
	fs      afero.Fs
	dir     string
	set     Set
	entries map[string]Entry
	sealed  bool
}

// Creates a uniquely named staging directory under parent.
func NewStaging(fsys afero.Fs, parent string, set Set) (*Staging, error) {
	if err := fsys.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStaging, err)
	}

	dir, err := afero.TempDir(fsys, parent, "staging-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStaging, err)
	}

	slog.Debug("staging directory created", "dir", dir)

	return &Staging{
		fs:      fsys,
		dir:     dir,
		set:     set,
		entries: make(map[string]Entry, len(set)),
	}, nil
}

// Path of the staging directory.
func (s *Staging) Dir() string {
	return s.dir
}

// Extracts the set members found at the top level of a tar stream.
//
// Entry names are taken relative to the stream root, so "stacks-node" and
// "./stacks-node" both stage stacks-node. Members must be regular files;
// anything else under a member's name is an [ErrArtifactMismatch]. Adding a
// member twice replaces it. Padding after the end of the archive is read and
// discarded, so writers on the other end of a pipe never block.
func (s *Staging) Add(r io.Reader) error {
	if s.sealed {
		return fmt.Errorf("%w: staging is sealed", ErrStaging)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			if _, err := io.Copy(io.Discard, r); err != nil {
				return fmt.Errorf("%w: %w", ErrStaging, err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStaging, err)
		}

		name := strings.TrimPrefix(path.Clean("/"+hdr.Name), "/")
		if !s.set.Contains(name) {
			slog.Debug("ignoring entry outside artifact set", "name", hdr.Name)
			continue
		}

		if hdr.Typeflag != tar.TypeReg {
			return fmt.Errorf("%w: %s is not a regular file", ErrArtifactMismatch, name)
		}

		entry, err := s.write(name, hdr.FileInfo().Mode().Perm(), tr)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrStaging, name, err)
		}

		s.entries[name] = entry
		slog.Debug("artifact staged", "name", name, "size", entry.Size, "digest", entry.Digest)
	}
}

// Writes a file into the staging directory with the given permissions.
func (s *Staging) write(name string, perm os.FileMode, r io.Reader) (Entry, error) {
	p, err := securejoin.SecureJoin(s.dir, name)
	if err != nil {
		return Entry{}, err
	}

	f, err := s.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return Entry{}, err
	}

	digester := digest.Canonical.Digester()
	n, err := io.Copy(io.MultiWriter(f, digester.Hash()), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Entry{}, err
	}

	// Preserve the mode exactly, regardless of umask.
	if err := s.fs.Chmod(p, perm); err != nil {
		return Entry{}, err
	}

	return Entry{
		Name:   name,
		Mode:   perm,
		Size:   n,
		Digest: digester.Digest(),
	}, nil
}

// Returns the staged entries in set order.
func (s *Staging) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, name := range s.set {
		if e, ok := s.entries[name]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Checks that the full set is staged and forbids further additions.
func (s *Staging) Seal() error {
	if err := s.set.Check(s.Entries()); err != nil {
		return err
	}
	s.sealed = true
	return nil
}

// Opens a staged file for reading.
func (s *Staging) open(name string) (afero.File, error) {
	p, err := securejoin.SecureJoin(s.dir, name)
	if err != nil {
		return nil, err
	}
	return s.fs.Open(p)
}

// Removes the staging directory and everything in it.
func (s *Staging) Remove() error {
	return s.fs.RemoveAll(s.dir)
}

// Fails unless the staging has been sealed.
func (s *Staging) requireSealed() error {
	if !s.sealed {
		return fmt.Errorf("%w: staging is not sealed", ErrPublish)
	}
	return nil
}
