package source

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

// Name of the ignore file read from the root of the tree.
const IgnoreFile = ".dockerignore"

// Writes a source tree to tar streams.
type Archiver struct {
	root    string
	matcher *patternmatcher.PatternMatcher // Nil when the tree has no ignore file.
}

// Creates an archiver for the tree at root, loading root/.dockerignore when
// present.
func NewArchiver(root string) (*Archiver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchive, err)
	}

	a := &Archiver{root: abs}

	f, err := os.Open(filepath.Join(abs, IgnoreFile))
	if errors.Is(err, fs.ErrNotExist) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIgnoreFile, err)
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIgnoreFile, err)
	}
	if len(patterns) == 0 {
		return a, nil
	}

	a.matcher, err = patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIgnoreFile, err)
	}

	return a, nil
}

// Absolute path of the tree root.
func (a *Archiver) Root() string {
	return a.root
}

// Resolves a path relative to the tree root.
//
// Absolute paths are accepted only when they lie inside the tree. Paths that
// escape the root are rejected.
func (a *Archiver) Resolve(rel string) (string, error) {
	p := rel
	if !filepath.IsAbs(p) {
		p = filepath.Join(a.root, p)
	}
	p = filepath.Clean(p)

	r, err := filepath.Rel(a.root, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside the source tree", ErrArchive, rel)
	}
	return p, nil
}

// Writes the file or directory at hostPath to tw under the archive name.
//
// Directories are written recursively with their contents below name.
// Entries matched by the ignore file are skipped. Symbolic links are stored
// as links and never followed.
func (a *Archiver) Write(tw *tar.Writer, hostPath, name string) error {
	info, err := os.Lstat(hostPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchive, err)
	}

	if !info.IsDir() {
		return a.writeEntry(tw, hostPath, filepath.ToSlash(name), info)
	}

	return filepath.WalkDir(hostPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path != hostPath {
			skip, err := a.excluded(path)
			if err != nil {
				return err
			}
			if skip {
				if d.IsDir() && !a.matcher.Exclusions() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		rel, err := filepath.Rel(hostPath, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		return a.writeEntry(tw, path, filepath.ToSlash(filepath.Join(name, rel)), info)
	})
}

// Reports whether the ignore file excludes a path.
func (a *Archiver) excluded(path string) (bool, error) {
	if a.matcher == nil {
		return false, nil
	}

	rel, err := filepath.Rel(a.root, path)
	if err != nil {
		return false, err
	}

	return a.matcher.MatchesOrParentMatches(filepath.ToSlash(rel))
}

// Writes a single tar entry. Ownership is normalized to root.
func (a *Archiver) writeEntry(tw *tar.Writer, hostPath, name string, info fs.FileInfo) error {
	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(hostPath)
		if err != nil {
			return err
		}
		link = target
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = name
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "", ""

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}
