package artifact

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/afero"
)

// Name of the marker file at the root of an OCI image layout.
const layoutMarker = "oci-layout"

// Lists the root entries of a published output.
//
// The path may name a plain directory, an OCI image layout directory, or a
// docker-style image tarball. For images the entries are those of the
// flattened filesystem. OCI layouts are always read from the operating
// system filesystem.
func Inspect(fsys afero.Fs, p string) ([]Entry, error) {
	info, err := fsys.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInspect, err)
	}

	if !info.IsDir() {
		return inspectTarball(fsys, p)
	}

	if _, err := fsys.Stat(filepath.Join(p, layoutMarker)); err == nil {
		return inspectLayout(p)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %w", ErrInspect, err)
	}

	return inspectDir(fsys, p)
}

// Checks a published output against the set.
func Verify(fsys afero.Fs, p string, set Set) error {
	entries, err := Inspect(fsys, p)
	if err != nil {
		return err
	}
	return set.Check(entries)
}

// Lists the entries directly under dir.
func inspectDir(fsys afero.Fs, dir string) ([]Entry, error) {
	infos, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInspect, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		e := Entry{
			Name: info.Name(),
			Mode: info.Mode(),
			Size: info.Size(),
		}

		if info.Mode().IsRegular() {
			d, err := digestFile(fsys, filepath.Join(dir, info.Name()))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInspect, err)
			}
			e.Digest = d
		}

		entries = append(entries, e)
	}

	return entries, nil
}

// Lists the root entries of the only image in an OCI layout.
func inspectLayout(dir string) ([]Entry, error) {
	idx, err := layout.ImageIndexFromPath(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInspect, err)
	}

	manifest, err := idx.IndexManifest()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInspect, err)
	}
	if len(manifest.Manifests) != 1 {
		return nil, fmt.Errorf("%w: layout holds %d manifests, want 1", ErrInspect, len(manifest.Manifests))
	}

	img, err := idx.Image(manifest.Manifests[0].Digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInspect, err)
	}

	return imageEntries(img)
}

// Lists the root entries of the image in a docker-style tarball.
func inspectTarball(fsys afero.Fs, p string) ([]Entry, error) {
	img, err := tarball.Image(func() (io.ReadCloser, error) {
		return fsys.Open(p)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInspect, err)
	}

	return imageEntries(img)
}

// Walks the flattened filesystem of img and returns its top-level entries.
func imageEntries(img v1.Image) ([]Entry, error) {
	rc := mutate.Extract(img)
	defer rc.Close()

	var entries []Entry
	seen := make(map[string]bool)

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInspect, err)
		}

		name := strings.TrimPrefix(path.Clean("/"+hdr.Name), "/")
		if name == "" {
			continue
		}

		// Nested paths only reveal their top-level directory.
		if top, _, nested := strings.Cut(name, "/"); nested {
			if !seen[top] {
				seen[top] = true
				entries = append(entries, Entry{Name: top, Mode: fs.ModeDir | 0o755})
			}
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		e := Entry{
			Name: name,
			Mode: hdr.FileInfo().Mode(),
			Size: hdr.Size,
		}
		if hdr.Typeflag == tar.TypeReg {
			d, err := digest.Canonical.FromReader(tr)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInspect, err)
			}
			e.Digest = d
		}

		entries = append(entries, e)
	}

	return entries, nil
}

// Computes the canonical digest of a file.
func digestFile(fsys afero.Fs, p string) (digest.Digest, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.Canonical.FromReader(f)
}
