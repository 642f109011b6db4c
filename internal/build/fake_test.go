package build

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stacks-network/stxbuild/internal/runtime"
)

// Handles a command run inside a fake container. Returns the exit code.
type execHandler func(ctr *fakeContainer, env []string, out io.Writer) int

// Runtime whose containers are plain host directories.
//
// Commands are matched against handlers by prefix. Commands without a
// handler succeed and do nothing.
type fakeRuntime struct {
	t        *testing.T
	handlers map[string]execHandler
	startErr error

	mu         sync.Mutex
	containers []*fakeContainer
	commands   []string
}

func newFakeRuntime(t *testing.T) *fakeRuntime {
	return &fakeRuntime{t: t, handlers: make(map[string]execHandler)}
}

func (r *fakeRuntime) StartContainer(ctx context.Context, ref, id, platform string) (Container, error) {
	if r.startErr != nil {
		return nil, r.startErr
	}

	c := &fakeContainer{rt: r, id: id, ref: ref, root: r.t.TempDir()}

	r.mu.Lock()
	r.containers = append(r.containers, c)
	r.mu.Unlock()

	return c, nil
}

// Returns the commands run so far, in order.
func (r *fakeRuntime) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

// Reports whether a command starting with prefix was run.
func (r *fakeRuntime) hasRun(prefix string) bool {
	for _, cmd := range r.ran() {
		if strings.HasPrefix(cmd, prefix) {
			return true
		}
	}
	return false
}

type fakeContainer struct {
	rt        *fakeRuntime
	id        string
	ref       string
	root      string
	destroyed bool
}

// Maps a container path to the host.
func (c *fakeContainer) path(p string) string {
	return filepath.Join(c.root, filepath.FromSlash(p))
}

func (c *fakeContainer) ID() string {
	return c.id
}

func (c *fakeContainer) Exec(ctx context.Context, shell, command string, env []string, workdir string, out io.Writer) (*runtime.ExecResult, error) {
	if c.destroyed {
		return nil, errors.New("container destroyed")
	}

	c.rt.mu.Lock()
	c.rt.commands = append(c.rt.commands, command)
	c.rt.mu.Unlock()

	for prefix, h := range c.rt.handlers {
		if strings.HasPrefix(command, prefix) {
			code := h(c, env, out)
			res := &runtime.ExecResult{ExitCode: code}
			if code != 0 {
				res.Stderr = fmt.Sprintf("%s: failed", prefix)
			}
			return res, nil
		}
	}

	return &runtime.ExecResult{}, nil
}

func (c *fakeContainer) MkdirAll(ctx context.Context, p string) error {
	return os.MkdirAll(c.path(p), 0o755)
}

func (c *fakeContainer) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		target := filepath.Join(c.path(destDir), filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr, fs.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		}
	}

	_, err := io.Copy(io.Discard, r)
	return err
}

func (c *fakeContainer) CopyFrom(ctx context.Context, w io.Writer, p string) error {
	root := c.path(p)
	base := filepath.Base(root)
	tw := tar.NewWriter(w)

	err := filepath.WalkDir(root, func(hostPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, hostPath)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(base, rel))
		if err := tw.WriteHeader(hdr); err != nil {
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
	})
	if err != nil {
		return err
	}

	return tw.Close()
}

func (c *fakeContainer) Exists(ctx context.Context, p string) (bool, error) {
	_, err := os.Lstat(c.path(p))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (c *fakeContainer) Destroy(ctx context.Context) {
	c.destroyed = true
}

// Writes r to a new file with the exact permissions.
func writeFile(p string, r io.Reader, perm fs.FileMode) error {
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chmod(p, perm)
}
