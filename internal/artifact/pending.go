package artifact

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/afero"
)

// An output written to a temporary path, waiting to be renamed into place.
type pendingOutput struct {
	fs        afero.Fs
	tmp       string // Fully written temporary file or directory.
	dest      string // Final path.
	replaced  bool   // Dest was an empty directory removed by commit.
	committed bool
}

// Renames the temporary into place.
//
// An empty directory at dest is replaced. Anything else at dest makes the
// commit fail, even if it appeared after the outputs were checked.
func (p *pendingOutput) commit() error {
	info, err := p.fs.Stat(p.dest)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("%s already exists", p.dest)
	default:
		// Remove fails unless the directory is empty.
		if err := p.fs.Remove(p.dest); err != nil {
			return err
		}
		p.replaced = true
	}

	if err := p.fs.Rename(p.tmp, p.dest); err != nil {
		p.restore()
		return err
	}

	p.committed = true
	return nil
}

// Takes back a committed output, restoring an empty directory it replaced.
func (p *pendingOutput) rollback() {
	if !p.committed {
		return
	}
	p.fs.RemoveAll(p.dest)
	p.committed = false
	p.restore()
}

// Recreates the empty directory a commit removed.
func (p *pendingOutput) restore() {
	if p.replaced {
		p.fs.Mkdir(p.dest, 0o755)
		p.replaced = false
	}
}

// Removes the temporary.
func (p *pendingOutput) discard() {
	p.fs.RemoveAll(p.tmp)
}

// Commits every output, or none of them.
//
// When a commit fails, outputs committed before it are rolled back and all
// remaining temporaries are removed.
func commitAll(pending []*pendingOutput) error {
	for i, p := range pending {
		if err := p.commit(); err != nil {
			for _, done := range pending[:i] {
				done.rollback()
			}
			for _, rest := range pending[i:] {
				rest.discard()
			}
			return fmt.Errorf("%w: %w", ErrPublish, err)
		}
	}
	return nil
}
