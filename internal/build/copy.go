package build

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/stacks-network/stxbuild/internal/recipe"
)

// Executes a copy operation, transferring files into the container.
//
// The copy string has the format "src dest" for host copies, or "stage:src
// dest" for cross-stage copies. Host sources are resolved inside the source
// tree. Cross-stage sources are read from a named stage container's
// filesystem.
func (p *pipeline) executeCopy(ctx context.Context, ctr Container, copyStr, workdir string) error {
	src, dest, err := parseCopy(copyStr, workdir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	// Ensure the destination parent directory exists.
	if err := ctr.MkdirAll(ctx, path.Dir(dest)); err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	if stage, srcPath, ok := recipe.StageSource(src); ok {
		return p.executeStageCopy(ctx, ctr, stage, srcPath, dest)
	}

	return p.executeHostCopy(ctx, ctr, src, dest)
}

// Copies a file or directory from the source tree into the container.
func (p *pipeline) executeHostCopy(ctx context.Context, ctr Container, src, dest string) error {
	hostPath, err := p.archiver.Resolve(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	slog.Debug("copy", "src", hostPath, "dest", dest)

	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)
		writeErr := p.archiver.Write(tw, hostPath, path.Base(dest))
		if closeErr := tw.Close(); writeErr == nil {
			writeErr = closeErr
		}
		pw.CloseWithError(writeErr)
	}()

	if err := ctr.CopyTo(ctx, pr, path.Dir(dest)); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	return nil
}

// Copies a path from a named stage container into the target container.
//
// The tar stream is piped directly from the source container's CopyFrom
// to the target container's CopyTo.
func (p *pipeline) executeStageCopy(ctx context.Context, ctr Container, stage, srcPath, dest string) error {
	srcCtr, ok := p.stages[stage]
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", ErrCopy, stage)
	}

	slog.Debug("cross-stage copy", "stage", stage, "src", srcPath, "dest", dest)

	pr, pw := io.Pipe()

	errc := make(chan error, 1)
	go func() {
		err := srcCtr.CopyFrom(ctx, pw, srcPath)
		pw.CloseWithError(err)
		errc <- err
	}()

	if err := ctr.CopyTo(ctx, pr, path.Dir(dest)); err != nil {
		pr.CloseWithError(err)
		<-errc
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	if err := <-errc; err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	return nil
}

// Parses a copy string into source and destination paths.
//
// If dest is not absolute, it is joined with workdir.
func parseCopy(s, workdir string) (src, dest string, err error) {
	src, dest, err = recipe.SplitCopy(s)
	if err != nil {
		return "", "", err
	}

	if !path.IsAbs(dest) {
		if workdir == "" {
			return "", "", fmt.Errorf("relative dest %q requires workdir", dest)
		}
		dest = path.Join(workdir, dest)
	}

	return src, path.Clean(dest), nil
}
