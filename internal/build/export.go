package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/stacks-network/stxbuild/internal/artifact"
	"github.com/stacks-network/stxbuild/internal/recipe"
)

// Runs the artifact-only stage.
//
// A scratch stage has no container. Each of its copy steps streams a file
// out of an earlier stage into a host-side staging directory. Once every
// step has run, the staging is sealed, which fails unless it holds exactly
// the artifact set. On failure the staging is removed.
func (p *pipeline) exportStage(ctx context.Context, stage recipe.Stage, label string) (*artifact.Staging, error) {
	slog.Info(fmt.Sprintf("exporting stage %s", label), "artifacts", []string(p.set))

	stg, err := artifact.NewStaging(p.fs, p.stagingDir, p.set)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExport, err)
	}

	if err := p.stageArtifacts(ctx, stg, stage.Steps); err != nil {
		stg.Remove()
		return nil, err
	}

	slog.Info("artifacts staged", "dir", stg.Dir())
	return stg, nil
}

// Runs every export step into stg, then seals it.
func (p *pipeline) stageArtifacts(ctx context.Context, stg *artifact.Staging, steps []recipe.Step) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.exportStep(ctx, stg, step); err != nil {
			return fmt.Errorf("step %d: %w: %w", i+1, ErrExport, err)
		}
	}

	if err := stg.Seal(); err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}
	return nil
}

// Streams the source of a single export copy into the staging directory.
//
// A missing source is an [artifact.ErrArtifactMismatch].
func (p *pipeline) exportStep(ctx context.Context, stg *artifact.Staging, step recipe.Step) error {
	src, _, err := recipe.SplitCopy(step.Copy)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	stage, srcPath, ok := recipe.StageSource(src)
	if !ok {
		return fmt.Errorf("%w: %q is not a stage path", ErrCopy, src)
	}

	srcCtr, ok := p.stages[stage]
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", ErrCopy, stage)
	}

	exists, err := srcCtr.Exists(ctx, srcPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s not found in stage %q", artifact.ErrArtifactMismatch, srcPath, stage)
	}

	slog.Debug("export copy", "stage", stage, "src", srcPath)

	pr, pw := io.Pipe()

	errc := make(chan error, 1)
	go func() {
		err := srcCtr.CopyFrom(ctx, pw, srcPath)
		pw.CloseWithError(err)
		errc <- err
	}()

	addErr := stg.Add(pr)
	pr.CloseWithError(addErr)
	copyErr := <-errc

	if addErr != nil {
		return addErr
	}
	if copyErr != nil && !errors.Is(copyErr, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %w", ErrCopy, copyErr)
	}

	return nil
}
