package build

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/afero"
	"github.com/stacks-network/stxbuild/internal/artifact"
	"github.com/stacks-network/stxbuild/internal/paths"
	"github.com/stacks-network/stxbuild/internal/recipe"
	"github.com/stacks-network/stxbuild/internal/source"
)

// Controls recipe execution.
type Options struct {
	Recipe     *recipe.Recipe // Recipe to execute.
	Artifacts  artifact.Set   // Expected artifact set. Defaults to the names the recipe exports.
	Root       string         // Source tree root, for resolving host copy sources.
	Platform   string         // Platform of the build containers (e.g. "linux/amd64").
	Output     io.Writer      // Receives command output. Nil discards it.
	Fs         afero.Fs       // Filesystem holding the staging directory. Defaults to the OS.
	StagingDir string         // Parent of the staging directory. Defaults to [paths.Staging].
}

// Returned after successful recipe execution.
type Result struct {
	Artifacts *artifact.Staging // Sealed staging holding the exported files.
}

// Executes a recipe against the container runtime.
//
// Stages are built in declaration order. Each build stage starts a container
// from its base image and executes the stage's steps. The final scratch
// stage copies files out of earlier stages into a host-side staging
// directory, which is sealed once it holds exactly the artifact set. On
// failure nothing is staged and every container is destroyed. The caller
// owns the returned staging and removes it when done.
func Run(ctx context.Context, rt Runtime, opts Options) (*Result, error) {
	if err := opts.Recipe.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	set, err := artifactSet(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	archiver, err := source.NewArchiver(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSource, err)
	}

	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.StagingDir == "" {
		opts.StagingDir = paths.Staging()
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}

	slog.Info("executing recipe",
		"root", archiver.Root(),
		"stages", len(opts.Recipe.Stages),
		"platform", opts.Platform,
		"artifacts", len(set),
	)

	p := newPipeline(rt, archiver, set, opts)
	stg, err := p.build(ctx, opts.Recipe.Stages)
	if err != nil {
		return nil, err
	}

	return &Result{Artifacts: stg}, nil
}

// Returns the artifact set for a run, checking that the recipe exports every
// member.
func artifactSet(opts Options) (artifact.Set, error) {
	exported := opts.Recipe.ExportedNames()
	if opts.Artifacts == nil {
		return artifact.NewSet(exported...)
	}

	for _, name := range opts.Artifacts {
		if !slices.Contains(exported, name) {
			return nil, fmt.Errorf("recipe does not export %q", name)
		}
	}
	return opts.Artifacts, nil
}
