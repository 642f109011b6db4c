package build

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stacks-network/stxbuild/internal"
	"github.com/stacks-network/stxbuild/internal/artifact"
	"github.com/stacks-network/stxbuild/internal/recipe"
	"github.com/stacks-network/stxbuild/internal/source"
)

// Holds shared state for building all stages of a recipe.
type pipeline struct {
	rt         Runtime              // Container runtime for build stages.
	archiver   *source.Archiver     // Source tree, root for resolving host copy sources.
	set        artifact.Set         // Files the export stage must produce.
	platform   string               // Platform of the build containers.
	output     io.Writer            // Receives command output.
	fs         afero.Fs             // Filesystem holding the staging directory.
	stagingDir string               // Parent of the staging directory.
	prefix     string               // Prefix of container IDs, unique per run.
	stages     map[string]Container // Named stage containers, for cross-stage copies.
	containers []Container          // All stage containers, destroyed after the build completes.
}

// Creates a new [pipeline] from the given options.
func newPipeline(rt Runtime, archiver *source.Archiver, set artifact.Set, opts Options) *pipeline {
	return &pipeline{
		rt:         rt,
		archiver:   archiver,
		set:        set,
		platform:   opts.Platform,
		output:     opts.Output,
		fs:         opts.Fs,
		stagingDir: opts.StagingDir,
		prefix:     fmt.Sprintf("%s-%s", internal.Name, uuid.NewString()[:8]),
		stages:     make(map[string]Container),
	}
}

// Builds the recipe end-to-end against the container runtime.
//
// Build stages run first, in declaration order. The scratch stage runs last
// and stages its copies on the host. All stage containers are destroyed when
// the build completes, including after cancellation.
func (p *pipeline) build(ctx context.Context, recipeStages []recipe.Stage) (*artifact.Staging, error) {
	defer p.destroyContainers(context.WithoutCancel(ctx))

	var stg *artifact.Staging

	for i, stage := range recipeStages {
		label := recipe.StageLabel(stage, i)

		var err error
		if stage.IsScratch() {
			stg, err = p.exportStage(ctx, stage, label)
		} else {
			err = p.buildStage(ctx, stage, i, label)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: stage %s: %w", ErrBuild, label, err)
		}
	}

	return stg, nil
}

// Builds a single stage of a recipe.
//
// Starts a build container from the stage's base image and executes the
// stage's steps in it. Named stages stay available to later cross-stage
// copies.
func (p *pipeline) buildStage(ctx context.Context, stage recipe.Stage, index int, label string) error {
	slog.Info(fmt.Sprintf("building stage %s", label), "image", stage.From, "platform", p.platform)

	ctr, err := p.rt.StartContainer(ctx, stage.From, p.containerID(stage.Name, index), p.platform)
	if err != nil {
		return err
	}

	p.containers = append(p.containers, ctr)
	if stage.Name != "" {
		p.stages[stage.Name] = ctr
	}

	return p.executeSteps(ctx, ctr, stage.Steps, newStepState())
}

// Destroys all stage containers.
func (p *pipeline) destroyContainers(ctx context.Context) {
	for _, ctr := range p.containers {
		ctr.Destroy(ctx)
	}
}

// Returns a unique container ID for a stage, scoped to this run.
func (p *pipeline) containerID(name string, index int) string {
	if name != "" {
		return fmt.Sprintf("%s-stage-%s", p.prefix, name)
	}
	return fmt.Sprintf("%s-stage-%d", p.prefix, index+1)
}
