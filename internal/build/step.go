package build

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacks-network/stxbuild/internal/recipe"
)

// Executes a list of steps in order against the build container.
func (p *pipeline) executeSteps(ctx context.Context, ctr Container, steps []recipe.Step, state *stepState) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.executeStep(ctx, ctr, step, state); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// Executes a single step, dispatching to operation execution, group recursion,
// or state mutation depending on the step's fields.
func (p *pipeline) executeStep(ctx context.Context, ctr Container, step recipe.Step, state *stepState) error {
	hasOp := step.Run != "" || step.Copy != ""

	// Group: apply group-level modifiers and recurse.
	if len(step.Steps) > 0 {
		state.apply(step)
		return p.executeSteps(ctx, ctr, step.Steps, state)
	}

	// Operation with optional scoped modifiers.
	if hasOp {
		resolved := state.resolve(step)
		if err := p.executeOperation(ctx, ctr, step, resolved); err != nil {
			if sentinel := phaseError(resolved.phase); sentinel != nil {
				return fmt.Errorf("%w: %w", sentinel, err)
			}
			return err
		}
		return nil
	}

	// Standalone modifier(s): persist in state.
	state.apply(step)
	return nil
}

// Executes a run or copy operation with resolved modifiers.
func (p *pipeline) executeOperation(ctx context.Context, ctr Container, step recipe.Step, resolved *stepState) error {
	if resolved.workdir != "" {
		if err := ctr.MkdirAll(ctx, resolved.workdir); err != nil {
			return err
		}
	}

	switch {
	case step.Run != "":
		slog.Info("run", "phase", resolved.phase, "command", step.Run)
		slog.Debug("run environment", "shell", resolved.shell, "workdir", resolved.workdir, "env", resolved.environ())

		result, err := ctr.Exec(ctx, resolved.shell, step.Run, resolved.environ(), resolved.workdir, p.output)
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("%w: exit code %d: %s", ErrCommandFailed, result.ExitCode, result.Stderr)
		}

	case step.Copy != "":
		slog.Info("copy", "phase", resolved.phase, "spec", step.Copy)
		if err := p.executeCopy(ctx, ctr, step.Copy, resolved.workdir); err != nil {
			return err
		}
	}

	return nil
}
