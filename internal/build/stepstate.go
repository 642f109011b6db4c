package build

import (
	"maps"
	"slices"

	"github.com/stacks-network/stxbuild/internal/recipe"
)

// Default shell used for run steps when no shell modifier has been set.
const defaultShell = "/bin/sh"

// Tracks accumulated modifiers during step execution.
//
// State flows linearly through the step list. Standalone modifiers update
// the state permanently via apply. Operations read the effective values for
// a single step via resolve without modifying the persistent state. The
// phase behaves like a modifier, so a group's phase covers its children.
type stepState struct {
	shell   string
	workdir string
	phase   recipe.Phase
	env     map[string]string
}

// Creates a new [stepState] with default values.
func newStepState() *stepState {
	return &stepState{
		shell: defaultShell,
		env:   make(map[string]string),
	}
}

// Persists modifier fields from a step into the state.
//
// Called for standalone modifier steps and groups. The state is mutated
// permanently, affecting all subsequent steps.
func (s *stepState) apply(step recipe.Step) {
	if step.Shell != "" {
		s.shell = step.Shell
	}
	if step.Workdir != "" {
		s.workdir = step.Workdir
	}
	if step.Phase != "" {
		s.phase = step.Phase
	}
	maps.Copy(s.env, step.Env)
}

// Returns a new [stepState] with step-level modifiers overlaid on the
// persistent state. The receiver is not modified.
func (s *stepState) resolve(step recipe.Step) *stepState {
	resolved := &stepState{
		shell:   s.shell,
		workdir: s.workdir,
		phase:   s.phase,
		env:     make(map[string]string, len(s.env)+len(step.Env)),
	}
	maps.Copy(resolved.env, s.env)
	maps.Copy(resolved.env, step.Env)

	if step.Shell != "" {
		resolved.shell = step.Shell
	}
	if step.Workdir != "" {
		resolved.workdir = step.Workdir
	}
	if step.Phase != "" {
		resolved.phase = step.Phase
	}

	return resolved
}

// Formats the environment as a sorted list of "key=value" strings suitable
// for passing to container exec.
func (s *stepState) environ() []string {
	env := make([]string, 0, len(s.env))
	for _, k := range slices.Sorted(maps.Keys(s.env)) {
		env = append(env, k+"="+s.env[k])
	}
	return env
}
