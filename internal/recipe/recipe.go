package recipe

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Base image name of an artifact-only stage.
const Scratch = "scratch"

// Ordered list of stages.
type Recipe struct {
	Stages []Stage `yaml:"stages"`
}

// A single stage of a recipe.
type Stage struct {
	Name  string `yaml:"name,omitempty"` // Name used by cross-stage copies.
	From  string `yaml:"from"`           // Base image reference, or "scratch".
	Steps []Step `yaml:"steps"`          // Steps executed in order.
}

// A single step. Exactly one of Run, Copy, or Steps is an operation; the
// modifier fields apply to it, or persist for later steps when the step has
// no operation.
type Step struct {
	Phase   Phase             `yaml:"phase,omitempty"`
	Run     string            `yaml:"run,omitempty"`     // Shell command.
	Copy    string            `yaml:"copy,omitempty"`    // "src dest" or "stage:src dest".
	Shell   string            `yaml:"shell,omitempty"`   // Shell used for run steps.
	Workdir string            `yaml:"workdir,omitempty"` // Working directory.
	Env     map[string]string `yaml:"env,omitempty"`     // Environment variables.
	Steps   []Step            `yaml:"steps,omitempty"`   // Nested group.
}

// Reports whether the stage is artifact-only.
func (s Stage) IsScratch() bool {
	return s.From == Scratch
}

// Returns the final, artifact-only stage.
func (r *Recipe) Export() Stage {
	return r.Stages[len(r.Stages)-1]
}

// Renders the recipe as YAML.
func (r *Recipe) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}

// Checks the structural rules of a recipe.
//
// There must be at least one build stage followed by exactly one scratch
// stage, stage names must be unique, and the scratch stage may only copy
// from earlier named stages into its root.
func (r *Recipe) Validate() error {
	if len(r.Stages) < 2 {
		return fmt.Errorf("%w: need at least one build stage and an export stage", ErrInvalidRecipe)
	}

	names := make(map[string]bool, len(r.Stages))
	last := len(r.Stages) - 1

	for i, stage := range r.Stages {
		label := StageLabel(stage, i)

		if stage.From == "" {
			return fmt.Errorf("%w: stage %s has no base image", ErrInvalidRecipe, label)
		}
		if stage.IsScratch() != (i == last) {
			return fmt.Errorf("%w: stage %s: only the last stage may start from scratch, and it must", ErrInvalidRecipe, label)
		}

		if stage.Name != "" {
			if names[stage.Name] {
				return fmt.Errorf("%w: duplicate stage name %q", ErrInvalidRecipe, stage.Name)
			}
			names[stage.Name] = true
		}

		if err := validateSteps(stage.Steps); err != nil {
			return fmt.Errorf("%w: stage %s: %w", ErrInvalidRecipe, label, err)
		}
	}

	return validateExport(r.Stages[last], names)
}

// Checks that every step has at most one operation and a known phase.
func validateSteps(steps []Step) error {
	for i, step := range steps {
		ops := 0
		for _, set := range []bool{step.Run != "", step.Copy != "", len(step.Steps) > 0} {
			if set {
				ops++
			}
		}
		if ops > 1 {
			return fmt.Errorf("step %d: run, copy, and steps are mutually exclusive", i+1)
		}
		if !step.Phase.Valid() {
			return fmt.Errorf("step %d: unknown phase %q", i+1, step.Phase)
		}
		if err := validateSteps(step.Steps); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// Checks that the export stage holds only root-level cross-stage copies.
func validateExport(stage Stage, names map[string]bool) error {
	for i, step := range stage.Steps {
		if step.Copy == "" || step.Run != "" || len(step.Steps) > 0 {
			return fmt.Errorf("%w: export step %d: only copy steps are allowed", ErrInvalidRecipe, i+1)
		}

		src, dest, err := SplitCopy(step.Copy)
		if err != nil {
			return fmt.Errorf("%w: export step %d: %w", ErrInvalidRecipe, i+1, err)
		}

		from, _, ok := StageSource(src)
		if !ok {
			return fmt.Errorf("%w: export step %d: source %q is not a stage path", ErrInvalidRecipe, i+1, src)
		}
		if !names[from] {
			return fmt.Errorf("%w: export step %d: unknown stage %q", ErrInvalidRecipe, i+1, from)
		}
		if dest != "/" {
			return fmt.Errorf("%w: export step %d: destination must be the image root, got %q", ErrInvalidRecipe, i+1, dest)
		}
	}
	return nil
}

// Returns the base names of the files the export stage copies, in order.
func (r *Recipe) ExportedNames() []string {
	var out []string
	for _, step := range r.Export().Steps {
		src, _, err := SplitCopy(step.Copy)
		if err != nil {
			continue
		}
		if _, p, ok := StageSource(src); ok {
			out = append(out, path.Base(p))
		}
	}
	return out
}

// Splits a copy string into source and destination.
//
// The string must contain exactly two whitespace-separated tokens.
func SplitCopy(s string) (src, dest string, err error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: expected source and destination, got %q", ErrInvalidCopy, s)
	}
	return parts[0], parts[1], nil
}

// Parses a cross-stage copy source of the form "stage:path".
//
// Returns false when src is a host path. A colon preceded by a path
// separator is part of a host path (e.g. "/foo:bar").
func StageSource(src string) (stage, path string, ok bool) {
	i := strings.IndexByte(src, ':')
	if i < 1 {
		return "", "", false
	}
	if strings.ContainsRune(src[:i], '/') {
		return "", "", false
	}
	return src[:i], src[i+1:], true
}

// Returns a label for a stage, preferring the quoted name and falling back
// to the 1-based index.
func StageLabel(stage Stage, index int) string {
	if stage.Name != "" {
		return fmt.Sprintf("%q", stage.Name)
	}
	return fmt.Sprintf("%d", index+1)
}
