package build

import (
	"errors"

	"github.com/stacks-network/stxbuild/internal/recipe"
)

var (
	ErrBuild         = errors.New("build failed")
	ErrSource        = errors.New("source stage failed")
	ErrProvision     = errors.New("toolchain provisioning failed")
	ErrCompile       = errors.New("compilation failed")
	ErrCollect       = errors.New("artifact collection failed")
	ErrExport        = errors.New("export failed")
	ErrCopy          = errors.New("copy failed")
	ErrCommandFailed = errors.New("command failed")
)

// Returns the sentinel reported for failures in a phase. Steps without a
// phase report [ErrBuild] alone.
func phaseError(phase recipe.Phase) error {
	switch phase {
	case recipe.PhaseSource:
		return ErrSource
	case recipe.PhaseProvision:
		return ErrProvision
	case recipe.PhaseCompile:
		return ErrCompile
	case recipe.PhaseCollect:
		return ErrCollect
	case recipe.PhaseExport:
		return ErrExport
	}
	return nil
}
