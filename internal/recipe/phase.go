package recipe

// Pipeline phase a step belongs to. Phases label steps for logging and
// classify failures; they do not change how a step executes.
type Phase string

const (
	PhaseSource    Phase = "source"    // Copies the source tree into the build workspace.
	PhaseProvision Phase = "provision" // Installs toolchain components.
	PhaseCompile   Phase = "compile"   // Builds the workspace.
	PhaseCollect   Phase = "collect"   // Stages the build output.
	PhaseExport    Phase = "export"    // Copies artifacts into the output image.
)

// Reports whether p is one of the known phases or empty.
func (p Phase) Valid() bool {
	switch p {
	case "", PhaseSource, PhaseProvision, PhaseCompile, PhaseCollect, PhaseExport:
		return true
	}
	return false
}
