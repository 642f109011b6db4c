package release

import (
	"fmt"
	"path"
	"strings"

	"github.com/stacks-network/stxbuild/internal/recipe"
	"github.com/stacks-network/stxbuild/internal/source"
)

const (

	// Target triple every binary is compiled for.
	TargetTriple = "x86_64-unknown-linux-gnu"

	// Toolchain image the build stage starts from.
	BaseImage = "docker.io/library/rust:stretch"

	// Directory the source tree is copied into inside the build container.
	WorkspaceDir = "/src"

	// Directory the release output tree is staged into.
	StagingDir = "/out"

	// Cargo home used by the compile step.
	cargoHome = "/root/.cargo"

	// Names of the build and export stages.
	buildStage  = "build"
	exportStage = "export-stage"
)

// Binaries exported by the pipeline, in export order.
var Binaries = []string{
	"blockstack-core",
	"blockstack-cli",
	"clarity-cli",
	"stacks-node",
}

// Returns the release recipe.
//
// The build stage copies the source tree, installs git and the target, runs
// a release build of the whole workspace, and stages the output tree. The
// export stage copies the named binaries from the staging directory into the
// root of an empty image.
func Recipe(meta source.Metadata) *recipe.Recipe {
	export := make([]recipe.Step, 0, len(Binaries))
	for _, name := range Binaries {
		export = append(export, recipe.Step{
			Phase: recipe.PhaseExport,
			Copy:  fmt.Sprintf("%s:%s /", buildStage, path.Join(StagingDir, name)),
		})
	}

	compileEnv := meta.Env()
	compileEnv["CARGO_HOME"] = cargoHome

	return &recipe.Recipe{
		Stages: []recipe.Stage{
			{
				Name: buildStage,
				From: BaseImage,
				Steps: []recipe.Step{
					{Workdir: WorkspaceDir},
					{Phase: recipe.PhaseSource, Copy: ". " + WorkspaceDir},
					{Phase: recipe.PhaseProvision, Run: "apt-get update && apt-get install -y git"},
					{Phase: recipe.PhaseProvision, Run: "rustup target add " + TargetTriple},
					{
						Phase: recipe.PhaseCompile,
						Env:   compileEnv,
						Run:   "cargo build --release --workspace --target " + TargetTriple,
					},
					{
						Phase: recipe.PhaseCollect,
						Run:   fmt.Sprintf("mkdir -p %s && cp -R %s/. %s", StagingDir, OutputTree(), StagingDir),
					},
				},
			},
			{
				Name:  exportStage,
				From:  recipe.Scratch,
				Steps: export,
			},
		},
	}
}

// Returns the compiler's release output directory for the target triple.
func OutputTree() string {
	return path.Join(WorkspaceDir, "target", TargetTriple, "release")
}

// Returns the container platform the build runs on.
func Platform() string {
	p, err := PlatformForTriple(TargetTriple)
	if err != nil {
		panic(err)
	}
	return p
}

// Maps the architecture component of a target triple to its OCI name.
var tripleArchs = map[string]string{
	"x86_64":      "amd64",
	"aarch64":     "arm64",
	"i686":        "386",
	"armv7":       "arm/v7",
	"powerpc64le": "ppc64le",
	"s390x":       "s390x",
	"riscv64gc":   "riscv64",
}

// Converts a target triple (arch-vendor-os[-env]) to an OCI platform string
// such as "linux/amd64".
func PlatformForTriple(triple string) (string, error) {
	parts := strings.Split(triple, "-")
	if len(parts) < 3 {
		return "", fmt.Errorf("malformed target triple %q", triple)
	}

	arch, ok := tripleArchs[parts[0]]
	if !ok {
		return "", fmt.Errorf("unsupported architecture in target triple %q", triple)
	}

	if parts[2] != "linux" {
		return "", fmt.Errorf("unsupported operating system in target triple %q", triple)
	}

	return "linux/" + arch, nil
}
