package build

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stacks-network/stxbuild/internal/artifact"
	"github.com/stacks-network/stxbuild/internal/recipe"
	"github.com/stacks-network/stxbuild/internal/release"
	"github.com/stacks-network/stxbuild/internal/runtime"
	"github.com/stacks-network/stxbuild/internal/source"
)

const (
	cargoPrefix   = "cargo build"
	rustupPrefix  = "rustup target add"
	collectPrefix = "mkdir -p " + release.StagingDir
)

// Returns a handler that simulates a release build producing the named
// executables, plus an extra binary and a dependency directory.
func compileHandler(t *testing.T, names []string, perm fs.FileMode) execHandler {
	return func(c *fakeContainer, env []string, out io.Writer) int {
		if !slices.Contains(env, "CARGO_HOME=/root/.cargo") {
			t.Errorf("compile env = %v, want CARGO_HOME", env)
		}
		if _, err := os.Stat(c.path(release.WorkspaceDir + "/Cargo.toml")); err != nil {
			t.Errorf("source tree not copied: %v", err)
			return 1
		}

		dir := c.path(release.OutputTree())
		if err := os.MkdirAll(filepath.Join(dir, "deps"), 0o755); err != nil {
			t.Error(err)
			return 1
		}
		for _, name := range append(slices.Clone(names), "stacks-inspect") {
			body := strings.NewReader("#!/bin/sh\necho " + name + "\n")
			if err := writeFile(filepath.Join(dir, name), body, perm); err != nil {
				t.Error(err)
				return 1
			}
		}
		io.WriteString(out, "Finished release [optimized] target(s)\n")
		return 0
	}
}

// Copies the output tree into the staging directory, like "cp -R".
func collectHandler(t *testing.T) execHandler {
	return func(c *fakeContainer, env []string, out io.Writer) int {
		if err := os.CopyFS(c.path(release.StagingDir), os.DirFS(c.path(release.OutputTree()))); err != nil {
			t.Error(err)
			return 1
		}
		return 0
	}
}

func failHandler(code int) execHandler {
	return func(*fakeContainer, []string, io.Writer) int { return code }
}

// Returns a source tree with a workspace manifest and an ignored target
// directory.
func sourceTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		"Cargo.toml":         "[workspace]\n",
		".dockerignore":      "target\n",
		"target/stale/old":   "stale",
		"src/main.rs":        "fn main() {}\n",
		"testnet/stacks.cfg": "",
	}
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// Returns a runtime whose build succeeds and produces the release binaries.
func releaseRuntime(t *testing.T) *fakeRuntime {
	rt := newFakeRuntime(t)
	rt.handlers[cargoPrefix] = compileHandler(t, release.Binaries, 0o755)
	rt.handlers[collectPrefix] = collectHandler(t)
	return rt
}

func releaseOptions(t *testing.T, root, stagingDir string) Options {
	return Options{
		Recipe:     release.Recipe(source.DefaultMetadata()),
		Artifacts:  artifact.Set(release.Binaries),
		Root:       root,
		Platform:   release.Platform(),
		Fs:         afero.NewOsFs(),
		StagingDir: stagingDir,
	}
}

// Fails unless dir is empty.
func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("%s holds %d entries, want none", dir, len(entries))
	}
}

// Fails unless every container started by rt was destroyed.
func assertDestroyed(t *testing.T, rt *fakeRuntime) {
	t.Helper()
	for _, c := range rt.containers {
		if !c.destroyed {
			t.Fatalf("container %s was not destroyed", c.id)
		}
	}
}

func TestRunRelease(t *testing.T) {
	rt := releaseRuntime(t)
	stagingDir := t.TempDir()

	var out bytes.Buffer
	opts := releaseOptions(t, sourceTree(t), stagingDir)
	opts.Output = &out

	result, err := Run(context.Background(), rt, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer result.Artifacts.Remove()

	var names []string
	for _, e := range result.Artifacts.Entries() {
		names = append(names, e.Name)
		if e.Mode != 0o755 {
			t.Fatalf("%s mode = %v, want 0755", e.Name, e.Mode)
		}
	}
	if diff := cmp.Diff(release.Binaries, names); diff != "" {
		t.Fatalf("staged artifacts mismatch (-want +got):\n%s", diff)
	}

	dest := filepath.Join(t.TempDir(), "dist")
	if err := result.Artifacts.WriteDir(dest); err != nil {
		t.Fatalf("WriteDir: %v", err)
	}
	if err := artifact.Verify(afero.NewOsFs(), dest, artifact.Set(release.Binaries)); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if !strings.Contains(out.String(), "Finished release") {
		t.Fatalf("command output not forwarded: %q", out.String())
	}

	// Provisioning precedes compilation, which precedes collection.
	ran := rt.ran()
	order := []string{"apt-get", rustupPrefix, cargoPrefix, collectPrefix}
	last := -1
	for _, prefix := range order {
		i := slices.IndexFunc(ran, func(cmd string) bool { return strings.HasPrefix(cmd, prefix) })
		if i <= last {
			t.Fatalf("commands ran out of order: %v", ran)
		}
		last = i
	}

	if len(rt.containers) != 1 {
		t.Fatalf("started %d containers, want 1", len(rt.containers))
	}
	if rt.containers[0].ref != release.BaseImage {
		t.Fatalf("base image = %q, want %q", rt.containers[0].ref, release.BaseImage)
	}
	assertDestroyed(t, rt)
}

func TestRunHonorsIgnoreFile(t *testing.T) {
	rt := releaseRuntime(t)

	result, err := Run(context.Background(), rt, releaseOptions(t, sourceTree(t), t.TempDir()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer result.Artifacts.Remove()

	ctr := rt.containers[0]
	if _, err := os.Stat(ctr.path("/src/src/main.rs")); err != nil {
		t.Fatalf("source file missing: %v", err)
	}
	if _, err := os.Stat(ctr.path("/src/target/stale/old")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("ignored file was copied, stat err = %v", err)
	}
}

func TestRunCompileFailure(t *testing.T) {
	rt := releaseRuntime(t)
	rt.handlers[cargoPrefix] = failHandler(101)
	stagingDir := t.TempDir()

	_, err := Run(context.Background(), rt, releaseOptions(t, sourceTree(t), stagingDir))
	if !errors.Is(err, ErrCompile) {
		t.Fatalf("expected ErrCompile, got %v", err)
	}
	if !errors.Is(err, ErrBuild) || !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrBuild and ErrCommandFailed, got %v", err)
	}
	if errors.Is(err, ErrExport) {
		t.Fatalf("compile failure reported as export failure: %v", err)
	}

	if rt.hasRun(collectPrefix) {
		t.Fatal("collection ran after a failed compile")
	}
	assertEmptyDir(t, stagingDir)
	assertDestroyed(t, rt)
}

func TestRunProvisionFailure(t *testing.T) {
	rt := releaseRuntime(t)
	rt.handlers[rustupPrefix] = failHandler(1)

	_, err := Run(context.Background(), rt, releaseOptions(t, sourceTree(t), t.TempDir()))
	if !errors.Is(err, ErrProvision) {
		t.Fatalf("expected ErrProvision, got %v", err)
	}
	if rt.hasRun(cargoPrefix) {
		t.Fatal("compile ran after failed provisioning")
	}
}

func TestRunCollectFailure(t *testing.T) {
	rt := releaseRuntime(t)
	rt.handlers[collectPrefix] = failHandler(1)
	stagingDir := t.TempDir()

	_, err := Run(context.Background(), rt, releaseOptions(t, sourceTree(t), stagingDir))
	if !errors.Is(err, ErrCollect) {
		t.Fatalf("expected ErrCollect, got %v", err)
	}
	assertEmptyDir(t, stagingDir)
}

func TestRunMissingBinary(t *testing.T) {
	rt := releaseRuntime(t)
	rt.handlers[cargoPrefix] = compileHandler(t, release.Binaries[:3], 0o755)
	stagingDir := t.TempDir()

	_, err := Run(context.Background(), rt, releaseOptions(t, sourceTree(t), stagingDir))
	if !errors.Is(err, artifact.ErrArtifactMismatch) {
		t.Fatalf("expected ErrArtifactMismatch, got %v", err)
	}
	if !errors.Is(err, ErrExport) {
		t.Fatalf("expected ErrExport, got %v", err)
	}
	if !strings.Contains(err.Error(), release.Binaries[3]) {
		t.Fatalf("error does not name the missing binary: %v", err)
	}

	assertEmptyDir(t, stagingDir)
	assertDestroyed(t, rt)
}

func TestRunNotExecutable(t *testing.T) {
	rt := releaseRuntime(t)
	rt.handlers[cargoPrefix] = compileHandler(t, release.Binaries, 0o644)
	stagingDir := t.TempDir()

	_, err := Run(context.Background(), rt, releaseOptions(t, sourceTree(t), stagingDir))
	if !errors.Is(err, artifact.ErrArtifactMismatch) {
		t.Fatalf("expected ErrArtifactMismatch, got %v", err)
	}
	assertEmptyDir(t, stagingDir)
}

func TestRunDeterministic(t *testing.T) {
	type file struct {
		Name string
		Mode fs.FileMode
	}

	var runs [][]file
	for range 2 {
		rt := releaseRuntime(t)
		result, err := Run(context.Background(), rt, releaseOptions(t, sourceTree(t), t.TempDir()))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}

		var files []file
		for _, e := range result.Artifacts.Entries() {
			files = append(files, file{e.Name, e.Mode})
		}
		runs = append(runs, files)
		result.Artifacts.Remove()
	}

	if diff := cmp.Diff(runs[0], runs[1]); diff != "" {
		t.Fatalf("runs differ (-first +second):\n%s", diff)
	}
}

func TestRunStartFailure(t *testing.T) {
	rt := releaseRuntime(t)
	rt.startErr = runtime.ErrRuntime

	_, err := Run(context.Background(), rt, releaseOptions(t, sourceTree(t), t.TempDir()))
	if !errors.Is(err, ErrBuild) || !errors.Is(err, runtime.ErrRuntime) {
		t.Fatalf("expected ErrBuild and ErrRuntime, got %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	rt := releaseRuntime(t)
	stagingDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, rt, releaseOptions(t, sourceTree(t), stagingDir))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(rt.ran()) != 0 {
		t.Fatalf("commands ran after cancellation: %v", rt.ran())
	}
	assertEmptyDir(t, stagingDir)
	assertDestroyed(t, rt)
}

func TestRunInvalidRecipe(t *testing.T) {
	opts := releaseOptions(t, sourceTree(t), t.TempDir())
	opts.Recipe = &recipe.Recipe{Stages: []recipe.Stage{{Name: "build", From: release.BaseImage}}}

	_, err := Run(context.Background(), newFakeRuntime(t), opts)
	if !errors.Is(err, ErrBuild) || !errors.Is(err, recipe.ErrInvalidRecipe) {
		t.Fatalf("expected ErrBuild and ErrInvalidRecipe, got %v", err)
	}
}

func TestRunArtifactNotExported(t *testing.T) {
	opts := releaseOptions(t, sourceTree(t), t.TempDir())
	opts.Artifacts = artifact.Set{"stacks-node", "stacks-signer"}

	_, err := Run(context.Background(), newFakeRuntime(t), opts)
	if !errors.Is(err, ErrBuild) {
		t.Fatalf("expected ErrBuild, got %v", err)
	}
}

func TestRunHostCopyOutsideTree(t *testing.T) {
	opts := releaseOptions(t, sourceTree(t), t.TempDir())
	opts.Recipe = &recipe.Recipe{Stages: []recipe.Stage{
		{
			Name: "build",
			From: release.BaseImage,
			Steps: []recipe.Step{
				{Phase: recipe.PhaseSource, Copy: "../secrets /src/secrets"},
			},
		},
		{
			From:  recipe.Scratch,
			Steps: []recipe.Step{{Copy: "build:/out/stacks-node /"}},
		},
	}}

	_, err := Run(context.Background(), newFakeRuntime(t), opts)
	if !errors.Is(err, ErrSource) || !errors.Is(err, ErrCopy) {
		t.Fatalf("expected ErrSource and ErrCopy, got %v", err)
	}
}

func TestRunCrossStageCopy(t *testing.T) {
	rt := newFakeRuntime(t)
	rt.handlers["make"] = func(c *fakeContainer, env []string, out io.Writer) int {
		if err := writeFile(c.path("/app/tool"), strings.NewReader("tool"), 0o755); err != nil {
			t.Error(err)
			return 1
		}
		return 0
	}

	opts := releaseOptions(t, sourceTree(t), t.TempDir())
	opts.Artifacts = nil
	opts.Recipe = &recipe.Recipe{Stages: []recipe.Stage{
		{
			Name:  "compile",
			From:  release.BaseImage,
			Steps: []recipe.Step{{Workdir: "/app"}, {Run: "make"}},
		},
		{
			Name:  "package",
			From:  release.BaseImage,
			Steps: []recipe.Step{{Copy: "compile:/app/tool /opt/bin/tool"}},
		},
		{
			From:  recipe.Scratch,
			Steps: []recipe.Step{{Copy: "package:/opt/bin/tool /"}},
		},
	}}

	result, err := Run(context.Background(), rt, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer result.Artifacts.Remove()

	entries := result.Artifacts.Entries()
	if len(entries) != 1 || entries[0].Name != "tool" {
		t.Fatalf("entries = %v, want [tool]", entries)
	}
	if len(rt.containers) != 2 {
		t.Fatalf("started %d containers, want 2", len(rt.containers))
	}
	if rt.containers[0].id == rt.containers[1].id {
		t.Fatalf("containers share ID %q", rt.containers[0].id)
	}
}
