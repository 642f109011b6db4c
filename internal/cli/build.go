package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/spf13/afero"
	"github.com/stacks-network/stxbuild/internal"
	"github.com/stacks-network/stxbuild/internal/artifact"
	"github.com/stacks-network/stxbuild/internal/build"
	"github.com/stacks-network/stxbuild/internal/release"
	"github.com/stacks-network/stxbuild/internal/runtime"
	"github.com/stacks-network/stxbuild/internal/source"
)

// Represents the 'stxbuild build' command.
type BuildCmd struct {
	Source  string `arg:"" optional:"" default:"." type:"existingdir" help:"Root of the Stacks workspace."`
	Output  string `short:"o" default:"dist" type:"path" help:"Directory receiving the binaries. Must be absent or empty. Empty disables it." placeholder:"DIR"`
	Image   string `short:"i" type:"path" help:"Also write a scratch image holding the binaries to this path." placeholder:"PATH"`
	Format  string `enum:"docker,oci" default:"docker" help:"Image format (${enum})."`
	Tag     string `default:"stacks-blockchain:latest" help:"Reference the image is tagged with."`
	Load    bool   `help:"Import the image into containerd. Requires the docker format."`
	Release string `name:"version" help:"Release version passed to the compiler, instead of the tag on HEAD." placeholder:"STRING"`
}

// Checks flag combinations.
func (c *BuildCmd) Validate() error {
	if c.Output == "" && c.Image == "" {
		return errors.New("nothing to export: --output and --image are both empty")
	}
	if c.Load && c.Image == "" {
		return errors.New("--load requires --image")
	}
	if c.Load && artifact.Format(c.Format) != artifact.FormatDocker {
		return errors.New("--load requires --format docker")
	}

	tag, err := runtime.NormalizeReference(c.Tag)
	if err != nil {
		return err
	}
	c.Tag = tag
	return nil
}

// Executes the build command.
//
// Runs the release recipe in a build container, then publishes the staged
// binaries to every requested output. Nothing is published when the build
// fails or is interrupted.
func (c *BuildCmd) Run(ctx context.Context) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	meta, err := source.ReadMetadata(c.Source)
	if err != nil {
		return err
	}
	if c.Release != "" {
		meta.Version = c.Release
	}

	out := c.outputs(meta)
	if err := out.Check(afero.NewOsFs()); err != nil {
		return err
	}

	slog.Info("building release",
		"source", c.Source,
		"target", release.TargetTriple,
		"version", meta.Version,
		"branch", meta.Branch,
		"commit", meta.Commit,
	)

	rt, err := runtime.New(runtime.Config{
		Address:     s.Containerd.Address,
		Namespace:   s.Containerd.Namespace,
		Snapshotter: s.Containerd.Snapshotter,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := build.Run(ctx, build.Containerd(rt), build.Options{
		Recipe:    release.Recipe(meta),
		Artifacts: artifact.Set(release.Binaries),
		Root:      c.Source,
		Platform:  release.Platform(),
		Output:    commandOutput(),
	})
	if err != nil {
		return err
	}
	defer result.Artifacts.Remove()

	var loader imageLoader
	if c.Load {
		loader = rt
	}
	if err := publish(ctx, result.Artifacts, out, loader); err != nil {
		return err
	}

	slog.Info("release built", "binaries", release.Binaries)
	return nil
}

// Returns the destinations requested by the flags.
func (c *BuildCmd) outputs(meta source.Metadata) artifact.Outputs {
	out := artifact.Outputs{Dir: c.Output}
	if c.Image != "" {
		out.Image = c.Image
		out.Format = artifact.Format(c.Format)
		out.Tag = c.Tag
		out.Platform = release.Platform()
		out.Labels = map[string]string{
			ocispec.AnnotationRevision: meta.Commit,
			ocispec.AnnotationVersion:  meta.Version,
		}
	}
	return out
}

// Imports an image archive into a container store.
type imageLoader interface {
	ImportImage(ctx context.Context, path, tag, platform string) error
}

// Publishes the staged binaries to every output, then loads the image.
//
// Nothing is written once ctx is done. The image is loaded only after all
// outputs are in place. A nil loader skips the load.
func publish(ctx context.Context, stg *artifact.Staging, out artifact.Outputs, loader imageLoader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := stg.Publish(out); err != nil {
		return err
	}

	if loader == nil || out.Image == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return loader.ImportImage(ctx, out.Image, out.Tag, out.Platform)
}

// Returns the writer receiving build command output. Quiet runs discard it.
func commandOutput() io.Writer {
	if internal.IsQuiet() {
		return io.Discard
	}
	return os.Stderr
}
