package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/stacks-network/stxbuild/internal/artifact"
	"github.com/stacks-network/stxbuild/internal/release"
)

// Represents the 'stxbuild verify' command.
type VerifyCmd struct {
	Path string `arg:"" type:"path" help:"Output directory, image tarball, or OCI layout."`
}

// Executes the verify command.
//
// Succeeds only when the root of the output holds exactly the release
// binaries, each an executable regular file.
func (c *VerifyCmd) Run(ctx context.Context) error {
	if err := artifact.Verify(afero.NewOsFs(), c.Path, artifact.Set(release.Binaries)); err != nil {
		return err
	}

	slog.Info("output verified", "path", c.Path, "binaries", len(release.Binaries))
	return nil
}
