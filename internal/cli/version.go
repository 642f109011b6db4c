package cli

import (
	"context"
	"fmt"

	"github.com/stacks-network/stxbuild/internal"
)

// Represents the 'stxbuild version' command.
type VersionCmd struct{}

// Executes the version command.
func (c *VersionCmd) Run(ctx context.Context) error {
	fmt.Println(internal.VersionString())
	return nil
}
