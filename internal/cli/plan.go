package cli

import (
	"context"
	"fmt"

	"github.com/stacks-network/stxbuild/internal/release"
	"github.com/stacks-network/stxbuild/internal/source"
)

// Represents the 'stxbuild plan' command.
type PlanCmd struct {
	Source string `arg:"" optional:"" type:"existingdir" help:"Workspace to read version metadata from."`
}

// Executes the plan command.
//
// Prints the release recipe as YAML. Version metadata comes from the source
// tree when one is given and from the defaults otherwise.
func (c *PlanCmd) Run(ctx context.Context) error {
	meta := source.DefaultMetadata()
	if c.Source != "" {
		var err error
		if meta, err = source.ReadMetadata(c.Source); err != nil {
			return err
		}
	}

	r := release.Recipe(meta)
	if err := r.Validate(); err != nil {
		return err
	}

	data, err := r.Marshal()
	if err != nil {
		return err
	}

	fmt.Print(string(data))
	return nil
}
