package build

import (
	"context"
	"io"

	"github.com/stacks-network/stxbuild/internal/runtime"
)

// Starts build containers.
type Runtime interface {
	StartContainer(ctx context.Context, ref, id, platform string) (Container, error)
}

// A running build container.
//
// [runtime.Container] is the production implementation.
type Container interface {
	ID() string
	Exec(ctx context.Context, shell, command string, env []string, workdir string, out io.Writer) (*runtime.ExecResult, error)
	MkdirAll(ctx context.Context, path string) error
	CopyTo(ctx context.Context, r io.Reader, destDir string) error
	CopyFrom(ctx context.Context, w io.Writer, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	Destroy(ctx context.Context)
}

// Adapts a containerd runtime to [Runtime].
func Containerd(rt *runtime.Runtime) Runtime {
	return containerdRuntime{rt}
}

type containerdRuntime struct {
	rt *runtime.Runtime
}

func (c containerdRuntime) StartContainer(ctx context.Context, ref, id, platform string) (Container, error) {
	ctr, err := c.rt.StartContainer(ctx, ref, id, platform)
	if err != nil {
		return nil, err
	}
	return ctr, nil
}
