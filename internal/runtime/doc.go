// Package runtime manages build containers backed by containerd.
//
// A [Runtime] connects to a containerd daemon, pulls base images for a
// target platform, and starts containers from them. Each [Container] wraps a
// running containerd task that idles until commands are executed inside it.
// Files move in and out of a container as tar streams. Containers must be
// destroyed when no longer needed to release their snapshot and task.
//
// Example usage:
//
//	rt, err := runtime.New(runtime.Config{
//	    Address:   "/run/containerd/containerd.sock",
//	    Namespace: "stxbuild",
//	})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	ctr, err := rt.StartContainer(ctx, "rust:stretch", "build-1", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(ctx)
//
//	result, err := ctr.Exec(ctx, "/bin/sh", "cargo --version", nil, "", os.Stderr)
//	if err != nil {
//	    return err
//	}
package runtime
