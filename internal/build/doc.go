// Package build executes recipes against a container runtime.
//
// A recipe is an ordered sequence of stages. Every stage but the last is a
// build stage backed by a container created from a base image. The pipeline
// starts a container for each build stage and dispatches its steps (shell
// commands, copies from the source tree, and inter-stage transfers). The
// last stage starts from scratch and never runs a container: its copy steps
// stream files out of earlier stages into a host-side staging directory,
// which must end up holding exactly the expected artifact set.
//
// Step state (environment variables, working directory, shell, phase) is
// accumulated across steps within a stage and reset between stages. Failures
// are reported as [ErrBuild] together with the sentinel of the phase the
// failing step belongs to, such as [ErrCompile]. Containers are destroyed
// when the run ends, whatever the outcome.
//
// Example usage:
//
//	result, err := build.Run(ctx, build.Containerd(rt), build.Options{
//	    Recipe:   release.Recipe(meta),
//	    Root:     ".",
//	    Platform: release.Platform(),
//	    Output:   os.Stderr,
//	})
//	if err != nil {
//	    return err
//	}
//	defer result.Artifacts.Remove()
//	return result.Artifacts.WriteDir("dist")
package build
