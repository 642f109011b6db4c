package runtime

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync/atomic"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Bytes of stdout and stderr kept in an [ExecResult].
const outputTail = 16 << 10

// Sequence counter for generating unique exec process identifiers.
var execSeq uint64

// Returns a unique exec process identifier.
func nextExecID() string {
	return fmt.Sprintf("exec-%d", atomic.AddUint64(&execSeq, 1))
}

// Output of a command execution inside a container.
//
// Stdout and Stderr hold at most the last 16 KiB of each stream. The full
// output goes to the writer passed to [Container.Exec].
type ExecResult struct {
	ExitCode int    // Exit code of the process.
	Stdout   string // Tail of standard output.
	Stderr   string // Tail of standard error.
}

// Runs a command inside the container.
//
// The command is passed to the shell as a single argument via "shell -c
// command". Environment variables and working directory override the
// container's OCI spec for this execution only. When out is non-nil, both
// output streams are copied to it as they are produced. A non-zero exit code
// is reported in the result, not as an error.
func (c *Container) Exec(ctx context.Context, shell, command string, env []string, workdir string, out io.Writer) (*ExecResult, error) {
	pspec, err := c.buildProcessSpec(ctx, env, workdir, shell, "-c", command)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	streams := newExecStreams(out)

	exitCode, err := c.execProcess(ctx, pspec, nil, streams.stdout, streams.stderr)
	if err != nil {
		return nil, err
	}

	return streams.result(exitCode), nil
}

// Output streams of a single exec. Each stream keeps its own tail and is
// copied to a shared writer when one is given.
type execStreams struct {
	stdoutTail *tailBuffer
	stderrTail *tailBuffer
	stdout     io.Writer
	stderr     io.Writer
}

// Creates the streams for an exec whose output also goes to out, which may
// be nil.
func newExecStreams(out io.Writer) *execStreams {
	s := &execStreams{
		stdoutTail: newTailBuffer(outputTail),
		stderrTail: newTailBuffer(outputTail),
	}

	s.stdout, s.stderr = s.stdoutTail, s.stderrTail
	if out != nil {
		s.stdout = io.MultiWriter(s.stdoutTail, out)
		s.stderr = io.MultiWriter(s.stderrTail, out)
	}
	return s
}

// Builds the result of an exec that exited with exitCode.
func (s *execStreams) result(exitCode int) *ExecResult {
	return &ExecResult{
		ExitCode: exitCode,
		Stdout:   s.stdoutTail.String(),
		Stderr:   s.stderrTail.String(),
	}
}

// Builds an OCI process spec for running a command inside the container.
//
// The base values are copied from the container's own OCI spec, then env and
// workdir are overridden if provided.
func (c *Container) buildProcessSpec(ctx context.Context, env []string, workdir string, args ...string) (*specs.Process, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, err
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, err
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = args

	if len(env) > 0 {
		pspec.Env = mergeEnv(pspec.Env, env)
	}
	if workdir != "" {
		pspec.Cwd = workdir
	}

	return &pspec, nil
}

// Merges override env vars on top of a base env slice. Entries without "="
// or with an empty key are dropped. The result is sorted by key.
func mergeEnv(base, overrides []string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		if k, v, ok := strings.Cut(entry, "="); ok && k != "" {
			merged[k] = v
		}
	}
	for _, entry := range overrides {
		if k, v, ok := strings.Cut(entry, "="); ok && k != "" {
			merged[k] = v
		}
	}

	result := make([]string, 0, len(merged))
	for _, k := range slices.Sorted(maps.Keys(merged)) {
		result = append(result, k+"="+merged[k])
	}
	return result
}

// Runs a command inside the container, returning the exit code and the tail
// of stderr. A non-zero exit code is not treated as an error.
func (c *Container) execCommand(ctx context.Context, stdin io.Reader, stdout io.Writer, env []string, workdir string, args ...string) (int, string, error) {
	pspec, err := c.buildProcessSpec(ctx, env, workdir, args...)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	stderr := newTailBuffer(outputTail)
	exitCode, err := c.execProcess(ctx, pspec, stdin, stdout, stderr)
	if err != nil {
		return 0, "", err
	}
	return exitCode, stderr.String(), nil
}

// Starts a process inside the container's running task, waits for it to exit,
// and returns the exit code.
//
// The process is attached to the task as an additional exec. Nil output
// streams are replaced with io.Discard; a nil stdin is left disconnected.
// When stdin is provided, the process stdin is closed once the reader
// returns EOF.
func (c *Container) execProcess(ctx context.Context, pspec *specs.Process, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	task, err := c.loadTask(ctx)
	if err != nil {
		return 0, err
	}

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	var stdinDone <-chan struct{}
	if stdin != nil {
		dr := newDoneReader(stdin)
		stdin = dr
		stdinDone = dr.done
	}

	process, err := task.Exec(ctx, nextExecID(), pspec, cio.NewCreator(
		cio.WithStreams(stdin, stdout, stderr),
	))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return awaitProcess(ctx, process, stdinDone)
}

// Loads the container's running task.
func (c *Container) loadTask(ctx context.Context) (containerd.Task, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return task, nil
}

// Waits for an exec process to exit and returns the exit code.
//
// The process is always deleted before returning.
func awaitProcess(ctx context.Context, process containerd.Process, stdinDone <-chan struct{}) (int, error) {
	statusC, err := process.Wait(ctx)
	if err != nil {
		process.Delete(ctx)
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := process.Start(ctx); err != nil {
		process.Delete(ctx)
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if stdinDone != nil {
		go func() {
			<-stdinDone
			process.CloseIO(ctx, containerd.WithStdinCloser)
		}()
	}

	exitStatus := <-statusC
	process.Delete(ctx)

	code, _, err := exitStatus.Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return int(code), nil
}
