package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/distribution/reference"
)

const (

	// Snapshotter used when the configuration names none.
	defaultSnapshotter = "overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"
)

// Connection settings for [New].
type Config struct {
	Address     string // Containerd socket address.
	Namespace   string // Namespace scoping all images and containers.
	Snapshotter string // Snapshotter for container filesystems. Empty uses overlayfs.
}

// Manages the containerd client and provides image and container operations.
type Runtime struct {
	client      *containerd.Client // Containerd client for managing containers and images.
	snapshotter string             // Snapshotter for container filesystems.
}

// Creates a runtime connected to the containerd socket in cfg.
//
// The runtime must be closed when no longer needed.
func New(cfg Config) (*Runtime, error) {
	client, err := containerd.New(cfg.Address, containerd.WithDefaultNamespace(cfg.Namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	snapshotter := cfg.Snapshotter
	if snapshotter == "" {
		snapshotter = defaultSnapshotter
	}

	return &Runtime{client: client, snapshotter: snapshotter}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Pulls an image for the target platform and starts a container from it.
//
// The reference is normalized (e.g. "rust:stretch" becomes
// "docker.io/library/rust:stretch") before pulling. The layers are unpacked
// into the snapshotter, a container is created with a fresh snapshot, and a
// long-running task (sleep infinity) is started so that subsequent Exec calls
// have a running process to attach to. Any existing container with the same
// ID is removed first. Building for a platform other than the host requires
// QEMU / binfmt_misc support in the kernel.
func (rt *Runtime) StartContainer(ctx context.Context, ref, id, platform string) (*Container, error) {
	image, err := rt.pullImage(ctx, ref, platform)
	if err != nil {
		return nil, err
	}

	c := &Container{
		client:      rt.client,
		id:          id,
		platform:    platform,
		snapshotter: rt.snapshotter,
	}

	// Remove any stale container left behind by an interrupted run.
	c.remove(ctx)

	ctr, err := c.create(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("container started", "id", id, "image", image.Name(), "platform", platform)

	return c, nil
}

// Pulls and unpacks an image for a single platform.
func (rt *Runtime) pullImage(ctx context.Context, ref, platform string) (containerd.Image, error) {
	name, err := NormalizeReference(ref)
	if err != nil {
		return nil, err
	}

	if _, err := platforms.Parse(platform); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Info("pulling base image", "image", name, "platform", platform)

	image, err := rt.client.Pull(ctx, name,
		containerd.WithPlatform(platform),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(rt.snapshotter),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: pulling %s: %w", ErrRuntime, name, err)
	}

	return image, nil
}

// Returns the fully qualified form of an image reference.
func NormalizeReference(ref string) (string, error) {
	named, err := reference.ParseDockerRef(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrReference, ref, err)
	}
	return named.String(), nil
}

// Imports an image archive into the image store under tag and unpacks it for
// the given platform.
//
// The archive must hold exactly one image. An existing image with the same
// tag is replaced.
func (rt *Runtime) ImportImage(ctx context.Context, path, tag, platform string) error {
	name, err := NormalizeReference(tag)
	if err != nil {
		return err
	}

	source, err := rt.importArchive(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := rt.tagImage(ctx, source, name); err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := rt.unpackImage(ctx, name, platform); err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Info("image loaded", "tag", name)
	return nil
}

// Imports an archive into the content store.
//
// Import returns one record per image in the archive's index. Multiple
// records would mean unrelated images, which are not supported.
func (rt *Runtime) importArchive(ctx context.Context, path string) (images.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return images.Image{}, err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh)
	if err != nil {
		return images.Image{}, err
	}

	if len(imported) == 0 {
		return images.Image{}, ErrEmptyArchive
	} else if len(imported) > 1 {
		return images.Image{}, ErrMultipleImages
	}

	return imported[0], nil
}

// Points tag at the imported image's target.
//
// Updates the tag if it already exists. Removes the source record when its
// name differs from the tag to avoid duplicates.
func (rt *Runtime) tagImage(ctx context.Context, source images.Image, tag string) error {
	is := rt.client.ImageService()

	img := images.Image{
		Name:   tag,
		Target: source.Target,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}

	if source.Name != tag {
		_ = is.Delete(ctx, source.Name)
	}

	return nil
}

// Unpacks the image layers for the target platform into the snapshotter.
func (rt *Runtime) unpackImage(ctx context.Context, tag, platform string) error {
	p, err := platforms.Parse(platform)
	if err != nil {
		return err
	}

	img, err := rt.client.ImageService().Get(ctx, tag)
	if err != nil {
		return err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)).Unpack(ctx, rt.snapshotter)
}
