package artifact

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/spf13/afero"
)

// Image archive formats.
type Format string

const (
	FormatDocker Format = "docker" // Tarball loadable by docker and containerd.
	FormatOCI    Format = "oci"    // OCI image layout directory.
)

// Settings for the image built from a staging.
type ImageOptions struct {
	Platform string            // OCI platform of the binaries, e.g. "linux/amd64".
	Labels   map[string]string // Labels set on the image config.
}

// Destinations a staging is published to in one go.
type Outputs struct {
	Dir      string            // Directory receiving the files. Empty skips it.
	Image    string            // Path of the image tarball or layout. Empty skips it.
	Format   Format            // Image format. Empty means docker.
	Tag      string            // Reference the image is tagged with.
	Platform string            // OCI platform of the image.
	Labels   map[string]string // Labels set on the image config.
}

// Checks that every destination can be written.
//
// The directory must be absent or empty. The image path must not exist.
// Nothing is created. OCI layouts are checked on the operating system
// filesystem, since that is where they are written.
func (o Outputs) Check(fsys afero.Fs) error {
	if o.Dir == "" && o.Image == "" {
		return fmt.Errorf("%w: no outputs", ErrPublish)
	}

	if o.Dir != "" {
		if err := checkDestDir(fsys, o.Dir); err != nil {
			return err
		}
	}

	if o.Image == "" {
		return nil
	}

	switch o.format() {
	case FormatDocker:
	case FormatOCI:
		fsys = afero.NewOsFs()
	default:
		return fmt.Errorf("%w: unknown image format %q", ErrPublish, o.Format)
	}

	if _, err := name.NewTag(o.Tag); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	if o.Dir != "" && filepath.Clean(o.Dir) == filepath.Clean(o.Image) {
		return fmt.Errorf("%w: directory and image share the path %s", ErrPublish, o.Dir)
	}

	return checkDestAbsent(fsys, o.Image)
}

// Returns the image format, defaulting to docker.
func (o Outputs) format() Format {
	if o.Format == "" {
		return FormatDocker
	}
	return o.Format
}

// Publishes the staged files to every destination in out.
//
// Each output is first written to a temporary sibling of its destination.
// Only when all of them are complete are they renamed into place. If any
// output fails, the temporaries are removed and outputs already renamed are
// taken back, so either every destination is written or none is.
func (s *Staging) Publish(out Outputs) error {
	if err := s.requireSealed(); err != nil {
		return err
	}
	if err := out.Check(s.fs); err != nil {
		return err
	}

	var pending []*pendingOutput
	discard := func() {
		for _, p := range pending {
			p.discard()
		}
	}

	if out.Dir != "" {
		p, err := s.prepareDir(out.Dir)
		if err != nil {
			return err
		}
		pending = append(pending, p)
	}

	if out.Image != "" {
		p, err := s.prepareImage(out)
		if err != nil {
			discard()
			return err
		}
		pending = append(pending, p)
	}

	if err := commitAll(pending); err != nil {
		return err
	}

	for _, p := range pending {
		slog.Info("output written", "path", p.dest)
	}
	return nil
}

// Copies the staged files into dest, which must be absent or an empty
// directory. On failure dest is left untouched.
func (s *Staging) WriteDir(dest string) error {
	return s.Publish(Outputs{Dir: dest})
}

// Writes the staged files into a temporary sibling of dest.
func (s *Staging) prepareDir(dest string) (*pendingOutput, error) {
	parent := filepath.Dir(dest)
	if err := s.fs.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	tmp, err := afero.TempDir(s.fs, parent, "."+filepath.Base(dest)+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	p := &pendingOutput{fs: s.fs, tmp: tmp, dest: dest}
	if err := s.copyInto(tmp); err != nil {
		p.discard()
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}
	return p, nil
}

// Builds the image and writes it in the requested format next to its
// destination.
func (s *Staging) prepareImage(out Outputs) (*pendingOutput, error) {
	img, err := s.Image(ImageOptions{Platform: out.Platform, Labels: out.Labels})
	if err != nil {
		return nil, err
	}

	if out.format() == FormatOCI {
		return prepareOCILayout(img, out.Image, out.Tag)
	}
	return prepareDockerArchive(s.fs, img, out.Image, out.Tag)
}

// Fails unless dest is absent or an empty directory.
func checkDestDir(fsys afero.Fs, dest string) error {
	info, err := fsys.Stat(dest)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s exists and is not a directory", ErrPublish, dest)
	}

	ok, err := afero.IsEmpty(fsys, dest)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not empty", ErrPublish, dest)
	}
	return nil
}

// Fails unless nothing exists at p.
func checkDestAbsent(fsys afero.Fs, p string) error {
	_, err := fsys.Stat(p)
	if err == nil {
		return fmt.Errorf("%w: %s already exists", ErrPublish, p)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	return nil
}

// Copies every staged file into dir, preserving modes.
func (s *Staging) copyInto(dir string) error {
	for _, e := range s.Entries() {
		if err := s.copyFile(e, filepath.Join(dir, e.Name)); err != nil {
			return err
		}
	}
	return nil
}

// Copies a single staged file to dest.
func (s *Staging) copyFile(e Entry, dest string) error {
	src, err := s.open(e.Name)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := s.fs.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, e.Mode.Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return s.fs.Chmod(dest, e.Mode.Perm())
}

// Builds a single-layer image holding the staged files at its root.
//
// The image starts from an empty base, so its filesystem contains nothing
// but the artifact set. Layer entries carry a fixed timestamp and root
// ownership.
func (s *Staging) Image(opts ImageOptions) (v1.Image, error) {
	if err := s.requireSealed(); err != nil {
		return nil, err
	}

	platform, err := v1.ParsePlatform(opts.Platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(s.writeLayer(pw))
		}()
		return pr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}
	cfg = cfg.DeepCopy()
	cfg.OS = platform.OS
	cfg.Architecture = platform.Architecture
	cfg.Variant = platform.Variant
	cfg.Config.Labels = opts.Labels

	img, err = mutate.ConfigFile(img, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	return img, nil
}

// Writes the staged files as an uncompressed layer tar stream.
func (s *Staging) writeLayer(w io.Writer) error {
	tw := tar.NewWriter(w)

	for _, e := range s.Entries() {
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     e.Name,
			Mode:     int64(e.Mode.Perm()),
			Size:     e.Size,
			ModTime:  time.Unix(0, 0),
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := s.open(e.Name)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		if err != nil {
			return err
		}
	}

	return tw.Close()
}

// Writes img as a docker-style tarball tagged with tag into a temporary
// file next to path.
func prepareDockerArchive(fsys afero.Fs, img v1.Image, path, tag string) (*pendingOutput, error) {
	ref, err := name.NewTag(tag)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	f, err := afero.TempFile(fsys, dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}
	p := &pendingOutput{fs: fsys, tmp: f.Name(), dest: path}

	err = tarball.Write(ref, img, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		p.discard()
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	return p, nil
}

// Writes img as an OCI image layout into a temporary directory next to path.
// Image layouts are always written to the operating system filesystem.
func prepareOCILayout(img v1.Image, path, tag string) (*pendingOutput, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	tmp, err := os.MkdirTemp(dir, "."+filepath.Base(path)+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}
	p := &pendingOutput{fs: afero.NewOsFs(), tmp: tmp, dest: path}

	if err := writeLayout(img, tmp, tag); err != nil {
		p.discard()
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	return p, nil
}

// Initializes a layout at dir and appends img to its index.
func writeLayout(img v1.Image, dir, tag string) error {
	p, err := layout.Write(dir, empty.Index)
	if err != nil {
		return err
	}

	var opts []layout.Option
	if tag != "" {
		opts = append(opts, layout.WithAnnotations(map[string]string{
			ocispec.AnnotationRefName: tag,
		}))
	}

	return p.AppendImage(img, opts...)
}
