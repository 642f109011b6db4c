// Package settings loads the optional stxbuild settings file.
//
// Settings cover how stxbuild reaches the container runtime. They never
// change what the release pipeline builds: the target triple and artifact
// set are fixed by the release package.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (

	// Default containerd socket address.
	DefaultContainerdAddress = "/run/containerd/containerd.sock"

	// Default containerd namespace for images and containers.
	DefaultContainerdNamespace = "stxbuild"

	// Default snapshotter for build container filesystems.
	DefaultSnapshotter = "overlayfs"
)

var ErrSettings = errors.New("invalid settings")

// Top-level settings document.
type Settings struct {
	Containerd Containerd `yaml:"containerd"`
}

// Connection settings for the containerd daemon.
type Containerd struct {
	Address     string `yaml:"address,omitempty"`     // Socket address.
	Namespace   string `yaml:"namespace,omitempty"`   // Namespace scoping images and containers.
	Snapshotter string `yaml:"snapshotter,omitempty"` // Snapshotter used for build containers.
}

// Returns settings populated with defaults.
func Default() Settings {
	return Settings{
		Containerd: Containerd{
			Address:     DefaultContainerdAddress,
			Namespace:   DefaultContainerdNamespace,
			Snapshotter: DefaultSnapshotter,
		},
	}
}

// Reads settings from path, filling unset fields with defaults.
//
// A missing file yields the defaults unless required is set, in which case
// it is an error. Unknown keys are rejected.
func Load(path string, required bool) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return s, nil
		}
		return Settings{}, fmt.Errorf("%w: %w", ErrSettings, err)
	}

	if err := Parse(data, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: %s: %w", ErrSettings, path, err)
	}

	return s, nil
}

// Decodes a YAML document over s. Fields absent from the document keep
// their current values.
func Parse(data []byte, s *Settings) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(s)
}
