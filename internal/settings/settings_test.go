package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingOptional(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != Default() {
		t.Fatalf("settings = %+v, want defaults", s)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), true)
	if !errors.Is(err, ErrSettings) {
		t.Fatalf("err = %v, want ErrSettings", err)
	}
}

func TestLoadPartialOverride(t *testing.T) {
	path := writeSettings(t, "containerd:\n  namespace: ci\n")

	s, err := Load(path, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Containerd.Namespace != "ci" {
		t.Errorf("namespace = %q, want ci", s.Containerd.Namespace)
	}
	if s.Containerd.Address != DefaultContainerdAddress {
		t.Errorf("address = %q, want default", s.Containerd.Address)
	}
	if s.Containerd.Snapshotter != DefaultSnapshotter {
		t.Errorf("snapshotter = %q, want default", s.Containerd.Snapshotter)
	}
}

func TestLoadUnknownKey(t *testing.T) {
	path := writeSettings(t, "target: aarch64-unknown-linux-gnu\n")

	if _, err := Load(path, false); !errors.Is(err, ErrSettings) {
		t.Fatalf("err = %v, want ErrSettings", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	s, err := Load(writeSettings(t, "\n"), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != Default() {
		t.Fatalf("settings = %+v, want defaults", s)
	}
}
