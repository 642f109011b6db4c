package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	toolName = "stxbuild"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Default path to the settings file.
//
//	Linux:   $XDG_CONFIG_HOME/stxbuild/config.yaml
//	macOS:   ~/Library/Application Support/stxbuild/config.yaml
func ConfigFile() string {
	return filepath.Join(xdg.ConfigHome, toolName, "config.yaml")
}

// Path to the cache directory.
//
//	Linux:   $XDG_CACHE_HOME/stxbuild
//	macOS:   ~/Library/Caches/stxbuild
func Cache() string {
	return filepath.Join(xdg.CacheHome, toolName)
}

// Directory under which host-side staging directories are created. Each
// pipeline run creates its own uniquely named subdirectory and removes it
// when the run ends.
func Staging() string {
	return filepath.Join(Cache(), "staging")
}
