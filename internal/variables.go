package internal

import (
	"fmt"
	"runtime"
	"strings"
)

const (

	// Name of the tool, used for the command name, logger group, and paths.
	Name = "stxbuild"

	// String to indicate an undefined variable
	defaultUndefined = "(undefined)"

	// String to indicate a local (non-pipeline) build
	defaultLocalBuild = "(local)"

	// Main branch name used in version strings
	mainBranch = "main"
)

var (
	version   = "" // Version number (e.g., "1.2.3")
	stage     = "" // Development stage or git branch (e.g., "staging", "main")
	gitCommit = "" // Git commit hash (e.g., "a1b2c3d4")

	rawQuiet   = "false" // Whether to start in quiet mode
	rawDebug   = "false" // Whether to start in debug mode
	rawVerbose = "false" // Whether to start with verbose log formatting
)

// Returns the tool version without a leading "v".
//
// Returns "(undefined)" when the version was not injected at link time.
func Version() string {
	v := strings.ToLower(strings.TrimSpace(version))
	if v == "" {
		return defaultUndefined
	}
	return strings.TrimPrefix(v, "v")
}

// Returns the development stage the tool was built from.
func Stage() string {
	s := strings.TrimSpace(stage)
	if s == "" {
		return defaultUndefined
	}
	return strings.ToLower(s)
}

// Returns the git commit the tool was built from.
func GitCommit() string {
	c := strings.TrimSpace(gitCommit)
	if c == "" {
		return defaultUndefined
	}
	return c
}

// Returns the architecture of the running binary.
func Arch() string {
	return runtime.GOARCH
}

// Returns true if any of the version, commit, or stage linker variables is
// unset, which is the case for builds made outside the release pipeline.
func IsLocal() bool {
	return strings.TrimSpace(version) == "" ||
		strings.TrimSpace(gitCommit) == "" ||
		strings.TrimSpace(stage) == ""
}

// Returns a version string formatted as "<version>+<stage> <commit> [<arch>]".
//
// The stage suffix is omitted for main branch builds. Local builds return
// "(local)".
func VersionString() string {
	if IsLocal() {
		return defaultLocalBuild
	}

	s := Stage()
	if s == mainBranch {
		s = ""
	} else {
		s = "+" + s
	}

	return fmt.Sprintf("%s%s %s [%s]", Version(), s, GitCommit(), Arch())
}
