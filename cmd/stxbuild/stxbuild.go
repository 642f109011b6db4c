package main

import (
	"log/slog"
	"os"

	"github.com/stacks-network/stxbuild/internal"
	"github.com/stacks-network/stxbuild/internal/cli"
	"github.com/stacks-network/stxbuild/internal/logging"
)

// The entry point for stxbuild.
//
// Initializes logging, displays startup information, and executes the root
// command. If any error occurs during execution, it exits with a non-zero code.
func main() {
	slog.SetDefault(logger())

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("stxbuild is running",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// Creates a buffered logger seeded from build-time linker flags.
//
// The logger is reconfigured after flag parsing via cli.Execute.
func logger() *slog.Logger {
	handler := logging.NewHandler()
	handler.SetLevel(internal.LogLevel())
	return slog.New(handler)
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
