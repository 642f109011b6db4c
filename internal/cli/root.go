package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/stacks-network/stxbuild/internal"
	"github.com/stacks-network/stxbuild/internal/logging"
	"github.com/stacks-network/stxbuild/internal/paths"
	"github.com/stacks-network/stxbuild/internal/settings"
)

// Represents the root command for stxbuild.
var RootCmd struct {
	Quiet     bool       `short:"q" help:"Suppress informational output."`
	Verbose   bool       `short:"v" help:"Enable verbose output."`
	Debug     bool       `short:"d" help:"Enable debug output."`
	Config    string     `help:"Settings file (default: ${config_file})." type:"path" placeholder:"FILE"`
	Address   string     `help:"Containerd socket address." env:"STXBUILD_CONTAINERD_ADDRESS" placeholder:"PATH"`
	Namespace string     `help:"Containerd namespace." env:"STXBUILD_CONTAINERD_NAMESPACE" placeholder:"NAME"`
	Build     BuildCmd   `cmd:"" help:"Build the release binaries."`
	Plan      PlanCmd    `cmd:"" help:"Print the release recipe without running it."`
	Verify    VerifyCmd  `cmd:"" help:"Check that an output holds exactly the release binaries."`
	Version   VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Builds the Stacks release binaries in a container.\n\nCompiles the whole workspace for a single target and exports exactly the release binaries."),
		kong.UsageOnError(),
		kong.Vars{
			"version":     internal.VersionString(),
			"config_file": paths.ConfigFile(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	handler, ok := slog.Default().Handler().(*logging.Handler)
	if !ok {
		return // Not our handler, nothing to configure
	}

	if RootCmd.Debug {
		internal.SetDebug(true)
	}
	if RootCmd.Quiet {
		internal.SetQuiet(true)
	}
	if RootCmd.Verbose {
		internal.SetVerbose(true)
	}

	// Configure formatter
	formatter := logging.NewFormatter(logging.IsTerminal(os.Stderr))
	formatter.SetVerbose(internal.IsVerbose())

	// Commit
	handler.SetLevel(internal.LogLevel())
	handler.SetFormatter(formatter)
	handler.SetStream(os.Stderr)
	handler.Flush()
}

// Loads the settings file and applies flag and environment overrides.
//
// The default settings file is optional. A file named with --config must
// exist.
func loadSettings() (settings.Settings, error) {
	path, required := RootCmd.Config, true
	if path == "" {
		path, required = paths.ConfigFile(), false
	}

	s, err := settings.Load(path, required)
	if err != nil {
		return s, err
	}

	if RootCmd.Address != "" {
		s.Containerd.Address = RootCmd.Address
	}
	if RootCmd.Namespace != "" {
		s.Containerd.Namespace = RootCmd.Namespace
	}

	slog.Debug("settings loaded",
		"file", path,
		"address", s.Containerd.Address,
		"namespace", s.Containerd.Namespace,
		"snapshotter", s.Containerd.Snapshotter,
	)

	return s, nil
}
