// Parses flags and dispatches the stxbuild subcommands.
//
// Global flags:
//
//	-q, --quiet       Suppress informational output.
//	-v, --verbose     Enable verbose output.
//	-d, --debug       Enable debug output.
//	    --config      Settings file.
//	    --address     Containerd socket address.
//	    --namespace   Containerd namespace.
//
// Flags override build-time defaults set via linker flags, and the address
// and namespace flags override the settings file. After parsing, the global
// logger is reconfigured to reflect the final level and verbosity before the
// subcommand runs.
package cli
