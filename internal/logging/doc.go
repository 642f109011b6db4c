// Package logging provides the slog handler used by stxbuild.
//
// The handler starts in buffered mode: records are held in memory until the
// command line has been parsed and the final level, stream, and formatting
// are known. [Handler.Flush] then writes the held records that pass the
// configured level and switches the handler to direct output.
//
// Example usage:
//
//	handler := logging.NewHandler()
//	slog.SetDefault(slog.New(handler))
//
//	// ... parse flags ...
//
//	handler.SetLevel(slog.LevelDebug)
//	handler.SetFormatter(logging.NewFormatter(logging.IsTerminal(os.Stderr)))
//	handler.SetStream(os.Stderr)
//	handler.Flush()
package logging
