package common

import (
	"log/slog"
	"os"
)

// LoggingOpts contains the configuration for the process-wide logger.
type LoggingOpts struct {
	// Debug enables debug-level logging.
	Debug bool

	// JSON switches the handler to JSON output (one object per line).
	JSON bool

	// Service is added as a 'service' tag to all log messages.
	Service string

	// Version is added as a 'version' tag to all log messages.
	Version string
}

// SetupLogger creates a slog logger according to the given options.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}

	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}

	return log
}
