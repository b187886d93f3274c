package logging

import (
	"io"
	"log/slog"
	"os"
)

// SetupJSON sets slog's default logger to JSON on stdout at the given level,
// tagging every entry with the service name.
func SetupJSON(service string, level slog.Level) {
	slog.SetDefault(New(os.Stdout, service, level))
}

// New returns a JSON logger writing to w.
func New(w io.Writer, service string, level slog.Level) *slog.Logger {
	return slog.New(
		slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}),
	).With("service", service)
}
