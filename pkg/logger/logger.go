// Package logger builds the slog loggers a fuzzing run writes to. Every
// long-lived component logs through For so records carry a component
// attribute, and sequences are logged with Sequence.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/vikasavnish/seqfuzz/pkg/config"
)

// Components tag the records of the long-lived parts of a run.
const (
	ComponentDriver     = "driver"
	ComponentExecutor   = "executor"
	ComponentGC         = "gc"
	ComponentChecker    = "checker"
	ComponentBugBuckets = "bug_buckets"
)

// New builds a logger from the logger settings section. The returned
// closer releases a log file and must be called once the run ends.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	w, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output %q: %w", cfg.Output, err)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer, nil
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// For returns l tagged with component. A nil l yields a Nop logger.
func For(l *slog.Logger, component string) *slog.Logger {
	if l == nil {
		l = Nop()
	}
	return l.With(slog.String("component", component))
}

// Sequence logs request ids as one "a>b>c" attribute.
func Sequence(ids []string) slog.Attr {
	return slog.String("sequence", strings.Join(ids, ">"))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// openOutput resolves stdout, stderr (the default) or a file path
// appended to.
func openOutput(output string) (io.Writer, func() error, error) {
	nop := func() error { return nil }
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, nop, nil
	case "stderr", "":
		return os.Stderr, nop, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
