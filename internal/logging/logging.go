// Package logging configures the process-wide slog logger: a tint console
// handler, optionally fanned out to a log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/objmirror/internal/utils"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

type Options struct {
	Level slog.Level
	// Console receives human readable output. Defaults to os.Stderr.
	Console io.Writer
	// FilePath, if set, receives every record at debug level as text.
	FilePath string
}

// ParseLevel maps a name such as "debug" or "warn" to a level. An empty name
// selects info.
func ParseLevel(name string) (slog.Level, error) {
	if strings.TrimSpace(name) == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}

// New builds a logger from opts. The returned close func flushes and closes
// the log file, if any.
func New(opts Options) (*slog.Logger, func() error, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	consoleHandler := tint.NewHandler(console, &tint.Options{
		Level:      opts.Level,
		TimeFormat: consoleTimeFormat,
		NoColor:    !isTerminal(console),
	})

	if opts.FilePath == "" {
		return slog.New(consoleHandler), func() error { return nil }, nil
	}

	if err := utils.EnsureParent(opts.FilePath); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	stamped := NewStampWriter(file)
	fileHandler := slog.NewTextHandler(stamped, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// time is written by the StampWriter
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	closer := func() error {
		if err := stamped.Close(); err != nil {
			file.Close()
			return err
		}
		return file.Close()
	}
	return slog.New(NewFanout(consoleHandler, fileHandler)), closer, nil
}

// Setup builds a logger and installs it as the slog default.
func Setup(opts Options) (func() error, error) {
	logger, closer, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
