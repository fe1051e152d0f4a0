// Package log is the structured logger used across the service: a small
// interface over log/slog that adds trace ids, error chains and stacks.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App       string
	Component string
	Version   string
	Commit    string
	BuildId   string

	Level slog.Level
	// records at or above this level carry a stack, zero means error
	StacktraceLevel slog.Level
	JsonFormat      bool

	// error_links depth, only used when IncludeErrorLinks is set
	MaxErrorLinks     int
	IncludeErrorLinks bool

	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

var levelNames = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func ParseLevel(s string) (slog.Level, error) {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
}
