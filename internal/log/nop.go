package log

import "context"

// Nop returns a Logger that drops everything. Components built without a
// logger (the publish API, the admin listener, request contexts that never
// passed through the logging middleware) fall back to it.
func Nop() Logger { return discard{} }

type discard struct{}

func (d discard) With(...any) Logger { return d }

func (discard) Debug(context.Context, string, ...any) {}

func (discard) Info(context.Context, string, ...any) {}

func (discard) Warn(context.Context, string, ...any) {}

func (discard) Error(context.Context, error, string, ...any) {}

func (discard) Sync() error { return nil }
