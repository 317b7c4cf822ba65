package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/schema"
)

type contextKey int

const (
	windowKey contextKey = iota
	tabKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithWindow annotates the logger with the window index unless the context already carries it.
func WithWindow(ctx context.Context, window int) pslog.Logger {
	log := pslog.Ctx(ctx)
	if current, ok := ctx.Value(windowKey).(int); ok && current == window {
		return log
	}
	return log.With("window", window)
}

// WithWindowTab annotates the logger with window and tab identifiers.
func WithWindowTab(ctx context.Context, window int, tabID schema.TabID) pslog.Logger {
	log := WithWindow(ctx, window)
	if !tabID.Valid() {
		return log
	}
	if current, ok := ctx.Value(tabKey).(schema.TabID); ok && current == tabID {
		return log
	}
	return log.With("tab", int32(tabID))
}

// ContextWithWindow stores the window marker on the context for log de-duplication.
func ContextWithWindow(ctx context.Context, window int) context.Context {
	if ctx == nil || window < 0 {
		return ctx
	}
	return context.WithValue(ctx, windowKey, window)
}

// ContextWithTab stores the tab marker on the context for log de-duplication.
func ContextWithTab(ctx context.Context, tabID schema.TabID) context.Context {
	if ctx == nil || !tabID.Valid() {
		return ctx
	}
	return context.WithValue(ctx, tabKey, tabID)
}

// ContextWithWindowLogger attaches the logger and window marker to the context.
// The logger is annotated with the window field once.
func ContextWithWindowLogger(ctx context.Context, log pslog.Logger, window int) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log.With("window", window))
	return ContextWithWindow(ctx, window)
}

// CopyContextFields copies window/tab markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if window, ok := src.Value(windowKey).(int); ok {
		dst = ContextWithWindow(dst, window)
	}
	if tab, ok := src.Value(tabKey).(schema.TabID); ok {
		dst = ContextWithTab(dst, tab)
	}
	return dst
}
