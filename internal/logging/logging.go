// Package logging builds slog loggers and logs bus events.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hanpama/aegraph/internal/eventbus"
	"github.com/hanpama/aegraph/internal/events"
	"github.com/hanpama/aegraph/internal/reqid"
)

// ParseLevel accepts debug, info, warn and error, case-insensitively. An
// empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// New returns a logger writing to w in format "text" or "json".
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func attrs(ctx context.Context, args ...any) []any {
	if id, ok := reqid.FromContext(ctx); ok {
		return append([]any{"request_id", id}, args...)
	}
	return args
}

// Subscribe logs requests at info and subgraph calls at debug. Failures of
// either are logged at warn.
func Subscribe(log *slog.Logger) (unsubscribe func()) {
	subs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			log.InfoContext(ctx, "http request", attrs(ctx,
				"method", e.Request.Method,
				"path", e.Request.URL.Path,
				"status", e.Status,
				"operations", e.Operations,
				"duration", e.Duration)...)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
			args := attrs(ctx,
				"operation", e.OperationName,
				"type", e.OperationType,
				"outcome", e.Outcome,
				"errors", len(e.Errors),
				"duration", e.Duration)
			if len(e.Errors) > 0 {
				log.WarnContext(ctx, "graphql operation", append(args, "first_error", e.Errors[0].Error())...)
				return
			}
			log.InfoContext(ctx, "graphql operation", args...)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.RootDispatch) {
			log.DebugContext(ctx, "root dispatch", attrs(ctx,
				"service", e.Service,
				"fields", e.Fields,
				"duration", e.Duration)...)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.BatchDispatch) {
			level := slog.LevelDebug
			args := attrs(ctx,
				"kind", e.Kind,
				"requested", e.Requested,
				"size", e.Size,
				"missing", e.Missing,
				"duration", e.Duration)
			if e.Err != nil {
				level = slog.LevelWarn
				args = append(args, "err", e.Err)
			}
			log.Log(ctx, level, "batch dispatch", args...)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.RPCClientFinish) {
			level := slog.LevelDebug
			args := attrs(ctx,
				"service", e.Service,
				"operation", e.Operation,
				"target", e.Target,
				"code", e.Code.String(),
				"duration", e.Duration)
			if e.Err != nil {
				level = slog.LevelWarn
				args = append(args, "err", e.Err)
			}
			log.Log(ctx, level, "rpc call", args...)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.RPCServerFinish) {
			log.DebugContext(ctx, "rpc served", attrs(ctx,
				"service", e.Service,
				"operation", e.Operation,
				"code", e.Code.String(),
				"duration", e.Duration)...)
		}),
	}
	return func() {
		for _, f := range subs {
			f()
		}
	}
}
