// Package otel turns bus events into OpenTelemetry spans.
package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanpama/aegraph/internal/eventbus"
	"github.com/hanpama/aegraph/internal/events"
	"github.com/hanpama/aegraph/internal/reqid"
)

// Setup exports spans to the OTLP gRPC endpoint and attaches the bus
// subscribers. An empty endpoint disables tracing.
func Setup(ctx context.Context, endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Register(otel.Tracer("aegraph"))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Register subscribes span producers using tracer and returns a function
// that detaches them.
func Register(tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	return s.register()
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // rid -> trace.Span
	gqlSpans  sync.Map // rid -> trace.Span
	rpcSpans  sync.Map // call id -> trace.Span
}

// parent returns ctx carrying the innermost open span of the request.
func (s *subscriber) parent(ctx context.Context) context.Context {
	rid, ok := reqid.FromContext(ctx)
	if !ok {
		return ctx
	}
	if v, ok := s.gqlSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	if v, ok := s.httpSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

// finished records a span that already ended, from its duration.
func (s *subscriber) finished(ctx context.Context, name string, d time.Duration, err error, attrs ...attribute.KeyValue) {
	end := time.Now()
	_, span := s.tracer.Start(s.parent(ctx), name,
		trace.WithTimestamp(end.Add(-d)),
		trace.WithAttributes(attrs...))
	fail(span, err)
	span.End(trace.WithTimestamp(end))
}

func fail(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (s *subscriber) register() func() {
	var subs []func()
	on := func(unsub func()) { subs = append(subs, unsub) }

	on(eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
		)
		s.httpSpans.Store(rid, span)
	}))

	on(eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.httpSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		span.End()
	}))

	on(eventbus.Subscribe(func(ctx context.Context, e events.GraphQLStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(s.parent(ctx), "graphql.operation")
		span.SetAttributes(
			attribute.String("graphql.operation.name", e.OperationName),
			attribute.String("graphql.operation.type", e.OperationType),
		)
		s.gqlSpans.Store(rid, span)
	}))

	on(eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.gqlSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.String("graphql.outcome", e.Outcome),
			attribute.Int("graphql.error_count", len(e.Errors)),
		)
		if len(e.Errors) > 0 {
			span.SetStatus(codes.Error, e.Errors[0].Error())
		}
		span.End()
	}))

	on(eventbus.Subscribe(func(ctx context.Context, e events.RPCClientStart) {
		_, span := s.tracer.Start(s.parent(ctx), "rpc.client", trace.WithSpanKind(trace.SpanKindClient))
		span.SetAttributes(
			semconv.RPCServiceKey.String(e.Service),
			semconv.RPCMethodKey.String(e.Operation),
			attribute.String("net.peer.name", e.Target),
		)
		s.rpcSpans.Store(e.CallID, span)
	}))

	on(eventbus.Subscribe(func(ctx context.Context, e events.RPCClientFinish) {
		v, ok := s.rpcSpans.LoadAndDelete(e.CallID)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.String("rpc.grpc.code", e.Code.String()))
		fail(span, e.Err)
		span.End()
	}))

	on(eventbus.Subscribe(func(ctx context.Context, e events.RPCServerFinish) {
		s.finished(ctx, "rpc.server", e.Duration, e.Err,
			semconv.RPCServiceKey.String(e.Service),
			semconv.RPCMethodKey.String(e.Operation),
			attribute.String("rpc.grpc.code", e.Code.String()),
		)
	}))

	on(eventbus.Subscribe(func(ctx context.Context, e events.BatchDispatch) {
		s.finished(ctx, "loader.batch", e.Duration, e.Err,
			attribute.String("entity.kind", e.Kind),
			attribute.Int("batch.requested", e.Requested),
			attribute.Int("batch.size", e.Size),
			attribute.Int("batch.missing", e.Missing),
		)
	}))

	on(eventbus.Subscribe(func(ctx context.Context, e events.RootDispatch) {
		s.finished(ctx, "gateway.root", e.Duration, e.Err,
			attribute.String("rpc.service", e.Service),
			attribute.String("graphql.operation.type", e.OperationType),
			attribute.StringSlice("graphql.fields", e.Fields),
		)
	}))

	return func() {
		for _, f := range subs {
			f()
		}
	}
}
