package otel

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hanpama/aegraph/internal/eventbus"
	"github.com/hanpama/aegraph/internal/events"
	"github.com/hanpama/aegraph/internal/reqid"
)

func setup(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(Register(tp.Tracer("test")))
	return rec
}

func TestRequestSpansNest(t *testing.T) {
	rec := setup(t)
	ctx, _ := reqid.NewContext(context.Background())
	r := httptest.NewRequest("POST", "/graphql", nil)

	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	eventbus.Publish(ctx, events.GraphQLStart{OperationType: "query"})
	eventbus.Publish(ctx, events.RPCClientStart{CallID: 7, Service: "users", Operation: "find-by-ids"})
	eventbus.Publish(ctx, events.RPCClientFinish{CallID: 7, Service: "users", Operation: "find-by-ids"})
	eventbus.Publish(ctx, events.BatchDispatch{Kind: "User", Requested: 3, Size: 2, Duration: time.Millisecond})
	eventbus.Publish(ctx, events.GraphQLFinish{OperationType: "query"})
	eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: 200})

	spans := rec.Ended()
	require.Len(t, spans, 4)
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		byName[s.Name()] = s
	}
	httpSpan := byName["http.request"]
	gql := byName["graphql.operation"]
	require.Equal(t, httpSpan.SpanContext().SpanID(), gql.Parent().SpanID())
	require.Equal(t, gql.SpanContext().SpanID(), byName["rpc.client"].Parent().SpanID())
	require.Equal(t, gql.SpanContext().SpanID(), byName["loader.batch"].Parent().SpanID())
	require.Equal(t, time.Millisecond, byName["loader.batch"].EndTime().Sub(byName["loader.batch"].StartTime()))
}

func TestFailedCallsMarkSpans(t *testing.T) {
	rec := setup(t)
	ctx := context.Background()

	eventbus.Publish(ctx, events.RPCClientStart{CallID: 1, Service: "posts", Operation: "batch"})
	eventbus.Publish(ctx, events.RPCClientFinish{CallID: 1, Err: errors.New("unavailable")})
	eventbus.Publish(ctx, events.RootDispatch{Service: "posts", Fields: []string{"getPosts"}, Err: errors.New("unavailable")})

	spans := rec.Ended()
	require.Len(t, spans, 2)
	for _, s := range spans {
		require.Equal(t, codes.Error, s.Status().Code)
	}
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "", "gateway")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
