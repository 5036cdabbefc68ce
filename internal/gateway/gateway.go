// Package gateway serves the public GraphQL schema. Root fields are routed
// to the services owning their kind, and relations between kinds are
// expanded through a request scoped batching cache.
package gateway

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/hanpama/aegraph/internal/assemble"
	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/eventbus"
	"github.com/hanpama/aegraph/internal/events"
	"github.com/hanpama/aegraph/internal/introspection"
	"github.com/hanpama/aegraph/internal/language"
	"github.com/hanpama/aegraph/internal/loader"
	"github.com/hanpama/aegraph/internal/schema"
	"github.com/hanpama/aegraph/internal/sdk"
)

//go:embed schema.graphql
var sdl string

// SDL returns the public schema document.
func SDL() string { return sdl }

// Options configures a Gateway.
type Options struct {
	// MaxBatch caps the ids of one find-by-ids call. Zero means no cap.
	MaxBatch int
	// Concurrency caps the calls in flight for one depth. Zero means no cap.
	Concurrency int
	// Introspection answers __schema and __type. On by default.
	Introspection bool
}

type Option func(*Options)

func WithMaxBatch(n int) Option    { return func(o *Options) { o.MaxBatch = n } }
func WithConcurrency(n int) Option { return func(o *Options) { o.Concurrency = n } }

func WithIntrospection(enabled bool) Option {
	return func(o *Options) { o.Introspection = enabled }
}

type Gateway struct {
	opts      Options
	sdk       *sdk.SDK
	schema    *schema.Schema
	validator *language.Schema
	assembler *assemble.Assembler
}

// Client reaches the owning services; *rpc.Client implements it.
type Client interface {
	sdk.Caller
	Batcher
}

// New creates a gateway reaching the owners through client.
func New(client Client, opts ...Option) (*Gateway, error) {
	o := Options{Introspection: true}
	for _, f := range opts {
		f(&o)
	}
	s, validator, err := schema.BuildFromSDL(sdl, isAsync)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	g := &Gateway{opts: o, sdk: sdk.New(client), schema: s, validator: validator}
	var rt assemble.Runtime = NewRouter(client, g.sdk, o.Concurrency)
	exec := s
	if o.Introspection {
		rt, exec = introspection.Wrap(rt, s, validator)
	}
	g.assembler = assemble.New(rt, exec)
	return g, nil
}

func (g *Gateway) Schema() *schema.Schema { return g.schema }

func (g *Gateway) fetch(ctx context.Context, kind entity.Kind, ids []int64) ([]*entity.Entity, error) {
	return g.sdk.For(kind).FindByIDs(ctx, ids)
}

// Execute validates and runs one GraphQL request. Each call gets its own
// batching cache.
func (g *Gateway) Execute(ctx context.Context, query, operationName string, variables map[string]any) *assemble.Result {
	start := time.Now()
	var lopts []loader.Option
	if g.opts.MaxBatch > 0 {
		lopts = append(lopts, loader.WithMaxBatch(g.opts.MaxBatch))
	}
	ctx = loader.NewContext(ctx, loader.New(g.fetch, lopts...))

	doc, list := language.LoadQuery(g.validator, query)
	var res *assemble.Result
	opType := ""
	if len(list) > 0 {
		res = assemble.Invalid(list)
	} else if op, err := assemble.Operation(doc, operationName); err == nil {
		opType = string(op.Operation)
	}
	eventbus.Publish(ctx, events.GraphQLStart{Query: query, OperationName: operationName, OperationType: opType})
	if res == nil {
		res = g.assembler.Execute(ctx, doc, operationName, variables, nil)
	}

	var failures []error
	for _, e := range res.Errors {
		failures = append(failures, e)
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		OperationName: operationName,
		OperationType: opType,
		Outcome:       outcome(res, len(list) > 0),
		Errors:        failures,
		Duration:      time.Since(start),
	})
	return res
}

func outcome(res *assemble.Result, invalid bool) string {
	switch {
	case invalid:
		return events.OutcomeInvalid
	case len(res.Errors) == 0:
		return events.OutcomeOK
	case res.Data != nil:
		return events.OutcomePartial
	}
	return events.OutcomeFailed
}
