package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hanpama/aegraph/internal/assemble"
	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/eventbus"
	"github.com/hanpama/aegraph/internal/events"
	"github.com/hanpama/aegraph/internal/loader"
	"github.com/hanpama/aegraph/internal/resolve"
	"github.com/hanpama/aegraph/internal/rpc"
	"github.com/hanpama/aegraph/internal/sdk"
)

// Batcher sends several operations to one service as a single call.
type Batcher interface {
	Batch(ctx context.Context, service string, calls []rpc.BatchCall) ([]rpc.BatchResult, error)
}

// Router is the assemble.Runtime of the gateway. Root fields are sent to
// their owners, one batch call per owner; relations are expanded through
// the request's batching cache.
type Router struct {
	batcher     Batcher
	sdk         *sdk.SDK
	resolver    *resolve.Resolver
	concurrency int
}

func NewRouter(b Batcher, s *sdk.SDK, concurrency int) *Router {
	r := &Router{batcher: b, sdk: s, concurrency: concurrency}
	r.resolver = resolve.New("", nil, r.reverse)
	return r
}

func (r *Router) reverse(ctx context.Context, kind entity.Kind, field string, id int64) ([]*entity.Entity, error) {
	return r.sdk.For(kind).FindBy(ctx, sdk.Match{Field: field, Value: id})
}

func (r *Router) ResolveSync(_ context.Context, objectType, field string, source any, _ map[string]any) (any, error) {
	e, ok := source.(*entity.Entity)
	if !ok || e == nil {
		return nil, fmt.Errorf("%s.%s: unexpected source %T", objectType, field, source)
	}
	v, _ := e.Get(field)
	return v, nil
}

func (r *Router) SerializeLeafValue(_ context.Context, typeName string, value any) (any, error) {
	switch typeName {
	case "ID", "String":
		if v, ok := value.(string); ok {
			return v, nil
		}
		if n, err := entity.ToInt64(value); err == nil {
			return strconv.FormatInt(n, 10), nil
		}
	case "Int":
		return entity.ToInt64(value)
	case "Boolean":
		if v, ok := value.(bool); ok {
			return v, nil
		}
	default:
		return value, nil
	}
	return nil, fmt.Errorf("cannot serialize %T as %s", value, typeName)
}

func (r *Router) BatchResolveAsync(ctx context.Context, tasks []assemble.AsyncResolveTask) []assemble.AsyncResolveResult {
	out := make([]assemble.AsyncResolveResult, len(tasks))
	var rootIdx, forwardIdx, reverseIdx []int
	for i, t := range tasks {
		key := t.ObjectType + "." + t.Field
		if _, ok := roots[key]; ok {
			rootIdx = append(rootIdx, i)
			continue
		}
		rel, ok := relations[key]
		switch {
		case !ok:
			out[i].Error = fmt.Errorf("no resolver for %s", key)
		case rel.reverse:
			reverseIdx = append(reverseIdx, i)
		default:
			forwardIdx = append(forwardIdx, i)
		}
	}
	if len(rootIdx) > 0 {
		r.resolveRoots(ctx, tasks, rootIdx, out)
	}

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	if len(forwardIdx) > 0 {
		g.Go(func() error {
			r.resolveForward(ctx, tasks, forwardIdx, out)
			return nil
		})
	}
	for _, i := range reverseIdx {
		g.Go(func() error {
			out[i] = r.resolveReverse(ctx, tasks[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// resolveForward follows every forward relation of the depth at once, so
// each target kind costs one find-by-ids call.
func (r *Router) resolveForward(ctx context.Context, tasks []assemble.AsyncResolveTask, idx []int, out []assemble.AsyncResolveResult) {
	edges := make([]resolve.Edge, len(idx))
	for j, i := range idx {
		parent, _ := tasks[i].Source.(*entity.Entity)
		edges[j] = resolve.Edge{Parent: parent, Field: relations[tasks[i].ObjectType+"."+tasks[i].Field].key}
	}
	vals, failures := r.resolver.ExpandEdges(ctx, edges)
	for j, i := range idx {
		if err := failures[j]; err != nil {
			out[i].Error = errs.Partial(tasks[i].ObjectType+"."+tasks[i].Field, err)
			continue
		}
		if vals[j] != nil {
			out[i].Value = vals[j]
		}
	}
}

func (r *Router) resolveReverse(ctx context.Context, t assemble.AsyncResolveTask) assemble.AsyncResolveResult {
	rel := relations[t.ObjectType+"."+t.Field]
	parent, _ := t.Source.(*entity.Entity)
	list, err := r.resolver.ExpandReverseRelation(ctx, parent, rel.target, rel.key)
	if err != nil {
		return assemble.AsyncResolveResult{Error: errs.Partial(t.ObjectType+"."+t.Field, err)}
	}
	if c, ok := loader.FromContext(ctx); ok {
		for _, e := range list {
			c.Prime(e)
		}
	}
	return assemble.AsyncResolveResult{Value: list}
}

// dispatch is the set of root fields sent to one owner in one call.
type dispatch struct {
	service string
	kind    entity.Kind
	idx     []int
	calls   []sdk.Prepared
}

func (r *Router) resolveRoots(ctx context.Context, tasks []assemble.AsyncResolveTask, idx []int, out []assemble.AsyncResolveResult) {
	mutation := tasks[idx[0]].ObjectType == "Mutation"
	var plan []*dispatch
	byService := map[string]*dispatch{}
	for _, i := range idx {
		b := roots[tasks[i].ObjectType+"."+tasks[i].Field]
		p, err := b.prepare(r.sdk.For(b.kind), tasks[i].Args)
		if err != nil {
			out[i].Error = err
			continue
		}
		service := b.kind.Service()
		d := byService[service]
		if mutation {
			// Document order: consecutive fields of one owner share a call.
			if n := len(plan); n == 0 || plan[n-1].service != service {
				d = nil
			} else {
				d = plan[n-1]
			}
		}
		if d == nil {
			d = &dispatch{service: service, kind: b.kind}
			plan = append(plan, d)
			byService[service] = d
		}
		d.idx = append(d.idx, i)
		d.calls = append(d.calls, p)
	}

	opType := "query"
	if mutation {
		opType = "mutation"
		for _, d := range plan {
			r.send(ctx, opType, d, tasks, out)
		}
		return
	}
	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for _, d := range plan {
		g.Go(func() error {
			r.send(ctx, opType, d, tasks, out)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Router) send(ctx context.Context, opType string, d *dispatch, tasks []assemble.AsyncResolveTask, out []assemble.AsyncResolveResult) {
	calls := make([]rpc.BatchCall, len(d.calls))
	fields := make([]string, len(d.calls))
	for j, p := range d.calls {
		calls[j] = rpc.BatchCall{Operation: p.Operation, Variables: p.Variables}
		fields[j] = tasks[d.idx[j]].Field
	}

	start := time.Now()
	results, err := r.batcher.Batch(ctx, d.service, calls)
	eventbus.Publish(ctx, events.RootDispatch{
		Service:       d.service,
		OperationType: opType,
		Fields:        fields,
		Err:           err,
		Duration:      time.Since(start),
	})
	if err != nil {
		for _, i := range d.idx {
			out[i].Error = err
		}
		return
	}

	cache, _ := loader.FromContext(ctx)
	for j, i := range d.idx {
		if results[j].Err != nil {
			out[i].Error = results[j].Err
			continue
		}
		v, err := d.calls[j].Decode(results[j].Data)
		if err != nil {
			out[i].Error = err
			continue
		}
		out[i].Value = v
		if cache != nil {
			prime(cache, v)
		}
	}
}

// prime makes entities returned by root fields available to later
// references of the same request.
func prime(c *loader.Cache, v any) {
	switch t := v.(type) {
	case *entity.Entity:
		c.Prime(t)
	case []*entity.Entity:
		for _, e := range t {
			c.Prime(e)
		}
	}
}
