// Package resolve upgrades entity references into full entities. References
// to the resolver's own kind are read from the local repository; every other
// kind goes through the request's batching cache.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/loader"
)

// ErrNoCache is returned when a foreign reference is resolved outside of a
// request scope.
var ErrNoCache = errors.New("resolve: no request cache in context")

// Local is the repository of the kind owned by this process.
type Local interface {
	FindByID(ctx context.Context, id int64) (*entity.Entity, error)
	FindByIDs(ctx context.Context, ids []int64) ([]*entity.Entity, error)
	FindBy(ctx context.Context, fields map[string]any) ([]*entity.Entity, error)
}

// ReverseFunc lists the entities of kind whose field equals id. It is issued
// once per parent.
type ReverseFunc func(ctx context.Context, kind entity.Kind, field string, id int64) ([]*entity.Entity, error)

// Resolver is long lived; the batching cache is taken from the context of
// each call.
type Resolver struct {
	self    entity.Kind
	local   Local
	reverse ReverseFunc
}

// New creates a resolver for a service owning self. A gateway, which owns
// no kind, passes an empty self and a nil local.
func New(self entity.Kind, local Local, reverse ReverseFunc) *Resolver {
	return &Resolver{self: self, local: local, reverse: reverse}
}

func (r *Resolver) owns(kind entity.Kind) bool {
	return r.local != nil && kind == r.self
}

func cache(ctx context.Context) (*loader.Cache, error) {
	c, ok := loader.FromContext(ctx)
	if !ok {
		return nil, ErrNoCache
	}
	return c, nil
}

// ResolveReference returns the full entity behind ref.
func (r *Resolver) ResolveReference(ctx context.Context, ref entity.Ref) (*entity.Entity, error) {
	if err := entity.CheckID("id", ref.ID); err != nil {
		return nil, err
	}
	if r.owns(ref.Kind) {
		return r.local.FindByID(ctx, ref.ID)
	}
	c, err := cache(ctx)
	if err != nil {
		return nil, err
	}
	return c.Load(ctx, ref.Kind, ref.ID)
}

// ResolveReferences resolves refs of mixed kinds. All foreign references are
// enqueued before the first wait, so each foreign kind costs one remote call
// per window. Results and errors are aligned with refs. Invalid ids fail
// without being enqueued.
func (r *Resolver) ResolveReferences(ctx context.Context, refs []entity.Ref) ([]*entity.Entity, []error) {
	out := make([]*entity.Entity, len(refs))
	failures := make([]error, len(refs))

	var (
		c      *loader.Cache
		thunks = make([]*loader.Thunk, len(refs))
		local  []int
	)
	for i, ref := range refs {
		if err := entity.CheckID("id", ref.ID); err != nil {
			failures[i] = err
			continue
		}
		if r.owns(ref.Kind) {
			local = append(local, i)
			continue
		}
		if c == nil {
			var err error
			if c, err = cache(ctx); err != nil {
				for j := range failures {
					failures[j] = err
				}
				return out, failures
			}
		}
		thunks[i] = c.Enqueue(ref.Kind, ref.ID)
	}

	if len(local) > 0 {
		r.resolveLocal(ctx, refs, local, out, failures)
	}
	for i, th := range thunks {
		if th != nil {
			out[i], failures[i] = th.Wait(ctx)
		}
	}
	return out, failures
}

func (r *Resolver) resolveLocal(ctx context.Context, refs []entity.Ref, idx []int, out []*entity.Entity, failures []error) {
	ids := make([]int64, 0, len(idx))
	for _, i := range idx {
		ids = append(ids, refs[i].ID)
	}
	if len(ids) == 0 {
		return
	}
	found, err := r.local.FindByIDs(ctx, ids)
	byID := make(map[int64]*entity.Entity, len(found))
	for _, e := range found {
		byID[e.ID] = e
	}
	for _, i := range idx {
		switch e, ok := byID[refs[i].ID]; {
		case err != nil:
			failures[i] = err
		case ok:
			out[i] = e
		default:
			failures[i] = errs.NotFound(string(r.self), refs[i].ID)
		}
	}
}

// ExpandForeignField follows the foreign key field of parent. A null key
// yields a nil entity and no error.
func (r *Resolver) ExpandForeignField(ctx context.Context, parent *entity.Entity, field string) (*entity.Entity, error) {
	ref, ok, err := foreignRef(parent, field)
	if err != nil || !ok {
		return nil, err
	}
	return r.ResolveReference(ctx, ref)
}

// Edge is one foreign key field of one parent.
type Edge struct {
	Parent *entity.Entity
	Field  string
}

// ExpandForeignFields follows field on every parent with one window per
// target kind. Parents with a null key yield nil without error.
func (r *Resolver) ExpandForeignFields(ctx context.Context, parents []*entity.Entity, field string) ([]*entity.Entity, []error) {
	edges := make([]Edge, len(parents))
	for i, p := range parents {
		edges[i] = Edge{Parent: p, Field: field}
	}
	return r.ExpandEdges(ctx, edges)
}

// ExpandEdges follows edges that may differ in field and target kind. Every
// reference is enqueued before the first wait, so each target kind costs one
// window however many fields point at it.
func (r *Resolver) ExpandEdges(ctx context.Context, edges []Edge) ([]*entity.Entity, []error) {
	out := make([]*entity.Entity, len(edges))
	failures := make([]error, len(edges))
	refs := make([]entity.Ref, 0, len(edges))
	pos := make([]int, 0, len(edges))
	for i, e := range edges {
		ref, ok, err := foreignRef(e.Parent, e.Field)
		if err != nil {
			failures[i] = err
			continue
		}
		if !ok {
			continue
		}
		refs = append(refs, ref)
		pos = append(pos, i)
	}
	if len(refs) == 0 {
		return out, failures
	}
	vals, fails := r.ResolveReferences(ctx, refs)
	for j, i := range pos {
		out[i], failures[i] = vals[j], fails[j]
	}
	return out, failures
}

// ExpandReverseRelation lists the entities of target whose foreignKey points
// at parent. Each parent costs one call to the owner of target.
func (r *Resolver) ExpandReverseRelation(ctx context.Context, parent *entity.Entity, target entity.Kind, foreignKey string) ([]*entity.Entity, error) {
	if parent == nil {
		return nil, nil
	}
	t, err := entity.Lookup(target)
	if err != nil {
		return nil, err
	}
	c, ok := t.Column(foreignKey)
	if !ok || c.Ref != parent.Kind {
		return nil, fmt.Errorf("resolve: %s.%s does not reference %s", target, foreignKey, parent.Kind)
	}
	if r.owns(target) {
		return r.local.FindBy(ctx, map[string]any{foreignKey: parent.ID})
	}
	if r.reverse == nil {
		return nil, fmt.Errorf("resolve: no reverse lookup for %s", target)
	}
	return r.reverse(ctx, target, foreignKey, parent.ID)
}

// Upgrade turns a Value into a full entity. Full entities are returned as
// they are.
func (r *Resolver) Upgrade(ctx context.Context, v entity.Value) (*entity.Entity, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *entity.Entity:
		return t, nil
	default:
		return r.ResolveReference(ctx, v.Ref())
	}
}

func foreignRef(parent *entity.Entity, field string) (entity.Ref, bool, error) {
	if parent == nil {
		return entity.Ref{}, false, nil
	}
	t, err := entity.Lookup(parent.Kind)
	if err != nil {
		return entity.Ref{}, false, err
	}
	c, ok := t.Column(field)
	if !ok || !c.IsForeignKey() {
		return entity.Ref{}, false, fmt.Errorf("resolve: %s.%s is not a foreign key", parent.Kind, field)
	}
	id, ok := parent.ForeignKey(field)
	if !ok {
		return entity.Ref{}, false, nil
	}
	return entity.Ref{Kind: c.Ref, ID: id}, true, nil
}
