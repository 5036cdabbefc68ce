// Package subgraph serves the remote operations of one owning service. Each
// incoming call gets its own batching cache, so references resolved while
// serving a batch share one find-by-ids call per foreign kind.
package subgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/loader"
	"github.com/hanpama/aegraph/internal/resolve"
	"github.com/hanpama/aegraph/internal/rpc"
	"github.com/hanpama/aegraph/internal/sdk"
	"github.com/hanpama/aegraph/internal/store"
)

// Options configures a Service.
type Options struct {
	// Hasher hashes User passwords on create and update.
	Hasher Hasher
	// MaxBatch caps the ids of one find-by-ids call to a foreign owner.
	MaxBatch int
}

// Option mutates Options.
type Option func(*Options)

func WithHasher(h Hasher) Option { return func(o *Options) { o.Hasher = h } }
func WithMaxBatch(n int) Option  { return func(o *Options) { o.MaxBatch = n } }

// Service owns one entity kind.
type Service struct {
	kind     entity.Kind
	table    *entity.Table
	repo     *store.Repository
	peers    *sdk.SDK
	resolver *resolve.Resolver
	opts     Options
	server   *rpc.Server
}

// New creates the service of repo's kind. peers reaches the other owners and
// may be nil when no foreign reference is ever resolved.
func New(repo *store.Repository, peers *sdk.SDK, opts ...Option) *Service {
	o := Options{Hasher: DefaultHasher}
	for _, f := range opts {
		f(&o)
	}
	s := &Service{
		kind:  repo.Kind(),
		table: entity.MustLookup(repo.Kind()),
		repo:  repo,
		peers: peers,
		opts:  o,
	}
	s.resolver = resolve.New(s.kind, repo, s.reverse)
	s.server = rpc.NewServer(s.kind.Service(), rpc.WithScope(s.scope))
	s.routes()
	return s
}

func (s *Service) Kind() entity.Kind { return s.kind }

// Server returns the RPC server carrying the operations of s.
func (s *Service) Server() *rpc.Server { return s.server }

// Resolver returns the reference resolver of s.
func (s *Service) Resolver() *resolve.Resolver { return s.resolver }

func (s *Service) scope(ctx context.Context) context.Context {
	var lopts []loader.Option
	if s.opts.MaxBatch > 0 {
		lopts = append(lopts, loader.WithMaxBatch(s.opts.MaxBatch))
	}
	return loader.NewContext(ctx, loader.New(s.fetch, lopts...))
}

func (s *Service) fetch(ctx context.Context, kind entity.Kind, ids []int64) ([]*entity.Entity, error) {
	if kind == s.kind {
		return s.repo.FindByIDs(ctx, ids)
	}
	if s.peers == nil {
		return nil, fmt.Errorf("subgraph %s: no client for %s", s.kind.Service(), kind.Service())
	}
	return s.peers.For(kind).FindByIDs(ctx, ids)
}

func (s *Service) reverse(ctx context.Context, kind entity.Kind, field string, id int64) ([]*entity.Entity, error) {
	if s.peers == nil {
		return nil, fmt.Errorf("subgraph %s: no client for %s", s.kind.Service(), kind.Service())
	}
	return s.peers.For(kind).FindBy(ctx, sdk.Match{Field: field, Value: id})
}

func (s *Service) routes() {
	s.server.Handle(sdk.OpFindAll, s.findAll)
	s.server.Handle(sdk.OpFindByID, s.findByID)
	s.server.Handle(sdk.OpFindByIDs, s.findByIDs)
	s.server.HandlePrefix(sdk.OpFindByPrefix, s.findBy)
	s.server.Handle(sdk.OpCreate, s.create)
	s.server.Handle(sdk.OpUpdate, s.update)
	s.server.Handle(sdk.OpDelete, s.delete)
	s.server.Handle(sdk.OpResolveReferences, s.resolveReferences)
}

func wire(e *entity.Entity) any {
	if e == nil {
		return nil
	}
	return e.Wire()
}

func wireList(list []*entity.Entity) any {
	out := make([]any, len(list))
	for i, e := range list {
		out[i] = e.Wire()
	}
	return out
}

func (s *Service) findAll(ctx context.Context, _ rpc.Vars) (any, error) {
	list, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return wireList(list), nil
}

func (s *Service) findByID(ctx context.Context, vars rpc.Vars) (any, error) {
	id, err := vars.ID("id")
	if err != nil {
		return nil, err
	}
	e, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return wire(e), nil
}

func (s *Service) findByIDs(ctx context.Context, vars rpc.Vars) (any, error) {
	ids, err := vars.IDs("ids")
	if err != nil {
		return nil, err
	}
	list, err := s.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return wireList(list), nil
}

// findBy serves find-by-<field>[-and-<field>...].
func (s *Service) findBy(ctx context.Context, suffix string, vars rpc.Vars) (any, error) {
	names := strings.Split(suffix, "-and-")
	fields := make(map[string]any, len(names))
	for _, name := range names {
		c, ok := s.table.Column(name)
		if !ok || c.Secret {
			return nil, errs.Validation("operation", "unknown operation find-by-%s on %s", suffix, s.kind.Service())
		}
		if c.IsForeignKey() {
			id, err := vars.ID(name)
			if err != nil {
				return nil, err
			}
			fields[name] = id
			continue
		}
		v, err := vars.String(name)
		if err != nil {
			return nil, err
		}
		fields[name] = v
	}
	list, err := s.repo.FindBy(ctx, fields)
	if err != nil {
		return nil, err
	}
	return wireList(list), nil
}

// secrets hashes the secret fields of a create or update.
func (s *Service) secrets(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	for _, c := range s.table.Columns {
		if !c.Secret {
			continue
		}
		v, ok := out[c.Wire]
		if !ok || v == nil {
			continue
		}
		plain, isString := v.(string)
		if !isString {
			return nil, errs.Validation(c.Wire, "expected a string, got %T", v)
		}
		hashed, err := s.opts.Hasher.Hash(plain)
		if err != nil {
			return nil, err
		}
		out[c.Wire] = hashed
	}
	return out, nil
}

func (s *Service) create(ctx context.Context, vars rpc.Vars) (any, error) {
	fields, err := vars.Object("fields")
	if err != nil {
		return nil, err
	}
	if err := s.table.CheckRequired(fields); err != nil {
		return nil, err
	}
	if fields, err = s.secrets(fields); err != nil {
		return nil, err
	}
	e, err := s.repo.Create(ctx, fields)
	if err != nil {
		return nil, err
	}
	return wire(e), nil
}

func (s *Service) update(ctx context.Context, vars rpc.Vars) (any, error) {
	id, err := vars.ID("id")
	if err != nil {
		return nil, err
	}
	fields, err := vars.Object("fields")
	if err != nil {
		return nil, err
	}
	if fields, err = s.secrets(fields); err != nil {
		return nil, err
	}
	e, err := s.repo.Update(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	return wire(e), nil
}

func (s *Service) delete(ctx context.Context, vars rpc.Vars) (any, error) {
	id, err := vars.ID("id")
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NotFound(string(s.kind), id)
	}
	return true, nil
}

// resolveReferences answers a list of {__typename, id} representations in
// order. Unresolved references come back null; any failure other than not
// found fails the call.
func (s *Service) resolveReferences(ctx context.Context, vars rpc.Vars) (any, error) {
	reps, err := vars.List("representations")
	if err != nil {
		return nil, err
	}
	if len(reps) == 0 {
		return nil, errs.Validation("representations", "must not be empty")
	}
	refs := make([]entity.Ref, len(reps))
	for i, it := range reps {
		m, _ := it.(map[string]any)
		rv := rpc.Vars(m)
		name, err := rv.String("__typename")
		if err != nil {
			return nil, err
		}
		kind, err := entity.ParseKind(name)
		if err != nil {
			return nil, errs.Validation("__typename", "%v", err)
		}
		id, err := rv.ID("id")
		if err != nil {
			return nil, err
		}
		refs[i] = entity.Ref{Kind: kind, ID: id}
	}

	vals, failures := s.resolver.ResolveReferences(ctx, refs)
	out := make([]any, len(refs))
	for i := range refs {
		if err := failures[i]; err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out[i] = wire(vals[i])
	}
	return out, nil
}
