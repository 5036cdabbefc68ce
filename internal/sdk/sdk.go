// Package sdk is the typed client of the subgraph operations. Every method
// validates its input before anything is sent, so malformed ids never reach
// a remote service.
package sdk

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/errs"
)

// Operation names understood by every subgraph.
const (
	OpFindAll           = "find-all"
	OpFindByID          = "find-by-id"
	OpFindByIDs         = "find-by-ids"
	OpFindByPrefix      = "find-by-"
	OpCreate            = "create"
	OpUpdate            = "update"
	OpDelete            = "delete"
	OpResolveReferences = "resolve-references"
)

// Caller is the part of rpc.Client the SDK needs.
type Caller interface {
	Call(ctx context.Context, service, operation string, vars map[string]any) (any, error)
}

// SDK groups one typed client per entity kind.
type SDK struct {
	caller Caller
	kinds  map[entity.Kind]*Entities
}

func New(c Caller) *SDK {
	s := &SDK{caller: c, kinds: make(map[entity.Kind]*Entities, len(entity.Kinds))}
	for _, k := range entity.Kinds {
		s.kinds[k] = &Entities{kind: k, table: entity.MustLookup(k), caller: c}
	}
	return s
}

// For returns the client of kind.
func (s *SDK) For(kind entity.Kind) *Entities {
	e, ok := s.kinds[kind]
	if !ok {
		panic(fmt.Sprintf("sdk: unknown kind %q", kind))
	}
	return e
}

func (s *SDK) Users() *Entities      { return s.For(entity.User) }
func (s *SDK) Posts() *Entities      { return s.For(entity.Post) }
func (s *SDK) Comments() *Entities   { return s.For(entity.Comment) }
func (s *SDK) Categories() *Entities { return s.For(entity.Category) }

// Entities is the typed client of one kind's owning service.
type Entities struct {
	kind   entity.Kind
	table  *entity.Table
	caller Caller
}

func (e *Entities) Kind() entity.Kind { return e.kind }

func (e *Entities) call(ctx context.Context, op string, vars map[string]any) (any, error) {
	return e.caller.Call(ctx, e.kind.Service(), op, vars)
}

// Prepared is a validated operation of one kind, ready to be sent on its own
// or as an item of a batch.
type Prepared struct {
	Kind      entity.Kind
	Operation string
	Variables map[string]any
	decode    func(res any) (any, error)
}

// Decode converts the raw result of p into *entity.Entity,
// []*entity.Entity or bool depending on the operation.
func (p Prepared) Decode(res any) (any, error) {
	if p.decode == nil {
		return res, nil
	}
	return p.decode(res)
}

func (e *Entities) do(ctx context.Context, p Prepared, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	res, err := e.call(ctx, p.Operation, p.Variables)
	if err != nil {
		return nil, err
	}
	return p.Decode(res)
}

func (e *Entities) prepared(op string, vars map[string]any, decode func(any) (any, error)) Prepared {
	return Prepared{Kind: e.kind, Operation: op, Variables: vars, decode: decode}
}

func (e *Entities) one(missing error) func(any) (any, error) {
	return func(res any) (any, error) {
		if res == nil {
			return nil, missing
		}
		return DecodeEntity(e.kind, res)
	}
}

func (e *Entities) many(res any) (any, error) { return DecodeEntities(e.kind, res) }

func entities(v any, err error) ([]*entity.Entity, error) {
	if err != nil {
		return nil, err
	}
	return v.([]*entity.Entity), nil
}

func single(v any, err error) (*entity.Entity, error) {
	if err != nil {
		return nil, err
	}
	return v.(*entity.Entity), nil
}

func (e *Entities) PrepareFindAll() Prepared {
	return e.prepared(OpFindAll, nil, e.many)
}

func (e *Entities) FindAll(ctx context.Context) ([]*entity.Entity, error) {
	return entities(e.do(ctx, e.PrepareFindAll(), nil))
}

func (e *Entities) PrepareFindByID(id int64) (Prepared, error) {
	if err := CheckID("id", id); err != nil {
		return Prepared{}, err
	}
	return e.prepared(OpFindByID, map[string]any{"id": id}, e.one(errs.NotFound(string(e.kind), id))), nil
}

func (e *Entities) FindByID(ctx context.Context, id int64) (*entity.Entity, error) {
	p, err := e.PrepareFindByID(id)
	return single(e.do(ctx, p, err))
}

func (e *Entities) PrepareFindByIDs(ids []int64) (Prepared, error) {
	if err := CheckIDs("ids", ids); err != nil {
		return Prepared{}, err
	}
	return e.prepared(OpFindByIDs, map[string]any{"ids": ids}, e.many), nil
}

// FindByIDs returns the entities found among ids, in no particular order.
// Missing ids are simply absent from the result.
func (e *Entities) FindByIDs(ctx context.Context, ids []int64) ([]*entity.Entity, error) {
	p, err := e.PrepareFindByIDs(ids)
	return entities(e.do(ctx, p, err))
}

// Match is one equality condition of FindBy.
type Match struct {
	Field string
	Value any
}

// FindByOperation names the operation matching fields, e.g.
// find-by-userId-and-categoryId.
func FindByOperation(fields ...string) string {
	return OpFindByPrefix + strings.Join(fields, "-and-")
}

func (e *Entities) PrepareFindBy(matches ...Match) (Prepared, error) {
	if len(matches) == 0 {
		return Prepared{}, errs.Validation("filter", "at least one field is required")
	}
	fields := make([]string, len(matches))
	vars := make(map[string]any, len(matches))
	for i, m := range matches {
		c, ok := e.table.Column(m.Field)
		if !ok {
			return Prepared{}, errs.Validation(m.Field, "unknown field of %s", e.kind)
		}
		if m.Value == nil {
			return Prepared{}, errs.Validation(m.Field, "is required")
		}
		if c.IsForeignKey() {
			id, err := entity.ToInt64(m.Value)
			if err != nil {
				return Prepared{}, errs.Validation(m.Field, "invalid id %v", m.Value)
			}
			if err := CheckID(m.Field, id); err != nil {
				return Prepared{}, err
			}
			m.Value = id
		}
		if s, ok := m.Value.(string); ok && s == "" {
			return Prepared{}, errs.Validation(m.Field, "must not be empty")
		}
		fields[i] = m.Field
		vars[m.Field] = m.Value
	}
	return e.prepared(FindByOperation(fields...), vars, e.many), nil
}

// FindBy returns the entities whose fields equal every match.
func (e *Entities) FindBy(ctx context.Context, matches ...Match) ([]*entity.Entity, error) {
	p, err := e.PrepareFindBy(matches...)
	return entities(e.do(ctx, p, err))
}

// PrepareFindOne looks an entity up by a unique field. An empty result
// decodes to a NotFoundError.
func (e *Entities) PrepareFindOne(field string, value any) (Prepared, error) {
	p, err := e.PrepareFindBy(Match{Field: field, Value: value})
	if err != nil {
		return Prepared{}, err
	}
	p.decode = func(res any) (any, error) {
		found, err := DecodeEntities(e.kind, res)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, errs.NotFoundBy(string(e.kind), fmt.Sprintf("%s=%v", field, value))
		}
		return found[0], nil
	}
	return p, nil
}

func (e *Entities) FindOne(ctx context.Context, field string, value any) (*entity.Entity, error) {
	p, err := e.PrepareFindOne(field, value)
	return single(e.do(ctx, p, err))
}

func (e *Entities) PrepareCreate(fields map[string]any) (Prepared, error) {
	if err := e.table.CheckRequired(fields); err != nil {
		return Prepared{}, err
	}
	if _, err := e.table.ToRow(fields); err != nil {
		return Prepared{}, err
	}
	return e.prepared(OpCreate, map[string]any{"fields": fields}, e.one(errs.Transport(e.kind.Service(), OpCreate, fmt.Errorf("empty result")))), nil
}

func (e *Entities) Create(ctx context.Context, fields map[string]any) (*entity.Entity, error) {
	p, err := e.PrepareCreate(fields)
	return single(e.do(ctx, p, err))
}

func (e *Entities) PrepareUpdate(id int64, fields map[string]any) (Prepared, error) {
	if err := CheckID("id", id); err != nil {
		return Prepared{}, err
	}
	if _, err := e.table.ToRow(fields); err != nil {
		return Prepared{}, err
	}
	return e.prepared(OpUpdate, map[string]any{"id": id, "fields": fields}, e.one(errs.NotFound(string(e.kind), id))), nil
}

// Update changes the given fields of id. Fields that are absent keep their
// current value.
func (e *Entities) Update(ctx context.Context, id int64, fields map[string]any) (*entity.Entity, error) {
	p, err := e.PrepareUpdate(id, fields)
	return single(e.do(ctx, p, err))
}

func (e *Entities) PrepareDelete(id int64) (Prepared, error) {
	if err := CheckID("id", id); err != nil {
		return Prepared{}, err
	}
	return e.prepared(OpDelete, map[string]any{"id": id}, func(res any) (any, error) {
		ok, _ := res.(bool)
		return ok, nil
	}), nil
}

// Delete reports whether an entity was removed.
func (e *Entities) Delete(ctx context.Context, id int64) (bool, error) {
	p, err := e.PrepareDelete(id)
	v, err := e.do(ctx, p, err)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// ResolveReferences upgrades references of any kind through this service's
// resolver. The result is aligned with refs; an unresolved reference yields
// a nil entity and its error.
func (e *Entities) ResolveReferences(ctx context.Context, refs []entity.Ref) ([]*entity.Entity, []error, error) {
	if len(refs) == 0 {
		return nil, nil, errs.Validation("representations", "must not be empty")
	}
	reps := make([]any, len(refs))
	for i, r := range refs {
		if err := CheckID("representations.id", r.ID); err != nil {
			return nil, nil, err
		}
		reps[i] = map[string]any{"__typename": string(r.Kind), "id": r.ID}
	}
	res, err := e.call(ctx, OpResolveReferences, map[string]any{"representations": reps})
	if err != nil {
		return nil, nil, err
	}
	list, ok := res.([]any)
	if !ok || len(list) != len(refs) {
		return nil, nil, errs.Transport(e.kind.Service(), OpResolveReferences, fmt.Errorf("expected %d results", len(refs)))
	}
	out := make([]*entity.Entity, len(refs))
	failures := make([]error, len(refs))
	for i, it := range list {
		if it == nil {
			failures[i] = errs.NotFound(string(refs[i].Kind), refs[i].ID)
			continue
		}
		ent, err := DecodeEntity(refs[i].Kind, it)
		if err != nil {
			failures[i] = err
			continue
		}
		out[i] = ent
	}
	return out, failures, nil
}

// CheckID rejects non-positive ids and ids above entity.MaxID.
func CheckID(field string, id int64) error { return entity.CheckID(field, id) }

// CheckIDs rejects an empty list and any non-positive id.
func CheckIDs(field string, ids []int64) error {
	if len(ids) == 0 {
		return errs.Validation(field, "must not be empty")
	}
	for _, id := range ids {
		if err := CheckID(field, id); err != nil {
			return err
		}
	}
	return nil
}

// DecodeEntity decodes one entity from its wire form.
func DecodeEntity(kind entity.Kind, v any) (*entity.Entity, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errs.Transport(kind.Service(), "decode", fmt.Errorf("expected %s object, got %T", kind, v))
	}
	return entity.FromWire(kind, m)
}

// DecodeEntities decodes a list of entities, skipping null items.
func DecodeEntities(kind entity.Kind, v any) ([]*entity.Entity, error) {
	if v == nil {
		return []*entity.Entity{}, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, errs.Transport(kind.Service(), "decode", fmt.Errorf("expected %s list, got %T", kind, v))
	}
	out := make([]*entity.Entity, 0, len(list))
	for _, it := range list {
		if it == nil {
			continue
		}
		e, err := DecodeEntity(kind, it)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// SortByID orders entities by ascending id.
func SortByID(list []*entity.Entity) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}
