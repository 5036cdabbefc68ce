// Package store is the per-service repository layer. A Repository speaks
// wire field names and entities; the Table below it speaks storage column
// names and raw rows.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/errs"
)

// Filter is a conjunction of equality conditions keyed by storage column.
// An []int64 value matches any of its ids.
type Filter map[string]any

// Row is one storage row keyed by column name.
type Row = map[string]any

// Table is the storage of one entity kind. Implementations order Select
// results by id.
type Table interface {
	Select(ctx context.Context, f Filter) ([]Row, error)
	// Insert stores values and returns the full row with its assigned id.
	Insert(ctx context.Context, values Row) (Row, error)
	// Update applies values to the row with id. It returns nil when no
	// such row exists.
	Update(ctx context.Context, id int64, values Row) (Row, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// Repository serves the entities of one kind from a Table.
type Repository struct {
	table *entity.Table
	rows  Table
	now   func() time.Time
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the clock used for created_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func NewRepository(kind entity.Kind, rows Table, opts ...Option) (*Repository, error) {
	t, err := entity.Lookup(kind)
	if err != nil {
		return nil, err
	}
	r := &Repository{table: t, rows: rows, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

func (r *Repository) Kind() entity.Kind { return r.table.Kind }

func (r *Repository) entities(rows []Row) ([]*entity.Entity, error) {
	out := make([]*entity.Entity, 0, len(rows))
	for _, row := range rows {
		e, err := r.table.FromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Repository) FindAll(ctx context.Context) ([]*entity.Entity, error) {
	rows, err := r.rows.Select(ctx, nil)
	if err != nil {
		return nil, err
	}
	return r.entities(rows)
}

// FindByID returns a NotFoundError when id does not exist.
func (r *Repository) FindByID(ctx context.Context, id int64) (*entity.Entity, error) {
	rows, err := r.rows.Select(ctx, Filter{entity.ColumnID: id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.NotFound(string(r.table.Kind), id)
	}
	return r.table.FromRow(rows[0])
}

// FindByIDs returns the entities that exist among ids. Order follows the
// table, not the input.
func (r *Repository) FindByIDs(ctx context.Context, ids []int64) ([]*entity.Entity, error) {
	if len(ids) == 0 {
		return nil, errs.Validation("ids", "must not be empty")
	}
	rows, err := r.rows.Select(ctx, Filter{entity.ColumnID: ids})
	if err != nil {
		return nil, err
	}
	return r.entities(rows)
}

// FindBy matches wire fields by equality.
func (r *Repository) FindBy(ctx context.Context, fields map[string]any) ([]*entity.Entity, error) {
	if len(fields) == 0 {
		return nil, errs.Validation("filter", "at least one field is required")
	}
	f := make(Filter, len(fields))
	for name, v := range fields {
		col, err := r.table.StorageName(name)
		if err != nil {
			return nil, err
		}
		c, _ := r.table.Column(name)
		if c.Type == entity.TypeInt || col == entity.ColumnID {
			id, err := entity.ToInt64(v)
			if err != nil {
				return nil, errs.Validation(name, "invalid value %v", v)
			}
			v = id
		}
		f[col] = v
	}
	rows, err := r.rows.Select(ctx, f)
	if err != nil {
		return nil, err
	}
	return r.entities(rows)
}

// Create inserts a new entity. Every required field must be present.
func (r *Repository) Create(ctx context.Context, fields map[string]any) (*entity.Entity, error) {
	if err := r.table.CheckRequired(fields); err != nil {
		return nil, err
	}
	values, err := r.table.ToRow(fields)
	if err != nil {
		return nil, err
	}
	now := r.now()
	values[entity.ColumnCreatedAt] = now
	values[entity.ColumnUpdatedAt] = now
	row, err := r.rows.Insert(ctx, values)
	if err != nil {
		return nil, err
	}
	return r.table.FromRow(row)
}

// Update changes the given fields. Absent or null fields keep their current
// value and updated_at is always refreshed. A missing id is a NotFoundError.
func (r *Repository) Update(ctx context.Context, id int64, fields map[string]any) (*entity.Entity, error) {
	present := make(map[string]any, len(fields))
	for k, v := range fields {
		if v != nil {
			present[k] = v
		}
	}
	values, err := r.table.ToRow(present)
	if err != nil {
		return nil, err
	}
	for _, c := range r.table.Columns {
		if s, ok := values[c.Storage].(string); ok && s == "" && c.Required {
			return nil, errs.Validation(c.Wire, "must not be empty")
		}
	}
	values[entity.ColumnUpdatedAt] = r.now()
	row, err := r.rows.Update(ctx, id, values)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errs.NotFound(string(r.table.Kind), id)
	}
	return r.table.FromRow(row)
}

// Delete reports whether a row was removed.
func (r *Repository) Delete(ctx context.Context, id int64) (bool, error) {
	return r.rows.Delete(ctx, id)
}

// Columns returns the storage columns of values in a stable order.
func Columns(values Row) []string {
	out := make([]string, 0, len(values))
	for k := range values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IDs extracts the id list of a filter value, or false when v is a single
// value.
func IDs(v any) ([]int64, bool) {
	ids, ok := v.([]int64)
	return ids, ok
}

// MustRepository is NewRepository for statically known kinds.
func MustRepository(kind entity.Kind, rows Table, opts ...Option) *Repository {
	r, err := NewRepository(kind, rows, opts...)
	if err != nil {
		panic(fmt.Sprintf("store: %v", err))
	}
	return r
}
