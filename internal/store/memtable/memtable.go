// Package memtable is an in-process store.Table used by the dev command and
// by tests.
package memtable

import (
	"context"
	"sort"
	"sync"

	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/store"
)

// Table keeps rows in memory and assigns ids sequentially from 1.
type Table struct {
	mu     sync.RWMutex
	rows   map[int64]store.Row
	nextID int64
	unique []string
}

// New returns an empty table. Writes that repeat a non-nil value of one of
// the unique columns fail with a ValidationError.
func New(unique ...string) *Table {
	return &Table{rows: make(map[int64]store.Row), unique: unique}
}

// ForKind returns an empty table enforcing the unique columns of kind.
func ForKind(kind entity.Kind) *Table {
	var unique []string
	for _, c := range entity.MustLookup(kind).Columns {
		if c.Unique {
			unique = append(unique, c.Storage)
		}
	}
	return New(unique...)
}

var _ store.Table = (*Table)(nil)

func (t *Table) Select(ctx context.Context, f store.Filter) ([]store.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []store.Row
	for _, id := range ids {
		row := t.rows[id]
		if matches(row, f) {
			out = append(out, clone(row))
		}
	}
	return out, nil
}

func (t *Table) Insert(ctx context.Context, values store.Row) (store.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUnique(0, values); err != nil {
		return nil, err
	}
	t.nextID++
	row := clone(values)
	row[entity.ColumnID] = t.nextID
	t.rows[t.nextID] = row
	return clone(row), nil
}

func (t *Table) Update(ctx context.Context, id int64, values store.Row) (store.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[id]
	if !ok {
		return nil, nil
	}
	if err := t.checkUnique(id, values); err != nil {
		return nil, err
	}
	for k, v := range values {
		if k == entity.ColumnID {
			continue
		}
		row[k] = v
	}
	return clone(row), nil
}

func (t *Table) Delete(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		return false, nil
	}
	delete(t.rows, id)
	return true, nil
}

// Len returns the number of stored rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// checkUnique reports a unique value of values already held by a row other
// than self.
func (t *Table) checkUnique(self int64, values store.Row) error {
	for _, col := range t.unique {
		v, ok := values[col]
		if !ok || v == nil {
			continue
		}
		for id, row := range t.rows {
			if id != self && row[col] == v {
				return errs.Validation(col, "%v already exists", v)
			}
		}
	}
	return nil
}

func matches(row store.Row, f store.Filter) bool {
	for col, want := range f {
		got := row[col]
		if ids, ok := store.IDs(want); ok {
			id, isInt := got.(int64)
			if !isInt || !contains(ids, id) {
				return false
			}
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func clone(row store.Row) store.Row {
	out := make(store.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
