// Package sqltable is the PostgreSQL store.Table built on sqlx and lib/pq.
package sqltable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/store"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Open connects to a PostgreSQL database and verifies the connection.
func Open(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, fmt.Errorf("sqltable: connect: %w", err)
	}
	return db, nil
}

// Table is one PostgreSQL table. Statements use positional parameters and
// RETURNING *, so every write answers with the stored row.
type Table struct {
	db   *sqlx.DB
	name string
}

func New(db *sqlx.DB, name string) *Table {
	return &Table{db: db, name: name}
}

var _ store.Table = (*Table)(nil)

func (t *Table) Select(ctx context.Context, f store.Filter) ([]store.Row, error) {
	var (
		b    strings.Builder
		args []any
	)
	fmt.Fprintf(&b, "SELECT * FROM %s", pq.QuoteIdentifier(t.name))
	for i, col := range store.Columns(f) {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		v := f[col]
		if ids, ok := store.IDs(v); ok {
			args = append(args, pq.Array(ids))
			fmt.Fprintf(&b, "%s = ANY($%d)", pq.QuoteIdentifier(col), len(args))
			continue
		}
		args = append(args, v)
		fmt.Fprintf(&b, "%s = $%d", pq.QuoteIdentifier(col), len(args))
	}
	fmt.Fprintf(&b, " ORDER BY %s", pq.QuoteIdentifier(entity.ColumnID))

	rows, err := t.db.QueryxContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t.name, err)
	}
	return scanAll(rows)
}

func (t *Table) Insert(ctx context.Context, values store.Row) (store.Row, error) {
	cols := store.Columns(values)
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[c]
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pq.QuoteIdentifier(t.name), strings.Join(quoted, ", "), strings.Join(params, ", "))

	row, err := t.one(ctx, q, args...)
	if err != nil {
		return nil, t.writeError("insert", err)
	}
	if row == nil {
		return nil, fmt.Errorf("insert %s: no row returned", t.name)
	}
	return row, nil
}

func (t *Table) Update(ctx context.Context, id int64, values store.Row) (store.Row, error) {
	cols := store.Columns(values)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		if c == entity.ColumnID {
			continue
		}
		args = append(args, values[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), len(args)))
	}
	if len(sets) == 0 {
		rows, err := t.Select(ctx, store.Filter{entity.ColumnID: id})
		if err != nil || len(rows) == 0 {
			return nil, err
		}
		return rows[0], nil
	}
	args = append(args, id)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING *",
		pq.QuoteIdentifier(t.name), strings.Join(sets, ", "), pq.QuoteIdentifier(entity.ColumnID), len(args))

	row, err := t.one(ctx, q, args...)
	if err != nil {
		return nil, t.writeError("update", err)
	}
	return row, nil
}

func (t *Table) Delete(ctx context.Context, id int64) (bool, error) {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", pq.QuoteIdentifier(t.name), pq.QuoteIdentifier(entity.ColumnID))
	res, err := t.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", t.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", t.name, err)
	}
	return n > 0, nil
}

// writeError turns a unique violation into a ValidationError on the
// violated column. PostgreSQL names the inline UNIQUE constraints of
// CreateStatement <table>_<column>_key.
func (t *Table) writeError(op string, err error) error {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code.Name() == "unique_violation" {
		col := strings.TrimSuffix(strings.TrimPrefix(pe.Constraint, t.name+"_"), "_key")
		return errs.Validation(col, "already exists")
	}
	return fmt.Errorf("%s %s: %w", op, t.name, err)
}

// one runs a statement returning at most one row. It returns nil when the
// statement matched nothing.
func (t *Table) one(ctx context.Context, q string, args ...any) (store.Row, error) {
	rows, err := t.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	list, err := scanAll(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func scanAll(rows *sqlx.Rows) ([]store.Row, error) {
	defer rows.Close()
	var out []store.Row
	for rows.Next() {
		row := make(store.Row)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	return out, nil
}

// CreateStatement returns the DDL creating the table of t if it does not
// exist yet.
func CreateStatement(t *entity.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", pq.QuoteIdentifier(t.Name))
	fmt.Fprintf(&b, "  %s BIGSERIAL PRIMARY KEY", pq.QuoteIdentifier(entity.ColumnID))
	for _, c := range t.Columns {
		typ := "TEXT"
		if c.Type == entity.TypeInt {
			typ = "BIGINT"
		}
		fmt.Fprintf(&b, ",\n  %s %s", pq.QuoteIdentifier(c.Storage), typ)
		if c.Required {
			b.WriteString(" NOT NULL")
		}
		if c.Unique {
			b.WriteString(" UNIQUE")
		}
	}
	fmt.Fprintf(&b, ",\n  %s TIMESTAMPTZ NOT NULL DEFAULT now()", pq.QuoteIdentifier(entity.ColumnCreatedAt))
	fmt.Fprintf(&b, ",\n  %s TIMESTAMPTZ NOT NULL DEFAULT now()", pq.QuoteIdentifier(entity.ColumnUpdatedAt))
	b.WriteString("\n)")
	return b.String()
}

// Migrate creates the table of kind. Foreign key columns carry no
// constraint since the referenced rows live in another service.
func Migrate(ctx context.Context, db *sqlx.DB, kind entity.Kind) error {
	t, err := entity.Lookup(kind)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, CreateStatement(t)); err != nil {
		return fmt.Errorf("migrate %s: %w", t.Name, err)
	}
	return nil
}
