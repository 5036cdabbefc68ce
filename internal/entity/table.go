package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/hanpama/aegraph/internal/errs"
)

// ColumnType is the value type of a column.
type ColumnType int

const (
	TypeInt ColumnType = iota
	TypeString
)

// Column maps one storage column to its wire field.
type Column struct {
	Storage  string
	Wire     string
	Type     ColumnType
	Ref      Kind // target kind when the column is a foreign key
	Required bool // must be present on create
	Unique   bool // supports find-by-<Wire> returning a single entity
	Secret   bool // stored but never exposed on the wire
}

func (c Column) IsForeignKey() bool { return c.Ref != "" }

func (c Column) coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Type {
	case TypeInt:
		return toInt64(v)
	case TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)
	}
	return v, nil
}

// Table is the declarative rename table of one kind. Base columns (id,
// created_at, updated_at) are implicit.
type Table struct {
	Kind    Kind
	Name    string
	Columns []Column
}

// MaxID is the largest id carried exactly by the float based wire payload.
const MaxID int64 = 1 << 53

// CheckID rejects ids that are not positive or do not fit the wire.
func CheckID(field string, id int64) error {
	if id <= 0 {
		return errs.Validation(field, "must be a positive id, got %d", id)
	}
	if id > MaxID {
		return errs.Validation(field, "id %d exceeds %d", id, MaxID)
	}
	return nil
}

const (
	ColumnID        = "id"
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

var tables = map[Kind]*Table{
	User: {
		Kind: User,
		Name: "users",
		Columns: []Column{
			{Storage: "username", Wire: "username", Type: TypeString, Required: true, Unique: true},
			{Storage: "password", Wire: "password", Type: TypeString, Required: true, Secret: true},
		},
	},
	Post: {
		Kind: Post,
		Name: "posts",
		Columns: []Column{
			{Storage: "title", Wire: "title", Type: TypeString, Required: true},
			{Storage: "content", Wire: "content", Type: TypeString, Required: true},
			{Storage: "user_id", Wire: "userId", Type: TypeInt, Ref: User, Required: true},
			{Storage: "category_id", Wire: "categoryId", Type: TypeInt, Ref: Category, Required: true},
		},
	},
	Comment: {
		Kind: Comment,
		Name: "comments",
		Columns: []Column{
			{Storage: "content", Wire: "content", Type: TypeString, Required: true},
			{Storage: "post_id", Wire: "postId", Type: TypeInt, Ref: Post, Required: true},
			{Storage: "user_id", Wire: "userId", Type: TypeInt, Ref: User, Required: true},
		},
	},
	Category: {
		Kind: Category,
		Name: "categories",
		Columns: []Column{
			{Storage: "name", Wire: "name", Type: TypeString, Required: true, Unique: true},
			{Storage: "description", Wire: "description", Type: TypeString},
		},
	},
}

// Lookup returns the table of kind.
func Lookup(kind Kind) (*Table, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return t, nil
}

// MustLookup is Lookup for statically known kinds.
func MustLookup(kind Kind) *Table {
	t, err := Lookup(kind)
	if err != nil {
		panic(err)
	}
	return t
}

// Column finds a column by wire name.
func (t *Table) Column(wire string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Wire == wire {
			return c, true
		}
	}
	return Column{}, false
}

// ForeignKeys lists the foreign key columns in declaration order.
func (t *Table) ForeignKeys() []Column {
	var out []Column
	for _, c := range t.Columns {
		if c.IsForeignKey() {
			out = append(out, c)
		}
	}
	return out
}

// StorageName translates a wire field name, base fields included.
func (t *Table) StorageName(wire string) (string, error) {
	switch wire {
	case "id":
		return ColumnID, nil
	case "createdAt":
		return ColumnCreatedAt, nil
	case "updatedAt":
		return ColumnUpdatedAt, nil
	}
	c, ok := t.Column(wire)
	if !ok {
		return "", errs.Validation(wire, "unknown field of %s", t.Kind)
	}
	return c.Storage, nil
}

// FromRow converts a storage row into an Entity. Secret columns are dropped.
func (t *Table) FromRow(row map[string]any) (*Entity, error) {
	id, err := toInt64(row[ColumnID])
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", t.Name, ColumnID, err)
	}
	e := &Entity{Kind: t.Kind, ID: id, Fields: make(map[string]any, len(t.Columns))}
	if v := row[ColumnCreatedAt]; v != nil {
		if e.CreatedAt, err = toMillis(v); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, ColumnCreatedAt, err)
		}
	}
	if v := row[ColumnUpdatedAt]; v != nil {
		if e.UpdatedAt, err = toMillis(v); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, ColumnUpdatedAt, err)
		}
	}
	for _, c := range t.Columns {
		if c.Secret {
			continue
		}
		v, err := c.coerce(row[c.Storage])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, c.Storage, err)
		}
		e.Fields[c.Wire] = v
	}
	return e, nil
}

// ToRow converts wire fields into storage columns. Base fields and unknown
// fields are rejected. Only the fields present in the input are emitted.
func (t *Table) ToRow(fields map[string]any) (map[string]any, error) {
	row := make(map[string]any, len(fields))
	for name, v := range fields {
		c, ok := t.Column(name)
		if !ok {
			return nil, errs.Validation(name, "unknown field of %s", t.Kind)
		}
		cv, err := c.coerce(v)
		if err != nil {
			return nil, errs.Validation(name, "%v", err)
		}
		if c.IsForeignKey() && cv != nil {
			if err := CheckID(name, cv.(int64)); err != nil {
				return nil, err
			}
		}
		row[c.Storage] = cv
	}
	return row, nil
}

// CheckRequired reports the first required column missing from fields.
func (t *Table) CheckRequired(fields map[string]any) error {
	for _, c := range t.Columns {
		if !c.Required {
			continue
		}
		v, ok := fields[c.Wire]
		if !ok || v == nil {
			return errs.Validation(c.Wire, "is required")
		}
		if s, isString := v.(string); isString && s == "" {
			return errs.Validation(c.Wire, "must not be empty")
		}
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case nil:
		return 0, fmt.Errorf("missing value")
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

// ToInt64 converts decoded numbers and numeric strings to int64.
func ToInt64(v any) (int64, error) { return toInt64(v) }

func toMillis(v any) (int64, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli(), nil
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UnixMilli(), nil
		}
		return strconv.ParseInt(t, 10, 64)
	case []byte:
		return toMillis(string(t))
	}
	return toInt64(v)
}
