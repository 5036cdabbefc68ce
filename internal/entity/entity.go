// Package entity holds the data model shared by every service: the four
// entity kinds, reference keys, and the per-kind tables that translate
// storage columns into wire fields.
package entity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names an entity type. Each kind is owned by exactly one service.
type Kind string

const (
	User     Kind = "User"
	Post     Kind = "Post"
	Comment  Kind = "Comment"
	Category Kind = "Category"
)

// Kinds lists every known kind in a stable order.
var Kinds = []Kind{User, Post, Comment, Category}

// Service returns the name of the service owning k.
func (k Kind) Service() string {
	switch k {
	case User:
		return "users"
	case Post:
		return "posts"
	case Comment:
		return "comments"
	case Category:
		return "categories"
	}
	return strings.ToLower(string(k))
}

// ParseKind accepts a kind name ("User") or a service name ("users"),
// case-insensitively.
func ParseKind(s string) (Kind, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds {
		if v == strings.ToLower(string(k)) || v == k.Service() {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Ref is a reference key: the minimal identity of an entity. It doubles as
// the batch key of the request cache.
type Ref struct {
	Kind Kind
	ID   int64
}

func (r Ref) String() string { return fmt.Sprintf("%s:%d", r.Kind, r.ID) }

// Value is either a Stub or a full *Entity.
type Value interface {
	Ref() Ref
}

// Stub is a reference that carries only the identity of a foreign entity.
// Receivers upgrade it to a full entity through a resolver.
type Stub struct {
	Kind Kind
	ID   int64
}

func (s Stub) Ref() Ref { return Ref{Kind: s.Kind, ID: s.ID} }

// Entity is a fully resolved entity. Fields are keyed by wire name and
// exclude id, createdAt and updatedAt.
type Entity struct {
	Kind      Kind
	ID        int64
	CreatedAt int64 // ms since epoch
	UpdatedAt int64 // ms since epoch
	Fields    map[string]any
}

func (e *Entity) Ref() Ref { return Ref{Kind: e.Kind, ID: e.ID} }

// Get returns a field by wire name, including the base fields.
func (e *Entity) Get(name string) (any, bool) {
	switch name {
	case "id":
		return e.ID, true
	case "createdAt":
		return e.CreatedAt, true
	case "updatedAt":
		return e.UpdatedAt, true
	}
	v, ok := e.Fields[name]
	return v, ok
}

// ForeignKey returns the id stored in a foreign key field. ok is false when
// the field is absent or null.
func (e *Entity) ForeignKey(name string) (id int64, ok bool) {
	v, present := e.Get(name)
	if !present || v == nil {
		return 0, false
	}
	id, err := toInt64(v)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// Wire returns the wire shape {id, <fields>, createdAt, updatedAt}.
func (e *Entity) Wire() map[string]any {
	out := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["id"] = e.ID
	out["createdAt"] = e.CreatedAt
	out["updatedAt"] = e.UpdatedAt
	return out
}

func (e *Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Wire())
}

// FromWire decodes the wire shape of kind. Values are coerced to the column
// types of the kind's table, so numbers decoded as float64 become int64.
func FromWire(kind Kind, m map[string]any) (*Entity, error) {
	s, err := Lookup(kind)
	if err != nil {
		return nil, err
	}
	id, err := toInt64(m["id"])
	if err != nil {
		return nil, fmt.Errorf("%s.id: %w", kind, err)
	}
	e := &Entity{Kind: kind, ID: id, Fields: make(map[string]any, len(s.Columns))}
	if v, ok := m["createdAt"]; ok && v != nil {
		if e.CreatedAt, err = toMillis(v); err != nil {
			return nil, fmt.Errorf("%s.createdAt: %w", kind, err)
		}
	}
	if v, ok := m["updatedAt"]; ok && v != nil {
		if e.UpdatedAt, err = toMillis(v); err != nil {
			return nil, fmt.Errorf("%s.updatedAt: %w", kind, err)
		}
	}
	for _, c := range s.Columns {
		v, ok := m[c.Wire]
		if !ok || c.Secret {
			continue
		}
		cv, err := c.coerce(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", kind, c.Wire, err)
		}
		e.Fields[c.Wire] = cv
	}
	return e, nil
}
