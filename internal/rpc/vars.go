package rpc

import (
	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/errs"
)

// Vars are the decoded variables of one operation. Accessors report missing
// or mistyped values as errs.ValidationError.
type Vars map[string]any

func (v Vars) Has(name string) bool {
	_, ok := v[name]
	return ok
}

// ID reads a positive entity id no larger than entity.MaxID. Numeric strings are accepted since GraphQL
// IDs travel as strings.
func (v Vars) ID(name string) (int64, error) {
	raw, ok := v[name]
	if !ok || raw == nil {
		return 0, errs.Validation(name, "is required")
	}
	id, err := entity.ToInt64(raw)
	if err != nil {
		return 0, errs.Validation(name, "invalid id %v", raw)
	}
	if err := entity.CheckID(name, id); err != nil {
		return 0, err
	}
	return id, nil
}

// IDs reads a non-empty list of positive ids.
func (v Vars) IDs(name string) ([]int64, error) {
	raw, ok := v[name]
	if !ok || raw == nil {
		return nil, errs.Validation(name, "is required")
	}
	var items []any
	switch l := raw.(type) {
	case []any:
		items = l
	case []int64:
		out := make([]int64, len(l))
		copy(out, l)
		if len(out) == 0 {
			return nil, errs.Validation(name, "must not be empty")
		}
		for i, id := range out {
			if entity.CheckID(name, id) != nil {
				return nil, errs.Validation(name, "invalid id %v at position %d", id, i)
			}
		}
		return out, nil
	default:
		return nil, errs.Validation(name, "expected a list, got %T", raw)
	}
	if len(items) == 0 {
		return nil, errs.Validation(name, "must not be empty")
	}
	out := make([]int64, len(items))
	for i, it := range items {
		id, err := entity.ToInt64(it)
		if err != nil || entity.CheckID(name, id) != nil {
			return nil, errs.Validation(name, "invalid id %v at position %d", it, i)
		}
		out[i] = id
	}
	return out, nil
}

func (v Vars) String(name string) (string, error) {
	raw, ok := v[name]
	if !ok || raw == nil {
		return "", errs.Validation(name, "is required")
	}
	s, ok := raw.(string)
	if !ok {
		return "", errs.Validation(name, "expected a string, got %T", raw)
	}
	return s, nil
}

// Object reads a nested object, e.g. the fields of a create.
func (v Vars) Object(name string) (map[string]any, error) {
	raw, ok := v[name]
	if !ok || raw == nil {
		return nil, errs.Validation(name, "is required")
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, errs.Validation(name, "expected an object, got %T", raw)
	}
	return m, nil
}

// List reads a list of arbitrary values.
func (v Vars) List(name string) ([]any, error) {
	raw, ok := v[name]
	if !ok || raw == nil {
		return nil, errs.Validation(name, "is required")
	}
	l, ok := raw.([]any)
	if !ok {
		return nil, errs.Validation(name, "expected a list, got %T", raw)
	}
	return l, nil
}
