package assemble

import (
	"fmt"
	"reflect"

	"github.com/hanpama/aegraph/internal/language"
	"github.com/hanpama/aegraph/internal/schema"
)

func (st *state) completeValue(typ *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	if schema.IsNonNull(typ) {
		if isNullish(result) {
			if !st.hasErrorAt(path) {
				st.nonNullViolation(path)
			}
			return nil
		}
		return st.completeValue(schema.Unwrap(typ), fields, result, path)
	}
	if isNullish(result) {
		return nil
	}
	if schema.IsList(typ) {
		return st.completeList(typ, fields, result, path)
	}

	name := schema.GetNamedType(typ)
	named := st.schema.Types[name]
	if named == nil {
		st.errors = append(st.errors, GraphQLError{Message: fmt.Sprintf("Unknown type: %s", name), Path: path})
		return nil
	}
	switch named.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		v, err := st.runtime.SerializeLeafValue(st.ctx, name, result)
		if err != nil {
			st.errors = append(st.errors, locate(err, path))
			return nil
		}
		return v
	case schema.TypeKindObject:
		sub := make(language.SelectionSet, 0, len(fields))
		for _, f := range fields {
			sub = append(sub, f.SelectionSet...)
		}
		return st.executeSelectionSet(named, sub, result, path)
	}
	st.errors = append(st.errors, GraphQLError{Message: fmt.Sprintf("Cannot complete value of type %s", named.Kind), Path: path})
	return nil
}

func (st *state) completeList(typ *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	items, ok := result.([]any)
	if !ok {
		rv := reflect.ValueOf(result)
		if rv.Kind() != reflect.Slice {
			st.errors = append(st.errors, GraphQLError{Message: fmt.Sprintf("Expected list value, got %T", result), Path: path})
			return nil
		}
		items = make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}

	inner := schema.Unwrap(typ)
	out := make([]any, len(items))
	for i, item := range items {
		v := st.completeValue(inner, fields, item, path.With(i))
		if isNullish(v) {
			if schema.IsNonNull(inner) {
				return nil
			}
			v = nil
		}
		out[i] = v
	}
	return out
}
