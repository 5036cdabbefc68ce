// Package introspection answers __schema and __type over the executable
// schema and passes every other field to the wrapped runtime.
package introspection

import (
	"context"
	"fmt"
	"sort"

	"github.com/hanpama/aegraph/internal/assemble"
	"github.com/hanpama/aegraph/internal/language"
	"github.com/hanpama/aegraph/internal/schema"
)

// Wrap returns a runtime answering introspection fields and the schema
// extended with the meta types. src is the validated document schema whose
// prelude defines those types.
func Wrap(base assemble.Runtime, sch *schema.Schema, src *language.Schema) (assemble.Runtime, *schema.Schema) {
	extended := extend(sch, src)
	return &runtime{base: base, schema: extended}, extended
}

type runtime struct {
	base   assemble.Runtime
	schema *schema.Schema
}

// typeView is the source of a __Type value: a named type, or a LIST or
// NON_NULL wrapper around another reference.
type typeView struct {
	named *schema.Type
	ref   *schema.TypeRef
}

func (r *runtime) view(ref *schema.TypeRef) any {
	if ref == nil {
		return nil
	}
	if ref.Kind != schema.TypeRefKindNamed {
		return typeView{ref: ref}
	}
	if t := r.schema.Types[ref.Named]; t != nil {
		return typeView{named: t}
	}
	return nil
}

func (r *runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	var (
		v  any
		ok bool
	)
	switch objectType {
	case r.schema.QueryType:
		switch field {
		case "__schema":
			return r.schema, nil
		case "__type":
			name, _ := args["name"].(string)
			return r.view(schema.NamedType(name)), nil
		}
		return r.base.ResolveSync(ctx, objectType, field, source, args)
	case "__Schema":
		if s, isSchema := source.(*schema.Schema); isSchema {
			v, ok = r.schemaField(s, field)
		}
	case "__Type":
		if tv, isView := source.(typeView); isView {
			v, ok = r.typeField(tv, field, args)
		}
	case "__Field":
		if f, isField := source.(*schema.Field); isField {
			v, ok = r.fieldField(f, field)
		}
	case "__InputValue":
		if in, isInput := source.(*schema.InputValue); isInput {
			v, ok = r.inputValueField(in, field)
		}
	case "__EnumValue":
		if ev, isEnum := source.(*schema.EnumValue); isEnum {
			v, ok = enumValueField(ev, field)
		}
	case "__Directive":
		if d, isDirective := source.(*schema.Directive); isDirective {
			v, ok = directiveField(d, field)
		}
	default:
		return r.base.ResolveSync(ctx, objectType, field, source, args)
	}
	if !ok {
		return nil, fmt.Errorf("introspection: cannot resolve %s.%s from %T", objectType, field, source)
	}
	return v, nil
}

func (r *runtime) BatchResolveAsync(ctx context.Context, tasks []assemble.AsyncResolveTask) []assemble.AsyncResolveResult {
	return r.base.BatchResolveAsync(ctx, tasks)
}

func (r *runtime) SerializeLeafValue(ctx context.Context, typ string, value any) (any, error) {
	if meta(typ) {
		return value, nil
	}
	return r.base.SerializeLeafValue(ctx, typ, value)
}

func (r *runtime) schemaField(s *schema.Schema, field string) (any, bool) {
	switch field {
	case "description":
		return optional(s.Description), true
	case "types":
		names := make([]string, 0, len(s.Types))
		for name := range s.Types {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]any, len(names))
		for i, name := range names {
			out[i] = typeView{named: s.Types[name]}
		}
		return out, true
	case "queryType":
		return r.view(schema.NamedType(s.QueryType)), true
	case "mutationType":
		if s.MutationType == "" {
			return nil, true
		}
		return r.view(schema.NamedType(s.MutationType)), true
	case "subscriptionType":
		return nil, true
	case "directives":
		names := make([]string, 0, len(s.Directives))
		for name := range s.Directives {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]*schema.Directive, len(names))
		for i, name := range names {
			out[i] = s.Directives[name]
		}
		return out, true
	}
	return nil, false
}

func (r *runtime) typeField(tv typeView, field string, args map[string]any) (any, bool) {
	if tv.named == nil {
		switch field {
		case "kind":
			return string(tv.ref.Kind), true
		case "ofType":
			return r.view(tv.ref.OfType), true
		case "name", "description", "specifiedByURL", "fields", "interfaces",
			"possibleTypes", "enumValues", "inputFields":
			return nil, true
		case "isOneOf":
			return false, true
		}
		return nil, false
	}

	t := tv.named
	switch field {
	case "kind":
		return string(t.Kind), true
	case "name":
		return t.Name, true
	case "description":
		return optional(t.Description), true
	case "specifiedByURL", "ofType", "possibleTypes":
		return nil, true
	case "isOneOf":
		return false, true
	case "interfaces":
		if t.Kind != schema.TypeKindObject {
			return nil, true
		}
		return []any{}, true
	case "fields":
		if t.Kind != schema.TypeKindObject {
			return nil, true
		}
		all := includeDeprecated(args)
		out := []*schema.Field{}
		for _, f := range t.Fields {
			if !meta(f.Name) && (all || !f.IsDeprecated) {
				out = append(out, f)
			}
		}
		return out, true
	case "enumValues":
		if t.Kind != schema.TypeKindEnum {
			return nil, true
		}
		all := includeDeprecated(args)
		out := []*schema.EnumValue{}
		for _, ev := range t.EnumValues {
			if all || !ev.IsDeprecated {
				out = append(out, ev)
			}
		}
		return out, true
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil, true
		}
		return t.InputFields, true
	}
	return nil, false
}

func (r *runtime) fieldField(f *schema.Field, field string) (any, bool) {
	switch field {
	case "name":
		return f.Name, true
	case "description":
		return optional(f.Description), true
	case "args":
		return nonNil(f.Arguments), true
	case "type":
		return r.view(f.Type), true
	case "isDeprecated":
		return f.IsDeprecated, true
	case "deprecationReason":
		return deprecationReason(f.IsDeprecated, f.DeprecationReason), true
	}
	return nil, false
}

func (r *runtime) inputValueField(in *schema.InputValue, field string) (any, bool) {
	switch field {
	case "name":
		return in.Name, true
	case "description":
		return optional(in.Description), true
	case "type":
		return r.view(in.Type), true
	case "defaultValue":
		return literal(in.DefaultValue), true
	case "isDeprecated":
		return false, true
	case "deprecationReason":
		return nil, true
	}
	return nil, false
}

func enumValueField(ev *schema.EnumValue, field string) (any, bool) {
	switch field {
	case "name":
		return ev.Name, true
	case "description":
		return optional(ev.Description), true
	case "isDeprecated":
		return ev.IsDeprecated, true
	case "deprecationReason":
		return deprecationReason(ev.IsDeprecated, ev.DeprecationReason), true
	}
	return nil, false
}

func directiveField(d *schema.Directive, field string) (any, bool) {
	switch field {
	case "name":
		return d.Name, true
	case "description":
		return optional(d.Description), true
	case "isRepeatable":
		return d.IsRepeatable, true
	case "locations":
		locs := append([]string(nil), d.Locations...)
		sort.Strings(locs)
		return locs, true
	case "args":
		return nonNil(d.Arguments), true
	}
	return nil, false
}

// optional maps the empty string to null.
func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(args []*schema.InputValue) []*schema.InputValue {
	if args == nil {
		return []*schema.InputValue{}
	}
	return args
}

func deprecationReason(deprecated bool, reason string) any {
	if !deprecated {
		return nil
	}
	return reason
}

func includeDeprecated(args map[string]any) bool {
	v, _ := args["includeDeprecated"].(bool)
	return v
}

// literal renders a default value the way it is written in SDL.
func literal(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprint(v)
	}
}
