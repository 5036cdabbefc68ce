package schema

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/hanpama/aegraph/internal/language"
)

// AsyncFunc reports whether field of typeName needs a remote resolution.
type AsyncFunc func(typeName, field string) bool

// RootsAsync marks every root field async and every other field sync.
func RootsAsync(typeName, _ string) bool {
	return typeName == "Query" || typeName == "Mutation"
}

// BuildFromSDL loads sdl with the GraphQL prelude and builds the executable
// schema. It also returns the validated gqlparser schema used to validate
// query documents.
func BuildFromSDL(sdl string, async AsyncFunc) (*Schema, *language.Schema, error) {
	src, err := language.LoadSchema("schema.graphql", sdl)
	if err != nil {
		return nil, nil, fmt.Errorf("load schema: %w", err)
	}
	return Build(src, async), src, nil
}

// Build converts a validated gqlparser schema. Introspection types are left
// out. A nil async marks every field sync.
func Build(src *ast.Schema, async AsyncFunc) *Schema {
	if async == nil {
		async = func(string, string) bool { return false }
	}
	s := &Schema{
		Types:      make(map[string]*Type, len(src.Types)),
		Directives: make(map[string]*Directive, len(src.Directives)),
	}
	if src.Query != nil {
		s.QueryType = src.Query.Name
	}
	if src.Mutation != nil {
		s.MutationType = src.Mutation.Name
	}
	for name, def := range src.Types {
		if strings.HasPrefix(name, "__") {
			continue
		}
		if t := BuildType(def, async); t != nil {
			s.Types[name] = t
		}
	}
	for name, def := range src.Directives {
		s.Directives[name] = buildDirective(def)
	}
	return s
}

// BuildType converts one named type. Interfaces and unions yield nil.
func BuildType(def *ast.Definition, async AsyncFunc) *Type {
	if async == nil {
		async = func(string, string) bool { return false }
	}
	t := &Type{Name: def.Name, Description: def.Description}
	switch def.Kind {
	case ast.Scalar:
		t.Kind = TypeKindScalar
	case ast.Enum:
		t.Kind = TypeKindEnum
		for _, v := range def.EnumValues {
			ev := &EnumValue{Name: v.Name, Description: v.Description}
			ev.IsDeprecated, ev.DeprecationReason = deprecation(v.Directives)
			t.EnumValues = append(t.EnumValues, ev)
		}
	case ast.InputObject:
		t.Kind = TypeKindInputObject
		for _, f := range def.Fields {
			t.InputFields = append(t.InputFields, buildInputValue(f.Name, f.Description, f.Type, f.DefaultValue))
		}
	case ast.Object:
		t.Kind = TypeKindObject
		for _, f := range def.Fields {
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			t.Fields = append(t.Fields, buildField(def.Name, f, async))
		}
	default:
		return nil
	}
	return t
}

func buildField(typeName string, def *ast.FieldDefinition, async AsyncFunc) *Field {
	f := &Field{
		Name:        def.Name,
		Description: def.Description,
		Type:        buildTypeRef(def.Type),
		Async:       async(typeName, def.Name),
	}
	f.IsDeprecated, f.DeprecationReason = deprecation(def.Directives)
	for _, a := range def.Arguments {
		f.Arguments = append(f.Arguments, buildInputValue(a.Name, a.Description, a.Type, a.DefaultValue))
	}
	return f
}

func buildInputValue(name, desc string, t *ast.Type, def *ast.Value) *InputValue {
	in := &InputValue{Name: name, Description: desc, Type: buildTypeRef(t)}
	if def != nil {
		if v, err := def.Value(nil); err == nil {
			in.DefaultValue = v
		}
	}
	return in
}

func buildTypeRef(t *ast.Type) *TypeRef {
	if t == nil {
		return nil
	}
	var ref *TypeRef
	if t.Elem != nil {
		ref = ListType(buildTypeRef(t.Elem))
	} else {
		ref = NamedType(t.NamedType)
	}
	if t.NonNull {
		ref = NonNullType(ref)
	}
	return ref
}

// TypeRefFromAST converts a type written in a query document.
func TypeRefFromAST(t *ast.Type) *TypeRef { return buildTypeRef(t) }

func buildDirective(def *ast.DirectiveDefinition) *Directive {
	d := &Directive{Name: def.Name, Description: def.Description, IsRepeatable: def.IsRepeatable}
	for _, loc := range def.Locations {
		d.Locations = append(d.Locations, string(loc))
	}
	for _, a := range def.Arguments {
		d.Arguments = append(d.Arguments, buildInputValue(a.Name, a.Description, a.Type, a.DefaultValue))
	}
	return d
}

func deprecation(dirs ast.DirectiveList) (bool, string) {
	d := dirs.ForName("deprecated")
	if d == nil {
		return false, ""
	}
	reason := "No longer supported"
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		reason = arg.Value.Raw
	}
	return true, reason
}
