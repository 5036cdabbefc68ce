package introspection

import (
	"strings"

	"github.com/hanpama/aegraph/internal/language"
	"github.com/hanpama/aegraph/internal/schema"
)

// extend copies original, adds the meta types of src and the __schema and
// __type fields of the query type.
func extend(original *schema.Schema, src *language.Schema) *schema.Schema {
	extended := &schema.Schema{
		QueryType:    original.QueryType,
		MutationType: original.MutationType,
		Types:        make(map[string]*schema.Type, len(original.Types)+8),
		Directives:   original.Directives,
		Description:  original.Description,
	}
	for name, typ := range original.Types {
		extended.Types[name] = typ
	}
	for name, def := range src.Types {
		if !strings.HasPrefix(name, "__") {
			continue
		}
		if t := schema.BuildType(def, nil); t != nil {
			extended.Types[name] = t
		}
	}

	if queryType := extended.GetQueryType(); queryType != nil {
		queryTypeCopy := &schema.Type{
			Name:        queryType.Name,
			Kind:        queryType.Kind,
			Description: queryType.Description,
			Fields:      make([]*schema.Field, len(queryType.Fields), len(queryType.Fields)+2),
		}
		copy(queryTypeCopy.Fields, queryType.Fields)
		queryTypeCopy.Fields = append(queryTypeCopy.Fields,
			&schema.Field{
				Name:        "__schema",
				Description: "Access the current type schema of this server.",
				Type:        schema.NonNullType(schema.NamedType("__Schema")),
			},
			&schema.Field{
				Name:        "__type",
				Description: "Request the type information of a single type.",
				Arguments: []*schema.InputValue{{
					Name: "name",
					Type: schema.NonNullType(schema.NamedType("String")),
				}},
				Type: schema.NamedType("__Type"),
			},
		)
		extended.Types[queryType.Name] = queryTypeCopy
	}
	return extended
}

// meta reports whether name belongs to the introspection system.
func meta(name string) bool { return strings.HasPrefix(name, "__") }
