package introspection

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/aegraph/internal/assemble"
	"github.com/hanpama/aegraph/internal/language"
	"github.com/hanpama/aegraph/internal/schema"
)

const testSDL = `
type Query {
  getPostById(id: ID!): Post
}

"A blog post."
type Post {
  id: ID!
  title: String!
  tags: [String!]
  old: String @deprecated(reason: "gone")
}

enum Order { ASC DESC }
`

func execute(t *testing.T, base *assemble.MockRuntime, query string) *assemble.Result {
	t.Helper()
	sch, src, err := schema.BuildFromSDL(testSDL, schema.RootsAsync)
	require.NoError(t, err)
	rt, extended := Wrap(base, sch, src)
	doc, list := language.LoadQuery(src, query)
	require.Empty(t, list)
	return assemble.New(rt, extended).Execute(context.Background(), doc, "", nil, nil)
}

func TestSchemaQueryType(t *testing.T) {
	res := execute(t, assemble.NewMockRuntime(nil), `{__schema{queryType{name} mutationType{name}}}`)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"__schema": map[string]any{
			"queryType":    map[string]any{"name": "Query"},
			"mutationType": nil,
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestTypeFields(t *testing.T) {
	res := execute(t, assemble.NewMockRuntime(nil), `{
  __type(name: "Post") {
    kind
    description
    fields { name type { kind name ofType { kind name } } }
  }
}`)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"__type": map[string]any{
			"kind":        "OBJECT",
			"description": "A blog post.",
			"fields": []any{
				map[string]any{"name": "id", "type": map[string]any{
					"kind": "NON_NULL", "name": nil,
					"ofType": map[string]any{"kind": "SCALAR", "name": "ID"},
				}},
				map[string]any{"name": "title", "type": map[string]any{
					"kind": "NON_NULL", "name": nil,
					"ofType": map[string]any{"kind": "SCALAR", "name": "String"},
				}},
				map[string]any{"name": "tags", "type": map[string]any{
					"kind": "LIST", "name": nil,
					"ofType": map[string]any{"kind": "NON_NULL", "name": nil},
				}},
			},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestDeprecatedAndEnums(t *testing.T) {
	res := execute(t, assemble.NewMockRuntime(nil), `{
  post: __type(name: "Post") { fields(includeDeprecated: true) { name isDeprecated deprecationReason } }
  order: __type(name: "Order") { enumValues { name } }
  missing: __type(name: "Nope") { name }
}`)
	require.Empty(t, res.Errors)
	data := res.Data.(map[string]any)
	fields := data["post"].(map[string]any)["fields"].([]any)
	require.Len(t, fields, 4)
	require.Equal(t, map[string]any{"name": "old", "isDeprecated": true, "deprecationReason": "gone"}, fields[3])
	require.Equal(t, []any{map[string]any{"name": "ASC"}, map[string]any{"name": "DESC"}},
		data["order"].(map[string]any)["enumValues"])
	require.Nil(t, data["missing"])
}

func TestQueryTypeHidesMetaFields(t *testing.T) {
	res := execute(t, assemble.NewMockRuntime(nil), `{__type(name: "Query") { fields { name } }}`)
	require.Empty(t, res.Errors)
	want := map[string]any{"__type": map[string]any{"fields": []any{map[string]any{"name": "getPostById"}}}}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestOtherFieldsReachBase(t *testing.T) {
	base := assemble.NewMockRuntime(map[string]assemble.MockResolver{
		"Query.getPostById": assemble.Value(map[string]any{"id": "1", "title": "hello"}),
	})
	res := execute(t, base, `{ __typename getPostById(id: "1") { title } }`)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{
		"__typename":  "Query",
		"getPostById": map[string]any{"title": "hello"},
	}, res.Data)
	require.Equal(t, 1, base.Batches())
}
