package assemble_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/aegraph/internal/assemble"
	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/language"
	"github.com/hanpama/aegraph/internal/schema"
)

const blogSDL = `
type Query {
  post(id: ID!): Post
  posts: [Post!]!
  required: Post!
  hello: String
}

type Mutation {
  rename(input: RenameInput!): Post
}

input RenameInput {
  id: ID!
  title: String
  limit: Int = 3
}

type Post {
  id: ID!
  title: String!
  author: Author
  reviewer: Author!
}

type Author {
  id: ID!
  name: String
  best: Post
}
`

var asyncFields = map[string]bool{
	"Post.author":   true,
	"Post.reviewer": true,
	"Author.best":   true,
}

func newAssembler(t *testing.T, rt assemble.Runtime) *assemble.Assembler {
	t.Helper()
	s, _, err := schema.BuildFromSDL(blogSDL, func(typeName, field string) bool {
		return schema.RootsAsync(typeName, field) || asyncFields[typeName+"."+field]
	})
	require.NoError(t, err)
	return assemble.New(rt, s)
}

func mustParseQuery(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	d, err := language.ParseQuery(q)
	require.NoError(t, err)
	return d
}

func post(id, title string, authorID string) map[string]any {
	return map[string]any{"id": id, "title": title, "authorId": authorID}
}

func authorOf(_ context.Context, source any, _ map[string]any) (any, error) {
	p := source.(map[string]any)
	return map[string]any{"id": p["authorId"], "name": "author " + p["authorId"].(string)}, nil
}

func TestSyncFieldsNeverReachTheBatch(t *testing.T) {
	rt := assemble.NewMockRuntime(map[string]assemble.MockResolver{
		"Query.post": assemble.Value(post("1", "hi", "7")),
	})
	a := newAssembler(t, rt)

	got := a.Execute(context.Background(), mustParseQuery(t, `{ post(id: 1) { id title } }`), "", nil, nil)
	want := &assemble.Result{Data: map[string]any{
		"post": map[string]any{"id": "1", "title": "hi"},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}

	wantCalls := []assemble.Call{
		{Kind: assemble.CallAsync, ObjectType: "Query", Field: "post", Args: map[string]any{"id": "1"}, Batch: 1},
		{Kind: assemble.CallSync, ObjectType: "Post", Field: "id", Source: post("1", "hi", "7"), Args: map[string]any{}},
		{Kind: assemble.CallSync, ObjectType: "Post", Field: "title", Source: post("1", "hi", "7"), Args: map[string]any{}},
	}
	if diff := cmp.Diff(wantCalls, rt.Calls()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestOneBatchPerAsyncDepth(t *testing.T) {
	rt := assemble.NewMockRuntime(map[string]assemble.MockResolver{
		"Query.posts": assemble.Value([]any{post("1", "a", "7"), post("2", "b", "8"), post("3", "c", "7")}),
		"Post.author": authorOf,
		"Author.best": assemble.Value(post("9", "best", "7")),
	})
	a := newAssembler(t, rt)

	got := a.Execute(context.Background(), mustParseQuery(t, `{
		posts { title author { name best { title } } }
		hello
	}`), "", nil, nil)
	require.Empty(t, got.Errors)
	require.Equal(t, 3, rt.Batches())

	perBatch := map[int]int{}
	for _, c := range rt.Calls() {
		if c.Kind == assemble.CallAsync {
			perBatch[c.Batch]++
		}
	}
	// posts and hello, then three authors, then three best posts
	require.Equal(t, map[int]int{1: 2, 2: 3, 3: 3}, perBatch)

	posts := got.Data.(map[string]any)["posts"].([]any)
	want := map[string]any{
		"title": "b",
		"author": map[string]any{
			"name": "author 8",
			"best": map[string]any{"title": "best"},
		},
	}
	if diff := cmp.Diff(want, posts[1]); diff != "" {
		t.Fatalf("posts[1] mismatch (-want +got):\n%s", diff)
	}
}

func TestNullableFailureKeepsSiblings(t *testing.T) {
	rt := assemble.NewMockRuntime(map[string]assemble.MockResolver{
		"Query.post":  assemble.Value(post("1", "hi", "7")),
		"Post.author": assemble.Fail(errs.Partial("Post.author", errs.NotFound("User", 7))),
	})
	a := newAssembler(t, rt)

	got := a.Execute(context.Background(), mustParseQuery(t, `{ post(id: "1") { title author { name } } }`), "", nil, nil)
	want := &assemble.Result{
		Data: map[string]any{"post": map[string]any{"title": "hi", "author": nil}},
		Errors: []assemble.GraphQLError{{
			Message:    "Post.author: User with ID 7 not found",
			Path:       assemble.Path{"post", "author"},
			Extensions: map[string]any{"code": errs.CodePartialResult, "cause": errs.CodeNotFound},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestNonNullFailureNullsTopLevelFieldAndDropsItsWork(t *testing.T) {
	rt := assemble.NewMockRuntime(map[string]assemble.MockResolver{
		"Query.post":    assemble.Value(post("1", "hi", "7")),
		"Query.hello":   assemble.Value("world"),
		"Post.reviewer": assemble.Fail(errors.New("boom")),
		"Post.author":   authorOf,
		"Author.best":   assemble.Value(post("2", "x", "7")),
	})
	a := newAssembler(t, rt)

	got := a.Execute(context.Background(), mustParseQuery(t, `{
		post(id: 1) { reviewer { name } author { best { title } } }
		hello
	}`), "", nil, nil)

	want := &assemble.Result{
		Data: map[string]any{"post": nil, "hello": "world"},
		Errors: []assemble.GraphQLError{{
			Message:    "boom",
			Path:       assemble.Path{"post", "reviewer"},
			Extensions: map[string]any{"code": errs.CodeInternal},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	for _, c := range rt.Calls() {
		require.NotEqual(t, "best", c.Field, "work under a nulled field must be dropped")
	}
}

func TestNonNullRootNull(t *testing.T) {
	rt := assemble.NewMockRuntime(map[string]assemble.MockResolver{
		"Query.required": assemble.Value(nil),
	})
	a := newAssembler(t, rt)

	got := a.Execute(context.Background(), mustParseQuery(t, `{ required { id } }`), "", nil, nil)
	require.Equal(t, map[string]any{"required": nil}, got.Data)
	require.Len(t, got.Errors, 1)
	require.Equal(t, assemble.Path{"required"}, got.Errors[0].Path)
}

func TestNonNullListItemNullsList(t *testing.T) {
	rt := assemble.NewMockRuntime(map[string]assemble.MockResolver{
		"Query.posts": assemble.Value([]any{post("1", "a", "7"), nil}),
		"Query.hello": assemble.Value("x"),
	})
	a := newAssembler(t, rt)

	got := a.Execute(context.Background(), mustParseQuery(t, `{ posts { id } hello }`), "", nil, nil)
	require.Equal(t, map[string]any{"posts": nil, "hello": "x"}, got.Data)
	require.Equal(t, assemble.Path{"posts", 1}, got.Errors[0].Path)
}

func TestArgumentsAndVariables(t *testing.T) {
	var seen map[string]any
	rt := assemble.NewMockRuntime(map[string]assemble.MockResolver{
		"Mutation.rename": func(_ context.Context, _ any, args map[string]any) (any, error) {
			seen = args
			return post("5", "new", "7"), nil
		},
	})
	a := newAssembler(t, rt)

	doc := mustParseQuery(t, `mutation Rename($id: ID!, $title: String) {
		rename(input: {id: $id, title: $title}) { title }
	}`)
	got := a.Execute(context.Background(), doc, "Rename", map[string]any{"id": float64(5), "title": "new"}, nil)
	require.Empty(t, got.Errors)
	want := map[string]any{"input": map[string]any{"id": "5", "title": "new", "limit": int64(3)}}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}

	got = a.Execute(context.Background(), doc, "Rename", nil, nil)
	require.Nil(t, got.Data)
	require.Equal(t, errs.CodeValidation, got.Errors[0].Extensions["code"])

	got = a.Execute(context.Background(), mustParseQuery(t, `mutation { rename(input: {id: 1, bogus: 2}) { title } }`), "", nil, nil)
	require.Equal(t, map[string]any{"rename": nil}, got.Data)
	require.Equal(t, assemble.Path{"rename"}, got.Errors[0].Path)
}

func TestFragmentsDirectivesAndAliases(t *testing.T) {
	rt := assemble.NewMockRuntime(map[string]assemble.MockResolver{
		"Query.post": assemble.Value(post("1", "hi", "7")),
	})
	a := newAssembler(t, rt)

	doc := mustParseQuery(t, `query Q($skip: Boolean!) {
		first: post(id: 1) { ...Fields title @skip(if: $skip) }
		second: post(id: 2) @include(if: false) { id }
	}
	fragment Fields on Post { id __typename ... on Post { heading: title } }`)
	got := a.Execute(context.Background(), doc, "", map[string]any{"skip": true}, nil)
	want := &assemble.Result{Data: map[string]any{
		"first": map[string]any{"id": "1", "__typename": "Post", "heading": "hi"},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestOperationSelection(t *testing.T) {
	doc := mustParseQuery(t, `query A { hello } query B { hello }`)
	_, err := assemble.Operation(doc, "")
	require.True(t, errs.IsValidation(err))
	op, err := assemble.Operation(doc, "B")
	require.NoError(t, err)
	require.Equal(t, "B", op.Name)
	_, err = assemble.Operation(doc, "C")
	require.Error(t, err)
}

func TestPathString(t *testing.T) {
	require.Equal(t, "posts[2].author", assemble.Path{"posts", 2, "author"}.String())
}
