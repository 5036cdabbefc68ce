package gateway

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/aegraph/internal/assemble"
	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/eventbus"
	"github.com/hanpama/aegraph/internal/events"
	"github.com/hanpama/aegraph/internal/rpc"
	"github.com/hanpama/aegraph/internal/sdk"
	"github.com/hanpama/aegraph/internal/store"
	"github.com/hanpama/aegraph/internal/store/memtable"
	"github.com/hanpama/aegraph/internal/subgraph"
)

type recorder struct {
	next rpc.Transport
	mu   sync.Mutex
	reqs []rpc.Request
}

func (r *recorder) Invoke(ctx context.Context, req rpc.Request) (any, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return r.next.Invoke(ctx, req)
}

func (r *recorder) to(service, op string) []rpc.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []rpc.Request
	for _, q := range r.reqs {
		if q.Service == service && q.Operation == op {
			out = append(out, q)
		}
	}
	return out
}

func (r *recorder) services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, q := range r.reqs {
		out = append(out, q.Service+" "+q.Operation)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.reqs = nil
	r.mu.Unlock()
}

type fixture struct {
	gw  *Gateway
	rec *recorder
	sdk *sdk.SDK
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	lt := rpc.NewLocalTransport()
	rec := &recorder{next: lt}
	dir := rpc.NewStaticDirectory(nil)
	client := rpc.NewClient(rec, dir)
	peers := sdk.New(client)
	for _, k := range entity.Kinds {
		repo := store.MustRepository(k, memtable.ForKind(k))
		svc := subgraph.New(repo, peers, subgraph.WithHasher(subgraph.PBKDF2{SaltLength: 4, Iterations: 1, KeyLength: 8}))
		target := k.Service() + ":local"
		lt.Mount(target, svc.Server())
		dir.Set(k.Service(), target)
	}
	gw, err := New(client, opts...)
	require.NoError(t, err)
	return &fixture{gw: gw, rec: rec, sdk: peers}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []string{"ann", "bob"} {
		_, err := f.sdk.Users().Create(ctx, map[string]any{"username": u, "password": "pw"})
		require.NoError(t, err)
	}
	_, err := f.sdk.Categories().Create(ctx, map[string]any{"name": "go"})
	require.NoError(t, err)
	for _, p := range []map[string]any{
		{"title": "p1", "content": "c1", "userId": 1, "categoryId": 1},
		{"title": "p2", "content": "c2", "userId": 2, "categoryId": 1},
		{"title": "p3", "content": "c3", "userId": 1, "categoryId": 9},
	} {
		_, err := f.sdk.Posts().Create(ctx, p)
		require.NoError(t, err)
	}
	_, err = f.sdk.Comments().Create(ctx, map[string]any{"content": "nice", "postId": 1, "userId": 2})
	require.NoError(t, err)
	f.rec.reset()
}

func (f *fixture) exec(t *testing.T, query string, vars map[string]any) *assemble.Result {
	t.Helper()
	return f.gw.Execute(context.Background(), query, "", vars)
}

func TestAuthorsOfAllPostsCostOneCall(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res := f.exec(t, `{ getPosts { title user { username } } }`, nil)
	require.Empty(t, res.Errors)
	want := map[string]any{"getPosts": []any{
		map[string]any{"title": "p1", "user": map[string]any{"username": "ann"}},
		map[string]any{"title": "p2", "user": map[string]any{"username": "bob"}},
		map[string]any{"title": "p3", "user": map[string]any{"username": "ann"}},
	}}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}

	calls := f.rec.to("users", sdk.OpFindByIDs)
	require.Len(t, calls, 1)
	require.Equal(t, []int64{1, 2}, calls[0].Variables["ids"])
	require.Len(t, f.rec.to("posts", rpc.OpBatch), 1)
}

func TestMissingCategoryIsPartial(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res := f.exec(t, `{ getPostById(id: 3) { title content category { name } } }`, nil)
	want := map[string]any{"getPostById": map[string]any{"title": "p3", "content": "c3", "category": nil}}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, res.Errors, 1)
	require.Equal(t, assemble.Path{"getPostById", "category"}, res.Errors[0].Path)
	require.Equal(t, errs.CodePartialResult, res.Errors[0].Extensions["code"])
	require.Equal(t, errs.CodeNotFound, res.Errors[0].Extensions["cause"])
}

func TestRelationsShareWindowsAcrossFields(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res := f.exec(t, `{
		getPosts { id user { id } comments { user { username } post { title } } }
		getUsers { username }
	}`, nil)
	require.Empty(t, res.Errors)

	// getUsers primes both users, so no user is fetched by id.
	require.Empty(t, f.rec.to("users", sdk.OpFindByIDs))
	// The post of the comment was primed by getPosts.
	require.Empty(t, f.rec.to("posts", sdk.OpFindByIDs))
	require.Len(t, f.rec.to("comments", sdk.FindByOperation("postId")), 3)

	posts := res.Data.(map[string]any)["getPosts"].([]any)
	first := posts[0].(map[string]any)
	want := []any{map[string]any{
		"user": map[string]any{"username": "bob"},
		"post": map[string]any{"title": "p1"},
	}}
	if diff := cmp.Diff(want, first["comments"]); diff != "" {
		t.Fatalf("comments mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []any{}, posts[1].(map[string]any)["comments"])
}

func TestRootFieldsBatchPerOwner(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res := f.exec(t, `{
		a: getUserById(id: 1) { username }
		b: getUserByUsername(username: "bob") { id }
		c: getCategoryById(id: 1) { name }
	}`, nil)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"a": map[string]any{"username": "ann"},
		"b": map[string]any{"id": "2"},
		"c": map[string]any{"name": "go"},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, f.rec.to("users", rpc.OpBatch), 1)
	require.Len(t, f.rec.to("categories", rpc.OpBatch), 1)
}

func TestRootFailureKeepsOtherRoots(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res := f.exec(t, `{
		getUserById(id: 42) { username }
		getCategoryByName(name: "go") { id }
		getPostsByIds(ids: ["x"]) { id }
	}`, nil)
	want := map[string]any{
		"getUserById":       nil,
		"getCategoryByName": map[string]any{"id": "1"},
		"getPostsByIds":     nil,
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	codes := map[string]any{}
	for _, e := range res.Errors {
		codes[e.Path.String()] = e.Extensions["code"]
	}
	require.Equal(t, map[string]any{
		"getUserById":   errs.CodeNotFound,
		"getPostsByIds": errs.CodeValidation,
	}, codes)
	require.Empty(t, f.rec.to("posts", rpc.OpBatch))
}

func TestOversizedIDIsRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res := f.exec(t, `{
		getUserById(id: "9007199254740993") { id }
		getPostsByIds(ids: [1, "9007199254740993"]) { id }
	}`, nil)
	require.Len(t, res.Errors, 2)
	for _, e := range res.Errors {
		require.Equal(t, errs.CodeValidation, e.Extensions["code"])
	}
	require.Empty(t, f.rec.services())
}

func TestRequestsDoNotShareCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	const query = `{ getCommentById(id: 1) { user { username } } }`
	want := map[string]any{"getCommentById": map[string]any{"user": map[string]any{"username": "bob"}}}
	for i := 0; i < 2; i++ {
		res := f.exec(t, query, nil)
		require.Empty(t, res.Errors)
		if diff := cmp.Diff(want, res.Data); diff != "" {
			t.Fatalf("data mismatch (-want +got):\n%s", diff)
		}
	}
	require.Len(t, f.rec.to("users", sdk.OpFindByIDs), 2)
}

func TestMutationsRunInDocumentOrder(t *testing.T) {
	f := newFixture(t)

	res := f.exec(t, `mutation {
		u: createUser(username: "ann", password: "pw") { id username }
		c: createCategory(name: "go") { id }
		p: createPost(title: "t", content: "x", userId: 1, categoryId: 1) { id user { username } category { name } }
		e: updatePost(id: 1, title: "renamed") { title content }
		d: deletePostById(id: 1)
	}`, nil)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"u": map[string]any{"id": "1", "username": "ann"},
		"c": map[string]any{"id": "1"},
		"p": map[string]any{"id": "1", "user": map[string]any{"username": "ann"}, "category": map[string]any{"name": "go"}},
		"e": map[string]any{"title": "renamed", "content": "x"},
		"d": true,
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{
		"users batch",
		"categories batch",
		"posts batch",
	}, f.rec.services()[:3])
	// Post mutations are consecutive and share one call.
	require.Len(t, f.rec.to("posts", rpc.OpBatch), 1)
}

func TestUpdateKeepsAbsentFields(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res := f.exec(t, `mutation($id: ID!) { updateCategory(id: $id, description: "all things go") { name description } }`,
		map[string]any{"id": "1"})
	require.Empty(t, res.Errors)
	want := map[string]any{"updateCategory": map[string]any{"name": "go", "description": "all things go"}}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidDocument(t *testing.T) {
	f := newFixture(t)

	res := f.exec(t, `{ getUsers { password } }`, nil)
	require.Nil(t, res.Data)
	require.Len(t, res.Errors, 1)
	require.Equal(t, errs.CodeValidation, res.Errors[0].Extensions["code"])
	require.NotEmpty(t, res.Errors[0].Locations)
	require.Empty(t, f.rec.services())
}

func TestExecutePublishesEvents(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(eventbus.New()) })

	var (
		mu       sync.Mutex
		finished []events.GraphQLFinish
		roots    []events.RootDispatch
	)
	defer eventbus.Subscribe(func(_ context.Context, e events.GraphQLFinish) {
		mu.Lock()
		finished = append(finished, e)
		mu.Unlock()
	})()
	defer eventbus.Subscribe(func(_ context.Context, e events.RootDispatch) {
		mu.Lock()
		roots = append(roots, e)
		mu.Unlock()
	})()

	f.exec(t, `query Names { getUsers { username } }`, nil)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, finished, 1)
	require.Equal(t, "query", finished[0].OperationType)
	require.Equal(t, events.OutcomeOK, finished[0].Outcome)
	require.Empty(t, finished[0].Errors)
	require.Len(t, roots, 1)
	require.Equal(t, "users", roots[0].Service)
	require.Equal(t, []string{"getUsers"}, roots[0].Fields)
}

func TestMaxBatchSplitsWindows(t *testing.T) {
	f := newFixture(t, WithMaxBatch(1))
	f.seed(t)

	res := f.exec(t, `{ getPosts { user { username } } }`, nil)
	require.Empty(t, res.Errors)
	require.Len(t, f.rec.to("users", sdk.OpFindByIDs), 2)
}

func TestSDLHidesPassword(t *testing.T) {
	f := newFixture(t)
	require.Nil(t, f.gw.Schema().Types["User"].Field("password"))
	require.True(t, f.gw.Schema().Types["Post"].Field("user").Async)
	require.False(t, f.gw.Schema().Types["Post"].Field("title").Async)
}

func TestIntrospection(t *testing.T) {
	f := newFixture(t)

	res := f.exec(t, `{ __schema { queryType { name } mutationType { name } } __type(name: "User") { fields { name } } }`, nil)
	require.Empty(t, res.Errors)
	data := res.Data.(map[string]any)
	require.Equal(t, map[string]any{
		"queryType":    map[string]any{"name": "Query"},
		"mutationType": map[string]any{"name": "Mutation"},
	}, data["__schema"])
	for _, fld := range data["__type"].(map[string]any)["fields"].([]any) {
		require.NotEqual(t, "password", fld.(map[string]any)["name"])
	}
	require.Empty(t, f.rec.services())

	off := newFixture(t, WithIntrospection(false))
	res = off.exec(t, `{ __schema { queryType { name } } }`, nil)
	require.NotEmpty(t, res.Errors)
}
