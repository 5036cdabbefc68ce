package resolve

import (
	"context"
	"sync"
	"testing"

	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/loader"
	"github.com/hanpama/aegraph/internal/store"
	"github.com/hanpama/aegraph/internal/store/memtable"
	"github.com/stretchr/testify/require"
)

type fetchLog struct {
	mu    sync.Mutex
	calls map[entity.Kind][][]int64
}

func (f *fetchLog) fetch(ctx context.Context, kind entity.Kind, ids []int64) ([]*entity.Entity, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[entity.Kind][][]int64{}
	}
	f.calls[kind] = append(f.calls[kind], append([]int64(nil), ids...))
	f.mu.Unlock()
	var out []*entity.Entity
	for _, id := range ids {
		if id < 100 {
			out = append(out, &entity.Entity{Kind: kind, ID: id, Fields: map[string]any{}})
		}
	}
	return out, nil
}

func (f *fetchLog) count(kind entity.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[kind])
}

func seededPosts(t *testing.T) *store.Repository {
	t.Helper()
	repo := store.MustRepository(entity.Post, memtable.New())
	for _, p := range []map[string]any{
		{"title": "a", "content": "x", "userId": 1, "categoryId": 1},
		{"title": "b", "content": "x", "userId": 2, "categoryId": 1},
		{"title": "c", "content": "x", "userId": 1, "categoryId": 100},
	} {
		_, err := repo.Create(context.Background(), p)
		require.NoError(t, err)
	}
	return repo
}

func TestSelfReferenceReadsLocalRepository(t *testing.T) {
	f := &fetchLog{}
	r := New(entity.Post, seededPosts(t), nil)
	ctx := loader.NewContext(context.Background(), loader.New(f.fetch))

	got, err := r.ResolveReference(ctx, entity.Ref{Kind: entity.Post, ID: 2})
	require.NoError(t, err)
	require.Equal(t, "b", got.Fields["title"])

	_, err = r.ResolveReference(ctx, entity.Ref{Kind: entity.Post, ID: 9})
	require.True(t, errs.IsNotFound(err))
	require.Zero(t, f.count(entity.Post))
}

func TestForeignReferenceNeedsCache(t *testing.T) {
	r := New(entity.Post, seededPosts(t), nil)
	_, err := r.ResolveReference(context.Background(), entity.Ref{Kind: entity.User, ID: 1})
	require.ErrorIs(t, err, ErrNoCache)
}

func TestExpandForeignFieldsBatchesDistinctIDs(t *testing.T) {
	f := &fetchLog{}
	repo := seededPosts(t)
	r := New(entity.Post, repo, nil)
	ctx := loader.NewContext(context.Background(), loader.New(f.fetch))

	posts, err := repo.FindAll(ctx)
	require.NoError(t, err)
	users, failures := r.ExpandForeignFields(ctx, posts, "userId")
	for _, err := range failures {
		require.NoError(t, err)
	}
	require.Equal(t, []int64{1, 2, 1}, []int64{users[0].ID, users[1].ID, users[2].ID})
	require.Equal(t, [][]int64{{1, 2}}, f.calls[entity.User])
}

func TestExpandForeignFieldMissingTarget(t *testing.T) {
	f := &fetchLog{}
	repo := seededPosts(t)
	r := New(entity.Post, repo, nil)
	ctx := loader.NewContext(context.Background(), loader.New(f.fetch))

	post, err := repo.FindByID(ctx, 3)
	require.NoError(t, err)
	cat, err := r.ExpandForeignField(ctx, post, "categoryId")
	require.Nil(t, cat)
	require.True(t, errs.IsNotFound(err))
	require.Equal(t, "c", post.Fields["title"])
}

func TestExpandForeignFieldNullKey(t *testing.T) {
	r := New("", nil, nil)
	parent := &entity.Entity{Kind: entity.Comment, ID: 1, Fields: map[string]any{"postId": nil}}
	got, err := r.ExpandForeignField(context.Background(), parent, "postId")
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = r.ExpandForeignField(context.Background(), parent, "content")
	require.Error(t, err)
}

func TestExpandReverseRelation(t *testing.T) {
	repo := seededPosts(t)
	var calls []int64
	r := New(entity.User, nil, func(ctx context.Context, kind entity.Kind, field string, id int64) ([]*entity.Entity, error) {
		require.Equal(t, entity.Post, kind)
		require.Equal(t, "userId", field)
		calls = append(calls, id)
		return repo.FindBy(ctx, map[string]any{field: id})
	})
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		user := &entity.Entity{Kind: entity.User, ID: id}
		got, err := r.ExpandReverseRelation(ctx, user, entity.Post, "userId")
		require.NoError(t, err)
		require.NotEmpty(t, got)
	}
	require.Equal(t, []int64{1, 2}, calls)

	_, err := r.ExpandReverseRelation(ctx, &entity.Entity{Kind: entity.User, ID: 1}, entity.Post, "categoryId")
	require.Error(t, err)
}

func TestReverseRelationOfOwnKindIsLocal(t *testing.T) {
	repo := store.MustRepository(entity.Comment, memtable.New())
	_, err := repo.Create(context.Background(), map[string]any{"content": "c", "postId": 4, "userId": 1})
	require.NoError(t, err)
	r := New(entity.Comment, repo, nil)

	got, err := r.ExpandReverseRelation(context.Background(), &entity.Entity{Kind: entity.Post, ID: 4}, entity.Comment, "postId")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestResolveReferencesMixesLocalAndForeign(t *testing.T) {
	f := &fetchLog{}
	r := New(entity.Post, seededPosts(t), nil)
	ctx := loader.NewContext(context.Background(), loader.New(f.fetch))

	got, failures := r.ResolveReferences(ctx, []entity.Ref{
		{Kind: entity.User, ID: 1},
		{Kind: entity.Post, ID: 1},
		{Kind: entity.User, ID: 200},
		{Kind: entity.Post, ID: 50},
		{Kind: entity.User, ID: 3},
	})
	require.NoError(t, failures[0])
	require.NoError(t, failures[1])
	require.True(t, errs.IsNotFound(failures[2]))
	require.True(t, errs.IsNotFound(failures[3]))
	require.NoError(t, failures[4])
	require.Equal(t, "a", got[1].Fields["title"])
	require.Equal(t, [][]int64{{1, 200, 3}}, f.calls[entity.User])
	require.Zero(t, f.count(entity.Post))
}

func TestInvalidIDsAreNotEnqueued(t *testing.T) {
	f := &fetchLog{}
	c := loader.New(f.fetch)
	r := New(entity.Post, seededPosts(t), nil)
	ctx := loader.NewContext(context.Background(), c)

	_, err := r.ResolveReference(ctx, entity.Ref{Kind: entity.User, ID: 0})
	require.True(t, errs.IsValidation(err))

	got, failures := r.ResolveReferences(ctx, []entity.Ref{
		{Kind: entity.User, ID: -1},
		{Kind: entity.User, ID: entity.MaxID + 1},
		{Kind: entity.Post, ID: 0},
		{Kind: entity.User, ID: 2},
	})
	require.True(t, errs.IsValidation(failures[0]))
	require.True(t, errs.IsValidation(failures[1]))
	require.True(t, errs.IsValidation(failures[2]))
	require.NoError(t, failures[3])
	require.Equal(t, int64(2), got[3].ID)
	require.Equal(t, [][]int64{{2}}, f.calls[entity.User])
	require.Equal(t, 1, c.Len())
}

func TestUpgrade(t *testing.T) {
	f := &fetchLog{}
	r := New("", nil, nil)
	ctx := loader.NewContext(context.Background(), loader.New(f.fetch))

	full := &entity.Entity{Kind: entity.User, ID: 5}
	got, err := r.Upgrade(ctx, full)
	require.NoError(t, err)
	require.Same(t, full, got)

	got, err = r.Upgrade(ctx, entity.Stub{Kind: entity.Category, ID: 7})
	require.NoError(t, err)
	require.Equal(t, entity.Ref{Kind: entity.Category, ID: 7}, got.Ref())
	require.Equal(t, 1, f.count(entity.Category))
}

func TestExpandEdgesSharesWindowsAcrossFields(t *testing.T) {
	f := &fetchLog{}
	r := New("", nil, nil)
	ctx := loader.NewContext(context.Background(), loader.New(f.fetch))

	post := &entity.Entity{Kind: entity.Post, ID: 1, Fields: map[string]any{"userId": int64(1), "categoryId": int64(4)}}
	comment := &entity.Entity{Kind: entity.Comment, ID: 2, Fields: map[string]any{"userId": int64(3), "postId": int64(1)}}
	got, failures := r.ExpandEdges(ctx, []Edge{
		{Parent: post, Field: "userId"},
		{Parent: post, Field: "categoryId"},
		{Parent: comment, Field: "userId"},
		{Parent: comment, Field: "postId"},
	})
	for _, err := range failures {
		require.NoError(t, err)
	}
	require.Equal(t, entity.Ref{Kind: entity.User, ID: 3}, got[2].Ref())
	require.Equal(t, [][]int64{{1, 3}}, f.calls[entity.User])
	require.Equal(t, 1, f.count(entity.Category))
	require.Equal(t, 1, f.count(entity.Post))
}
