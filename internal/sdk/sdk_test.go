package sdk

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/errs"
	"github.com/hanpama/aegraph/internal/rpc"
	"github.com/stretchr/testify/require"
)

func newTestSDK(h rpc.MockHandler) (*SDK, *rpc.MockTransport) {
	m := rpc.NewMockTransport(h)
	c := rpc.NewClient(m, rpc.NewStaticDirectory(map[string][]string{"*": {"mock"}}))
	return New(c), m
}

func TestValidationFailsBeforeAnyCall(t *testing.T) {
	s, m := newTestSDK(func(ctx context.Context, req rpc.Request) (any, error) {
		t.Fatalf("unexpected call %s %s", req.Service, req.Operation)
		return nil, nil
	})
	ctx := context.Background()

	_, err := s.Users().FindByID(ctx, 0)
	require.True(t, errs.IsValidation(err))
	_, err = s.Posts().FindByIDs(ctx, nil)
	require.True(t, errs.IsValidation(err))
	_, err = s.Posts().FindByIDs(ctx, []int64{1, -2})
	require.True(t, errs.IsValidation(err))
	_, err = s.Users().FindByID(ctx, entity.MaxID+1)
	require.True(t, errs.IsValidation(err))
	_, err = s.Posts().FindBy(ctx, Match{Field: "userId", Value: 0})
	require.True(t, errs.IsValidation(err))
	_, err = s.Posts().FindBy(ctx, Match{Field: "nope", Value: 1})
	require.True(t, errs.IsValidation(err))
	_, err = s.Users().Create(ctx, map[string]any{"username": ""})
	require.True(t, errs.IsValidation(err))
	_, err = s.Comments().Update(ctx, 1, map[string]any{"postId": -1})
	require.True(t, errs.IsValidation(err))
	_, err = s.Categories().Delete(ctx, -3)
	require.True(t, errs.IsValidation(err))

	require.Empty(t, m.Calls())
}

func TestFindByIDDecodesEntity(t *testing.T) {
	s, m := newTestSDK(func(ctx context.Context, req rpc.Request) (any, error) {
		return map[string]any{"id": 3, "title": "t", "content": "c", "userId": 5, "categoryId": 2, "createdAt": 10, "updatedAt": 11}, nil
	})

	got, err := s.Posts().FindByID(context.Background(), 3)
	require.NoError(t, err)
	want := &entity.Entity{
		Kind: entity.Post, ID: 3, CreatedAt: 10, UpdatedAt: 11,
		Fields: map[string]any{"title": "t", "content": "c", "userId": int64(5), "categoryId": int64(2)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entity mismatch (-want +got):\n%s", diff)
	}
	calls := m.CallsTo("posts", OpFindByID)
	require.Len(t, calls, 1)
	require.Equal(t, int64(3), calls[0].Variables["id"])
}

func TestFindByNamesCompositeOperation(t *testing.T) {
	s, m := newTestSDK(func(ctx context.Context, req rpc.Request) (any, error) {
		return []any{}, nil
	})

	got, err := s.Posts().FindBy(context.Background(),
		Match{Field: "userId", Value: "5"},
		Match{Field: "categoryId", Value: 2},
	)
	require.NoError(t, err)
	require.Empty(t, got)

	calls := m.CallsTo("posts", "find-by-userId-and-categoryId")
	require.Len(t, calls, 1)
	require.Equal(t, map[string]any{"userId": int64(5), "categoryId": int64(2)}, calls[0].Variables)
}

func TestFindOneMissingIsNotFound(t *testing.T) {
	s, _ := newTestSDK(func(ctx context.Context, req rpc.Request) (any, error) {
		return []any{}, nil
	})
	_, err := s.Categories().FindOne(context.Background(), "name", "go")
	var nf *errs.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "Category with name=go not found", nf.Error())
}

func TestRemoteNotFoundPassesThrough(t *testing.T) {
	s, _ := newTestSDK(func(ctx context.Context, req rpc.Request) (any, error) {
		return nil, errs.NotFound("User", 9)
	})
	_, err := s.Users().FindByID(context.Background(), 9)
	require.True(t, errs.IsNotFound(err))
	require.EqualError(t, err, "User with ID 9 not found")
}

func TestResolveReferencesIsAligned(t *testing.T) {
	s, m := newTestSDK(func(ctx context.Context, req rpc.Request) (any, error) {
		return []any{
			map[string]any{"id": 1, "username": "ann"},
			nil,
		}, nil
	})

	got, failures, err := s.Users().ResolveReferences(context.Background(), []entity.Ref{
		{Kind: entity.User, ID: 1},
		{Kind: entity.User, ID: 2},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "ann", got[0].Fields["username"])
	require.Nil(t, got[1])
	require.NoError(t, failures[0])
	require.True(t, errs.IsNotFound(failures[1]))

	reps := m.Calls()[0].Variables["representations"].([]any)
	require.Equal(t, map[string]any{"__typename": "User", "id": int64(2)}, reps[1])
}

func TestDeleteReportsRemoval(t *testing.T) {
	s, _ := newTestSDK(func(ctx context.Context, req rpc.Request) (any, error) {
		return true, nil
	})
	ok, err := s.Comments().Delete(context.Background(), 4)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPreparedFindOneDecodes(t *testing.T) {
	s, _ := newTestSDK(nil)
	p, err := s.Users().PrepareFindOne("username", "ann")
	require.NoError(t, err)
	require.Equal(t, "find-by-username", p.Operation)
	require.Equal(t, map[string]any{"username": "ann"}, p.Variables)

	_, err = p.Decode([]any{})
	require.True(t, errs.IsNotFound(err))

	v, err := p.Decode([]any{map[string]any{"id": float64(3), "username": "ann", "createdAt": float64(1), "updatedAt": float64(2)}})
	require.NoError(t, err)
	require.Equal(t, int64(3), v.(*entity.Entity).ID)

	_, err = s.Users().PrepareFindByID(-1)
	require.True(t, errs.IsValidation(err))
}
