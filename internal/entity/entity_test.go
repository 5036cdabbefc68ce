package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/aegraph/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"User":       User,
		"users":      User,
		"post":       Post,
		"Comments":   Comment,
		"categories": Category,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseKind("tags")
	require.Error(t, err)
}

func TestFromRowRenamesStorageColumns(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	row := map[string]any{
		"id":          int64(7),
		"title":       "Hello",
		"content":     "World",
		"user_id":     int64(2),
		"category_id": nil,
		"created_at":  created,
		"updated_at":  created.Add(time.Minute),
	}
	got, err := MustLookup(Post).FromRow(row)
	require.NoError(t, err)

	want := &Entity{
		Kind:      Post,
		ID:        7,
		CreatedAt: created.UnixMilli(),
		UpdatedAt: created.Add(time.Minute).UnixMilli(),
		Fields: map[string]any{
			"title":      "Hello",
			"content":    "World",
			"userId":     int64(2),
			"categoryId": nil,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entity mismatch (-want +got):\n%s", diff)
	}
	_, ok := got.ForeignKey("categoryId")
	require.False(t, ok)
	id, ok := got.ForeignKey("userId")
	require.True(t, ok)
	require.Equal(t, int64(2), id)
}

func TestFromRowDropsSecretColumns(t *testing.T) {
	got, err := MustLookup(User).FromRow(map[string]any{
		"id": int64(1), "username": "alice", "password": "salt:hash",
	})
	require.NoError(t, err)
	_, ok := got.Get("password")
	require.False(t, ok)
	require.Equal(t, "alice", got.Fields["username"])
}

func TestToRow(t *testing.T) {
	tbl := MustLookup(Comment)
	row, err := tbl.ToRow(map[string]any{"content": "hi", "postId": float64(4), "userId": "3"})
	require.NoError(t, err)
	want := map[string]any{"content": "hi", "post_id": int64(4), "user_id": int64(3)}
	if diff := cmp.Diff(want, row); diff != "" {
		t.Fatalf("row mismatch (-want +got):\n%s", diff)
	}

	_, err = tbl.ToRow(map[string]any{"title": "x"})
	require.True(t, errs.IsValidation(err))

	_, err = tbl.ToRow(map[string]any{"postId": 0})
	require.True(t, errs.IsValidation(err))
	_, err = tbl.ToRow(map[string]any{"postId": "9007199254740993"})
	require.True(t, errs.IsValidation(err))
}

func TestCheckID(t *testing.T) {
	require.NoError(t, CheckID("id", 1))
	require.NoError(t, CheckID("id", MaxID))
	for _, id := range []int64{0, -1, MaxID + 1} {
		require.True(t, errs.IsValidation(CheckID("id", id)), "id %d", id)
	}
}

func TestCheckRequired(t *testing.T) {
	tbl := MustLookup(Category)
	require.NoError(t, tbl.CheckRequired(map[string]any{"name": "news"}))
	err := tbl.CheckRequired(map[string]any{"name": ""})
	require.True(t, errs.IsValidation(err))
	err = tbl.CheckRequired(map[string]any{"description": "d"})
	require.EqualError(t, err, "invalid name: is required")
}

func TestWireRoundTripThroughJSON(t *testing.T) {
	e := &Entity{
		Kind: Comment, ID: 11, CreatedAt: 1000, UpdatedAt: 2000,
		Fields: map[string]any{"content": "c", "postId": int64(3), "userId": int64(4)},
	}
	b, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	got, err := FromWire(Comment, m)
	require.NoError(t, err)
	if diff := cmp.Diff(e, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStorageName(t *testing.T) {
	tbl := MustLookup(Post)
	name, err := tbl.StorageName("categoryId")
	require.NoError(t, err)
	require.Equal(t, "category_id", name)
	name, err = tbl.StorageName("createdAt")
	require.NoError(t, err)
	require.Equal(t, "created_at", name)
	_, err = tbl.StorageName("nope")
	require.True(t, errs.IsValidation(err))
}
