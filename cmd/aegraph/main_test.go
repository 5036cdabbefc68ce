package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/aegraph/internal/config"
	"github.com/hanpama/aegraph/internal/eventbus"
	"github.com/hanpama/aegraph/internal/sdk"
)

func TestVersion(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "aegraph dev\n", out.String())
}

func TestSubgraphArgs(t *testing.T) {
	for _, args := range [][]string{
		{"subgraph"},
		{"subgraph", "tags"},
		{"subgraph", "users", "posts"},
	} {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		require.Error(t, cmd.Execute(), strings.Join(args, " "))
	}
}

func TestUnknownStoreDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "sqlite"
	_, _, err := openTable(context.Background(), cfg, "User", false)
	require.ErrorContains(t, err, "sqlite")
}

func TestDevClusterServesGraphQL(t *testing.T) {
	t.Cleanup(func() { eventbus.Use(nil) })
	ctx := context.Background()
	client := localCluster(0)
	require.NoError(t, seed(ctx, sdk.New(client)))

	cfg := config.Default()
	cfg.Log.Level = "error"
	a, err := start(ctx, cfg, "test")
	require.NoError(t, err)
	t.Cleanup(a.close)
	h, err := newGatewayHandler(a, client)
	require.NoError(t, err)

	body := `{"query":"{ getPostById(id: 1) { title user { username } category { name } comments { user { username } } } }"}`
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Data   map[string]any   `json:"data"`
		Errors []map[string]any `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Empty(t, res.Errors)
	want := map[string]any{"getPostById": map[string]any{
		"title":    "Batching references",
		"user":     map[string]any{"username": "ada"},
		"category": map[string]any{"name": "graphql"},
		"comments": []any{
			map[string]any{"user": map[string]any{"username": "linus"}},
			map[string]any{"user": map[string]any{"username": "ada"}},
		},
	}}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "aegraph_graphql_operations_total")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
