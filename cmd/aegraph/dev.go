package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/rpc"
	"github.com/hanpama/aegraph/internal/sdk"
	"github.com/hanpama/aegraph/internal/store"
	"github.com/hanpama/aegraph/internal/store/memtable"
	"github.com/hanpama/aegraph/internal/subgraph"
)

func newDevCmd(f *flags) *cobra.Command {
	g := &gatewayFlags{}
	var noSeed bool
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run the gateway and four in-memory subgraphs in one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			g.apply(&cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := start(ctx, cfg, "dev")
			if err != nil {
				return err
			}
			defer a.close()

			client := localCluster(cfg.Subgraph.MaxBatch)
			if !noSeed {
				if err := seed(ctx, sdk.New(client)); err != nil {
					return fmt.Errorf("seed: %w", err)
				}
			}
			h, err := newGatewayHandler(a, client)
			if err != nil {
				return err
			}
			return listenAndServe(ctx, a.log, &http.Server{Addr: cfg.Gateway.Addr, Handler: h})
		},
	}
	g.register(cmd)
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "Start with empty tables")
	return cmd
}

// localCluster mounts one in-memory subgraph per kind on a local transport
// and returns a client reaching them.
func localCluster(maxBatch int) *rpc.Client {
	lt := rpc.NewLocalTransport()
	dir := rpc.NewStaticDirectory(nil)
	client := rpc.NewClient(lt, dir)
	peers := sdk.New(client)
	var opts []subgraph.Option
	if maxBatch > 0 {
		opts = append(opts, subgraph.WithMaxBatch(maxBatch))
	}
	for _, k := range entity.Kinds {
		svc := subgraph.New(store.MustRepository(k, memtable.ForKind(k)), peers, opts...)
		target := "local://" + k.Service()
		lt.Mount(target, svc.Server())
		dir.Set(k.Service(), target)
	}
	return client
}

func seed(ctx context.Context, s *sdk.SDK) error {
	for _, u := range []map[string]any{
		{"username": "ada", "password": "lovelace"},
		{"username": "linus", "password": "torvalds"},
	} {
		if _, err := s.Users().Create(ctx, u); err != nil {
			return err
		}
	}
	for _, c := range []map[string]any{
		{"name": "go", "description": "The Go programming language"},
		{"name": "graphql"},
	} {
		if _, err := s.Categories().Create(ctx, c); err != nil {
			return err
		}
	}
	for _, p := range []map[string]any{
		{"title": "Batching references", "content": "One call per kind per window.", "userId": 1, "categoryId": 2},
		{"title": "Request scoped caches", "content": "Nothing is shared across requests.", "userId": 2, "categoryId": 1},
		{"title": "Goroutines and windows", "content": "Enqueue before you wait.", "userId": 1, "categoryId": 1},
	} {
		if _, err := s.Posts().Create(ctx, p); err != nil {
			return err
		}
	}
	for _, c := range []map[string]any{
		{"content": "Nice write-up", "postId": 1, "userId": 2},
		{"content": "Thanks", "postId": 1, "userId": 1},
		{"content": "What about mutations?", "postId": 3, "userId": 2},
	} {
		if _, err := s.Comments().Create(ctx, c); err != nil {
			return err
		}
	}
	return nil
}
