package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/hanpama/aegraph/internal/config"
	"github.com/hanpama/aegraph/internal/entity"
	"github.com/hanpama/aegraph/internal/rpc"
	"github.com/hanpama/aegraph/internal/sdk"
	"github.com/hanpama/aegraph/internal/store"
	"github.com/hanpama/aegraph/internal/store/memtable"
	"github.com/hanpama/aegraph/internal/store/sqltable"
	"github.com/hanpama/aegraph/internal/subgraph"
)

func newSubgraphCmd(f *flags) *cobra.Command {
	var (
		listen   string
		driver   string
		migrate  bool
		maxBatch int
	)
	cmd := &cobra.Command{
		Use:   "subgraph <kind>",
		Short: "Serve the operations of one entity kind (users, posts, comments, categories)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := entity.ParseKind(args[0])
			if err != nil {
				return err
			}
			cfg, err := f.load()
			if err != nil {
				return err
			}
			if driver != "" {
				cfg.Store.Driver = driver
			}
			if maxBatch > 0 {
				cfg.Subgraph.MaxBatch = maxBatch
			}
			if listen == "" {
				if listen, err = cfg.Listen(kind); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := start(ctx, cfg, kind.Service())
			if err != nil {
				return err
			}
			defer a.close()
			a.serveMetrics()

			table, closeTable, err := openTable(ctx, cfg, kind, migrate)
			if err != nil {
				return err
			}
			defer closeTable()
			repo, err := store.NewRepository(kind, table)
			if err != nil {
				return err
			}

			dir, err := cfg.Directory()
			if err != nil {
				return err
			}
			transport := rpc.NewGRPCTransport(
				rpc.WithMaxConnsPerEndpoint(cfg.Transport.MaxConnsPerEndpoint),
				rpc.WithRPCTimeout(cfg.Transport.RPCTimeout),
			)
			defer transport.Close()
			peers := sdk.New(rpc.NewClient(transport, rpc.NewStaticDirectory(dir)))

			var opts []subgraph.Option
			if cfg.Subgraph.MaxBatch > 0 {
				opts = append(opts, subgraph.WithMaxBatch(cfg.Subgraph.MaxBatch))
			}
			svc := subgraph.New(repo, peers, opts...)

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			gs := grpc.NewServer()
			svc.Server().Register(gs)
			go func() {
				<-ctx.Done()
				gs.GracefulStop()
			}()
			a.log.Info("subgraph listening", "service", kind.Service(), "addr", lis.Addr().String(), "store", cfg.Store.Driver)
			return gs.Serve(lis)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "gRPC listen address (default: the port of the kind's service address)")
	cmd.Flags().StringVar(&driver, "store", "", "memory or postgres (default from config)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Create the table before serving (postgres)")
	cmd.Flags().IntVar(&maxBatch, "max-batch", 0, "Cap the ids of one find-by-ids call to another service")
	return cmd
}

// openTable opens the table of kind with the configured driver.
func openTable(ctx context.Context, cfg config.Config, kind entity.Kind, migrate bool) (store.Table, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return memtable.ForKind(kind), func() {}, nil
	case config.DriverPostgres:
		db, err := sqltable.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if migrate {
			if err := sqltable.Migrate(ctx, db, kind); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		t := entity.MustLookup(kind)
		return sqltable.New(db, t.Name), func() { _ = db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
