package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hanpama/aegraph/internal/config"
	"github.com/hanpama/aegraph/internal/gateway"
	"github.com/hanpama/aegraph/internal/rpc"
	"github.com/hanpama/aegraph/internal/server"
)

type gatewayFlags struct {
	addr            string
	pretty          bool
	metadataHeaders []string
	maxBatch        int
}

func (g *gatewayFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&g.addr, "addr", "", "HTTP listen address (default from config, :4000)")
	cmd.Flags().BoolVar(&g.pretty, "pretty", false, "Pretty-print JSON responses")
	cmd.Flags().StringSliceVar(&g.metadataHeaders, "metadata-header", nil, "Forward HTTP header to the subgraphs. Repeatable")
	cmd.Flags().IntVar(&g.maxBatch, "max-batch", 0, "Cap the ids of one find-by-ids call")
}

func (g *gatewayFlags) apply(cfg *config.Config) {
	if g.addr != "" {
		cfg.Gateway.Addr = g.addr
	}
	if g.pretty {
		cfg.Gateway.Pretty = true
	}
	if len(g.metadataHeaders) > 0 {
		cfg.Gateway.MetadataHeaders = g.metadataHeaders
	}
	if g.maxBatch > 0 {
		cfg.Gateway.MaxBatch = g.maxBatch
	}
}

func newGatewayCmd(f *flags) *cobra.Command {
	g := &gatewayFlags{}
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the GraphQL gateway in front of the four subgraphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			g.apply(&cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := start(ctx, cfg, "gateway")
			if err != nil {
				return err
			}
			defer a.close()

			dir, err := cfg.Directory()
			if err != nil {
				return err
			}
			transport := rpc.NewGRPCTransport(
				rpc.WithMaxConnsPerEndpoint(cfg.Transport.MaxConnsPerEndpoint),
				rpc.WithRPCTimeout(cfg.Transport.RPCTimeout),
			)
			defer transport.Close()
			for svc, addrs := range dir {
				a.log.Info("subgraph", "service", svc, "addr", addrs[0])
			}

			h, err := newGatewayHandler(a, rpc.NewClient(transport, rpc.NewStaticDirectory(dir)))
			if err != nil {
				return err
			}
			return listenAndServe(ctx, a.log, &http.Server{Addr: cfg.Gateway.Addr, Handler: h})
		},
	}
	g.register(cmd)
	return cmd
}

// newGatewayHandler mounts the GraphQL endpoint on "/" and "/graphql",
// plus "/metrics" when metrics have no address of their own.
func newGatewayHandler(a *app, client *rpc.Client) (http.Handler, error) {
	cfg := a.cfg.Gateway
	gw, err := gateway.New(client,
		gateway.WithMaxBatch(cfg.MaxBatch),
		gateway.WithConcurrency(cfg.Concurrency),
		gateway.WithIntrospection(cfg.Introspection))
	if err != nil {
		return nil, err
	}
	opts := []server.Option{
		server.WithTimeout(cfg.Timeout),
		server.WithGraphiQL(cfg.GraphiQL),
	}
	if cfg.Pretty {
		opts = append(opts, server.WithPretty())
	}
	if cfg.MaxBodyBytes > 0 {
		opts = append(opts, server.WithMaxBodyBytes(cfg.MaxBodyBytes))
	}
	if len(cfg.CORSOrigins) > 0 {
		opts = append(opts, server.WithCORS(cfg.CORSOrigins...))
	}
	if len(cfg.MetadataHeaders) > 0 {
		opts = append(opts, server.WithMetadataHeaders(cfg.MetadataHeaders...))
	}
	h := server.New(gw, opts...)

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)
	mux.Handle("/", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "ok")
	})
	if !a.serveMetrics() {
		mux.Handle("/metrics", a.metrics.Handler())
	}
	return mux, nil
}
