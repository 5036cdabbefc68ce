package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hanpama/aegraph/internal/config"
	"github.com/hanpama/aegraph/internal/eventbus"
	"github.com/hanpama/aegraph/internal/logging"
	"github.com/hanpama/aegraph/internal/metrics"
	"github.com/hanpama/aegraph/internal/otel"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type flags struct {
	config    string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "aegraph",
		Short:         "Federated GraphQL gateway over per-entity services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&f.logFormat, "log-format", "", "text or json")

	root.AddCommand(
		newGatewayCmd(f),
		newSubgraphCmd(f),
		newDevCmd(f),
		newVersionCmd(),
	)
	return root
}

// app is the ambient state shared by the serving commands.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	shutdown []func(context.Context) error
}

func (f *flags) load() (config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return config.Config{}, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	return cfg, nil
}

// start installs the event bus with its logging, metrics and tracing
// subscribers.
func start(ctx context.Context, cfg config.Config, service string) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	eventbus.Use(eventbus.New())
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	unsubLog := logging.Subscribe(log)
	unsubMetrics := a.metrics.Subscribe()
	a.shutdown = append(a.shutdown, func(context.Context) error {
		unsubLog()
		unsubMetrics()
		return nil
	})

	otelService := cfg.OTel.Service
	if service != "" {
		otelService += "-" + service
	}
	stopTracing, err := otel.Setup(ctx, cfg.OTel.Endpoint, otelService)
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	a.shutdown = append(a.shutdown, stopTracing)
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil {
			a.log.Warn("shutdown", "err", err)
		}
	}
}

// serveMetrics serves /metrics on its own address when one is configured.
// It returns false when the caller should mount the handler itself.
func (a *app) serveMetrics() bool {
	if a.cfg.Metrics.Addr == "" {
		return false
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}
	go func() {
		a.log.Info("metrics listening", "addr", a.cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server", "err", err)
		}
	}()
	a.shutdown = append(a.shutdown, srv.Shutdown)
	return true
}

// listenAndServe runs srv until ctx is done, then shuts it down.
func listenAndServe(ctx context.Context, log *slog.Logger, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		log.Info("graphql listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "aegraph %s\n", version)
		},
	}
}
