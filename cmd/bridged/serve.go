package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/next-trace/scg-bridge/bridge"
	"github.com/next-trace/scg-bridge/codec"
	"github.com/next-trace/scg-bridge/config"
	"github.com/next-trace/scg-bridge/metrics"
	"github.com/next-trace/scg-bridge/registry"
	"github.com/next-trace/scg-bridge/stream"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	var demo bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the system controller until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, cmd.ErrOrStderr(), demo)
		},
	}

	cmd.Flags().BoolVar(&demo, "demo", true, "run an in-process client against the in-memory transport")

	return cmd
}

func newMetricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return mux
}

// serve runs until ctx is done. demo only applies to the in-memory transport, where the peer lives in-process.
func serve(ctx context.Context, cfg config.Config, logOut io.Writer, demo bool) (err error) {
	logger := newLogger(logOut, cfg.Log.Level, cfg.Log.Format)

	cd, err := codec.ByName(cfg.Transport.Codec)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPrometheus(promReg)

	tr, err := openTransport(cfg.Transport, logger)
	if err != nil {
		return fmt.Errorf("transport %s: %w", cfg.Transport.Kind, err)
	}
	defer tr.cleanup()

	bc, bcCleanup, err := openBroadcaster(cfg.Transport, cd)
	if err != nil {
		return fmt.Errorf("broadcaster %s: %w", cfg.Transport.Broadcaster, err)
	}
	defer bcCleanup()

	opts := []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithCodec(cd),
		bridge.WithSessions(stream.NewRegistry(stream.WithLogger(logger), stream.WithMetrics(m))),
	}
	if bc != nil {
		opts = append(opts, bridge.WithBroadcaster(bc))
	}

	b := bridge.New(tr.host, opts...)
	reg := registry.New(registry.WithLogger(logger), registry.WithMetrics(m))

	defer func() {
		err = errors.Join(err, b.Close(), reg.Dispose())
	}()

	ctrl := registry.Provide(func() (*systemController, error) {
		return newSystemController(logger, cfg.Demo.TickInterval), nil
	})
	if err := reg.Register(ctx, bridge.Define(b, ctrl, systemSettings)); err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: newMetricsHandler(promReg), ReadHeaderTimeout: 5 * time.Second}

		wg.Go(func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("bridged: metrics server failed", "addr", cfg.Metrics.Addr, "err", err)
			}
		})

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.InfoContext(ctx, "bridged: serving",
		"transport", cfg.Transport.Kind, "codec", cd.Name(), "groups", b.Groups(), "metrics", cfg.Metrics.Addr)

	if demo && cfg.Transport.Kind == "inmemory" {
		wg.Go(func() {
			if err := runDemoClient(ctx, tr.peer, cd, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("bridged: demo client stopped", "err", err)
			}
		})
	}

	<-ctx.Done()
	logger.Info("bridged: shutting down")

	return nil
}
