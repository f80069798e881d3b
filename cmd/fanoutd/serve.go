package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xraph/fanout"
	"github.com/xraph/fanout/api"
	"github.com/xraph/fanout/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion API and the dispatch workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	st, err := b.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // process exit

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []fanout.Option{
		fanout.WithConfig(cfg.Fanout()),
		fanout.WithStore(st),
		fanout.WithQueue(b.queueFactory(ctx, cfg)),
		fanout.WithLogger(logger),
		fanout.WithMetrics(observability.NewMetrics(reg)),
		fanout.WithTracer(observability.NewTracer()),
	}
	if l := b.limiter(cfg); l != nil {
		opts = append(opts, fanout.WithLimiter(l))
	}

	f, err := fanout.New(opts...)
	if err != nil {
		return err
	}

	handler := api.NewHandler(f.Gate(), f.Store(), f.DLQ(), f.Queue(), logger)
	handler.SetMaxBodyBytes(cfg.Server.MaxBodyBytes)

	prefix := strings.TrimSuffix(cfg.Server.Prefix, "/")
	mux := http.NewServeMux()
	mux.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	mux.Handle("GET /healthz", handler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	f.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fanoutd listening",
			"addr", srv.Addr,
			"prefix", prefix,
			"store", cfg.Store.Driver,
			"queue", cfg.Queue.Backend,
			"ratelimit", cfg.RateLimit.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}
	if err := f.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	logger.Info("fanoutd stopped")
	return errors.Join(errs...)
}
