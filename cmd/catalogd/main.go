// Command catalogd serves the product catalog, the user session and the comment list.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/amp-labs/catalog-fsm/config"
	"github.com/amp-labs/catalog-fsm/logger"
	"github.com/amp-labs/catalog-fsm/shutdown"
	"github.com/amp-labs/catalog-fsm/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		logger.Fatal("catalogd stopped", "error", err)
	}
}

func run() error {
	cfg, err := config.Load[config.Config]()
	if err != nil {
		return err
	}

	ctx, cancel := shutdown.SignalContext(context.Background())
	defer cancel()

	stop := shutdown.New()

	tcfg, err := telemetry.LoadConfigFromEnv(cfg.App)
	if err != nil {
		return err
	}

	tel, err := telemetry.Initialize(ctx, tcfg)
	if err != nil {
		return err
	}

	stop.BeforeShutdown("telemetry", tel.Shutdown)

	var logOpts []logger.Option
	if provider := tel.LoggerProvider(); provider != nil {
		logOpts = append(logOpts, logger.WithLoggerProvider(provider))
	}

	if _, err := logger.ConfigureLogging(cfg.App, logOpts...); err != nil {
		return err
	}

	ctx = logger.WithSubsystem(ctx, cfg.App)

	a, err := build(ctx, cfg, prometheus.NewRegistry(), stop)
	if err != nil {
		return errors.Join(err, stop.Shutdown(ctx, cfg.ShutdownTimeout))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	stop.BeforeShutdown("http server", srv.Shutdown)

	go refreshDNS(ctx)

	a.warmUp(ctx)

	serveErr := make(chan error, 1)

	go func() {
		slog.Info("Serving", "addr", cfg.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Warn("Shutting down")
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	return errors.Join(err, stop.Shutdown(ctx, cfg.ShutdownTimeout))
}
