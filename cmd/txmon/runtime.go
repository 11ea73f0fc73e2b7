package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/txmon/internal/config"
	"github.com/gyaneshwarpardhi/txmon/internal/logger"
	"github.com/gyaneshwarpardhi/txmon/internal/stream"
)

const shutdownTimeout = 15 * time.Second

// app is what every subcommand starts from.
type app struct {
	cfg  *config.Config
	log  *zap.Logger
	addr string
}

// bootstrap loads and validates config and builds the logger. The listen
// address is the --addr flag when given, else http.addr, else defaultAddr.
func bootstrap(cmd *cobra.Command, service, defaultAddr string) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	log = log.With(zap.String("service", service))

	addr := defaultAddr
	if cfg.HTTPAddr != "" {
		addr = cfg.HTTPAddr
	}
	if f := cmd.Flags().Lookup("addr"); f != nil && f.Changed {
		addr = f.Value.String()
	}
	return &app{cfg: cfg, log: log, addr: addr}, nil
}

func addrFlag(cmd *cobra.Command, def string) {
	cmd.Flags().String("addr", def, "HTTP listen address")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// serveHTTP runs srv until ctx ends, then shuts it down gracefully.
func (a *app) serveHTTP(ctx context.Context, h http.Handler) error {
	srv := &http.Server{
		Addr:              a.addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info("http server starting", zap.String("addr", a.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// ensureTopics creates every topic the subcommand reads or writes.
func (a *app) ensureTopics(ctx context.Context, topics ...string) error {
	for _, t := range topics {
		if err := stream.EnsureTopic(ctx, a.cfg.Kafka.Brokers, t, a.log); err != nil {
			return err
		}
	}
	return nil
}

// closeAll closes each closer and logs failures.
func (a *app) closeAll(closers ...interface{ Close() error }) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
}
