package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/txmon/internal/api"
	"github.com/gyaneshwarpardhi/txmon/internal/mailer"
	"github.com/gyaneshwarpardhi/txmon/internal/model"
	"github.com/gyaneshwarpardhi/txmon/internal/queue"
)

const serviceEmailWorker = "email_worker"

func emailWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "email-worker",
		Short: "Deliver queued email tasks over SMTP",
		Long: `Consume email_queue with manual acks and at most email.prefetch messages
in flight. A message is acked only after the SMTP send succeeds; failures are
requeued, and after email.max_attempts failures moved to email_queue.dead.`,
		RunE: runEmailWorker,
	}
	addrFlag(cmd, ":5200")
	return cmd
}

func runEmailWorker(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd, serviceEmailWorker, ":5200")
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	transport := mailer.ResolveSMTP(a.cfg.SMTP)
	a.log.Info("smtp transport resolved", zap.Stringer("transport", transport), zap.String("from", transport.From))
	sender, err := mailer.NewSMTPSender(transport)
	if err != nil {
		a.log.Error("smtp setup failed", zap.Error(err))
		return err
	}

	conn, err := queue.Dial(ctx, queue.Options{
		URL:      a.cfg.RabbitMQ.URL,
		Name:     "txmon-email-worker",
		Queues:   []string{model.QueueEmail, model.QueueEmailDeadLetter},
		Prefetch: a.cfg.Email.Prefetch,
	}, a.log)
	if err != nil {
		a.log.Error("rabbitmq unavailable", zap.Error(err))
		return err
	}
	defer a.closeAll(conn)

	checks := []api.ReadyCheck{{Name: "rabbitmq", Ready: conn.IsHealthy}}
	attempts, check, err := attemptTracker(ctx, a)
	if err != nil {
		a.log.Error("redis unavailable", zap.Error(err))
		return err
	}
	if check != nil {
		checks = append(checks, *check)
	}

	worker := mailer.NewWorker(conn, sender, attempts, mailer.Options{
		From:        transport.From,
		Prefetch:    a.cfg.Email.Prefetch,
		MaxAttempts: a.cfg.Email.MaxAttempts,
	}, a.log)
	h := api.NewRouter(serviceEmailWorker, a.log, checks...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return a.serveHTTP(gctx, h) })
	if err := g.Wait(); err != nil {
		a.log.Error("email worker stopped", zap.Error(err))
		return err
	}
	a.log.Info("email worker stopped")
	return nil
}

// attemptTracker uses Redis when configured and process memory otherwise.
// Counting is skipped entirely when max_attempts is 0.
func attemptTracker(ctx context.Context, a *app) (mailer.AttemptTracker, *api.ReadyCheck, error) {
	if a.cfg.Email.MaxAttempts == 0 || a.cfg.Redis.Addr == "" {
		return mailer.NewMemoryAttempts(), nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", a.cfg.Redis.Addr, err)
	}
	a.log.Info("redelivery counters in redis", zap.String("addr", a.cfg.Redis.Addr))

	check := &api.ReadyCheck{Name: "redis", Ready: func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		return rdb.Ping(ctx).Err() == nil
	}}
	return mailer.NewRedisAttempts(rdb, a.cfg.Email.AttemptTTL), check, nil
}
