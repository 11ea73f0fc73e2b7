package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/txmon/internal/api"
	"github.com/gyaneshwarpardhi/txmon/internal/model"
	"github.com/gyaneshwarpardhi/txmon/internal/queue"
	"github.com/gyaneshwarpardhi/txmon/internal/router"
	"github.com/gyaneshwarpardhi/txmon/internal/stream"
)

func notificationRouterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notification-router",
		Short: "Enqueue an email task for every completed or failed transaction",
		RunE:  runNotificationRouter,
	}
	addrFlag(cmd, ":5000")
	return cmd
}

func runNotificationRouter(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd, model.GroupNotificationRouter, ":5000")
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	brokers := a.cfg.Kafka.Brokers
	if err := a.ensureTopics(ctx, model.TopicTransactions, a.cfg.Kafka.DeadLetterTopic); err != nil {
		a.log.Error("kafka unavailable", zap.Error(err))
		return err
	}

	conn, err := queue.Dial(ctx, queue.Options{
		URL:    a.cfg.RabbitMQ.URL,
		Name:   "txmon-notification-router",
		Queues: []string{model.QueueEmail},
	}, a.log)
	if err != nil {
		a.log.Error("rabbitmq unavailable", zap.Error(err))
		return err
	}

	deadLetters := stream.NewWriter(brokers, a.cfg.Kafka.DeadLetterTopic, a.log)
	reader := stream.NewReader(brokers, model.TopicTransactions, model.GroupNotificationRouter, a.log)
	defer a.closeAll(reader, deadLetters, conn)

	consumer := router.New(conn, a.log).Consumer(reader, stream.NewDeadLetters(deadLetters))
	h := api.NewRouter(model.GroupNotificationRouter, a.log,
		api.ReadyCheck{Name: "kafka", Ready: consumer.Healthy},
		api.ReadyCheck{Name: "rabbitmq", Ready: conn.IsHealthy},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return a.serveHTTP(gctx, h) })
	if err := g.Wait(); err != nil {
		a.log.Error("notification router stopped", zap.Error(err))
		return err
	}
	a.log.Info("notification router stopped")
	return nil
}
