package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/txmon/internal/api"
	"github.com/gyaneshwarpardhi/txmon/internal/dashboard"
	"github.com/gyaneshwarpardhi/txmon/internal/model"
	"github.com/gyaneshwarpardhi/txmon/internal/stream"
)

const serviceGateway = "dashboard_aggregator"

func gatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve the live transaction dashboard over HTTP and websocket",
		RunE:  runGateway,
	}
	addrFlag(cmd, ":4000")
	return cmd
}

func runGateway(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd, serviceGateway, ":4000")
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	brokers := a.cfg.Kafka.Brokers
	if err := a.ensureTopics(ctx, model.TopicTransactions, model.TopicFraudAlerts, a.cfg.Kafka.DeadLetterTopic); err != nil {
		a.log.Error("kafka unavailable", zap.Error(err))
		return err
	}

	txReader := stream.NewReader(brokers, model.TopicTransactions, model.GroupDashboardTx, a.log)
	alertReader := stream.NewReader(brokers, model.TopicFraudAlerts, model.GroupDashboardAlerts, a.log)
	deadLetters := stream.NewWriter(brokers, a.cfg.Kafka.DeadLetterTopic, a.log)
	defer a.closeAll(txReader, alertReader, deadLetters)

	hub := dashboard.NewHub(a.cfg.Dashboard.ViewerBuffer, a.log)
	txs, alerts := hub.Consumers(txReader, alertReader, stream.NewDeadLetters(deadLetters))

	h := api.NewRouter(serviceGateway, a.log, api.ReadyCheck{Name: "kafka", Ready: func() bool {
		return txs.Healthy() && alerts.Healthy()
	}})
	api.RegisterGateway(h, hub, a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return txs.Run(gctx) })
	g.Go(func() error { return alerts.Run(gctx) })
	g.Go(func() error {
		hub.RunRetention(gctx, a.cfg.Dashboard.Retention)
		return nil
	})
	g.Go(func() error { return a.serveHTTP(gctx, h) })
	if err := g.Wait(); err != nil {
		a.log.Error("gateway stopped", zap.Error(err))
		return err
	}
	a.log.Info("gateway stopped")
	return nil
}
