package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/txmon/internal/api"
	"github.com/gyaneshwarpardhi/txmon/internal/fraud"
	"github.com/gyaneshwarpardhi/txmon/internal/model"
	"github.com/gyaneshwarpardhi/txmon/internal/rules"
	"github.com/gyaneshwarpardhi/txmon/internal/stream"
)

func fraudDetectorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fraud-detector",
		Short: "Raise fraud alerts for suspicious transactions",
		Long: `Consume transactions_log as group fraud_detector and produce one alert
to fraud_alerts, keyed by tx_id, for every event matching a fraud rule.

Without --rules the built-in rule flags any amount above 10000.`,
		RunE: runFraudDetector,
	}
	addrFlag(cmd, ":5100")
	cmd.Flags().String("rules", "", "fraud rules YAML file, hot-reloaded on change")
	return cmd
}

func runFraudDetector(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd, model.GroupFraudDetector, ":5100")
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

	rulesPath := a.cfg.Fraud.RulesPath
	if f := cmd.Flags().Lookup("rules"); f.Changed {
		rulesPath = f.Value.String()
	}
	set := rules.Default()
	var loader *rules.Loader
	if rulesPath != "" {
		if loader, err = rules.NewLoader(rulesPath, a.log); err != nil {
			a.log.Error("rules load failed", zap.String("path", rulesPath), zap.Error(err))
			return err
		}
		set = loader.Set()
	}
	a.log.Info("rules active", zap.String("version", set.Version()), zap.Int("rules", set.Len()))

	alerts := stream.NewWriter(brokers, model.TopicFraudAlerts, a.log)
	deadLetters := stream.NewWriter(brokers, a.cfg.Kafka.DeadLetterTopic, a.log)
	reader := stream.NewReader(brokers, model.TopicTransactions, model.GroupFraudDetector, a.log)
	defer a.closeAll(reader, alerts, deadLetters)

	det := fraud.New(set, alerts, a.log)
	if loader != nil {
		loader.OnChange(det.SwapRules)
		stopWatch, err := loader.Watch()
		if err != nil {
			a.log.Warn("rules watcher unavailable (hot-reload disabled)", zap.Error(err))
		} else {
			defer stopWatch()
		}
	}

	consumer := det.Consumer(reader, stream.NewDeadLetters(deadLetters))
	h := api.NewRouter(model.GroupFraudDetector, a.log, api.ReadyCheck{Name: "kafka", Ready: consumer.Healthy})
	api.RegisterRules(h, det, loader)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return a.serveHTTP(gctx, h) })
	if err := g.Wait(); err != nil {
		a.log.Error("fraud detector stopped", zap.Error(err))
		return err
	}
	a.log.Info("fraud detector stopped")
	return nil
}
