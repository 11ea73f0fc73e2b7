package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/txmon/internal/metrics"
	"github.com/gyaneshwarpardhi/txmon/internal/model"
	"github.com/gyaneshwarpardhi/txmon/internal/rules"
	"github.com/gyaneshwarpardhi/txmon/internal/stream"
)

// Detector turns transaction events into fraud alerts. It keeps no state
// between events and does not deduplicate: a redelivered event that matches
// a rule produces another alert.
type Detector struct {
	rules atomic.Pointer[rules.Set]
	out   stream.Writer
	log   *zap.Logger
	now   func() time.Time
}

// New creates a Detector that evaluates set and produces alerts to out.
func New(set *rules.Set, out stream.Writer, log *zap.Logger) *Detector {
	d := &Detector{out: out, log: log, now: time.Now}
	d.rules.Store(set)
	return d
}

// SwapRules atomically replaces the rule set (used on hot-reload).
func (d *Detector) SwapRules(s *rules.Set) {
	d.rules.Store(s)
}

// Rules returns the rule set currently in use.
func (d *Detector) Rules() *rules.Set {
	return d.rules.Load()
}

// Handle evaluates one event and publishes at most one alert for it.
// Publish errors are logged and dropped.
func (d *Detector) Handle(ctx context.Context, ev model.TransactionEvent, _ kafka.Message) {
	rule, ok, errs := d.rules.Load().Match(&ev)
	for _, err := range errs {
		metrics.RuleErrors.Inc()
		d.log.Warn("rule evaluation failed", zap.String("tx_id", ev.TxID), zap.Error(err))
	}
	if !ok {
		return
	}

	alert := model.FraudAlert{
		TxID:   ev.TxID,
		Reason: rule.Reason,
		Amount: ev.Amount,
		At:     d.now().UTC(),
	}
	if err := d.publish(ctx, alert); err != nil {
		metrics.FraudAlerts.WithLabelValues(alert.Reason, "error").Inc()
		d.log.Error("alert publish failed", zap.String("tx_id", ev.TxID), zap.Error(err))
		return
	}
	metrics.FraudAlerts.WithLabelValues(alert.Reason, "published").Inc()
	d.log.Info("alert published",
		zap.String("tx_id", alert.TxID),
		zap.String("reason", alert.Reason),
		zap.String("rule", rule.ID),
		zap.String("amount", alert.Amount.String()),
	)
}

func (d *Detector) publish(ctx context.Context, a model.FraudAlert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return d.out.WriteMessages(ctx, kafka.Message{Key: []byte(a.TxID), Value: data})
}

// Consumer wires the detector to the transactions_log stream.
func (d *Detector) Consumer(r stream.Reader, dl stream.DeadLetterSink) *stream.Consumer[model.TransactionEvent] {
	return &stream.Consumer[model.TransactionEvent]{
		Reader:     r,
		Topic:      model.TopicTransactions,
		Group:      model.GroupFraudDetector,
		Decode:     model.DecodeTransaction,
		Handle:     d.Handle,
		DeadLetter: dl,
		Log:        d.log,
	}
}
