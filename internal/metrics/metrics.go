package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmon_stream_messages_total",
		Help: "Stream messages consumed, labelled by topic, consumer group and outcome (ok, malformed).",
	}, []string{"topic", "group", "outcome"})

	StreamReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmon_stream_read_errors_total",
		Help: "Errors returned by the stream reader, labelled by topic and consumer group.",
	}, []string{"topic", "group"})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmon_dead_letters_total",
		Help: "Messages routed to a dead-letter destination, labelled by source and result.",
	}, []string{"source", "result"})

	FraudAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmon_fraud_alerts_total",
		Help: "Fraud alerts produced, labelled by reason and result (published, error).",
	}, []string{"reason", "result"})

	RuleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txmon_fraud_rule_errors_total",
		Help: "Fraud rules that failed to evaluate against an event.",
	})

	EmailTasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmon_email_tasks_enqueued_total",
		Help: "Email tasks published by the notification router, labelled by status and result.",
	}, []string{"status", "result"})

	EmailDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmon_email_deliveries_total",
		Help: "Email queue messages handled, labelled by outcome (sent, requeued, dead_lettered).",
	}, []string{"outcome"})

	EmailSendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "txmon_email_send_duration_ms",
		Help:    "SMTP send latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	EmailInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "txmon_email_in_flight",
		Help: "Email messages currently being processed (bounded by the prefetch limit).",
	})

	DashboardTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "txmon_dashboard_transactions",
		Help: "Transactions currently held in dashboard state.",
	})

	DashboardFlagged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "txmon_dashboard_flagged",
		Help: "Transactions flagged as suspicious.",
	})

	DashboardViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "txmon_dashboard_viewers",
		Help: "Connected real-time viewers.",
	})

	ViewersPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmon_dashboard_viewers_pruned_total",
		Help: "Viewers removed from the fan-out set, labelled by cause (slow, write_error, closed).",
	}, []string{"cause"})

	BrokerUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "txmon_broker_up",
		Help: "1 while the named broker connection is healthy.",
	}, []string{"broker"})

	StreamConsumerUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "txmon_stream_consumer_up",
		Help: "1 while the consumer's last read succeeded, labelled by topic and consumer group.",
	}, []string{"topic", "group"})
)
