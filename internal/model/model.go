package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as plain JSON numbers on every stream and queue.
	decimal.MarshalJSONWithoutQuotes = true
}

// Stream, queue and consumer group names shared by all components.
const (
	TopicTransactions = "transactions_log"
	TopicFraudAlerts  = "fraud_alerts"
	TopicDeadLetters  = "dead_letters"

	QueueEmail           = "email_queue"
	QueueEmailDeadLetter = "email_queue.dead"

	GroupFraudDetector      = "fraud_detector"
	GroupNotificationRouter = "notification_router"
	GroupDashboardTx        = "dashboard_aggregator_tx"
	GroupDashboardAlerts    = "dashboard_aggregator_alerts"
)

// Transaction statuses emitted by the ledger.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// ReasonHighValue is the reason attached to alerts raised by the default threshold rule.
const ReasonHighValue = "HIGH_VALUE_TRANSACTION"

// ErrInvalidEvent is returned when a payload decodes but lacks required fields.
var ErrInvalidEvent = errors.New("invalid event")

// TransactionEvent is one state transition of a transfer as published by the ledger.
type TransactionEvent struct {
	TxID      string          `json:"tx_id"`
	FromUser  string          `json:"from_user"`
	ToUser    string          `json:"to_user"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Email     string          `json:"email,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
}

// IsTerminal reports whether no further transition is expected after this event.
func (e *TransactionEvent) IsTerminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// Recipient is the address notifications for this transaction are sent to.
func (e *TransactionEvent) Recipient() string {
	if e.Email != "" {
		return e.Email
	}
	return e.FromUser + "@mail.local"
}

// FraudAlert is derived from a TransactionEvent that tripped a fraud rule.
type FraudAlert struct {
	TxID   string          `json:"tx_id"`
	Reason string          `json:"reason"`
	Amount decimal.Decimal `json:"amount"`
	At     time.Time       `json:"at"`
}

// EmailTask is the unit of work on the email queue.
type EmailTask struct {
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
	TxID    string `json:"tx_id,omitempty"`
}

// DecodeTransaction parses a transactions_log payload. A payload without tx_id is rejected.
func DecodeTransaction(data []byte) (TransactionEvent, error) {
	var ev TransactionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode transaction: %w", err)
	}
	if ev.TxID == "" {
		return ev, fmt.Errorf("decode transaction: %w: missing tx_id", ErrInvalidEvent)
	}
	return ev, nil
}

// DecodeAlert parses a fraud_alerts payload. A payload without tx_id is rejected.
func DecodeAlert(data []byte) (FraudAlert, error) {
	var a FraudAlert
	if err := json.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("decode alert: %w", err)
	}
	if a.TxID == "" {
		return a, fmt.Errorf("decode alert: %w: missing tx_id", ErrInvalidEvent)
	}
	return a, nil
}
