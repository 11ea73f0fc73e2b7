package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/txmon/internal/model"
	"github.com/gyaneshwarpardhi/txmon/internal/rules"
	"github.com/gyaneshwarpardhi/txmon/internal/stream/streamtest"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDetector(out *streamtest.Writer) *Detector {
	d := New(rules.Default(), out, zap.NewNop())
	d.now = func() time.Time { return fixedNow }
	return d
}

func tx(id string, amount int64) model.TransactionEvent {
	return model.TransactionEvent{
		TxID:     id,
		FromUser: "ana",
		ToUser:   "bo",
		Amount:   decimal.NewFromInt(amount),
		Status:   model.StatusCompleted,
	}
}

func runStream(t *testing.T, d *Detector, events ...any) {
	t.Helper()
	r := streamtest.NewReader(model.TopicTransactions)
	for _, ev := range events {
		if raw, ok := ev.(string); ok {
			r.Add([]byte(raw))
			continue
		}
		r.AddJSON(ev)
	}
	require.NoError(t, d.Consumer(r, nil).Run(context.Background()))
}

func TestDetector_HighValueProducesKeyedAlert(t *testing.T) {
	out := &streamtest.Writer{}
	runStream(t, newTestDetector(out), tx("t1", 15000))

	msgs := out.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "t1", string(msgs[0].Key), "alerts are keyed by tx_id")

	var alert model.FraudAlert
	require.NoError(t, json.Unmarshal(msgs[0].Value, &alert))
	assert.Equal(t, "t1", alert.TxID)
	assert.Equal(t, model.ReasonHighValue, alert.Reason)
	assert.True(t, alert.Amount.Equal(decimal.NewFromInt(15000)))
	assert.True(t, alert.At.Equal(fixedNow))
}

func TestDetector_AtOrBelowThresholdProducesNothing(t *testing.T) {
	out := &streamtest.Writer{}
	runStream(t, newTestDetector(out), tx("t1", 10000), tx("t2", 50), tx("t3", 0))
	assert.Empty(t, out.Messages())
}

func TestDetector_RedeliveryProducesDuplicateAlert(t *testing.T) {
	out := &streamtest.Writer{}
	ev := tx("t1", 20000)
	runStream(t, newTestDetector(out), ev, ev)

	msgs := out.Messages()
	require.Len(t, msgs, 2, "one alert per delivered event, duplicates included")
	assert.Equal(t, msgs[0].Key, msgs[1].Key)
}

func TestDetector_MalformedEventIsSkipped(t *testing.T) {
	out := &streamtest.Writer{}
	runStream(t, newTestDetector(out), `{"tx_id":`, tx("t2", 30000))

	msgs := out.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "t2", string(msgs[0].Key))
}

func TestDetector_PublishErrorIsSwallowed(t *testing.T) {
	out := &streamtest.Writer{Err: errors.New("leader not available")}
	d := newTestDetector(out)

	assert.NotPanics(t, func() {
		runStream(t, d, tx("t1", 20000), tx("t2", 20000))
	})
	assert.Empty(t, out.Messages())
}

func TestDetector_SwapRules(t *testing.T) {
	out := &streamtest.Writer{}
	d := newTestDetector(out)

	set, err := rules.Build(&rules.File{
		Version: "v2",
		Rules: []rules.RuleDef{
			{ID: "any_failed", Enabled: true, Reason: "FAILED_TRANSFER", Expression: `status == "FAILED"`},
		},
	})
	require.NoError(t, err)
	d.SwapRules(set)

	failed := tx("t1", 10)
	failed.Status = model.StatusFailed
	runStream(t, d, failed, tx("t2", 50000))

	msgs := out.Messages()
	require.Len(t, msgs, 1)
	var alert model.FraudAlert
	require.NoError(t, json.Unmarshal(msgs[0].Value, &alert))
	assert.Equal(t, "FAILED_TRANSFER", alert.Reason)
}
