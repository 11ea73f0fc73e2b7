package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/txmon/internal/api"
	"github.com/gyaneshwarpardhi/txmon/internal/dashboard"
	"github.com/gyaneshwarpardhi/txmon/internal/fraud"
	"github.com/gyaneshwarpardhi/txmon/internal/model"
	"github.com/gyaneshwarpardhi/txmon/internal/rules"
	"github.com/gyaneshwarpardhi/txmon/internal/stream/streamtest"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	r := api.NewRouter("dashboard_aggregator", zap.NewNop())

	rec := get(t, r, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"dashboard_aggregator"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	up := true
	r := api.NewRouter("email_worker", zap.NewNop(),
		api.ReadyCheck{Name: "rabbitmq", Ready: func() bool { return up }},
	)

	rec := get(t, r, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","dependencies":{"rabbitmq":"up"}}`, rec.Body.String())

	up = false
	rec = get(t, r, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","dependencies":{"rabbitmq":"down"}}`, rec.Body.String())
}

func TestPrometheusEndpoint(t *testing.T) {
	rec := get(t, api.NewRouter("svc", zap.NewNop()), "/internal/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func newGateway(t *testing.T) (*dashboard.Hub, http.Handler) {
	t.Helper()
	hub := dashboard.NewHub(16, zap.NewNop())
	r := api.NewRouter("dashboard_aggregator", zap.NewNop())
	api.RegisterGateway(r, hub, zap.NewNop())
	return hub, r
}

func TestGatewayMetrics(t *testing.T) {
	hub, r := newGateway(t)
	hub.Record(model.TransactionEvent{TxID: "t1", Amount: decimal.NewFromInt(20000), Status: model.StatusPending})
	hub.Record(model.TransactionEvent{TxID: "t2", Amount: decimal.NewFromInt(5), Status: model.StatusPending})
	hub.Flag(model.FraudAlert{TxID: "t1", Reason: model.ReasonHighValue})

	before := time.Now().Add(-time.Second)
	rec := get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Totals struct {
			Transactions int `json:"transactions"`
			FraudAlerts  int `json:"fraudAlerts"`
		} `json:"totals"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Totals.Transactions)
	assert.Equal(t, 1, body.Totals.FraudAlerts)
	assert.True(t, body.UpdatedAt.After(before), "updatedAt is computed per request")
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestViewerSocket(t *testing.T) {
	hub, r := newGateway(t)
	hub.Record(model.TransactionEvent{TxID: "t1", Amount: decimal.NewFromInt(50), Status: model.StatusPending})

	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	snap := readFrame(t, conn)
	assert.Equal(t, dashboard.TypeSnapshot, snap.Type)
	var items []dashboard.Item
	require.NoError(t, json.Unmarshal(snap.Data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "t1", items[0].TxID)
	assert.False(t, items[0].Suspicious)

	hub.Record(model.TransactionEvent{TxID: "t1", Amount: decimal.NewFromInt(50), Status: model.StatusCompleted})
	delta := readFrame(t, conn)
	assert.Equal(t, dashboard.TypeTransaction, delta.Type)
	var ev model.TransactionEvent
	require.NoError(t, json.Unmarshal(delta.Data, &ev))
	assert.Equal(t, model.StatusCompleted, ev.Status)

	hub.Flag(model.FraudAlert{TxID: "t1", Reason: model.ReasonHighValue})
	assert.Equal(t, dashboard.TypeAlert, readFrame(t, conn).Type)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Viewers() == 0 }, 2*time.Second, 10*time.Millisecond,
		"a disconnected viewer is pruned")
}

func TestRulesEndpoints_BuiltIn(t *testing.T) {
	det := fraud.New(rules.Default(), &streamtest.Writer{}, zap.NewNop())
	r := api.NewRouter("fraud_detector", zap.NewNop())
	api.RegisterRules(r, det, nil)

	rec := get(t, r, "/v1/rules")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"builtin","rules":[{"id":"high_value","description":"single transfer above the high-value threshold","enabled":true,"reason":"HIGH_VALUE_TRANSACTION","expression":"amount > 10000"}]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/rules/reload", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRulesEndpoints_ReloadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	write := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	write(`
version: "1"
rules:
  - id: high_value
    enabled: true
    reason: HIGH_VALUE_TRANSACTION
    expression: amount > 10000
`)
	loader, err := rules.NewLoader(path, zap.NewNop())
	require.NoError(t, err)
	det := fraud.New(loader.Set(), &streamtest.Writer{}, zap.NewNop())
	loader.OnChange(det.SwapRules)

	r := api.NewRouter("fraud_detector", zap.NewNop())
	api.RegisterRules(r, det, loader)

	write(`
version: "2"
rules:
  - id: very_high_value
    enabled: true
    reason: HIGH_VALUE_TRANSACTION
    expression: amount > 50000
  - id: blocked_user
    enabled: true
    reason: BLOCKED_USER
    expression: from_user in ["mallory"]
`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/rules/reload", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reloaded":true,"version":"2","rules_count":2}`, rec.Body.String())
	assert.Equal(t, "2", det.Rules().Version())

	write(`version: ""`)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/rules/reload", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "2", det.Rules().Version(), "a bad file keeps the previous rules")
}
