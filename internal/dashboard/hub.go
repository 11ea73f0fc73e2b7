// Package dashboard keeps the live view of recent transactions and fraud flags
// and fans every change out to connected viewers.
package dashboard

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/txmon/internal/metrics"
	"github.com/gyaneshwarpardhi/txmon/internal/model"
	"github.com/gyaneshwarpardhi/txmon/internal/stream"
)

// Viewer message types.
const (
	TypeSnapshot    = "snapshot"
	TypeTransaction = "transaction"
	TypeAlert       = "alert"
)

// Message is the envelope of everything sent to a viewer.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Item is one snapshot row. When the event arrived from the stream, the row
// carries every field the producer sent, not only the modelled ones.
type Item struct {
	model.TransactionEvent
	Suspicious bool `json:"suspicious"`

	raw json.RawMessage
}

type plainItem Item

func (it Item) MarshalJSON() ([]byte, error) {
	if it.raw == nil {
		return json.Marshal(plainItem(it))
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(it.raw, &fields); err != nil {
		return nil, err
	}
	fields["suspicious"] = json.RawMessage(strconv.FormatBool(it.Suspicious))
	return json.Marshal(fields)
}

type Totals struct {
	Transactions int `json:"transactions"`
	FraudAlerts  int `json:"fraudAlerts"`
}

type entry struct {
	ev        model.TransactionEvent
	raw       json.RawMessage
	seq       uint64
	updatedAt time.Time
}

// Hub owns the dashboard state and the viewer set. Every mutation of either
// happens under mu, so a new viewer's snapshot is always queued before any
// change that was not already part of it.
type Hub struct {
	mu      sync.Mutex
	txs     map[string]*entry
	flagged map[string]struct{}
	seq     uint64
	viewers map[*Subscription]struct{}

	buffer int
	now    func() time.Time
	log    *zap.Logger
}

// NewHub creates an empty hub. buffer is the per-viewer queue length; a
// viewer that falls that far behind is dropped.
func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		txs:     make(map[string]*entry),
		flagged: make(map[string]struct{}),
		viewers: make(map[*Subscription]struct{}),
		buffer:  buffer,
		now:     time.Now,
		log:     log,
	}
}

// Record stores ev as the latest state of its transaction and broadcasts it.
// A known tx_id keeps its original position in the snapshot.
func (h *Hub) Record(ev model.TransactionEvent) {
	h.RecordRaw(ev, nil)
}

// RecordRaw is Record for an event decoded from raw. Viewers receive raw
// as sent, so fields outside the model pass through unchanged.
func (h *Hub) RecordRaw(ev model.TransactionEvent, raw []byte) {
	var payload []byte
	if raw != nil {
		raw = append(json.RawMessage(nil), raw...)
		payload = encode(TypeTransaction, json.RawMessage(raw))
	} else {
		payload = encode(TypeTransaction, ev)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.txs[ev.TxID]; ok {
		e.ev = ev
		e.raw = raw
		e.updatedAt = h.now()
	} else {
		h.seq++
		h.txs[ev.TxID] = &entry{ev: ev, raw: raw, seq: h.seq, updatedAt: h.now()}
		metrics.DashboardTransactions.Set(float64(len(h.txs)))
	}
	h.broadcast(payload)
}

// Flag marks a transaction as suspicious and broadcasts the alert. Flags are
// never removed. An alert may arrive before its transaction.
func (h *Hub) Flag(a model.FraudAlert) {
	payload := encode(TypeAlert, a)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.flagged[a.TxID] = struct{}{}
	metrics.DashboardFlagged.Set(float64(len(h.flagged)))
	h.broadcast(payload)
}

// Snapshot lists every transaction in first-seen order with its flag.
func (h *Hub) Snapshot() []Item {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot()
}

func (h *Hub) snapshot() []Item {
	entries := make([]*entry, 0, len(h.txs))
	for _, e := range h.txs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	items := make([]Item, len(entries))
	for i, e := range entries {
		_, flagged := h.flagged[e.ev.TxID]
		items[i] = Item{TransactionEvent: e.ev, Suspicious: flagged, raw: e.raw}
	}
	return items
}

// Totals counts transactions held and distinct flagged tx_ids.
func (h *Hub) Totals() Totals {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Totals{Transactions: len(h.txs), FraudAlerts: len(h.flagged)}
}

// Subscription is one viewer's ordered message feed. C is closed when the
// viewer is dropped or closed.
type Subscription struct {
	C   <-chan []byte
	ch  chan []byte
	hub *Hub
}

// Subscribe registers a viewer whose first message is the current snapshot.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan []byte, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	ch <- encode(TypeSnapshot, h.snapshot())
	h.viewers[s] = struct{}{}
	metrics.DashboardViewers.Set(float64(len(h.viewers)))
	return s
}

// Close unregisters the viewer. Safe to call after it was dropped.
func (s *Subscription) Close() {
	s.hub.drop(s, "closed")
}

// Fail drops the viewer after a write error on its connection.
func (s *Subscription) Fail(err error) {
	s.hub.log.Debug("viewer write failed", zap.Error(err))
	s.hub.drop(s, "write_error")
}

func (h *Hub) drop(s *Subscription, cause string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prune(s, cause)
}

// prune must be called with mu held.
func (h *Hub) prune(s *Subscription, cause string) {
	if _, ok := h.viewers[s]; !ok {
		return
	}
	delete(h.viewers, s)
	close(s.ch)
	metrics.ViewersPruned.WithLabelValues(cause).Inc()
	metrics.DashboardViewers.Set(float64(len(h.viewers)))
}

// broadcast must be called with mu held. It never blocks: a viewer whose
// queue is full is dropped and the others still receive the message.
func (h *Hub) broadcast(payload []byte) {
	for s := range h.viewers {
		select {
		case s.ch <- payload:
		default:
			h.log.Warn("slow viewer dropped", zap.Int("buffer", h.buffer))
			h.prune(s, "slow")
		}
	}
}

// Viewers returns the number of registered viewers.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Evict removes transactions last updated before cutoff. Flags stay.
func (h *Hub) Evict(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, e := range h.txs {
		if e.updatedAt.Before(cutoff) {
			delete(h.txs, id)
			n++
		}
	}
	metrics.DashboardTransactions.Set(float64(len(h.txs)))
	return n
}

// RunRetention evicts transactions older than window until ctx ends. A zero
// window keeps everything and returns immediately.
func (h *Hub) RunRetention(ctx context.Context, window time.Duration) {
	if window <= 0 {
		return
	}
	interval := max(window/4, time.Second)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := h.Evict(h.now().Add(-window)); n > 0 {
				h.log.Info("evicted stale transactions", zap.Int("count", n), zap.Duration("retention", window))
			}
		}
	}
}

// HandleTransaction adapts RecordRaw to a stream consumer.
func (h *Hub) HandleTransaction(_ context.Context, ev model.TransactionEvent, msg kafka.Message) {
	h.RecordRaw(ev, msg.Value)
}

// HandleAlert adapts Flag to a stream consumer.
func (h *Hub) HandleAlert(_ context.Context, a model.FraudAlert, _ kafka.Message) {
	h.Flag(a)
}

// Consumers returns the two independent stream consumers that feed the hub.
func (h *Hub) Consumers(txs, alerts stream.Reader, dl stream.DeadLetterSink) (*stream.Consumer[model.TransactionEvent], *stream.Consumer[model.FraudAlert]) {
	txc := &stream.Consumer[model.TransactionEvent]{
		Reader:     txs,
		Topic:      model.TopicTransactions,
		Group:      model.GroupDashboardTx,
		Decode:     model.DecodeTransaction,
		Handle:     h.HandleTransaction,
		DeadLetter: dl,
		Log:        h.log,
	}
	ac := &stream.Consumer[model.FraudAlert]{
		Reader:     alerts,
		Topic:      model.TopicFraudAlerts,
		Group:      model.GroupDashboardAlerts,
		Decode:     model.DecodeAlert,
		Handle:     h.HandleAlert,
		DeadLetter: dl,
		Log:        h.log,
	}
	return txc, ac
}

func encode(typ string, data any) []byte {
	b, err := json.Marshal(Message{Type: typ, Data: data})
	if err != nil {
		// Only model types and payloads that already decoded are encoded here.
		panic(err)
	}
	return b
}
