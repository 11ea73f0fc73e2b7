// Package streamtest provides in-memory stand-ins for kafka readers and writers.
package streamtest

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"
)

type item struct {
	msg kafka.Message
	err error
}

// Reader replays queued messages and errors in order, then reports io.EOF as
// a closed kafka reader does.
type Reader struct {
	mu     sync.Mutex
	items  []item
	offset int64
	topic  string
}

func NewReader(topic string) *Reader {
	return &Reader{topic: topic}
}

// Add queues a raw payload.
func (r *Reader) Add(value []byte) *Reader {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item{msg: kafka.Message{Topic: r.topic, Offset: r.offset, Value: value}})
	r.offset++
	return r
}

// AddJSON queues v encoded as JSON.
func (r *Reader) AddJSON(v any) *Reader {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return r.Add(data)
}

// AddError queues a read error.
func (r *Reader) AddError(err error) *Reader {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item{err: err})
	return r
}

func (r *Reader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return kafka.Message{}, io.EOF
	}
	it := r.items[0]
	r.items = r.items[1:]
	return it.msg, it.err
}

func (r *Reader) Close() error { return nil }

// Writer records every written message. Err, when set, fails every write.
type Writer struct {
	mu   sync.Mutex
	msgs []kafka.Message
	Err  error
}

func (w *Writer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return w.Err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *Writer) Close() error { return nil }

// Messages returns a copy of everything written so far.
func (w *Writer) Messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}
