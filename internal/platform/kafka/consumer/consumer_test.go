package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kgo"
)

type countingHandler struct {
	calls   int
	failFor int
}

func (h *countingHandler) Handle(_ context.Context, _ *Message) error {
	h.calls++
	if h.calls <= h.failFor {
		return errors.New("transient")
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcess_RetriesUntilSuccess(t *testing.T) {
	h := &countingHandler{failFor: 2}
	c := New(nil, h, quietLogger(), WithMaxAttempts(3), WithBackoff(0))

	c.process(context.Background(), &Message{Topic: "t"})

	assert.Equal(t, 3, h.calls)
}

func TestProcess_StopsAtMaxAttempts(t *testing.T) {
	h := &countingHandler{failFor: 10}
	c := New(nil, h, quietLogger(), WithMaxAttempts(2), WithBackoff(0))

	c.process(context.Background(), &Message{Topic: "t"})

	assert.Equal(t, 2, h.calls)
}

func TestProcess_CancelledContextStopsRetrying(t *testing.T) {
	h := &countingHandler{failFor: 10}
	c := New(nil, h, quietLogger(), WithMaxAttempts(5), WithBackoff(0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c.process(ctx, &Message{Topic: "t"})

	assert.Equal(t, 1, h.calls)
}

type deliveryKey struct{}

// ctxRecorder keeps the delivery value seen on the context of every log record.
type ctxRecorder struct {
	seen []any
}

func (r *ctxRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *ctxRecorder) Handle(ctx context.Context, _ slog.Record) error {
	r.seen = append(r.seen, ctx.Value(deliveryKey{}))
	return nil
}

func (r *ctxRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *ctxRecorder) WithGroup(string) slog.Handler      { return r }

func TestLogsCarryDeliveryContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), deliveryKey{}, "delivery-7")

	t.Run("retry and give up", func(t *testing.T) {
		rec := &ctxRecorder{}
		c := New(nil, &countingHandler{failFor: 10}, slog.New(rec), WithMaxAttempts(2), WithBackoff(0))

		c.process(ctx, &Message{Topic: "t"})

		assert.Equal(t, []any{"delivery-7", "delivery-7"}, rec.seen)
	})

	t.Run("unrouted topic", func(t *testing.T) {
		rec := &ctxRecorder{}
		r := NewRouter(slog.New(rec), nil)

		assert.NoError(t, r.Handle(ctx, &Message{Topic: "unknown"}))
		assert.Equal(t, []any{"delivery-7"}, rec.seen)
	})
}

func TestRouter(t *testing.T) {
	known := &countingHandler{}
	fallback := &countingHandler{}

	r := NewRouter(quietLogger(), nil)
	r.Register("compliance.audit.requested", known)

	assert.NoError(t, r.Handle(context.Background(), &Message{Topic: "compliance.audit.requested"}))
	assert.NoError(t, r.Handle(context.Background(), &Message{Topic: "unknown"}))
	assert.Equal(t, 1, known.calls)

	withFallback := NewRouter(quietLogger(), fallback)
	assert.NoError(t, withFallback.Handle(context.Background(), &Message{Topic: "unknown"}))
	assert.Equal(t, 1, fallback.calls)
}

func TestToMessage(t *testing.T) {
	msg := toMessage(&kgo.Record{
		Topic:   "compliance.audit.requested",
		Key:     []byte("evt-1"),
		Value:   []byte(`{}`),
		Headers: []kgo.RecordHeader{{Key: "source", Value: []byte("scheduler")}},
		Offset:  42,
	})

	assert.Equal(t, "evt-1", string(msg.Key))
	assert.Equal(t, "scheduler", msg.Headers["source"])
	assert.Equal(t, int64(42), msg.Offset)
}
