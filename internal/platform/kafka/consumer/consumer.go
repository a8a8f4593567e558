package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is the transport-neutral view of one consumed record.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Partition int32
	Offset    int64
}

// Handler processes one message. Returning an error asks for another attempt;
// handlers return nil for poison messages so they are committed and skipped.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// Consumer polls a consumer group and commits each record after its handler
// succeeds or its attempts are exhausted.
type Consumer struct {
	client      *kgo.Client
	handler     Handler
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
}

type Option func(*Consumer)

func WithMaxAttempts(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(c *Consumer) {
		c.backoff = d
	}
}

func New(client *kgo.Client, handler Handler, logger *slog.Logger, opts ...Option) *Consumer {
	c := &Consumer{
		client:      client,
		handler:     handler,
		logger:      logger,
		maxAttempts: 3,
		backoff:     time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GroupOptions are the client options a consumer needs; pass them to kafka.NewClient.
func GroupOptions(group string, topics ...string) []kgo.Opt {
	return []kgo.Opt{
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}
}

// Run blocks until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.ErrorContext(ctx, "kafka fetch error", "topic", topic, "partition", partition, "error", err)
		})

		var done []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			c.process(ctx, toMessage(rec))
			done = append(done, rec)
		})
		if len(done) == 0 {
			continue
		}
		if err := c.client.CommitRecords(ctx, done...); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "kafka commit failed", "records", len(done), "error", err)
		}
	}
}

// process runs the handler with bounded retries. It never returns an error:
// a message that keeps failing is logged and committed so the partition keeps moving.
func (c *Consumer) process(ctx context.Context, msg *Message) {
	for attempt := 1; ; attempt++ {
		err := c.handler.Handle(ctx, msg)
		if err == nil {
			return
		}
		if attempt >= c.maxAttempts || ctx.Err() != nil {
			c.logger.ErrorContext(ctx, "giving up on message",
				"topic", msg.Topic,
				"key", string(msg.Key),
				"offset", msg.Offset,
				"attempts", attempt,
				"error", err,
			)
			return
		}
		c.logger.WarnContext(ctx, "message handling failed, retrying",
			"topic", msg.Topic,
			"key", string(msg.Key),
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
}

func toMessage(rec *kgo.Record) *Message {
	msg := &Message{
		Topic:     rec.Topic,
		Key:       rec.Key,
		Value:     rec.Value,
		Partition: rec.Partition,
		Offset:    rec.Offset,
	}
	if len(rec.Headers) > 0 {
		msg.Headers = make(map[string]string, len(rec.Headers))
		for _, h := range rec.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}
