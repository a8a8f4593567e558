package consumer

import (
	"context"
	"log/slog"
)

// Router dispatches messages to topic-specific handlers.
type Router struct {
	handlers map[string]Handler
	fallback Handler
	logger   *slog.Logger
}

// NewRouter creates a topic router with an optional fallback handler.
func NewRouter(logger *slog.Logger, fallback Handler) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		fallback: fallback,
		logger:   logger,
	}
}

func (r *Router) Register(topic string, handler Handler) {
	r.handlers[topic] = handler
}

func (r *Router) Handle(ctx context.Context, msg *Message) error {
	handler, ok := r.handlers[msg.Topic]
	if !ok {
		if r.fallback != nil {
			return r.fallback.Handle(ctx, msg)
		}
		r.logger.WarnContext(ctx, "no handler for topic, skipping message",
			"topic", msg.Topic,
			"key", string(msg.Key),
		)
		return nil // Commit to avoid redelivery
	}
	return handler.Handle(ctx, msg)
}
