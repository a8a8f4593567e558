package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"fieldops/internal/platform/kafka/consumer"
)

// DeliveryHandler adapts the orchestrator to the Kafka consumer. Retryable
// outcomes are returned as errors so the consumer redelivers them in process;
// everything else is committed.
type DeliveryHandler struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
}

func NewDeliveryHandler(o *Orchestrator, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{orchestrator: o, logger: logger}
}

func (h *DeliveryHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		h.logger.ErrorContext(ctx, "malformed audit request, skipping",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if env.JobID.IsNil() || env.CompanyID.IsNil() {
		h.logger.ErrorContext(ctx, "audit request missing jobId or companyId, skipping",
			"topic", msg.Topic,
			"offset", msg.Offset,
		)
		return nil
	}
	env.EventID = deliveryID(env.EventID, msg)

	out := h.orchestrator.Handle(ctx, env)
	if out.Retryable {
		return fmt.Errorf("audit request %s: %s", env.EventID, out.Reason)
	}
	return nil
}

// deliveryID identifies the event across redeliveries: the envelope's own id,
// else the record key, else the record's log position.
func deliveryID(eventID string, msg *consumer.Message) string {
	if id := strings.TrimSpace(eventID); id != "" {
		return id
	}
	if key := strings.TrimSpace(string(msg.Key)); key != "" {
		return key
	}
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}
