// Package events appends domain events and relays workflow signals through
// the transactional outbox.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"fieldops/internal/compliance/models"
	"fieldops/internal/compliance/ports"
	id "fieldops/pkg/domain"
	dErrors "fieldops/pkg/domain-errors"
	"fieldops/pkg/requestcontext"
)

const aggregateJob = "job"

// Emission is one domain event plus an optional workflow signal.
type Emission struct {
	CompanyID id.CompanyID
	JobID     id.JobID
	EventType string
	Payload   any
	Signal    *models.CompletionSignal
}

// Nudger wakes the outbox relay.
type Nudger interface {
	Nudge()
}

type Emitter struct {
	tx          ports.TxRunner
	store       ports.EventStore
	signalTopic string
	nudger      Nudger
	logger      *slog.Logger
}

type EmitterOption func(*Emitter)

func WithNudger(n Nudger) EmitterOption {
	return func(e *Emitter) {
		e.nudger = n
	}
}

func WithEmitterLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		e.logger = logger
	}
}

func NewEmitter(tx ports.TxRunner, store ports.EventStore, signalTopic string, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		tx:          tx,
		store:       store,
		signalTopic: signalTopic,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit appends the event and, when a signal is present, its outbox entry in one
// transaction. Any failure is a CodeSignalDelivery error; nothing is written.
func (e *Emitter) Emit(ctx context.Context, em Emission) (id.EventID, error) {
	payload, err := json.Marshal(em.Payload)
	if err != nil {
		return id.EventID{}, dErrors.Wrap(err, dErrors.CodeSignalDelivery, "failed to encode event payload")
	}
	now := requestcontext.Now(ctx)
	event := &models.DomainEvent{
		ID:        id.EventID(uuid.New()),
		CompanyID: em.CompanyID,
		EventType: em.EventType,
		Payload:   payload,
		CreatedAt: now,
	}

	var entry *models.OutboxEntry
	if em.Signal != nil {
		signal, err := json.Marshal(em.Signal)
		if err != nil {
			return id.EventID{}, dErrors.Wrap(err, dErrors.CodeSignalDelivery, "failed to encode workflow signal")
		}
		entry = &models.OutboxEntry{
			ID:            uuid.NewString(),
			AggregateType: aggregateJob,
			AggregateID:   em.JobID.String(),
			EventType:     em.EventType,
			Topic:         e.signalTopic,
			Payload:       signal,
			CreatedAt:     now,
		}
	}

	err = e.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := e.store.AppendEvent(ctx, event); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		if entry == nil {
			return nil
		}
		if err := e.store.EnqueueOutbox(ctx, entry); err != nil {
			return fmt.Errorf("enqueue signal: %w", err)
		}
		return nil
	})
	if err != nil {
		return id.EventID{}, dErrors.Wrap(err, dErrors.CodeSignalDelivery, "failed to record completion event")
	}

	if entry != nil && e.nudger != nil {
		e.nudger.Nudge()
	}
	e.logger.DebugContext(ctx, "domain event recorded",
		"event_id", event.ID,
		"event_type", event.EventType,
		"company_id", event.CompanyID,
		"signal", entry != nil,
	)
	return event.ID, nil
}
