package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"fieldops/internal/compliance/models"
)

// Channel is the NOTIFY channel written by the compliance_audits insert trigger.
const Channel = "compliance_audit_inserted"

const (
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second
)

// Publisher receives decoded audits. *Hub satisfies it.
type Publisher interface {
	Publish(audit models.AuditView) int
}

// Listener holds a dedicated connection in LISTEN mode and forwards every
// notification to the publisher. The connection is re-established with
// exponential backoff when it drops.
type Listener struct {
	dsn       string
	publisher Publisher
	logger    *slog.Logger
	connect   func(ctx context.Context, dsn string) (*pgx.Conn, error)
}

func NewListener(dsn string, publisher Publisher, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		dsn:       dsn,
		publisher: publisher,
		logger:    logger,
		connect:   pgx.Connect,
	}
}

// Run blocks until ctx is cancelled. It returns nil on cancellation.
func (l *Listener) Run(ctx context.Context) error {
	delay := minReconnectDelay
	for {
		started := time.Now()
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > maxReconnectDelay {
			delay = minReconnectDelay
		}
		l.logger.WarnContext(ctx, "realtime listener disconnected",
			"channel", Channel,
			"retry_in", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.InfoContext(ctx, "realtime listener connected", "channel", Channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		audit, err := DecodeNotification([]byte(n.Payload))
		if err != nil {
			l.logger.WarnContext(ctx, "dropping malformed audit notification",
				"channel", n.Channel,
				"error", err,
			)
			continue
		}
		l.publisher.Publish(audit)
	}
}

var errIncompleteNotification = errors.New("notification missing audit identity")

// DecodeNotification parses a trigger payload. Large audit_data values are
// omitted by the trigger and arrive as null; they decode to an empty object.
func DecodeNotification(payload []byte) (models.AuditView, error) {
	var view models.AuditView
	if err := json.Unmarshal(payload, &view); err != nil {
		return models.AuditView{}, fmt.Errorf("decode notification: %w", err)
	}
	if view.ID.IsNil() || view.CompanyID.IsNil() || view.JobID.IsNil() {
		return models.AuditView{}, errIncompleteNotification
	}
	if len(view.AuditData) == 0 || string(view.AuditData) == "null" {
		view.AuditData = json.RawMessage(`{}`)
	}
	return view, nil
}
