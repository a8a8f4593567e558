// Package ports defines the interfaces shared by the compliance pipeline's
// services, workers and storage adapters.
package ports

import (
	"context"

	"fieldops/internal/compliance/models"
	id "fieldops/pkg/domain"
)

// JobStore reads jobs. Returns sentinel.ErrNotFound for unknown ids.
type JobStore interface {
	GetJob(ctx context.Context, jobID id.JobID) (*models.Job, error)
}

// MembershipStore resolves the company a user belongs to.
// Returns sentinel.ErrNotFound when the user has no company.
type MembershipStore interface {
	CompanyForUser(ctx context.Context, userID id.UserID) (id.CompanyID, error)
}

// AuditStore appends audit rows. Every read is scoped by company.
type AuditStore interface {
	InsertAudit(ctx context.Context, audit *models.Audit) error
	ListAuditIDsByRun(ctx context.Context, companyID id.CompanyID, runID id.RunID) ([]id.AuditID, error)
	ListAuditsByJob(ctx context.Context, companyID id.CompanyID, jobID id.JobID, limit int) ([]models.Audit, error)
}

// EventStore appends domain events and outbox entries. Both calls join the
// transaction carried by ctx when there is one.
type EventStore interface {
	AppendEvent(ctx context.Context, event *models.DomainEvent) error
	EnqueueOutbox(ctx context.Context, entry *models.OutboxEntry) error
}

// OutboxStore is the relay's view of the outbox. ClaimPending locks the rows it
// returns until the surrounding transaction ends.
type OutboxStore interface {
	ClaimPending(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEntry, error)
	MarkDelivered(ctx context.Context, entryID string) error
	MarkFailed(ctx context.Context, entryID string, cause string) error
}

// IdempotencyStore enforces one request per (user, key).
type IdempotencyStore interface {
	// Reserve inserts a pending record. When one already exists it is returned
	// together with sentinel.ErrConflict.
	Reserve(ctx context.Context, record *models.IdempotencyRecord) (*models.IdempotencyRecord, error)
	Complete(ctx context.Context, userID id.UserID, key string, auditIDs []id.AuditID) error
	Release(ctx context.Context, userID id.UserID, key string) error
}

// RunLocker makes the duplicate check and the run of one run id exclusive
// across consumers. ok is false when another holder has the lock; unlock is
// only set when ok is true.
type RunLocker interface {
	TryLockRun(ctx context.Context, runID id.RunID) (unlock func(), ok bool, err error)
}

// TxRunner runs fn in one transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher delivers a message to the signal transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}
