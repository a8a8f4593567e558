// Package memory is the in-process compliance store used in development when no
// database is configured and by service tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldops/internal/compliance/models"
	id "fieldops/pkg/domain"
	"fieldops/pkg/platform/sentinel"
)

type outboxRow struct {
	entry     models.OutboxEntry
	delivered bool
	lastError string
}

type idemKey struct {
	user id.UserID
	key  string
}

type txMarker struct{}

// Store implements every compliance port in memory. RunInTx serializes
// transactions and discards the events and outbox rows appended by a failed
// one; audits are not rolled back, matching the per-row commits of the
// recorder.
type Store struct {
	txMu sync.Mutex

	mu          sync.RWMutex
	jobs        map[id.JobID]models.Job
	members     map[id.UserID]id.CompanyID
	audits      []models.Audit
	events      []models.DomainEvent
	outbox      []*outboxRow
	idempotency map[idemKey]models.IdempotencyRecord
	runLocks    map[id.RunID]struct{}

	onInsert func(models.Audit)
}

type Option func(*Store)

// WithInsertHook is called after each audit row is stored.
func WithInsertHook(fn func(models.Audit)) Option {
	return func(s *Store) {
		s.onInsert = fn
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		jobs:        make(map[id.JobID]models.Job),
		members:     make(map[id.UserID]id.CompanyID),
		idempotency: make(map[idemKey]models.IdempotencyRecord),
		runLocks:    make(map[id.RunID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetInsertHook replaces the hook installed with WithInsertHook.
func (s *Store) SetInsertHook(fn func(models.Audit)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInsert = fn
}

// PutJob seeds a job.
func (s *Store) PutJob(job models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// PutMember seeds a user's company membership.
func (s *Store) PutMember(userID id.UserID, companyID id.CompanyID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[userID] = companyID
}

func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, sentinel.ErrNotFound)
	}
	return &job, nil
}

func (s *Store) CompanyForUser(_ context.Context, userID id.UserID) (id.CompanyID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	companyID, ok := s.members[userID]
	if !ok || companyID.IsNil() {
		return id.CompanyID{}, fmt.Errorf("user %s: %w", userID, sentinel.ErrNotFound)
	}
	return companyID, nil
}

func (s *Store) InsertAudit(_ context.Context, audit *models.Audit) error {
	s.mu.Lock()
	if slices.ContainsFunc(s.audits, func(a models.Audit) bool { return a.ID == audit.ID }) {
		s.mu.Unlock()
		return fmt.Errorf("audit %s: %w", audit.ID, sentinel.ErrConflict)
	}
	stored := *audit
	stored.AuditData = slices.Clone(audit.AuditData)
	s.audits = append(s.audits, stored)
	hook := s.onInsert
	s.mu.Unlock()

	if hook != nil {
		hook(stored)
	}
	return nil
}

func (s *Store) ListAuditIDsByRun(_ context.Context, companyID id.CompanyID, runID id.RunID) ([]id.AuditID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []id.AuditID
	for _, a := range s.audits {
		if a.CompanyID == companyID && a.RunID == runID {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func (s *Store) ListAuditsByJob(_ context.Context, companyID id.CompanyID, jobID id.JobID, limit int) ([]models.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Audit
	for _, a := range s.audits {
		if a.CompanyID == companyID && a.JobID == jobID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Audits returns a copy of every stored row in insertion order.
func (s *Store) Audits() []models.Audit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.audits)
}

func (s *Store) AppendEvent(_ context.Context, event *models.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

// Events returns a copy of the event log in append order.
func (s *Store) Events() []models.DomainEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

func (s *Store) EnqueueOutbox(_ context.Context, entry *models.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *entry
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.outbox = append(s.outbox, &outboxRow{entry: e})
	return nil
}

func (s *Store) ClaimPending(_ context.Context, limit, maxAttempts int) ([]models.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.OutboxEntry
	for _, row := range s.outbox {
		if row.delivered || (maxAttempts > 0 && row.entry.Attempts >= maxAttempts) {
			continue
		}
		out = append(out, row.entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkDelivered(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.outboxRow(entryID)
	if err != nil {
		return err
	}
	row.delivered = true
	row.entry.Attempts++
	return nil
}

func (s *Store) MarkFailed(_ context.Context, entryID string, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.outboxRow(entryID)
	if err != nil {
		return err
	}
	row.entry.Attempts++
	row.lastError = cause
	return nil
}

func (s *Store) outboxRow(entryID string) (*outboxRow, error) {
	for _, row := range s.outbox {
		if row.entry.ID == entryID {
			return row, nil
		}
	}
	return nil, fmt.Errorf("outbox entry %s: %w", entryID, sentinel.ErrNotFound)
}

// PendingOutbox returns entries not yet delivered.
func (s *Store) PendingOutbox() []models.OutboxEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.OutboxEntry
	for _, row := range s.outbox {
		if !row.delivered {
			out = append(out, row.entry)
		}
	}
	return out
}

func (s *Store) Reserve(_ context.Context, record *models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey{user: record.UserID, key: record.Key}
	if existing, ok := s.idempotency[k]; ok {
		existing.AuditIDs = slices.Clone(existing.AuditIDs)
		return &existing, sentinel.ErrConflict
	}
	rec := *record
	rec.Status = models.IdempotencyPending
	rec.AuditIDs = nil
	s.idempotency[k] = rec
	return nil, nil
}

func (s *Store) Complete(_ context.Context, userID id.UserID, key string, auditIDs []id.AuditID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey{user: userID, key: key}
	rec, ok := s.idempotency[k]
	if !ok {
		return fmt.Errorf("idempotency key %q: %w", key, sentinel.ErrNotFound)
	}
	now := time.Now().UTC()
	rec.Status = models.IdempotencyCompleted
	rec.AuditIDs = slices.Clone(auditIDs)
	rec.CompletedAt = &now
	s.idempotency[k] = rec
	return nil
}

func (s *Store) Release(_ context.Context, userID id.UserID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey{user: userID, key: key}
	if rec, ok := s.idempotency[k]; ok && rec.Status == models.IdempotencyPending {
		delete(s.idempotency, k)
	}
	return nil
}

func (s *Store) TryLockRun(_ context.Context, runID id.RunID) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.runLocks[runID]; held {
		return nil, false, nil
	}
	s.runLocks[runID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.runLocks, runID)
			s.mu.Unlock()
		})
	}, true, nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	events, outbox := len(s.events), len(s.outbox)
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		s.mu.Lock()
		s.events = s.events[:events]
		s.outbox = s.outbox[:outbox]
		s.mu.Unlock()
		return err
	}
	return nil
}
