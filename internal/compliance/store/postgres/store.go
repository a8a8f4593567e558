// Package postgres implements the compliance ports on PostgreSQL. Every method
// joins the transaction carried by ctx when there is one.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fieldops/internal/compliance/models"
	id "fieldops/pkg/domain"
	"fieldops/pkg/platform/sentinel"
	txcontext "fieldops/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) execer(ctx context.Context) txcontext.Executor {
	return txcontext.Pick(ctx, s.db)
}

func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*models.Job, error) {
	var (
		job       models.Job
		rawID     uuid.UUID
		companyID uuid.UUID
		status    string
	)
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT id, company_id, name, status FROM jobs WHERE id = $1`,
		uuid.UUID(jobID),
	).Scan(&rawID, &companyID, &job.Name, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	job.ID = id.JobID(rawID)
	job.CompanyID = id.CompanyID(companyID)
	job.Status = models.JobStatus(status)
	return &job, nil
}

func (s *Store) CompanyForUser(ctx context.Context, userID id.UserID) (id.CompanyID, error) {
	var companyID uuid.NullUUID
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT company_id FROM users WHERE id = $1`,
		uuid.UUID(userID),
	).Scan(&companyID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !companyID.Valid) {
		return id.CompanyID{}, fmt.Errorf("user %s: %w", userID, sentinel.ErrNotFound)
	}
	if err != nil {
		return id.CompanyID{}, fmt.Errorf("get user company: %w", err)
	}
	return id.CompanyID(companyID.UUID), nil
}

func (s *Store) InsertAudit(ctx context.Context, audit *models.Audit) error {
	var auditor uuid.NullUUID
	if audit.AuditorID != nil {
		auditor = uuid.NullUUID{UUID: uuid.UUID(*audit.AuditorID), Valid: true}
	}
	data := []byte(audit.AuditData)
	if len(data) == 0 {
		data = []byte(`{}`)
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO compliance_audits (
			id, company_id, job_id, run_id, requirement_ref,
			status, audit_data, auditor_user_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.UUID(audit.ID),
		uuid.UUID(audit.CompanyID),
		uuid.UUID(audit.JobID),
		uuid.UUID(audit.RunID),
		audit.RequirementRef,
		string(audit.Status),
		data,
		auditor,
		audit.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("audit %s: %w", audit.ID, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *Store) ListAuditIDsByRun(ctx context.Context, companyID id.CompanyID, runID id.RunID) ([]id.AuditID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id FROM compliance_audits
		WHERE company_id = $1 AND run_id = $2
		ORDER BY created_at, id`,
		uuid.UUID(companyID), uuid.UUID(runID),
	)
	if err != nil {
		return nil, fmt.Errorf("list run audits: %w", err)
	}
	defer rows.Close()

	var ids []id.AuditID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan audit id: %w", err)
		}
		ids = append(ids, id.AuditID(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run audits: %w", err)
	}
	return ids, nil
}

func (s *Store) ListAuditsByJob(ctx context.Context, companyID id.CompanyID, jobID id.JobID, limit int) ([]models.Audit, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, company_id, job_id, run_id, requirement_ref,
		       status, audit_data, auditor_user_id, created_at
		FROM compliance_audits
		WHERE company_id = $1 AND job_id = $2
		ORDER BY created_at DESC, id
		LIMIT $3`,
		uuid.UUID(companyID), uuid.UUID(jobID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list job audits: %w", err)
	}
	defer rows.Close()

	var audits []models.Audit
	for rows.Next() {
		var (
			a                              models.Audit
			rawID, rawCompany, rawJob, run uuid.UUID
			status                         string
			data                           []byte
			auditor                        uuid.NullUUID
		)
		if err := rows.Scan(&rawID, &rawCompany, &rawJob, &run, &a.RequirementRef, &status, &data, &auditor, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		a.ID = id.AuditID(rawID)
		a.CompanyID = id.CompanyID(rawCompany)
		a.JobID = id.JobID(rawJob)
		a.RunID = id.RunID(run)
		a.Status = models.AuditStatus(status)
		a.AuditData = data
		if auditor.Valid {
			uid := id.UserID(auditor.UUID)
			a.AuditorID = &uid
		}
		audits = append(audits, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job audits: %w", err)
	}
	return audits, nil
}

func (s *Store) AppendEvent(ctx context.Context, event *models.DomainEvent) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO events (id, company_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.UUID(event.ID),
		uuid.UUID(event.CompanyID),
		event.EventType,
		[]byte(event.Payload),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) EnqueueOutbox(ctx context.Context, entry *models.OutboxEntry) error {
	entryID := entry.ID
	if entryID == "" {
		entryID = uuid.NewString()
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, topic, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entryID,
		entry.AggregateType,
		entry.AggregateID,
		entry.EventType,
		entry.Topic,
		[]byte(entry.Payload),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit undelivered rows. Callers must hold a
// transaction; concurrent relays skip rows another relay has locked.
func (s *Store) ClaimPending(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, topic, payload, attempts, created_at
		FROM outbox
		WHERE delivered_at IS NULL AND attempts < $2
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		limit, maxAttempts,
	)
	if err != nil {
		return nil, fmt.Errorf("claim outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []models.OutboxEntry
	for rows.Next() {
		var (
			e       models.OutboxEntry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Topic, &payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Payload = payload
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

func (s *Store) MarkDelivered(ctx context.Context, entryID string) error {
	return s.updateOutbox(ctx, `
		UPDATE outbox SET delivered_at = now(), attempts = attempts + 1, last_error = NULL
		WHERE id = $1`, entryID)
}

func (s *Store) MarkFailed(ctx context.Context, entryID string, cause string) error {
	return s.updateOutbox(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_error = $2
		WHERE id = $1`, entryID, cause)
}

func (s *Store) updateOutbox(ctx context.Context, query string, args ...any) error {
	res, err := s.execer(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update outbox entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("outbox entry %v: %w", args[0], sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) Reserve(ctx context.Context, record *models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO idempotency_keys (user_id, idempotency_key, request_hash, job_id, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING`,
		uuid.UUID(record.UserID),
		record.Key,
		record.RequestHash,
		uuid.UUID(record.JobID),
		createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	} else if n == 1 {
		return nil, nil
	}

	existing, err := s.getIdempotency(ctx, record.UserID, record.Key)
	if err != nil {
		return nil, err
	}
	return existing, sentinel.ErrConflict
}

func (s *Store) getIdempotency(ctx context.Context, userID id.UserID, key string) (*models.IdempotencyRecord, error) {
	var (
		rec       models.IdempotencyRecord
		jobID     uuid.UUID
		status    string
		auditIDs  []string
		completed sql.NullTime
	)
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT request_hash, job_id, status, audit_ids, created_at, completed_at
		FROM idempotency_keys
		WHERE user_id = $1 AND idempotency_key = $2`,
		uuid.UUID(userID), key,
	).Scan(&rec.RequestHash, &jobID, &status, pq.Array(&auditIDs), &rec.CreatedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		// released between the insert attempt and this read
		return nil, fmt.Errorf("idempotency key %q: %w", key, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	rec.UserID = userID
	rec.Key = key
	rec.JobID = id.JobID(jobID)
	rec.Status = models.IdempotencyStatus(status)
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	for _, raw := range auditIDs {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("idempotency audit id %q: %w", raw, sentinel.ErrMalformed)
		}
		rec.AuditIDs = append(rec.AuditIDs, id.AuditID(parsed))
	}
	return &rec, nil
}

func (s *Store) Complete(ctx context.Context, userID id.UserID, key string, auditIDs []id.AuditID) error {
	raw := make([]string, len(auditIDs))
	for i, a := range auditIDs {
		raw[i] = a.String()
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = 'completed', audit_ids = $3::uuid[], completed_at = now()
		WHERE user_id = $1 AND idempotency_key = $2`,
		uuid.UUID(userID), key, pq.Array(raw),
	)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("idempotency key %q: %w", key, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) Release(ctx context.Context, userID id.UserID, key string) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE user_id = $1 AND idempotency_key = $2 AND status = 'pending'`,
		uuid.UUID(userID), key,
	)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// runLockKey folds a run id into the bigint key space of advisory locks.
func runLockKey(runID id.RunID) int64 {
	u := uuid.UUID(runID)
	return int64(binary.BigEndian.Uint64(u[:8]) ^ binary.BigEndian.Uint64(u[8:]))
}

// TryLockRun takes a session-level advisory lock on a dedicated connection,
// held until unlock is called. It never joins the transaction in ctx.
func (s *Store) TryLockRun(ctx context.Context, runID id.RunID) (func(), bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("run lock connection: %w", err)
	}
	key := runLockKey(runID)

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("try run lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			// a session lock dies with its connection
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}, true, nil
}
