// Package recorder turns findings into audit rows.
package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fieldops/internal/compliance/models"
	"fieldops/internal/compliance/ports"
	id "fieldops/pkg/domain"
	dErrors "fieldops/pkg/domain-errors"
)

// PersistInput is one run's findings plus the attribution every row carries.
type PersistInput struct {
	CompanyID id.CompanyID
	JobID     id.JobID
	RunID     id.RunID
	AuditorID *id.UserID
	Findings  []models.Finding
	CreatedAt time.Time
}

type Recorder struct {
	store  ports.AuditStore
	logger *slog.Logger
}

func New(store ports.AuditStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Persist writes one row per finding in order. Rows are committed one at a
// time: when a later insert fails, the ids already written are returned
// together with a CodePartialPersist error so callers can still report them.
func (r *Recorder) Persist(ctx context.Context, in PersistInput) ([]id.AuditID, error) {
	if len(in.Findings) == 0 {
		return nil, dErrors.New(dErrors.CodeEmptyAuditSet, "no findings to record")
	}
	if in.CompanyID.IsNil() || in.JobID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolated, "audit rows require a company and a job")
	}
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	ids := make([]id.AuditID, 0, len(in.Findings))
	for i, f := range in.Findings {
		status, known := f.NormalizedStatus()
		if !known {
			r.logger.WarnContext(ctx, "unrecognized finding status stored as pending",
				"job_id", in.JobID,
				"run_id", in.RunID,
				"status", f.Status,
			)
		}
		audit := &models.Audit{
			ID:             id.AuditID(uuid.New()),
			CompanyID:      in.CompanyID,
			JobID:          in.JobID,
			RunID:          in.RunID,
			RequirementRef: f.Reference(),
			Status:         status,
			AuditData:      auditData(f),
			AuditorID:      in.AuditorID,
			CreatedAt:      createdAt,
		}
		if err := r.store.InsertAudit(ctx, audit); err != nil {
			if len(ids) == 0 {
				return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "failed to store audit results")
			}
			r.logger.ErrorContext(ctx, "audit run partially persisted",
				"job_id", in.JobID,
				"run_id", in.RunID,
				"persisted", len(ids),
				"expected", len(in.Findings),
				"failed_index", i,
				"error", err,
			)
			return ids, dErrors.Wrap(err, dErrors.CodePartialPersist, "some audit results were not stored")
		}
		ids = append(ids, audit.ID)
	}
	return ids, nil
}

// auditData keeps the finding as returned. Findings built in code without a
// raw document are re-encoded from their parsed fields.
func auditData(f models.Finding) json.RawMessage {
	if len(f.Raw) > 0 {
		return f.Raw
	}
	doc := map[string]any{"requirementId": f.Reference()}
	if f.Status != "" {
		doc["status"] = f.Status
	}
	if f.RiskScore != nil {
		doc["riskScore"] = *f.RiskScore
	}
	if len(f.Remediation) > 0 {
		doc["remediation"] = f.Remediation
	}
	raw, _ := json.Marshal(doc)
	return raw
}
