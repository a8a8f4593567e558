// Package service is the admission side of the compliance pipeline: it decides
// whether a requester may audit a job and then hands the run to the pipeline.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"fieldops/internal/compliance/metrics"
	"fieldops/internal/compliance/models"
	"fieldops/internal/compliance/pipeline"
	"fieldops/internal/compliance/ports"
	id "fieldops/pkg/domain"
	dErrors "fieldops/pkg/domain-errors"
	"fieldops/pkg/platform/sentinel"
	"fieldops/pkg/requestcontext"
)

const (
	maxIdempotencyKeyLength = 255
	defaultListLimit        = 100
	maxListLimit            = 500
)

type Runner interface {
	Run(ctx context.Context, in pipeline.RunInput) (*pipeline.RunResult, error)
}

type AuditRequest struct {
	UserID         id.UserID
	JobID          id.JobID
	Force          bool
	IdempotencyKey string
}

type AuditResponse struct {
	AuditIDs []id.AuditID
	Replayed bool
}

// ManualAudit is a human-recorded audit of one requirement.
type ManualAudit struct {
	UserID         id.UserID
	JobID          id.JobID
	RequirementRef string
	Status         models.AuditStatus
	Evidence       []string
}

type Service struct {
	jobs        ports.JobStore
	members     ports.MembershipStore
	audits      ports.AuditStore
	idempotency ports.IdempotencyStore
	runner      Runner
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithIdempotency enables Idempotency-Key handling. Without it keys are ignored.
func WithIdempotency(store ports.IdempotencyStore) Option {
	return func(s *Service) {
		s.idempotency = store
	}
}

func New(jobs ports.JobStore, members ports.MembershipStore, audits ports.AuditStore, runner Runner, opts ...Option) *Service {
	s := &Service{
		jobs:    jobs,
		members: members,
		audits:  audits,
		runner:  runner,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestAudit runs a user-initiated audit of one job. Rate limiting happens
// before this call; everything after it follows the order: job lookup,
// tenant check, idempotency, pipeline.
func (s *Service) RequestAudit(ctx context.Context, req AuditRequest) (*AuditResponse, error) {
	if req.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	job, err := s.authorize(ctx, req.UserID, req.JobID)
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLength {
		return nil, dErrors.New(dErrors.CodeValidation, "Idempotency-Key must be at most 255 characters")
	}

	runID := id.NewRunID()
	reserved := false
	if key != "" && s.idempotency != nil {
		replay, err := s.reserve(ctx, req, key)
		if err != nil || replay != nil {
			return replay, err
		}
		reserved = true
		runID = id.DeriveRunID(req.JobID, "idem:"+req.UserID.String()+":"+key)
	}

	var telemetry map[string]any
	if req.Force {
		telemetry = map[string]any{"force": true}
	}
	auditor := req.UserID
	res, err := s.runner.Run(ctx, pipeline.RunInput{
		CompanyID:  job.CompanyID,
		JobID:      job.ID,
		JobSummary: job.Name,
		AuditorID:  &auditor,
		RunID:      runID,
		Telemetry:  telemetry,
		Trigger:    models.TriggerRequest,
		Signal:     true,
	})

	detached := context.WithoutCancel(ctx)
	if err != nil {
		if reserved {
			if relErr := s.idempotency.Release(detached, req.UserID, key); relErr != nil {
				s.logger.WarnContext(ctx, "failed to release idempotency key", "job_id", req.JobID, "error", relErr)
			}
		}
		s.logger.WarnContext(ctx, "audit request failed",
			"job_id", req.JobID,
			"user_id", req.UserID,
			"code", dErrors.CodeOf(err),
			"error", err,
		)
		return nil, err
	}
	if reserved {
		if cErr := s.idempotency.Complete(detached, req.UserID, key, res.AuditIDs); cErr != nil {
			s.logger.ErrorContext(ctx, "failed to complete idempotency key",
				"job_id", req.JobID,
				"run_id", runID,
				"error", cErr,
			)
		}
	}
	return &AuditResponse{AuditIDs: res.AuditIDs}, nil
}

// reserve returns a non-nil response when the request is a replay of a
// completed one.
func (s *Service) reserve(ctx context.Context, req AuditRequest, key string) (*AuditResponse, error) {
	hash := models.AuditRequestHash(req.JobID, req.Force)
	record := &models.IdempotencyRecord{
		UserID:      req.UserID,
		Key:         key,
		RequestHash: hash,
		JobID:       req.JobID,
		Status:      models.IdempotencyPending,
		CreatedAt:   requestcontext.Now(ctx),
	}
	existing, err := s.idempotency.Reserve(ctx, record)
	if errors.Is(err, sentinel.ErrNotFound) {
		// the conflicting reservation was released before it could be read
		existing, err = s.idempotency.Reserve(ctx, record)
	}
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeConflict, "a request with this Idempotency-Key is still in progress")
	case !errors.Is(err, sentinel.ErrConflict) || existing == nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve idempotency key")
	case existing.RequestHash != hash:
		return nil, dErrors.New(dErrors.CodeConflict, "Idempotency-Key was already used for a different request")
	case existing.Status != models.IdempotencyCompleted:
		return nil, dErrors.New(dErrors.CodeConflict, "a request with this Idempotency-Key is still in progress")
	}
	s.metrics.IncReplay()
	s.logger.InfoContext(ctx, "audit request replayed", "job_id", req.JobID, "audits", len(existing.AuditIDs))
	return &AuditResponse{AuditIDs: existing.AuditIDs, Replayed: true}, nil
}

// AuthorizeJob checks that userID may see jobID and returns the owning company.
func (s *Service) AuthorizeJob(ctx context.Context, userID id.UserID, jobID id.JobID) (id.CompanyID, error) {
	if userID.IsNil() {
		return id.CompanyID{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	job, err := s.authorize(ctx, userID, jobID)
	if err != nil {
		return id.CompanyID{}, err
	}
	return job.CompanyID, nil
}

func (s *Service) authorize(ctx context.Context, userID id.UserID, jobID id.JobID) (*models.Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load job")
	}

	companyID, err := s.members.CompanyForUser(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeForbidden, "user is not a member of a company")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve company")
	}
	if job.CompanyID != companyID {
		s.logger.WarnContext(ctx, "cross-tenant job access denied", "job_id", jobID, "user_id", userID)
		return nil, dErrors.New(dErrors.CodeForbidden, "job belongs to another company")
	}
	return job, nil
}

// ListAudits returns a job's audits, newest first.
func (s *Service) ListAudits(ctx context.Context, userID id.UserID, jobID id.JobID, limit int) ([]models.Audit, error) {
	companyID, err := s.AuthorizeJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	audits, err := s.audits.ListAuditsByJob(ctx, companyID, jobID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audits")
	}
	return audits, nil
}

// RecordManualAudit stores one audit entered by a person. It bypasses the
// reasoning service and emits no event.
func (s *Service) RecordManualAudit(ctx context.Context, in ManualAudit) (*models.Audit, error) {
	ref := strings.TrimSpace(in.RequirementRef)
	if ref == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "requirementId is required")
	}
	if !in.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "status must be one of compliant, non_compliant, pending, waived")
	}
	companyID, err := s.AuthorizeJob(ctx, in.UserID, in.JobID)
	if err != nil {
		return nil, err
	}

	evidence := in.Evidence
	if evidence == nil {
		evidence = []string{}
	}
	data, err := json.Marshal(map[string]any{"evidence": evidence})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode audit data")
	}
	auditor := in.UserID
	audit := &models.Audit{
		ID:             id.AuditID(uuid.New()),
		CompanyID:      companyID,
		JobID:          in.JobID,
		RunID:          id.NewRunID(),
		RequirementRef: ref,
		Status:         in.Status,
		AuditData:      data,
		AuditorID:      &auditor,
		CreatedAt:      requestcontext.Now(ctx),
	}
	if err := s.audits.InsertAudit(ctx, audit); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit")
	}
	return audit, nil
}
