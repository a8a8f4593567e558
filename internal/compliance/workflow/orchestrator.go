// Package workflow runs audits requested asynchronously through the event bus.
package workflow

import (
	"context"
	"errors"
	"log/slog"

	"fieldops/internal/compliance/metrics"
	"fieldops/internal/compliance/models"
	"fieldops/internal/compliance/pipeline"
	"fieldops/internal/compliance/ports"
	id "fieldops/pkg/domain"
	dErrors "fieldops/pkg/domain-errors"
	"fieldops/pkg/platform/sentinel"
)

// Envelope is the payload of an audit request event.
type Envelope struct {
	EventID   string         `json:"eventId"`
	JobID     id.JobID       `json:"jobId"`
	CompanyID id.CompanyID   `json:"companyId"`
	Telemetry map[string]any `json:"telemetry,omitempty"`
}

// Outcome reports how a delivery ended. Retryable is set only for failures a
// redelivery could fix.
type Outcome struct {
	Success   bool
	Retryable bool
	Duplicate bool
	Reason    string
	AuditIDs  []id.AuditID
}

const (
	ReasonJobNotFound    = "job_not_found"
	ReasonTenantMismatch = "tenant_mismatch"
	ReasonStoreFailure   = "store_failure"
	ReasonRunInProgress  = "run_in_progress"
)

type Runner interface {
	Run(ctx context.Context, in pipeline.RunInput) (*pipeline.RunResult, error)
}

type Orchestrator struct {
	jobs    ports.JobStore
	audits  ports.AuditStore
	runner  Runner
	locker  ports.RunLocker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithRunLocker serializes overlapping deliveries of the same event. Without
// one, two consumers racing on one event can both run it.
func WithRunLocker(l ports.RunLocker) Option {
	return func(o *Orchestrator) {
		o.locker = l
	}
}

func New(jobs ports.JobStore, audits ports.AuditStore, runner Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		jobs:   jobs,
		audits: audits,
		runner: runner,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunIDFor is the run id of a delivery. Redeliveries of the same event map to
// the same run.
func RunIDFor(env Envelope) id.RunID {
	return id.DeriveRunID(env.JobID, "workflow:"+env.EventID)
}

// Handle runs one delivery. It never emits a completion signal, so a workflow
// run cannot trigger another one.
func (o *Orchestrator) Handle(ctx context.Context, env Envelope) Outcome {
	out := o.handle(ctx, env)
	switch {
	case out.Duplicate:
		o.metrics.IncWorkflow("duplicate")
	case out.Success:
		o.metrics.IncWorkflow("success")
	case out.Retryable:
		o.metrics.IncWorkflow("retryable")
	default:
		o.metrics.IncWorkflow("failed")
	}
	return out
}

func (o *Orchestrator) handle(ctx context.Context, env Envelope) Outcome {
	log := o.logger.With("event_id", env.EventID, "job_id", env.JobID, "company_id", env.CompanyID)

	job, err := o.jobs.GetJob(ctx, env.JobID)
	if errors.Is(err, sentinel.ErrNotFound) {
		log.WarnContext(ctx, "audit requested for unknown job")
		return Outcome{Reason: ReasonJobNotFound}
	}
	if err != nil {
		log.ErrorContext(ctx, "failed to load job", "error", err)
		return Outcome{Retryable: true, Reason: ReasonStoreFailure}
	}
	if job.CompanyID != env.CompanyID {
		log.WarnContext(ctx, "audit request company does not own job")
		return Outcome{Reason: ReasonTenantMismatch}
	}

	runID := RunIDFor(env)
	if o.locker != nil {
		unlock, ok, err := o.locker.TryLockRun(ctx, runID)
		if err != nil {
			log.ErrorContext(ctx, "failed to lock run", "run_id", runID, "error", err)
			return Outcome{Retryable: true, Reason: ReasonStoreFailure}
		}
		if !ok {
			log.InfoContext(ctx, "run already in progress elsewhere", "run_id", runID)
			return Outcome{Retryable: true, Reason: ReasonRunInProgress}
		}
		defer unlock()
	}

	existing, err := o.audits.ListAuditIDsByRun(ctx, job.CompanyID, runID)
	if err != nil {
		log.ErrorContext(ctx, "failed to check for an earlier run", "run_id", runID, "error", err)
		return Outcome{Retryable: true, Reason: ReasonStoreFailure}
	}
	if len(existing) > 0 {
		log.InfoContext(ctx, "duplicate delivery ignored", "run_id", runID, "audits", len(existing))
		return Outcome{Success: true, Duplicate: true, AuditIDs: existing}
	}

	res, err := o.runner.Run(ctx, pipeline.RunInput{
		CompanyID:  job.CompanyID,
		JobID:      job.ID,
		JobSummary: job.Name,
		RunID:      runID,
		Telemetry:  env.Telemetry,
		Trigger:    models.TriggerWorkflow,
	})
	if err != nil {
		code := dErrors.CodeOf(err)
		retryable := dErrors.Retryable(err)
		log.WarnContext(ctx, "workflow audit failed", "run_id", runID, "code", code, "retryable", retryable, "error", err)
		return Outcome{Retryable: retryable, Reason: string(code)}
	}
	return Outcome{Success: true, AuditIDs: res.AuditIDs}
}
