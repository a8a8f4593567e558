// Package pipeline runs one audit: reasoning call, row persistence and the
// completion event. It is shared by the HTTP path and the workflow consumer.
package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fieldops/internal/compliance/events"
	"fieldops/internal/compliance/invoker"
	"fieldops/internal/compliance/metrics"
	"fieldops/internal/compliance/models"
	"fieldops/internal/compliance/recorder"
	id "fieldops/pkg/domain"
	dErrors "fieldops/pkg/domain-errors"
	"fieldops/pkg/requestcontext"
)

type Evaluator interface {
	Evaluate(ctx context.Context, input invoker.EvaluateInput) (*models.AuditResult, error)
	HighRiskThreshold() float64
}

type Persister interface {
	Persist(ctx context.Context, in recorder.PersistInput) ([]id.AuditID, error)
}

type Emitter interface {
	Emit(ctx context.Context, em events.Emission) (id.EventID, error)
}

type RunInput struct {
	CompanyID  id.CompanyID
	JobID      id.JobID
	JobSummary string
	AuditorID  *id.UserID
	RunID      id.RunID
	Telemetry  map[string]any
	Trigger    models.Trigger
	// Signal enqueues a workflow completion signal with the event. Workflow
	// runs leave it off so they never re-trigger themselves.
	Signal bool
}

type RunResult struct {
	AuditIDs []id.AuditID
	HighRisk int
	Partial  bool
}

type Runner struct {
	evaluator Evaluator
	persister Persister
	emitter   Emitter
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

func New(evaluator Evaluator, persister Persister, emitter Emitter, opts ...Option) *Runner {
	r := &Runner{
		evaluator: evaluator,
		persister: persister,
		emitter:   emitter,
		logger:    slog.Default(),
		tracer:    otel.Tracer("fieldops/compliance/pipeline"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run returns an error only when no audit row was stored. A partial write is
// reported through RunResult.Partial, and a failed event or signal is logged
// without affecting the result: stored rows are never retracted.
func (r *Runner) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	ctx, span := r.tracer.Start(ctx, "compliance.audit.run",
		trace.WithAttributes(
			attribute.String("job.id", in.JobID.String()),
			attribute.String("run.id", in.RunID.String()),
			attribute.String("run.trigger", string(in.Trigger)),
		))
	defer span.End()

	result, err := r.evaluator.Evaluate(ctx, invoker.EvaluateInput{
		JobID:      in.JobID,
		JobSummary: in.JobSummary,
		Telemetry:  in.Telemetry,
	})
	if err != nil {
		r.fail(span, in, err)
		return nil, err
	}

	// Past this point the run writes; a client disconnect must not stop it
	// halfway.
	ctx = context.WithoutCancel(ctx)

	ids, err := r.persister.Persist(ctx, recorder.PersistInput{
		CompanyID: in.CompanyID,
		JobID:     in.JobID,
		RunID:     in.RunID,
		AuditorID: in.AuditorID,
		Findings:  result.Findings,
		CreatedAt: requestcontext.Now(ctx),
	})
	partial := false
	if err != nil {
		if len(ids) == 0 {
			r.fail(span, in, err)
			return nil, err
		}
		partial = true
		r.metrics.IncPartialPersist()
		r.logger.ErrorContext(ctx, "PartialPersistenceFailure",
			"job_id", in.JobID,
			"run_id", in.RunID,
			"persisted", len(ids),
			"findings", len(result.Findings),
			"error", err,
		)
	}

	threshold := r.evaluator.HighRiskThreshold()
	highRisk := 0
	for _, f := range result.Findings[:len(ids)] {
		if f.IsHighRisk(threshold) {
			highRisk++
		}
	}

	emission := events.Emission{
		CompanyID: in.CompanyID,
		JobID:     in.JobID,
		EventType: models.EventAuditCompleted,
		Payload: models.AuditCompletedPayload{
			JobID:      in.JobID,
			RunID:      in.RunID,
			AuditCount: len(ids),
			HighRisk:   highRisk,
			AuditIDs:   ids,
			Trigger:    in.Trigger,
			Partial:    partial,
		},
	}
	if in.Signal {
		emission.Signal = &models.CompletionSignal{
			CompanyID: in.CompanyID,
			JobID:     in.JobID,
			AuditIDs:  ids,
		}
	}
	if _, err := r.emitter.Emit(ctx, emission); err != nil {
		r.metrics.IncSignalFailure()
		span.RecordError(err)
		r.logger.ErrorContext(ctx, "SignalDeliveryFailure",
			"job_id", in.JobID,
			"run_id", in.RunID,
			"audit_ids", ids,
			"error", err,
		)
	}

	outcome := "ok"
	if partial {
		outcome = string(dErrors.CodePartialPersist)
	}
	r.metrics.ObserveRun(string(in.Trigger), outcome, len(result.Findings))
	span.SetAttributes(attribute.Int("audit.rows", len(ids)), attribute.Int("audit.high_risk", highRisk))
	r.logger.InfoContext(ctx, "audit run completed",
		"job_id", in.JobID,
		"run_id", in.RunID,
		"trigger", in.Trigger,
		"audits", len(ids),
		"high_risk", highRisk,
		"partial", partial,
	)
	return &RunResult{AuditIDs: ids, HighRisk: highRisk, Partial: partial}, nil
}

func (r *Runner) fail(span trace.Span, in RunInput, err error) {
	code := dErrors.CodeOf(err)
	r.metrics.ObserveRun(string(in.Trigger), string(code), -1)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
}
