// Package invoker calls the external reasoning service for one audit run and
// turns its untrusted response into findings.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fieldops/internal/compliance/metrics"
	"fieldops/internal/compliance/models"
	id "fieldops/pkg/domain"
	dErrors "fieldops/pkg/domain-errors"
	"fieldops/pkg/platform/circuit"
)

const defaultTimeout = 30 * time.Second

// ChatClient is the part of the OpenAI client the invoker uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// EvaluateInput is serialized verbatim as the user message.
type EvaluateInput struct {
	JobID      id.JobID       `json:"jobId"`
	JobSummary string         `json:"jobSummary"`
	Telemetry  map[string]any `json:"telemetry"`
}

type Invoker struct {
	client  ChatClient
	policy  Policy
	timeout time.Duration
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Invoker)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Invoker) {
		i.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Invoker) {
		i.metrics = m
	}
}

func WithTimeout(d time.Duration) Option {
	return func(i *Invoker) {
		if d > 0 {
			i.timeout = d
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(i *Invoker) {
		i.breaker = b
	}
}

func New(client ChatClient, policy Policy, opts ...Option) (*Invoker, error) {
	if client == nil {
		return nil, errors.New("reasoning client is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	i := &Invoker{
		client:  client,
		policy:  policy,
		timeout: defaultTimeout,
		breaker: circuit.New("reasoning", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)),
		logger:  slog.Default(),
		tracer:  otel.Tracer("fieldops/compliance/invoker"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// NewOpenAIClient builds the reasoning client. baseURL may point at any
// OpenAI-compatible endpoint; empty keeps the public API.
func NewOpenAIClient(apiKey, baseURL string, httpClient *http.Client) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(cfg)
}

// HighRiskThreshold is the risk score at and above which a finding counts as high risk.
func (i *Invoker) HighRiskThreshold() float64 {
	return i.policy.HighRiskThreshold
}

// Evaluate performs one reasoning call. Failures are either
// CodeUpstream (timeout, network, service error, open breaker) or
// CodeInvalidModelOut (the service answered with something unusable).
func (i *Invoker) Evaluate(ctx context.Context, input EvaluateInput) (*models.AuditResult, error) {
	ctx, span := i.tracer.Start(ctx, "compliance.reasoning.evaluate",
		trace.WithAttributes(
			attribute.String("job.id", input.JobID.String()),
			attribute.String("reasoning.model", i.policy.Model),
		))
	defer span.End()

	if !i.breaker.Allow() {
		span.SetStatus(codes.Error, "circuit open")
		i.metrics.ObserveReasoning("circuit_open", 0)
		return nil, dErrors.New(dErrors.CodeUpstream, "reasoning service temporarily unavailable")
	}

	if input.Telemetry == nil {
		input.Telemetry = map[string]any{}
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode audit input")
	}

	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	start := time.Now()
	resp, err := i.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       i.policy.Model,
		Temperature: i.policy.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: i.policy.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	elapsed := time.Since(start)
	if err != nil {
		i.recordFailure(ctx, input.JobID)
		i.metrics.ObserveReasoning("upstream_error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream error")
		i.logger.WarnContext(ctx, "reasoning call failed",
			"job_id", input.JobID,
			"duration_ms", elapsed.Milliseconds(),
			"status_code", upstreamStatus(err),
			"timeout", errors.Is(err, context.DeadlineExceeded),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "reasoning service unavailable")
	}
	i.breaker.RecordSuccess()

	if len(resp.Choices) == 0 {
		i.metrics.ObserveReasoning("invalid_output", elapsed)
		span.SetStatus(codes.Error, "no choices")
		return nil, dErrors.New(dErrors.CodeInvalidModelOut, "reasoning service returned no choices")
	}

	findings, err := parseFindings(resp.Choices[0].Message.Content)
	if err != nil {
		i.metrics.ObserveReasoning("invalid_output", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid output")
		i.logger.WarnContext(ctx, "reasoning output rejected",
			"job_id", input.JobID,
			"finish_reason", resp.Choices[0].FinishReason,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidModelOut, "reasoning service returned unparsable output")
	}

	i.metrics.ObserveReasoning("ok", elapsed)
	span.SetAttributes(attribute.Int("audit.findings", len(findings)))
	i.logger.InfoContext(ctx, "reasoning call completed",
		"job_id", input.JobID,
		"model", resp.Model,
		"findings", len(findings),
		"duration_ms", elapsed.Milliseconds(),
	)
	return &models.AuditResult{Findings: findings, Model: resp.Model}, nil
}

func (i *Invoker) recordFailure(ctx context.Context, jobID id.JobID) {
	if _, change := i.breaker.RecordFailure(); change.Opened {
		i.logger.ErrorContext(ctx, "reasoning circuit opened",
			"breaker", i.breaker.Name(),
			"job_id", jobID,
		)
	}
}

func upstreamStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
