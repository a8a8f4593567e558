package invoker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/suite"

	id "fieldops/pkg/domain"
	dErrors "fieldops/pkg/domain-errors"
	"fieldops/pkg/platform/circuit"
)

// =============================================================================
// Invoker Test Suite
// =============================================================================
// The suite drives the real OpenAI client against an httptest server so the
// request shape and every failure class go through the same code path as
// production traffic.

const hudsonResponse = `{
  "requirements": [
    {"requirementId": "1926.501", "status": "non_compliant", "riskScore": 82, "remediation": ["Install guardrails on level 3"]},
    {"requirementId": "1910.305", "status": "compliant", "riskScore": 20}
  ]
}`

type InvokerSuite struct {
	suite.Suite
	server   *httptest.Server
	calls    atomic.Int32
	respond  func(w http.ResponseWriter, r *http.Request)
	lastBody openai.ChatCompletionRequest
	invoker  *Invoker
	jobID    id.JobID
}

func TestInvokerSuite(t *testing.T) {
	suite.Run(t, new(InvokerSuite))
}

func (s *InvokerSuite) SetupTest() {
	s.calls.Store(0)
	s.respond = completion(hudsonResponse)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		s.Equal("/v1/chat/completions", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&s.lastBody)
		s.respond(w, r)
	}))
	s.jobID = id.JobID(uuid.New())
	s.invoker = s.newInvoker()
}

func (s *InvokerSuite) TearDownTest() {
	s.server.Close()
}

func (s *InvokerSuite) newInvoker(opts ...Option) *Invoker {
	client := NewOpenAIClient("test-key", s.server.URL+"/v1", s.server.Client())
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTimeout(time.Second),
	}
	inv, err := New(client, DefaultPolicy(), append(base, opts...)...)
	s.Require().NoError(err)
	return inv
}

func completion(content string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}
}

func (s *InvokerSuite) evaluate() error {
	_, err := s.invoker.Evaluate(context.Background(), EvaluateInput{JobID: s.jobID, JobSummary: "Hudson Rail Expansion"})
	return err
}

func (s *InvokerSuite) TestEvaluate_Success() {
	result, err := s.invoker.Evaluate(context.Background(), EvaluateInput{
		JobID:      s.jobID,
		JobSummary: "Hudson Rail Expansion",
		Telemetry:  map[string]any{"force": true},
	})
	s.Require().NoError(err)
	s.Require().Len(result.Findings, 2)

	s.Equal("1926.501", result.Findings[0].Reference())
	s.InDelta(82, *result.Findings[0].RiskScore, 0.001)
	s.Equal([]string{"Install guardrails on level 3"}, result.Findings[0].Remediation)
	s.Equal("1910.305", result.Findings[1].Reference())
	s.JSONEq(`{"requirementId": "1910.305", "status": "compliant", "riskScore": 20}`, string(result.Findings[1].Raw))

	s.Run("request carries policy and job context", func() {
		s.Equal("gpt-4o-mini", s.lastBody.Model)
		s.Require().Len(s.lastBody.Messages, 2)
		s.Equal(openai.ChatMessageRoleSystem, s.lastBody.Messages[0].Role)
		s.Contains(s.lastBody.Messages[0].Content, "compliance auditor")
		s.Require().NotNil(s.lastBody.ResponseFormat)
		s.Equal(openai.ChatCompletionResponseFormatTypeJSONObject, s.lastBody.ResponseFormat.Type)

		var user map[string]any
		s.Require().NoError(json.Unmarshal([]byte(s.lastBody.Messages[1].Content), &user))
		s.Equal(s.jobID.String(), user["jobId"])
		s.Equal("Hudson Rail Expansion", user["jobSummary"])
		s.Equal(map[string]any{"force": true}, user["telemetry"])
	})
}

func (s *InvokerSuite) TestEvaluate_EmptyTelemetryIsObject() {
	s.Require().NoError(s.evaluate())

	var user map[string]any
	s.Require().NoError(json.Unmarshal([]byte(s.lastBody.Messages[1].Content), &user))
	s.Equal(map[string]any{}, user["telemetry"])
}

func (s *InvokerSuite) TestEvaluate_EmptyFindingsList() {
	s.respond = completion(`{"requirements": []}`)

	result, err := s.invoker.Evaluate(context.Background(), EvaluateInput{JobID: s.jobID})
	s.Require().NoError(err)
	s.Empty(result.Findings)
}

func (s *InvokerSuite) TestEvaluate_InvalidOutput() {
	cases := map[string]string{
		"malformed json":      `{"requirements": [`,
		"empty content":       ``,
		"top-level array":     `[{"requirementId": "1926.501"}]`,
		"findings not array":  `{"requirements": "none"}`,
		"non-object finding":  `{"requirements": ["1926.501"]}`,
		"prose around object": `Here you go: {"requirements": []}`,
	}
	for name, content := range cases {
		s.Run(name, func() {
			s.respond = completion(content)
			err := s.evaluate()
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidModelOut), "got %v", err)
		})
	}
}

func (s *InvokerSuite) TestEvaluate_NoChoices() {
	s.respond = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"gpt-4o-mini","choices":[]}`))
	}
	err := s.evaluate()
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidModelOut))
}

func (s *InvokerSuite) TestEvaluate_UpstreamError() {
	s.respond = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}
	err := s.evaluate()
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *InvokerSuite) TestEvaluate_TimeoutIsUpstreamUnavailable() {
	s.respond = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	s.invoker = s.newInvoker(WithTimeout(50 * time.Millisecond))

	err := s.evaluate()
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	s.False(dErrors.HasCode(err, dErrors.CodeInvalidModelOut))
}

func (s *InvokerSuite) TestEvaluate_OpenBreakerFailsFast() {
	s.respond = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}
	s.invoker = s.newInvoker(WithBreaker(circuit.New("reasoning", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))))

	s.Error(s.evaluate())
	s.Error(s.evaluate())
	s.Equal(int32(2), s.calls.Load())

	err := s.evaluate()
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	s.Equal(int32(2), s.calls.Load(), "open breaker must not reach the service")
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(nil, DefaultPolicy()); err == nil {
		t.Fatal("expected error for nil client")
	}
}
