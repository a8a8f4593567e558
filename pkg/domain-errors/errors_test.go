package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, CodeUpstream, "reasoning service unavailable")

	require.Error(t, err)
	assert.True(t, HasCode(err, CodeUpstream))
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestHasCodeThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("handle delivery: %w", New(CodeEmptyAuditSet, "no findings"))

	assert.True(t, Is(err, CodeEmptyAuditSet))
	assert.False(t, HasCode(err, CodeInternal))
	assert.Equal(t, CodeEmptyAuditSet, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeUnauthorized:    http.StatusUnauthorized,
		CodeForbidden:       http.StatusForbidden,
		CodeNotFound:        http.StatusNotFound,
		CodeRateLimited:     http.StatusTooManyRequests,
		CodeEmptyAuditSet:   http.StatusUnprocessableEntity,
		CodeInvalidModelOut: http.StatusInternalServerError,
		CodeUpstream:        http.StatusInternalServerError,
		CodeMisconfigured:   http.StatusInternalServerError,
		CodeConflict:        http.StatusConflict,
		CodeValidation:      http.StatusBadRequest,
	}
	for code, status := range cases {
		assert.Equal(t, status, HTTPStatus(code), "code %s", code)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(CodeInvalidModelOut, "bad json")))
	assert.True(t, Retryable(New(CodeUpstream, "timeout")))
	assert.False(t, Retryable(New(CodeEmptyAuditSet, "none")))
	assert.False(t, Retryable(New(CodeNotFound, "job")))
	assert.False(t, Retryable(errors.New("unknown")))
}
