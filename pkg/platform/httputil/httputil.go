// Package httputil holds JSON response helpers shared by HTTP handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "fieldops/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every client-facing failure.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into a status and a machine-readable reason.
// Server-side failures never carry a description so upstream payloads and
// storage messages stay behind the trust boundary.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.HTTPStatus(code)

	resp := ErrorResponse{Error: string(code)}
	if de, ok := dErrors.As(err); ok && status < http.StatusInternalServerError {
		resp.Description = de.Message
	}
	WriteJSON(w, status, resp)
}

// Validatable is implemented by request bodies that check and normalize themselves.
type Validatable interface {
	Validate() error
}

// DecodeAndPrepare decodes a JSON body into T and runs its validation.
// On failure it writes the error response and returns ok=false.
// An empty body decodes to the zero value so optional-body endpoints work.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.WarnContext(ctx, "failed to decode request body",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}

	if err := PT(&req).Validate(); err != nil {
		logger.WarnContext(ctx, "invalid request",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}
	return &req, true
}
