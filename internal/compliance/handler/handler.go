package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"fieldops/internal/compliance/models"
	"fieldops/internal/compliance/service"
	id "fieldops/pkg/domain"
	dErrors "fieldops/pkg/domain-errors"
	"fieldops/pkg/platform/httputil"
	"fieldops/pkg/requestcontext"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
)

// Service defines the compliance operations exposed over HTTP.
type Service interface {
	RequestAudit(ctx context.Context, req service.AuditRequest) (*service.AuditResponse, error)
	ListAudits(ctx context.Context, userID id.UserID, jobID id.JobID, limit int) ([]models.Audit, error)
	RecordManualAudit(ctx context.Context, in service.ManualAudit) (*models.Audit, error)
}

type Middleware = func(http.Handler) http.Handler

type Handler struct {
	service     Service
	logger      *slog.Logger
	requireAuth Middleware
	auditLimit  Middleware
}

// New builds the compliance handler. requireAuth wraps every route; auditLimit
// wraps only the automated audit endpoint. Either may be nil.
func New(svc Service, logger *slog.Logger, requireAuth, auditLimit Middleware) *Handler {
	return &Handler{
		service:     svc,
		logger:      logger,
		requireAuth: requireAuth,
		auditLimit:  auditLimit,
	}
}

func passthrough(next http.Handler) http.Handler { return next }

func (h *Handler) Register(r chi.Router) {
	auth, limit := h.requireAuth, h.auditLimit
	if auth == nil {
		auth = passthrough
	}
	if limit == nil {
		limit = passthrough
	}
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.With(limit).Post("/jobs/{jobId}/compliance/automated", h.HandleRequestAudit)
		r.Get("/jobs/{jobId}/compliance/audits", h.HandleListAudits)
		r.Post("/compliance/audits", h.HandleRecordAudit)
	})
}

// HandleRequestAudit runs an automated audit of the job in the path.
func (h *Handler) HandleRequestAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		h.logger.WarnContext(ctx, "invalid job id in path", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "job id must be a UUID"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[models.AutomatedAuditRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.JobID != "" && !strings.EqualFold(req.JobID, jobID.String()) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "body jobId does not match path"))
		return
	}

	resp, err := h.service.RequestAudit(ctx, service.AuditRequest{
		UserID:         userID,
		JobID:          jobID,
		Force:          req.Force,
		IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
	})
	if err != nil {
		h.logFailure(ctx, "automated audit failed", requestID, jobID, err)
		httputil.WriteError(w, err)
		return
	}

	if resp.Replayed {
		w.Header().Set(replayedHeader, "true")
	}
	httputil.WriteJSON(w, http.StatusOK, models.AuditIDsResponse{AuditIDs: nonNil(resp.AuditIDs)})
}

// HandleListAudits returns the job's audits, newest first. ?limit= caps the page.
func (h *Handler) HandleListAudits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "job id must be a UUID"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
	}

	audits, err := h.service.ListAudits(ctx, requestcontext.UserID(ctx), jobID, limit)
	if err != nil {
		h.logFailure(ctx, "list audits failed", requestID, jobID, err)
		httputil.WriteError(w, err)
		return
	}
	views := make([]models.AuditView, 0, len(audits))
	for _, a := range audits {
		views = append(views, models.NewAuditView(a))
	}
	httputil.WriteJSON(w, http.StatusOK, models.AuditsResponse{Audits: views})
}

// HandleRecordAudit stores a manually entered audit.
func (h *Handler) HandleRecordAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[models.ManualAuditRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	audit, err := h.service.RecordManualAudit(ctx, service.ManualAudit{
		UserID:         userID,
		JobID:          req.ParsedJobID(),
		RequirementRef: req.RequirementID,
		Status:         models.AuditStatus(req.Status),
		Evidence:       req.Evidence,
	})
	if err != nil {
		h.logFailure(ctx, "manual audit failed", requestID, req.ParsedJobID(), err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, models.NewAuditView(*audit))
}

func (h *Handler) logFailure(ctx context.Context, msg, requestID string, jobID id.JobID, err error) {
	level := slog.LevelWarn
	if dErrors.HTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestID,
		"job_id", jobID,
		"code", dErrors.CodeOf(err),
		"error", err,
	)
}

func nonNil(ids []id.AuditID) []id.AuditID {
	if ids == nil {
		return []id.AuditID{}
	}
	return ids
}
