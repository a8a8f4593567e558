package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"fieldops/internal/compliance/models"
	id "fieldops/pkg/domain"
	dErrors "fieldops/pkg/domain-errors"
	"fieldops/pkg/platform/httputil"
	"fieldops/pkg/requestcontext"
)

const writeTimeout = 5 * time.Second

// Authorizer resolves the company that owns a job on behalf of a user, failing
// when the user may not see it.
type Authorizer interface {
	AuthorizeJob(ctx context.Context, userID id.UserID, jobID id.JobID) (id.CompanyID, error)
}

// Message is one frame on the audit stream.
type Message struct {
	Type  string            `json:"type"`
	Audit *models.AuditView `json:"audit,omitempty"`
}

const (
	MessageReady = "ready"
	MessageAudit = "audit"
)

type Handler struct {
	hub            *Hub
	authz          Authorizer
	logger         *slog.Logger
	requireAuth    func(http.Handler) http.Handler
	originPatterns []string
}

func NewHandler(hub *Hub, authz Authorizer, logger *slog.Logger, requireAuth func(http.Handler) http.Handler, originPatterns []string) *Handler {
	return &Handler{
		hub:            hub,
		authz:          authz,
		logger:         logger,
		requireAuth:    requireAuth,
		originPatterns: originPatterns,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.requireAuth != nil {
			r.Use(h.requireAuth)
		}
		r.Get("/jobs/{jobId}/compliance/stream", h.HandleStream)
	})
}

// HandleStream upgrades to a websocket and forwards audits inserted for the
// job until either side goes away.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "job id must be a UUID"))
		return
	}
	companyID, err := h.authz.AuthorizeJob(ctx, userID, jobID)
	if err != nil {
		h.logger.WarnContext(ctx, "audit stream rejected",
			"request_id", requestID,
			"job_id", jobID,
			"code", dErrors.CodeOf(err),
		)
		httputil.WriteError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.DebugContext(ctx, "websocket accept failed", "request_id", requestID, "error", err)
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := h.hub.Subscribe(companyID, jobID, defaultBuffer)
	defer h.hub.Unsubscribe(sub)

	if err := h.write(ctx, conn, Message{Type: MessageReady}); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
		return
	}

	// CloseRead discards client frames and cancels ctx when the peer goes away.
	ctx = conn.CloseRead(ctx)
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case audit, ok := <-sub.C():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := h.write(ctx, conn, Message{Type: MessageAudit, Audit: &audit}); err != nil {
				h.logger.DebugContext(ctx, "audit stream write failed",
					"request_id", requestID,
					"job_id", jobID,
					"error", err,
				)
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}
