package realtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"fieldops/internal/compliance/models"
	id "fieldops/pkg/domain"
	dErrors "fieldops/pkg/domain-errors"
	"fieldops/pkg/requestcontext"
)

type stubAuthorizer struct {
	company id.CompanyID
	err     error
}

func (a stubAuthorizer) AuthorizeJob(context.Context, id.UserID, id.JobID) (id.CompanyID, error) {
	return a.company, a.err
}

// =============================================================================
// Stream Handler Test Suite
// =============================================================================
// Justification: the upgrade path is gated by auth and tenant checks that must
// run before the websocket handshake; exercised end to end over a real socket.

type HandlerSuite struct {
	suite.Suite
	hub     *Hub
	authz   stubAuthorizer
	server  *httptest.Server
	userID  id.UserID
	company id.CompanyID
	job     id.JobID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.hub = NewHub()
	s.userID = id.UserID(uuid.New())
	s.company = id.CompanyID(uuid.New())
	s.job = id.JobID(uuid.New())
	s.authz = stubAuthorizer{company: s.company}
	s.server = nil
	s.startServer()
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
	s.hub.Close()
}

func (s *HandlerSuite) startServer() {
	if s.server != nil {
		s.server.Close()
	}
	auth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("access_token") == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithUserID(r.Context(), s.userID)))
		})
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(s.hub, s.authz, logger, auth, nil)
	r := chi.NewRouter()
	h.Register(r)
	s.server = httptest.NewServer(r)
}

func (s *HandlerSuite) streamURL(job string, withToken bool) string {
	u := s.server.URL + "/jobs/" + job + "/compliance/stream"
	if withToken {
		u += "?access_token=t"
	}
	return u
}

func (s *HandlerSuite) dial() (*websocket.Conn, context.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.T().Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, strings.Replace(s.streamURL(s.job.String(), true), "http", "ws", 1), nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = conn.CloseNow() })
	return conn, ctx
}

func (s *HandlerSuite) TestStreamsAuditsForTheJob() {
	conn, ctx := s.dial()

	var ready Message
	s.Require().NoError(wsjson.Read(ctx, conn, &ready))
	s.Equal(MessageReady, ready.Type)
	s.Nil(ready.Audit)

	s.hub.Publish(models.AuditView{ID: id.AuditID(uuid.New()), CompanyID: s.company, JobID: id.JobID(uuid.New())})
	want := models.AuditView{
		ID:             id.AuditID(uuid.New()),
		CompanyID:      s.company,
		JobID:          s.job,
		RequirementRef: "1926.501",
		Status:         models.AuditStatusNonCompliant,
		AuditData:      []byte(`{"risk":82}`),
	}
	s.Equal(1, s.hub.Publish(want))

	var msg Message
	s.Require().NoError(wsjson.Read(ctx, conn, &msg))
	s.Equal(MessageAudit, msg.Type)
	s.Require().NotNil(msg.Audit)
	s.Equal(want.ID, msg.Audit.ID)
	s.Equal("1926.501", msg.Audit.RequirementRef)
	s.JSONEq(`{"risk":82}`, string(msg.Audit.AuditData))
}

func (s *HandlerSuite) TestHubShutdownClosesStream() {
	conn, ctx := s.dial()

	var ready Message
	s.Require().NoError(wsjson.Read(ctx, conn, &ready))

	s.hub.Close()
	_, _, err := conn.Read(ctx)
	s.Equal(websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func (s *HandlerSuite) TestRejectsBeforeUpgrade() {
	s.Run("anonymous", func() {
		resp, err := http.Get(s.streamURL(s.job.String(), false))
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	s.Run("malformed job id", func() {
		resp, err := http.Get(s.streamURL("not-a-uuid", true))
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})

	s.Run("other tenant's job", func() {
		s.authz = stubAuthorizer{err: dErrors.New(dErrors.CodeForbidden, "job belongs to another company")}
		s.startServer()

		resp, err := http.Get(s.streamURL(s.job.String(), true))
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Equal(http.StatusForbidden, resp.StatusCode)
		s.Zero(s.hub.Subscribers())
	})
}
