package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "fieldops/internal/jwt_token"
	"fieldops/pkg/requestcontext"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequireAuth(t *testing.T) {
	verifier := jwttoken.NewVerifier("test-signing-key", "authenticated")
	userID := uuid.New()
	token, err := verifier.Issue(userID, time.Hour)
	require.NoError(t, err)

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.UserID(r.Context()).String()
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireAuth(verifier, discardLogger())(next)

	t.Run("bearer header", func(t *testing.T) {
		seen = ""
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, userID.String(), seen)
	})

	t.Run("access_token query for websocket upgrades", func(t *testing.T) {
		seen = ""
		req := httptest.NewRequest(http.MethodGet, "/jobs/x/compliance/stream?access_token="+token, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, userID.String(), seen)
	})

	t.Run("missing token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"unauthorized","error_description":"Missing or invalid Authorization header"}`, rr.Body.String())
	})

	t.Run("token signed with another key", func(t *testing.T) {
		forged, err := jwttoken.NewVerifier("other-key", "authenticated").Issue(userID, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		req.Header.Set("Authorization", "Bearer "+forged)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-7f3a")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "req-7f3a", seen)
	assert.Equal(t, "req-7f3a", rr.Header().Get("X-Request-ID"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
}

func TestRecovery(t *testing.T) {
	h := Recovery(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "boom")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "10.0.0.7", clientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	assert.Equal(t, "198.51.100.4", clientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", clientIP(req))
}
