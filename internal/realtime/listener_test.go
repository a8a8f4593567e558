package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops/internal/compliance/models"
)

func TestDecodeNotification(t *testing.T) {
	t.Run("trigger payload", func(t *testing.T) {
		view, err := DecodeNotification([]byte(`{
			"id": "0b7f6f8e-4d5c-4a0e-9a1d-2f3b4c5d6e7f",
			"companyId": "1c2d3e4f-5a6b-4c7d-8e9f-0a1b2c3d4e5f",
			"jobId": "2d3e4f5a-6b7c-4d8e-9f0a-1b2c3d4e5f6a",
			"runId": "3e4f5a6b-7c8d-4e9f-8a1b-2c3d4e5f6a7b",
			"requirementRef": "1926.501",
			"status": "non_compliant",
			"auditData": {"risk": 82},
			"auditorUserId": null,
			"createdAt": "2026-03-01T09:00:00.123456+00:00"
		}`))
		require.NoError(t, err)
		assert.Equal(t, "1926.501", view.RequirementRef)
		assert.Equal(t, models.AuditStatusNonCompliant, view.Status)
		assert.JSONEq(t, `{"risk": 82}`, string(view.AuditData))
		assert.Nil(t, view.AuditorUserID)
		assert.Equal(t, 2026, view.CreatedAt.Year())
	})

	t.Run("omitted audit data becomes an empty object", func(t *testing.T) {
		view, err := DecodeNotification([]byte(`{
			"id": "0b7f6f8e-4d5c-4a0e-9a1d-2f3b4c5d6e7f",
			"companyId": "1c2d3e4f-5a6b-4c7d-8e9f-0a1b2c3d4e5f",
			"jobId": "2d3e4f5a-6b7c-4d8e-9f0a-1b2c3d4e5f6a",
			"auditData": null
		}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(view.AuditData))
	})

	t.Run("rejects payloads without identity", func(t *testing.T) {
		_, err := DecodeNotification([]byte(`{"requirementRef": "1926.501"}`))
		assert.ErrorIs(t, err, errIncompleteNotification)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		_, err := DecodeNotification([]byte(`{"id":`))
		assert.Error(t, err)
	})
}
