//go:build integration

package realtime

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"fieldops/internal/compliance/models"
	"fieldops/internal/compliance/store/postgres"
	id "fieldops/pkg/domain"
	"fieldops/pkg/testutil/containers"
)

func TestListenerForwardsInsertedAudits(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	company := id.CompanyID(uuid.New())
	job := id.JobID(uuid.New())
	_, err := pg.DB.ExecContext(ctx, `INSERT INTO companies (id, name) VALUES ($1, 'Hudson Builders')`, uuid.UUID(company))
	require.NoError(t, err)
	_, err = pg.DB.ExecContext(ctx, `INSERT INTO jobs (id, company_id, name) VALUES ($1, $2, 'Hudson Rail Expansion')`, uuid.UUID(job), uuid.UUID(company))
	require.NoError(t, err)

	hub := NewHub()
	sub := hub.Subscribe(company, job, 4)
	defer hub.Unsubscribe(sub)

	listener := NewListener(pg.URL, hub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	store := postgres.New(pg.DB)
	audit := &models.Audit{
		ID:             id.AuditID(uuid.New()),
		CompanyID:      company,
		JobID:          job,
		RunID:          id.NewRunID(),
		RequirementRef: "1926.501",
		Status:         models.AuditStatusNonCompliant,
		AuditData:      []byte(`{"risk":82}`),
		CreatedAt:      time.Now(),
	}

	// LISTEN is issued asynchronously; keep inserting until one arrives.
	deadline := time.Now().Add(20 * time.Second)
	var got models.AuditView
	for received := false; !received; {
		require.True(t, time.Now().Before(deadline), "no notification received")
		audit.ID = id.AuditID(uuid.New())
		require.NoError(t, store.InsertAudit(ctx, audit))
		select {
		case got = <-sub.C():
			received = true
		case <-time.After(250 * time.Millisecond):
		}
	}
	require.Equal(t, job, got.JobID)
	require.Equal(t, "1926.501", got.RequirementRef)
	require.JSONEq(t, `{"risk":82}`, string(got.AuditData))

	cancel()
	require.NoError(t, <-done)
}
