// Package models holds the compliance pipeline's domain types.
package models

import (
	"encoding/json"
	"time"

	id "fieldops/pkg/domain"
)

type JobStatus string

const (
	JobStatusDraft     JobStatus = "draft"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is the tenant-owned unit of work under audit. Read-only to the pipeline.
type Job struct {
	ID        id.JobID
	CompanyID id.CompanyID
	Name      string
	Status    JobStatus
}

type AuditStatus string

const (
	AuditStatusCompliant    AuditStatus = "compliant"
	AuditStatusNonCompliant AuditStatus = "non_compliant"
	AuditStatusPending      AuditStatus = "pending"
	AuditStatusWaived       AuditStatus = "waived"
)

func (s AuditStatus) IsValid() bool {
	switch s {
	case AuditStatusCompliant, AuditStatusNonCompliant, AuditStatusPending, AuditStatusWaived:
		return true
	}
	return false
}

// Audit is one evaluation of one requirement against one job. Rows are
// append-only; a new run never updates a previous run's rows.
type Audit struct {
	ID             id.AuditID
	CompanyID      id.CompanyID
	JobID          id.JobID
	RunID          id.RunID
	RequirementRef string
	Status         AuditStatus
	AuditData      json.RawMessage
	AuditorID      *id.UserID // nil for system-initiated runs
	CreatedAt      time.Time
}

// Trigger records which path started a run.
type Trigger string

const (
	TriggerRequest  Trigger = "request"
	TriggerWorkflow Trigger = "workflow"
)

// EventAuditCompleted is the domain event type appended after a run persists rows.
const EventAuditCompleted = "compliance.audit.completed"

// DomainEvent is an append-only log entry scoped to a company.
type DomainEvent struct {
	ID        id.EventID
	CompanyID id.CompanyID
	EventType string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// AuditCompletedPayload is the payload of EventAuditCompleted.
type AuditCompletedPayload struct {
	JobID      id.JobID     `json:"jobId"`
	RunID      id.RunID     `json:"runId"`
	AuditCount int          `json:"auditCount"`
	HighRisk   int          `json:"highRisk"`
	AuditIDs   []id.AuditID `json:"auditIds"`
	Trigger    Trigger      `json:"trigger"`
	Partial    bool         `json:"partial,omitempty"`
}

// CompletionSignal is the minimal envelope delivered to workflow consumers
// after a request-initiated run.
type CompletionSignal struct {
	CompanyID id.CompanyID `json:"companyId"`
	JobID     id.JobID     `json:"jobId"`
	AuditIDs  []id.AuditID `json:"auditIds"`
}

// OutboxEntry is a durable intent to publish one message.
type OutboxEntry struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	Payload       json.RawMessage
	Attempts      int
	CreatedAt     time.Time
}
