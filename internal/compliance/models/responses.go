package models

import (
	"encoding/json"
	"time"

	id "fieldops/pkg/domain"
)

type AuditIDsResponse struct {
	AuditIDs []id.AuditID `json:"auditIds"`
}

// AuditView is the wire form of an Audit, shared by the list endpoint and the
// realtime stream.
type AuditView struct {
	ID             id.AuditID      `json:"id"`
	CompanyID      id.CompanyID    `json:"companyId"`
	JobID          id.JobID        `json:"jobId"`
	RunID          id.RunID        `json:"runId"`
	RequirementRef string          `json:"requirementRef"`
	Status         AuditStatus     `json:"status"`
	AuditData      json.RawMessage `json:"auditData"`
	AuditorUserID  *id.UserID      `json:"auditorUserId"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func NewAuditView(a Audit) AuditView {
	data := a.AuditData
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return AuditView{
		ID:             a.ID,
		CompanyID:      a.CompanyID,
		JobID:          a.JobID,
		RunID:          a.RunID,
		RequirementRef: a.RequirementRef,
		Status:         a.Status,
		AuditData:      data,
		AuditorUserID:  a.AuditorID,
		CreatedAt:      a.CreatedAt,
	}
}

type AuditsResponse struct {
	Audits []AuditView `json:"audits"`
}
