package models

import (
	"strings"

	id "fieldops/pkg/domain"
	dErrors "fieldops/pkg/domain-errors"
)

// AutomatedAuditRequest is the optional body of the automated audit endpoint.
// JobID, when present, must match the path.
type AutomatedAuditRequest struct {
	JobID string `json:"jobId,omitempty"`
	Force bool   `json:"force,omitempty"`
}

func (r *AutomatedAuditRequest) Validate() error {
	r.JobID = strings.TrimSpace(r.JobID)
	if r.JobID == "" {
		return nil
	}
	if _, err := id.ParseJobID(r.JobID); err != nil {
		return dErrors.New(dErrors.CodeValidation, "jobId must be a UUID")
	}
	return nil
}

// ManualAuditRequest records a human audit of one requirement.
type ManualAuditRequest struct {
	RequirementID string   `json:"requirementId"`
	JobID         string   `json:"jobId"`
	Status        string   `json:"status"`
	Evidence      []string `json:"evidence,omitempty"`

	jobID id.JobID
}

func (r *ManualAuditRequest) Validate() error {
	r.RequirementID = strings.TrimSpace(r.RequirementID)
	r.Status = strings.TrimSpace(r.Status)
	if r.RequirementID == "" {
		return dErrors.New(dErrors.CodeValidation, "requirementId is required")
	}
	jobID, err := id.ParseJobID(strings.TrimSpace(r.JobID))
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "jobId must be a UUID")
	}
	r.jobID = jobID
	if !AuditStatus(r.Status).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "status must be one of compliant, non_compliant, pending, waived")
	}
	return nil
}

// ParsedJobID is available after a successful Validate.
func (r *ManualAuditRequest) ParsedJobID() id.JobID { return r.jobID }
