package models

import (
	"encoding/json"
	"strings"
)

// UnspecifiedRequirement is stored when a finding names neither a requirement
// nor a regulation.
const UnspecifiedRequirement = "unspecified"

// Finding is one requirement-level result from the reasoning service. Raw is
// the finding exactly as returned and becomes the row's audit data.
type Finding struct {
	RequirementID string
	RegulationID  string
	Status        string
	RiskScore     *float64
	Remediation   []string
	Raw           json.RawMessage
}

// Reference returns the requirement reference, falling back to the regulation
// id for responses that drift from the requested schema.
func (f Finding) Reference() string {
	if ref := strings.TrimSpace(f.RequirementID); ref != "" {
		return ref
	}
	if ref := strings.TrimSpace(f.RegulationID); ref != "" {
		return ref
	}
	return UnspecifiedRequirement
}

// NormalizedStatus maps the finding's status onto AuditStatus. Missing and
// unrecognized statuses become pending so a human reviews them.
func (f Finding) NormalizedStatus() (AuditStatus, bool) {
	raw := strings.ToLower(strings.TrimSpace(f.Status))
	raw = strings.NewReplacer("-", "_", " ", "_").Replace(raw)
	if raw == "noncompliant" {
		raw = string(AuditStatusNonCompliant)
	}
	s := AuditStatus(raw)
	if s.IsValid() {
		return s, true
	}
	return AuditStatusPending, raw == ""
}

// IsHighRisk reports whether the finding's risk score reaches threshold.
func (f Finding) IsHighRisk(threshold float64) bool {
	return f.RiskScore != nil && *f.RiskScore >= threshold
}

// AuditResult is the parsed reasoning-service response.
type AuditResult struct {
	Findings []Finding
	Model    string
}
