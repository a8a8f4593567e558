// Package domain holds typed identifiers shared across modules.
//
// Every id is a distinct named UUID type so a CompanyID can never be passed
// where a JobID is expected. Parse functions are the trust boundary: they
// reject empty, malformed and nil UUIDs with CodeInvalidInput.
package domain

import (
	"github.com/google/uuid"

	dErrors "fieldops/pkg/domain-errors"
)

type (
	UserID    uuid.UUID
	CompanyID uuid.UUID
	JobID     uuid.UUID
	AuditID   uuid.UUID
	EventID   uuid.UUID
	RunID     uuid.UUID
)

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id CompanyID) String() string { return uuid.UUID(id).String() }
func (id JobID) String() string     { return uuid.UUID(id).String() }
func (id AuditID) String() string   { return uuid.UUID(id).String() }
func (id EventID) String() string   { return uuid.UUID(id).String() }
func (id RunID) String() string     { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id CompanyID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id JobID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id RunID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id AuditID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// MarshalText lets typed ids serialize as plain UUID strings in JSON payloads.
func (id AuditID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id JobID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id CompanyID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id RunID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id UserID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id EventID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *AuditID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *JobID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CompanyID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RunID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *UserID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EventID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+field)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	return parsed, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

func ParseCompanyID(s string) (CompanyID, error) {
	u, err := parseUUID(s, "company id")
	return CompanyID(u), err
}

func ParseJobID(s string) (JobID, error) {
	u, err := parseUUID(s, "job id")
	return JobID(u), err
}

// runNamespace scopes deterministic run ids so they never collide with random v4 ids.
var runNamespace = uuid.MustParse("6f1d3c1e-8a54-4b8e-9a3c-5d0f2b7e4a91")

// DeriveRunID returns the stable run id for one triggering occurrence of a job audit.
// The same (job, trigger) pair always yields the same id.
func DeriveRunID(jobID JobID, trigger string) RunID {
	return RunID(uuid.NewSHA1(runNamespace, []byte(jobID.String()+":"+trigger)))
}

// NewRunID returns a fresh run id for runs that have no replayable trigger.
func NewRunID() RunID { return RunID(uuid.New()) }
