package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	id "fieldops/pkg/domain"
)

type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencyCompleted IdempotencyStatus = "completed"
)

// IdempotencyRecord ties a client-supplied key to one audit request per user.
type IdempotencyRecord struct {
	UserID      id.UserID
	Key         string
	RequestHash string
	JobID       id.JobID
	Status      IdempotencyStatus
	AuditIDs    []id.AuditID
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// AuditRequestHash fingerprints the parts of a request that change its meaning,
// so reusing a key for a different request is detectable.
func AuditRequestHash(jobID id.JobID, force bool) string {
	sum := sha256.Sum256([]byte(jobID.String() + "|force=" + strconv.FormatBool(force)))
	return hex.EncodeToString(sum[:])
}
