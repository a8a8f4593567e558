package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "rate-limit:audit:u-1", Key(ScopeAudit, "u-1"))
	assert.Equal(t, "rate-limit:audit:user_admin", Key(ScopeAudit, "user:admin"))
}
