package testutil

import "testing"

// Given and Then label subtests that read as a scenario, e.g. a quota being
// used up and then exceeded.
func Given(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("given "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("then "+desc, fn)
}
