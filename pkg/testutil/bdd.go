package testutil

import "testing"

// Given, When and Then name nested subtests so scenario tests read as a flow
// through the gateway: state set up, the request made, the outcome checked.
func Given(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("when "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("then "+desc, fn)
}
