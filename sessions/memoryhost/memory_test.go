package memoryhost

import (
	"testing"

	"github.com/gomcp/corekit/sessions"
	"github.com/gomcp/corekit/sessions/sessionhosttest"
)

func TestMemorySessionHost(t *testing.T) {
	sessionhosttest.RunSessionHostTests(t, func(t *testing.T) sessions.Host {
		return New()
	})
}
