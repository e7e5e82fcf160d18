package eventbus

import (
	"testing"

	"github.com/rs/zerolog"
)

// Publish talks to a live NATS connection, so only Connect's failure path
// is exercised here; round-tripping a real publish needs a running broker,
// which nothing in this module stands up.
func TestConnectRejectsUnreachableURL(t *testing.T) {
	if _, err := Connect("nats://127.0.0.1:0", "overseer", zerolog.Nop()); err == nil {
		t.Fatal("expected Connect to fail against an unreachable URL")
	}
}
