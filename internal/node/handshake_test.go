package node

import (
	"testing"

	"github.com/elysium-mesh/elysium/internal/wire"
)

func TestCheckProtocolVersionAccepts(t *testing.T) {
	if err := checkProtocolVersion(wire.ProtocolVersion); err != nil {
		t.Fatalf("checkProtocolVersion rejected the current version: %v", err)
	}
}

func TestCheckProtocolVersionRejectsMismatch(t *testing.T) {
	if err := checkProtocolVersion(wire.ProtocolVersion + 1); err == nil {
		t.Fatal("expected an error for a mismatched protocol_version")
	}
}
