package caps

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestGrants(t *testing.T) {
	operator := common.HexToAddress("0x0000000000000000000000000000000000000099")
	other := common.HexToAddress("0x0000000000000000000000000000000000000098")

	g := NewGrants()
	if g.Allows(operator, Pause) {
		t.Fatalf("empty grants must deny")
	}

	g.Grant(operator, Pause, SetFees)
	if !g.Allows(operator, Pause) || !g.Allows(operator, SetFees) {
		t.Fatalf("granted capabilities must be allowed")
	}
	if g.Allows(operator, SetCollector) {
		t.Fatalf("ungranted capability must be denied")
	}
	if g.Allows(other, Pause) {
		t.Fatalf("capabilities must not leak across callers")
	}

	// Granting again extends the set without dropping earlier grants.
	g.Grant(operator, SetCollector)
	if !g.Allows(operator, Pause) || !g.Allows(operator, SetCollector) {
		t.Fatalf("regrant must extend the set")
	}
}

func TestAllowAll(t *testing.T) {
	var a AllowAll
	if !a.Allows(common.Address{}, SetExpiry) {
		t.Fatalf("AllowAll must allow everything")
	}
}
