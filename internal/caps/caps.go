// Package caps provides capability-set authorization for the engine's
// administrative operations: a caller holds a set of named permissions, each
// checked independently before a gated operation runs.
package caps

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Capability names one administrative permission.
type Capability string

const (
	SetFees      Capability = "fees.set"
	SetExpiry    Capability = "expiry.set"
	SetCollector Capability = "collector.set"
	Pause        Capability = "pause"
)

// Authorizer answers whether a caller holds a capability.
type Authorizer interface {
	Allows(caller common.Address, c Capability) bool
}

// Grants is a static table of capability sets keyed by caller address.
type Grants struct {
	mu     sync.RWMutex
	byAddr map[common.Address]map[Capability]struct{}
}

func NewGrants() *Grants {
	return &Grants{byAddr: make(map[common.Address]map[Capability]struct{})}
}

// Grant adds capabilities to a caller's set.
func (g *Grants) Grant(caller common.Address, capSet ...Capability) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.byAddr[caller]
	if !ok {
		set = make(map[Capability]struct{})
		g.byAddr[caller] = set
	}
	for _, c := range capSet {
		set[c] = struct{}{}
	}
}

func (g *Grants) Allows(caller common.Address, c Capability) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.byAddr[caller][c]
	return ok
}

// AllowAll grants every capability to every caller. For tests and keyless
// local runs only.
type AllowAll struct{}

func (AllowAll) Allows(common.Address, Capability) bool { return true }
