package engine

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is the engine's full persisted state. It round-trips through JSON
// for the snapshot stores.
type Snapshot struct {
	CurrentOfferID uint64                      `json:"currentOfferId"`
	Funds          *big.Int                    `json:"funds"`
	Balances       map[common.Address]*big.Int `json:"balances"`
	Offers         []Offer                     `json:"offers"`
	OfferIndex     map[common.Address][]uint64 `json:"offerIndex"`
	CreationFeeBps uint64                      `json:"creationFeeBps"`
	SuccessFeeBps  uint64                      `json:"successFeeBps"`
	ExpiryWindowS  int64                       `json:"expiryWindowSeconds"`
	FeeCollector   common.Address              `json:"feeCollector"`
	Paused         bool                        `json:"paused"`
}

// Snapshot copies the engine state for persistence.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := &Snapshot{
		CurrentOfferID: e.currentOfferID,
		Funds:          new(big.Int).Set(e.funds),
		Balances:       make(map[common.Address]*big.Int, len(e.balances)),
		Offers:         make([]Offer, 0, len(e.offers)),
		OfferIndex:     make(map[common.Address][]uint64, len(e.offerIndex)),
		CreationFeeBps: e.creationFeeBps,
		SuccessFeeBps:  e.successFeeBps,
		ExpiryWindowS:  int64(e.expiryWindow / time.Second),
		FeeCollector:   e.feeCollector,
		Paused:         e.paused,
	}
	for addr, bal := range e.balances {
		snap.Balances[addr] = new(big.Int).Set(bal)
	}
	for id := uint64(1); id <= e.currentOfferID; id++ {
		if off, ok := e.offers[id]; ok {
			snap.Offers = append(snap.Offers, *off.clone())
		}
	}
	for addr, ids := range e.offerIndex {
		snap.OfferIndex[addr] = append([]uint64(nil), ids...)
	}
	return snap
}

// Restore replaces the engine state with a previously taken snapshot.
func (e *Engine) Restore(snap *Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentOfferID = snap.CurrentOfferID
	e.funds = new(big.Int).Set(snap.Funds)
	e.balances = make(map[common.Address]*big.Int, len(snap.Balances))
	for addr, bal := range snap.Balances {
		e.balances[addr] = new(big.Int).Set(bal)
	}
	e.offers = make(map[uint64]*Offer, len(snap.Offers))
	for i := range snap.Offers {
		off := snap.Offers[i]
		e.offers[off.ID] = off.clone()
	}
	e.offerIndex = make(map[common.Address][]uint64, len(snap.OfferIndex))
	for addr, ids := range snap.OfferIndex {
		e.offerIndex[addr] = append([]uint64(nil), ids...)
	}
	e.creationFeeBps = snap.CreationFeeBps
	e.successFeeBps = snap.SuccessFeeBps
	e.expiryWindow = time.Duration(snap.ExpiryWindowS) * time.Second
	e.feeCollector = snap.FeeCollector
	e.paused = snap.Paused
}
