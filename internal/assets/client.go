// Package assets moves externally-owned asset units during settlement. A
// client probes the asset contract for its transfer standard, validates the
// current holder, and transfers exactly one unit from seller to buyer.
package assets

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind is an asset contract's transfer standard.
type Kind int

const (
	// KindUnknown means the contract exposes neither recognized standard.
	KindUnknown Kind = iota
	// KindUnique is the single-unit (non-fungible) standard.
	KindUnique
	// KindMulti is the multi-unit (semi-fungible) standard.
	KindMulti
)

// Client abstracts the asset-side of settlement.
type Client interface {
	// Probe detects the contract's transfer standard.
	Probe(ctx context.Context, contract common.Address) (Kind, error)

	// HolderOf returns the current holder of a unique asset unit.
	HolderOf(ctx context.Context, contract common.Address, tokenID *big.Int) (common.Address, error)

	// UnitBalance returns how many units of a multi asset id a holder owns.
	UnitBalance(ctx context.Context, contract common.Address, holder common.Address, tokenID *big.Int) (*big.Int, error)

	// Transfer moves exactly one unit from seller to buyer and returns an
	// external transaction reference.
	Transfer(ctx context.Context, contract common.Address, tokenID *big.Int, from, to common.Address) (string, error)
}

// HealthChecker is implemented by clients that can report connectivity.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
