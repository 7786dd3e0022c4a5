package engine

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Sink receives engine events synchronously, after the mutation they describe
// has been committed. Implementations must not call back into the engine.
type Sink interface {
	Emit(Event)
}

// Event is implemented by every engine event.
type Event interface {
	Kind() string
}

type Deposited struct {
	User    common.Address
	Amount  *big.Int
	Balance *big.Int
	At      time.Time
}

type OfferCreated struct {
	Offer Offer
	Fee   *big.Int
	At    time.Time
}

type OfferUpdated struct {
	Offer Offer
	Fee   *big.Int
	At    time.Time
}

type OfferAccepted struct {
	Offer      Offer
	Fee        *big.Int
	SellerPaid *big.Int
	TxRef      string
	At         time.Time
}

type Withdrawn struct {
	User    common.Address
	Amount  *big.Int
	Balance *big.Int
	At      time.Time
}

func (Deposited) Kind() string     { return "deposited" }
func (OfferCreated) Kind() string  { return "offer_created" }
func (OfferUpdated) Kind() string  { return "offer_updated" }
func (OfferAccepted) Kind() string { return "offer_accepted" }
func (Withdrawn) Kind() string     { return "withdrawn" }

// nopSink is used when no sink is configured.
type nopSink struct{}

func (nopSink) Emit(Event) {}
