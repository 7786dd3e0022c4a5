// Package engine implements the custodial offer-exchange core: the escrow
// ledger, the offer lifecycle state machine, fee collection, and settlement
// against an external asset client.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"offerx/internal/assets"
	"offerx/internal/caps"
)

// Config carries the engine's initial parameters and collaborators.
type Config struct {
	CreationFeeBps uint64
	SuccessFeeBps  uint64
	ExpiryWindow   time.Duration
	FeeCollector   common.Address

	Assets assets.Client
	Authz  caps.Authorizer
	Sink   Sink

	// Now overrides the clock. Tests set it; nil means time.Now.
	Now func() time.Time
}

// Engine holds all custodial state. One mutex guards every entry point for
// its full duration: internal state is fully committed before the external
// asset transfer runs, so nothing can observe a half-applied operation.
type Engine struct {
	mu sync.Mutex

	balances       map[common.Address]*big.Int
	offers         map[uint64]*Offer
	offerIndex     map[common.Address][]uint64
	currentOfferID uint64
	funds          *big.Int

	creationFeeBps uint64
	successFeeBps  uint64
	expiryWindow   time.Duration
	feeCollector   common.Address
	paused         bool

	assets assets.Client
	authz  caps.Authorizer
	sink   Sink
	now    func() time.Time
}

func New(cfg Config) *Engine {
	e := &Engine{
		balances:       make(map[common.Address]*big.Int),
		offers:         make(map[uint64]*Offer),
		offerIndex:     make(map[common.Address][]uint64),
		funds:          big.NewInt(0),
		creationFeeBps: cfg.CreationFeeBps,
		successFeeBps:  cfg.SuccessFeeBps,
		expiryWindow:   cfg.ExpiryWindow,
		feeCollector:   cfg.FeeCollector,
		assets:         cfg.Assets,
		authz:          cfg.Authz,
		sink:           cfg.Sink,
		now:            cfg.Now,
	}
	if e.sink == nil {
		e.sink = nopSink{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// SetSink replaces the event sink. Wired once at startup, before traffic.
func (e *Engine) SetSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s == nil {
		s = nopSink{}
	}
	e.sink = s
}

// guard runs the common entry checks for state-mutating operations. Caller
// must hold e.mu.
func (e *Engine) guard(caller common.Address) error {
	if e.paused {
		return ErrPaused
	}
	if caller == (common.Address{}) {
		return ErrInvalidUser
	}
	return nil
}

func (e *Engine) balanceOf(user common.Address) *big.Int {
	if bal, ok := e.balances[user]; ok {
		return bal
	}
	return big.NewInt(0)
}

// ensureBalance returns the map-backed balance entry, creating it at zero.
func (e *Engine) ensureBalance(user common.Address) *big.Int {
	bal, ok := e.balances[user]
	if !ok {
		bal = big.NewInt(0)
		e.balances[user] = bal
	}
	return bal
}

func (e *Engine) credit(user common.Address, amount *big.Int) *big.Int {
	bal := e.ensureBalance(user)
	return bal.Add(bal, amount)
}

// Deposit credits the caller's custodial balance and the funds on hand by
// exactly amount. Returns the new balance.
func (e *Engine) Deposit(caller common.Address, amount *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.guard(caller); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	bal := e.credit(caller, amount)
	e.funds.Add(e.funds, amount)

	e.sink.Emit(Deposited{
		User:    caller,
		Amount:  new(big.Int).Set(amount),
		Balance: new(big.Int).Set(bal),
		At:      e.now(),
	})
	return new(big.Int).Set(bal), nil
}

// CreateOffer locks gross value from the caller's balance against a
// seller-held asset unit. The creation fee is netted out up front: the stored
// offer amount is gross minus fee, and the fee is credited to the collector
// immediately.
func (e *Engine) CreateOffer(caller common.Address, asset AssetRef, seller common.Address, gross *big.Int) (Offer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.guard(caller); err != nil {
		return Offer{}, err
	}
	if seller == (common.Address{}) {
		return Offer{}, ErrInvalidUser
	}
	if asset.TokenID == nil {
		return Offer{}, ErrInvalidAsset
	}
	if gross == nil || gross.Sign() <= 0 {
		return Offer{}, ErrInvalidAmount
	}

	fee := feeAmount(e.creationFeeBps, gross)
	net := new(big.Int).Sub(gross, fee)
	if net.Sign() <= 0 {
		return Offer{}, ErrInvalidAmount
	}

	if e.balanceOf(caller).Cmp(gross) < 0 {
		return Offer{}, ErrInsufficientBalance
	}

	bal := e.ensureBalance(caller)
	bal.Sub(bal, gross)
	if fee.Sign() > 0 {
		e.credit(e.feeCollector, fee)
	}

	e.currentOfferID++
	off := &Offer{
		ID: e.currentOfferID,
		Asset: AssetRef{
			Contract: asset.Contract,
			TokenID:  new(big.Int).Set(asset.TokenID),
		},
		Amount:    net,
		Buyer:     caller,
		Seller:    seller,
		CreatedAt: e.now(),
	}
	e.offers[off.ID] = off
	e.offerIndex[caller] = append(e.offerIndex[caller], off.ID)

	e.sink.Emit(OfferCreated{Offer: *off.clone(), Fee: fee, At: off.CreatedAt})
	return *off.clone(), nil
}

// UpdateOffer raises a pending, unexpired offer to a strictly larger net
// amount and refreshes its creation time. The fee is recomputed against the
// full new gross amount, not the delta; that mirrors the settlement contract
// this engine replaces, even though it re-charges value already netted out at
// creation.
func (e *Engine) UpdateOffer(caller common.Address, offerID uint64, newGross *big.Int) (Offer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.guard(caller); err != nil {
		return Offer{}, err
	}

	off, err := e.offerLocked(offerID)
	if err != nil {
		return Offer{}, err
	}
	if off.Buyer != caller {
		return Offer{}, ErrInvalidBuyer
	}
	if off.Accepted || off.expiredAt(e.now(), e.expiryWindow) {
		return Offer{}, ErrInvalidOffer
	}
	if newGross == nil || newGross.Sign() <= 0 {
		return Offer{}, ErrInvalidAmount
	}

	fee := feeAmount(e.creationFeeBps, newGross)
	net := new(big.Int).Sub(newGross, fee)
	if net.Cmp(off.Amount) <= 0 {
		return Offer{}, ErrInvalidAmount
	}

	// The previously locked amount counts toward funding the new gross.
	restored := new(big.Int).Add(e.balanceOf(caller), off.Amount)
	if restored.Cmp(newGross) < 0 {
		return Offer{}, ErrInsufficientBalance
	}

	e.ensureBalance(caller).Set(restored.Sub(restored, newGross))
	if fee.Sign() > 0 {
		e.credit(e.feeCollector, fee)
	}
	off.Amount = net
	off.CreatedAt = e.now()

	e.sink.Emit(OfferUpdated{Offer: *off.clone(), Fee: fee, At: off.CreatedAt})
	return *off.clone(), nil
}

// AcceptOffer settles a pending offer: the seller's asset unit moves to the
// buyer and the escrowed amount, net of the success fee, is credited to the
// seller's balance. Ledger state is fully committed before the external
// transfer runs; a transfer failure rolls the accept back before the guard is
// released, so no partial settlement is ever observable.
func (e *Engine) AcceptOffer(ctx context.Context, caller common.Address, offerID uint64) (Offer, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.guard(caller); err != nil {
		return Offer{}, "", err
	}

	off, err := e.offerLocked(offerID)
	if err != nil {
		return Offer{}, "", err
	}
	if off.Accepted {
		return Offer{}, "", ErrInvalidOffer
	}
	if off.expiredAt(e.now(), e.expiryWindow) {
		return Offer{}, "", ErrExpiredOffer
	}
	if off.Seller != caller {
		return Offer{}, "", ErrInvalidSeller
	}
	if off.Amount.Sign() <= 0 {
		return Offer{}, "", ErrInvalidAmount
	}
	if off.Amount.Cmp(e.funds) > 0 {
		return Offer{}, "", ErrInsufficientBalance
	}

	if err := e.validateSettlement(ctx, off); err != nil {
		return Offer{}, "", err
	}

	fee := feeAmount(e.successFeeBps, off.Amount)
	proceeds := new(big.Int).Sub(off.Amount, fee)

	off.Accepted = true
	if fee.Sign() > 0 {
		e.credit(e.feeCollector, fee)
	}
	e.credit(off.Seller, proceeds)

	txRef, err := e.assets.Transfer(ctx, off.Asset.Contract, off.Asset.TokenID, off.Seller, off.Buyer)
	if err != nil {
		// Roll back so the failed accept leaves no trace.
		off.Accepted = false
		if fee.Sign() > 0 {
			e.balances[e.feeCollector].Sub(e.balances[e.feeCollector], fee)
		}
		e.balances[off.Seller].Sub(e.balances[off.Seller], proceeds)
		return Offer{}, "", fmt.Errorf("settlement transfer: %w", err)
	}

	e.sink.Emit(OfferAccepted{
		Offer:      *off.clone(),
		Fee:        fee,
		SellerPaid: proceeds,
		TxRef:      txRef,
		At:         e.now(),
	})
	return *off.clone(), txRef, nil
}

// validateSettlement runs the read-only asset checks: standard detection and
// holder validation. Caller must hold e.mu.
func (e *Engine) validateSettlement(ctx context.Context, off *Offer) error {
	kind, err := e.assets.Probe(ctx, off.Asset.Contract)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}

	switch kind {
	case assets.KindUnique:
		holder, err := e.assets.HolderOf(ctx, off.Asset.Contract, off.Asset.TokenID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAsset, err)
		}
		if holder != off.Seller {
			return ErrUnauthorizedOwner
		}
	case assets.KindMulti:
		units, err := e.assets.UnitBalance(ctx, off.Asset.Contract, off.Seller, off.Asset.TokenID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAsset, err)
		}
		if units.Sign() <= 0 {
			return ErrInsufficientBalance
		}
	default:
		return ErrInvalidAsset
	}
	return nil
}

// Withdraw pays out up to the caller's available balance. Expired unaccepted
// offers are folded back into the persisted balance here: each one's escrowed
// amount is zeroed as it is reclaimed, so a later withdraw cannot credit it
// twice. The records themselves are kept.
func (e *Engine) Withdraw(caller common.Address, amount *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.guard(caller); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	available, reclaimable := e.availableLocked(caller)
	if amount.Cmp(available) > 0 {
		return nil, ErrInsufficientBalance
	}
	if amount.Cmp(e.funds) > 0 {
		return nil, ErrInsufficientBalance
	}

	for _, off := range reclaimable {
		off.Amount.SetInt64(0)
	}
	bal := e.ensureBalance(caller)
	bal.Set(available.Sub(available, amount))
	e.funds.Sub(e.funds, amount)

	e.sink.Emit(Withdrawn{
		User:    caller,
		Amount:  new(big.Int).Set(amount),
		Balance: new(big.Int).Set(bal),
		At:      e.now(),
	})
	return new(big.Int).Set(bal), nil
}

// AvailableBalance reports the caller's withdrawable value: the persisted
// balance plus every expired unaccepted offer the user still has locked.
// Pure projection: no state is mutated, and two calls with no intervening
// mutation agree. Linear in the number of offers the user ever created.
func (e *Engine) AvailableBalance(user common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	available, _ := e.availableLocked(user)
	return available
}

func (e *Engine) availableLocked(user common.Address) (*big.Int, []*Offer) {
	available := new(big.Int).Set(e.balanceOf(user))
	var reclaimable []*Offer
	now := e.now()
	for _, id := range e.offerIndex[user] {
		off := e.offers[id]
		if off.Buyer != user {
			// Index invariant: entries are appended only at creation,
			// under the buyer's own key.
			continue
		}
		if off.Accepted || !off.expiredAt(now, e.expiryWindow) {
			continue
		}
		available.Add(available, off.Amount)
		reclaimable = append(reclaimable, off)
	}
	return available, reclaimable
}

// Balance reports the persisted ledger balance, excluding reclaimable value.
func (e *Engine) Balance(user common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.balanceOf(user))
}

// Funds reports the custodial value on hand.
func (e *Engine) Funds() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.funds)
}

// GetOffer returns a copy of the offer record.
func (e *Engine) GetOffer(offerID uint64) (Offer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	off, err := e.offerLocked(offerID)
	if err != nil {
		return Offer{}, err
	}
	return *off.clone(), nil
}

// OpenOffers counts offers that are not yet accepted.
func (e *Engine) OpenOffers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, off := range e.offers {
		if !off.Accepted {
			n++
		}
	}
	return n
}

func (e *Engine) offerLocked(offerID uint64) (*Offer, error) {
	if offerID == 0 || offerID > e.currentOfferID {
		return nil, ErrInvalidOfferID
	}
	return e.offers[offerID], nil
}
