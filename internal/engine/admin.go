package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"offerx/internal/caps"
)

// Administrative operations. Each is gated by a named capability rather than
// a pause check: unpausing has to work while paused.

func (e *Engine) authorize(caller common.Address, c caps.Capability) error {
	if e.authz == nil || !e.authz.Allows(caller, c) {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) SetFeeCollector(caller, collector common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.authorize(caller, caps.SetCollector); err != nil {
		return err
	}
	if collector == (common.Address{}) {
		return ErrInvalidUser
	}
	e.feeCollector = collector
	return nil
}

func (e *Engine) SetExpiryWindow(caller common.Address, window time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.authorize(caller, caps.SetExpiry); err != nil {
		return err
	}
	if window <= 0 {
		return ErrInvalidAmount
	}
	e.expiryWindow = window
	return nil
}

func (e *Engine) SetCreationFeeRate(caller common.Address, bps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.authorize(caller, caps.SetFees); err != nil {
		return err
	}
	e.creationFeeBps = bps
	return nil
}

func (e *Engine) SetSuccessFeeRate(caller common.Address, bps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.authorize(caller, caps.SetFees); err != nil {
		return err
	}
	e.successFeeBps = bps
	return nil
}

// Pause halts every state-mutating entry point until Unpause.
func (e *Engine) Pause(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.authorize(caller, caps.Pause); err != nil {
		return err
	}
	e.paused = true
	return nil
}

func (e *Engine) Unpause(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.authorize(caller, caps.Pause); err != nil {
		return err
	}
	e.paused = false
	return nil
}

func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}
