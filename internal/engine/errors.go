package engine

import "errors"

// Every failure is a hard abort: the operation persists nothing and the
// caller decides whether to resubmit.
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidOfferID      = errors.New("invalid offer id")
	ErrInvalidBuyer        = errors.New("caller is not the offer buyer")
	ErrInvalidSeller       = errors.New("caller is not the offer seller")
	ErrInvalidOffer        = errors.New("offer is not in a valid state")
	ErrExpiredOffer        = errors.New("offer has expired")
	ErrInvalidAsset        = errors.New("asset does not support a recognized transfer standard")
	ErrUnauthorizedOwner   = errors.New("seller does not hold the referenced asset")
	ErrInvalidUser         = errors.New("invalid user address")
	ErrPaused              = errors.New("engine is paused")
	ErrUnauthorized        = errors.New("caller lacks the required capability")
)
