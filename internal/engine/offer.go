package engine

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AssetRef identifies one unit of an externally-owned asset: the contract
// holding it plus the unit id within that contract.
type AssetRef struct {
	Contract common.Address `json:"contract"`
	TokenID  *big.Int       `json:"tokenId"`
}

// Offer is a buyer's escrowed bid against a seller-held asset unit. Amount is
// the escrowed value net of the creation fee. Accepted is terminal; expiry is
// never stored, it is derived from CreatedAt at read time.
type Offer struct {
	ID        uint64         `json:"id"`
	Asset     AssetRef       `json:"asset"`
	Amount    *big.Int       `json:"amount"`
	Buyer     common.Address `json:"buyer"`
	Seller    common.Address `json:"seller"`
	CreatedAt time.Time      `json:"createdAt"`
	Accepted  bool           `json:"accepted"`
}

// expiredAt reports whether the offer can no longer be accepted at the given
// instant. Two calls at different times may legitimately disagree.
func (o *Offer) expiredAt(now time.Time, window time.Duration) bool {
	return now.After(o.CreatedAt.Add(window))
}

func (o *Offer) clone() *Offer {
	cp := *o
	cp.Amount = new(big.Int).Set(o.Amount)
	if o.Asset.TokenID != nil {
		cp.Asset.TokenID = new(big.Int).Set(o.Asset.TokenID)
	}
	return &cp
}
