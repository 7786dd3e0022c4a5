package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// FakeClient keeps asset collections in memory. Used by tests and by keyless
// local runs where no chain is configured.
type FakeClient struct {
	mu sync.Mutex

	// unique: contract -> tokenID -> holder
	unique map[common.Address]map[string]common.Address
	// multi: contract -> tokenID -> holder -> units
	multi map[common.Address]map[string]map[common.Address]*big.Int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		unique: make(map[common.Address]map[string]common.Address),
		multi:  make(map[common.Address]map[string]map[common.Address]*big.Int),
	}
}

// SetUniqueHolder registers a unique collection's unit under a holder.
func (f *FakeClient) SetUniqueHolder(contract common.Address, tokenID *big.Int, holder common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.unique[contract]
	if !ok {
		col = make(map[string]common.Address)
		f.unique[contract] = col
	}
	col[tokenID.String()] = holder
}

// SetMultiBalance registers a holder's unit count in a multi collection.
func (f *FakeClient) SetMultiBalance(contract common.Address, tokenID *big.Int, holder common.Address, units int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.multi[contract]
	if !ok {
		col = make(map[string]map[common.Address]*big.Int)
		f.multi[contract] = col
	}
	holders, ok := col[tokenID.String()]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		col[tokenID.String()] = holders
	}
	holders[holder] = big.NewInt(units)
}

func (f *FakeClient) Probe(_ context.Context, contract common.Address) (Kind, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.unique[contract]; ok {
		return KindUnique, nil
	}
	if _, ok := f.multi[contract]; ok {
		return KindMulti, nil
	}
	return KindUnknown, nil
}

func (f *FakeClient) HolderOf(_ context.Context, contract common.Address, tokenID *big.Int) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.unique[contract]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown unique collection %s", contract.Hex())
	}
	holder, ok := col[tokenID.String()]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown token %s", tokenID)
	}
	return holder, nil
}

func (f *FakeClient) UnitBalance(_ context.Context, contract common.Address, holder common.Address, tokenID *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.multi[contract]
	if !ok {
		return nil, fmt.Errorf("unknown multi collection %s", contract.Hex())
	}
	units := col[tokenID.String()][holder]
	if units == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(units), nil
}

func (f *FakeClient) Transfer(_ context.Context, contract common.Address, tokenID *big.Int, from, to common.Address) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if col, ok := f.unique[contract]; ok {
		if col[tokenID.String()] != from {
			return "", fmt.Errorf("holder mismatch for token %s", tokenID)
		}
		col[tokenID.String()] = to
		return fakeTxRef(contract, tokenID, from, to), nil
	}

	if col, ok := f.multi[contract]; ok {
		holders := col[tokenID.String()]
		units := holders[from]
		if units == nil || units.Sign() <= 0 {
			return "", fmt.Errorf("no units of token %s held by %s", tokenID, from.Hex())
		}
		units.Sub(units, big.NewInt(1))
		if holders[to] == nil {
			holders[to] = big.NewInt(0)
		}
		holders[to].Add(holders[to], big.NewInt(1))
		return fakeTxRef(contract, tokenID, from, to), nil
	}

	return "", fmt.Errorf("unknown collection %s", contract.Hex())
}

func fakeTxRef(contract common.Address, tokenID *big.Int, from, to common.Address) string {
	sum := sha256.Sum256([]byte(contract.Hex() + tokenID.String() + from.Hex() + to.Hex()))
	return "0x" + hex.EncodeToString(sum[:])
}
