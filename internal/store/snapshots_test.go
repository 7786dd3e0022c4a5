package store

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"offerx/internal/engine"
)

func sampleSnapshot() *engine.Snapshot {
	buyer := common.HexToAddress("0x0000000000000000000000000000000000000001")
	seller := common.HexToAddress("0x0000000000000000000000000000000000000002")
	return &engine.Snapshot{
		CurrentOfferID: 2,
		Funds:          big.NewInt(500),
		Balances: map[common.Address]*big.Int{
			buyer: big.NewInt(100),
		},
		Offers: []engine.Offer{
			{
				ID: 1,
				Asset: engine.AssetRef{
					Contract: common.HexToAddress("0x0000000000000000000000000000000000000010"),
					TokenID:  big.NewInt(7),
				},
				Amount:    big.NewInt(400),
				Buyer:     buyer,
				Seller:    seller,
				CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			},
		},
		OfferIndex: map[common.Address][]uint64{
			buyer: {1},
		},
		CreationFeeBps: 250,
		SuccessFeeBps:  500,
		ExpiryWindowS:  100800,
		FeeCollector:   common.HexToAddress("0x00000000000000000000000000000000000000fe"),
	}
}

func TestMemorySnapshots(t *testing.T) {
	s := NewMemorySnapshots()
	ctx := context.Background()

	if snap, err := s.Load(ctx); err != nil || snap != nil {
		t.Fatalf("empty load = %v, %v; want nil, nil", snap, err)
	}
	if err := s.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap, err := s.Load(ctx)
	if err != nil || snap == nil {
		t.Fatalf("load: %v, %v", snap, err)
	}
}

func TestFileSnapshotsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileSnapshots(path)
	ctx := context.Background()

	if snap, err := s.Load(ctx); err != nil || snap != nil {
		t.Fatalf("empty load = %v, %v; want nil, nil", snap, err)
	}

	want := sampleSnapshot()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	got, err := NewFileSnapshots(path).Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || got.CurrentOfferID != want.CurrentOfferID {
		t.Fatalf("loaded snapshot = %+v", got)
	}
	if got.Funds.Cmp(want.Funds) != 0 {
		t.Fatalf("loaded funds = %s, want %s", got.Funds, want.Funds)
	}
	if len(got.Offers) != 1 || got.Offers[0].Amount.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("loaded offers = %+v", got.Offers)
	}
	buyer := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if got.Balances[buyer] == nil || got.Balances[buyer].Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("loaded balances = %+v", got.Balances)
	}
	if len(got.OfferIndex[buyer]) != 1 || got.OfferIndex[buyer][0] != 1 {
		t.Fatalf("loaded index = %+v", got.OfferIndex)
	}
}

func TestPostgresSnapshotsLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := NewPostgresSnapshots(ctx, dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	if err := s.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil || got == nil {
		t.Fatalf("load: %v, %v", got, err)
	}
	if got.CurrentOfferID != 2 {
		t.Fatalf("loaded id counter = %d, want 2", got.CurrentOfferID)
	}
}
