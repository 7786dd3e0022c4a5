package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"offerx/internal/assets"
	"offerx/internal/caps"
	"offerx/internal/config"
	"offerx/internal/engine"
	"offerx/internal/idempotency"
	"offerx/internal/server"
	"offerx/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	var idem idempotency.Store
	var snaps store.Snapshots
	if cfg.Service.PostgresDSN != "" {
		pgIdem, err := idempotency.NewPostgresStore(ctx, cfg.Service.PostgresDSN)
		if err != nil {
			log.Fatalf("idempotency store error: %v", err)
		}
		defer pgIdem.Close()
		pgSnaps, err := store.NewPostgresSnapshots(ctx, cfg.Service.PostgresDSN)
		if err != nil {
			log.Fatalf("snapshot store error: %v", err)
		}
		defer pgSnaps.Close()
		idem, snaps = pgIdem, pgSnaps
	} else {
		idem = idempotency.NewMemoryStore()
		snaps = store.NewFileSnapshots(cfg.Service.SnapshotPath)
	}

	var assetsClient assets.Client = assets.NewFakeClient()
	if cfg.Chain.PrivateKey != "" {
		ethClient, err := assets.NewEthClient(ctx, assets.EthClientConfig{
			RPCURL:        cfg.Chain.RPCURL,
			PrivateKeyHex: cfg.Chain.PrivateKey,
		})
		if err != nil {
			log.Fatalf("assets client error: %v", err)
		}
		assetsClient = ethClient
	}

	grants := caps.NewGrants()
	for _, grant := range cfg.File.Admin {
		if !common.IsHexAddress(grant.Address) {
			log.Fatalf("invalid admin address %q", grant.Address)
		}
		for _, name := range grant.Capabilities {
			grants.Grant(common.HexToAddress(grant.Address), caps.Capability(name))
		}
	}

	eng := engine.New(engine.Config{
		CreationFeeBps: cfg.File.Engine.CreationFeeBps,
		SuccessFeeBps:  cfg.File.Engine.SuccessFeeBps,
		ExpiryWindow:   cfg.ExpiryWindow(),
		FeeCollector:   common.HexToAddress(cfg.File.Engine.FeeCollector),
		Assets:         assetsClient,
		Authz:          grants,
	})

	if snap, err := snaps.Load(ctx); err != nil {
		log.Fatalf("snapshot load error: %v", err)
	} else if snap != nil {
		eng.Restore(snap)
		log.Printf("restored state: %d offers, funds %s", snap.CurrentOfferID, snap.Funds)
	}

	apiServer := server.NewServer(cfg, eng, assetsClient, idem, snaps)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)

	if err := snaps.Save(context.Background(), eng.Snapshot()); err != nil {
		log.Printf("final snapshot error: %v", err)
	}
}
