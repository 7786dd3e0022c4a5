package server

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"offerx/internal/assets"
	"offerx/internal/caps"
	"offerx/internal/config"
	"offerx/internal/engine"
	"offerx/internal/hmacauth"
	"offerx/internal/idempotency"
	"offerx/internal/store"
)

const (
	buyerHex     = "0x0000000000000000000000000000000000000001"
	sellerHex    = "0x0000000000000000000000000000000000000002"
	collectorHex = "0x00000000000000000000000000000000000000Fe"
	adminHex     = "0x00000000000000000000000000000000000000fF"
	nftHex       = "0x0000000000000000000000000000000000000010"
)

type testEnv struct {
	srv  *Server
	cfg  *config.AppConfig
	fake *assets.FakeClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.AppConfig{}
	cfg.File.Secrets.HMACSecret = "test-secret"
	cfg.File.Engine.FeeCollector = collectorHex
	cfg.Service.HTTPPort = 0
	cfg.Service.HMACClockSkew = time.Minute
	cfg.Service.IdempotencyWindow = time.Minute

	fake := assets.NewFakeClient()
	fake.SetUniqueHolder(common.HexToAddress(nftHex), big.NewInt(7), common.HexToAddress(sellerHex))

	grants := caps.NewGrants()
	grants.Grant(common.HexToAddress(adminHex), caps.Pause, caps.SetFees, caps.SetExpiry, caps.SetCollector)

	eng := engine.New(engine.Config{
		SuccessFeeBps: 500,
		ExpiryWindow:  28 * time.Hour,
		FeeCollector:  common.HexToAddress(collectorHex),
		Assets:        fake,
		Authz:         grants,
	})

	srv := NewServer(cfg, eng, fake, idempotency.NewMemoryStore(), store.NewMemorySnapshots())
	return &testEnv{srv: srv, cfg: cfg, fake: fake}
}

func (env *testEnv) post(t *testing.T, path, idemKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Request-Timestamp", ts)
	req.Header.Set("X-Request-Signature", hmacauth.Signature(env.cfg.File.Secrets.HMACSecret, ts, payload))
	if idemKey != "" {
		req.Header.Set("X-Idempotency-Key", idemKey)
	}

	rec := httptest.NewRecorder()
	env.srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	env.srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestOfferLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/api/v1/deposits", "dep-1", map[string]string{
		"caller": buyerHex,
		"amount": "1000",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d, body %s", rec.Code, rec.Body)
	}

	rec = env.post(t, "/api/v1/offers", "off-1", map[string]string{
		"caller":        buyerHex,
		"assetContract": nftHex,
		"tokenId":       "7",
		"seller":        sellerHex,
		"grossAmount":   "600",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create offer status = %d, body %s", rec.Code, rec.Body)
	}
	var created struct {
		ID     uint64 `json:"id"`
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if created.ID != 1 || created.Amount != "600" {
		t.Fatalf("created offer = %+v", created)
	}

	rec = env.post(t, "/api/v1/offers/accept", "acc-1", map[string]interface{}{
		"caller":  sellerHex,
		"offerId": created.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("accept status = %d, body %s", rec.Code, rec.Body)
	}
	var accepted struct {
		Offer struct {
			Accepted bool `json:"accepted"`
		} `json:"offer"`
		TxRef string `json:"txRef"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("decode accept: %v", err)
	}
	if !accepted.Offer.Accepted || accepted.TxRef == "" {
		t.Fatalf("accept response = %+v", accepted)
	}

	// 5% success fee on 600 leaves 570 for the seller.
	rec = env.get(t, "/api/v1/balance?user="+sellerHex)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d", rec.Code)
	}
	var bal struct {
		Balance   string `json:"balance"`
		Available string `json:"available"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if bal.Balance != "570" {
		t.Fatalf("seller balance = %s, want 570", bal.Balance)
	}

	rec = env.post(t, "/api/v1/withdrawals", "wd-1", map[string]string{
		"caller": sellerHex,
		"amount": "570",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("withdraw status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestDepositIdempotency(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"caller": buyerHex, "amount": "100"}

	first := env.post(t, "/api/v1/deposits", "key-1", body)
	if first.Code != http.StatusCreated {
		t.Fatalf("first deposit status = %d", first.Code)
	}
	second := env.post(t, "/api/v1/deposits", "key-1", body)
	if second.Code != http.StatusCreated {
		t.Fatalf("replayed deposit status = %d", second.Code)
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("replay body %s != original %s", second.Body, first.Body)
	}

	// The replayed request must not have deposited twice.
	rec := env.get(t, "/api/v1/balance?user="+buyerHex)
	var bal struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if bal.Balance != "100" {
		t.Fatalf("balance after replay = %s, want 100", bal.Balance)
	}
}

func TestMissingIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	rec := env.post(t, "/api/v1/deposits", "", map[string]string{
		"caller": buyerHex,
		"amount": "100",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)

	payload, _ := json.Marshal(map[string]string{"caller": buyerHex, "amount": "100"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deposits", bytes.NewReader(payload))
	req.Header.Set("X-Request-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Request-Signature", "deadbeef")
	req.Header.Set("X-Idempotency-Key", "key-1")

	rec := httptest.NewRecorder()
	env.srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGetOfferNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/api/v1/offers?id=5")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t)

	// Overdraw: payment required.
	rec := env.post(t, "/api/v1/withdrawals", "wd-x", map[string]string{
		"caller": buyerHex,
		"amount": "5",
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("overdraw status = %d, want 402", rec.Code)
	}

	// Pause, then mutations are unavailable.
	rec = env.post(t, "/api/v1/admin/pause", "", map[string]string{"caller": adminHex})
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d, body %s", rec.Code, rec.Body)
	}
	rec = env.post(t, "/api/v1/deposits", "dep-p", map[string]string{
		"caller": buyerHex,
		"amount": "5",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("paused deposit status = %d, want 503", rec.Code)
	}

	// Admin without the capability is forbidden.
	rec = env.post(t, "/api/v1/admin/unpause", "", map[string]string{"caller": buyerHex})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unauthorized unpause status = %d, want 403", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.Status != "healthy" {
		t.Fatalf("health = %s, want healthy", resp.Status)
	}
}
