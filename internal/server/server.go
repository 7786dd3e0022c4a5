package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"offerx/internal/assets"
	"offerx/internal/config"
	"offerx/internal/engine"
	"offerx/internal/hmacauth"
	"offerx/internal/idempotency"
	"offerx/internal/store"
)

type Server struct {
	cfg         *config.AppConfig
	engine      *engine.Engine
	store       idempotency.Store
	snaps       store.Snapshots
	hmac        *hmacauth.Verifier
	httpServer  *http.Server
	metrics     *metricsRegistry
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, eng *engine.Engine, assetsClient assets.Client, idem idempotency.Store, snaps store.Snapshots) *Server {
	hmacVerifier := &hmacauth.Verifier{
		Secret:  cfg.File.Secrets.HMACSecret,
		MaxSkew: cfg.Service.HMACClockSkew,
	}

	s := &Server{
		cfg:     cfg,
		engine:  eng,
		store:   idem,
		snaps:   snaps,
		hmac:    hmacVerifier,
		metrics: newMetricsRegistry(),
	}

	eng.SetSink(eventRecorder{metrics: s.metrics})

	if checker, ok := idem.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := assetsClient.(assets.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/deposits", s.authed(s.handleDeposit))
	mux.Handle("/api/v1/offers", s.routeOffers())
	mux.Handle("/api/v1/offers/update", s.authed(s.handleUpdateOffer))
	mux.Handle("/api/v1/offers/accept", s.authed(s.handleAcceptOffer))
	mux.Handle("/api/v1/withdrawals", s.authed(s.handleWithdraw))
	mux.HandleFunc("/api/v1/balance", s.handleBalance)
	mux.Handle("/api/v1/admin/fee-collector", s.authed(s.handleSetFeeCollector))
	mux.Handle("/api/v1/admin/expiry-window", s.authed(s.handleSetExpiryWindow))
	mux.Handle("/api/v1/admin/creation-fee", s.authed(s.handleSetCreationFee))
	mux.Handle("/api/v1/admin/success-fee", s.authed(s.handleSetSuccessFee))
	mux.Handle("/api/v1/admin/pause", s.authed(s.handlePause))
	mux.Handle("/api/v1/admin/unpause", s.authed(s.handleUnpause))
	mux.Handle("/api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Printf("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) authed(h http.HandlerFunc) http.Handler {
	return s.hmac.Middleware(h)
}

// routeOffers splits GET (public read) from POST (authenticated create) on
// the same path.
func (s *Server) routeOffers() http.Handler {
	create := s.authed(s.handleCreateOffer)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.handleGetOffer(w, r)
			return
		}
		create.ServeHTTP(w, r)
	})
}

// eventRecorder feeds engine events into metrics and the service log.
type eventRecorder struct {
	metrics *metricsRegistry
}

func (rec eventRecorder) Emit(ev engine.Event) {
	rec.metrics.incEvent(ev.Kind())
	switch e := ev.(type) {
	case engine.Deposited:
		log.Printf("event=%s user=%s amount=%s balance=%s", ev.Kind(), e.User.Hex(), e.Amount, e.Balance)
	case engine.OfferCreated:
		log.Printf("event=%s offer=%d buyer=%s seller=%s amount=%s fee=%s", ev.Kind(), e.Offer.ID, e.Offer.Buyer.Hex(), e.Offer.Seller.Hex(), e.Offer.Amount, e.Fee)
	case engine.OfferUpdated:
		log.Printf("event=%s offer=%d amount=%s fee=%s", ev.Kind(), e.Offer.ID, e.Offer.Amount, e.Fee)
	case engine.OfferAccepted:
		log.Printf("event=%s offer=%d sellerPaid=%s fee=%s txRef=%s", ev.Kind(), e.Offer.ID, e.SellerPaid, e.Fee, e.TxRef)
	case engine.Withdrawn:
		log.Printf("event=%s user=%s amount=%s balance=%s", ev.Kind(), e.User.Hex(), e.Amount, e.Balance)
	}
}

type offerView struct {
	ID            uint64    `json:"id"`
	AssetContract string    `json:"assetContract"`
	TokenID       string    `json:"tokenId"`
	Amount        string    `json:"amount"`
	Buyer         string    `json:"buyer"`
	Seller        string    `json:"seller"`
	CreatedAt     time.Time `json:"createdAt"`
	Accepted      bool      `json:"accepted"`
}

func viewOf(o engine.Offer) offerView {
	return offerView{
		ID:            o.ID,
		AssetContract: o.Asset.Contract.Hex(),
		TokenID:       o.Asset.TokenID.String(),
		Amount:        o.Amount.String(),
		Buyer:         o.Buyer.Hex(),
		Seller:        o.Seller.Hex(),
		CreatedAt:     o.CreatedAt,
		Accepted:      o.Accepted,
	}
}

type depositRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type createOfferRequest struct {
	Caller        string `json:"caller"`
	AssetContract string `json:"assetContract"`
	TokenID       string `json:"tokenId"`
	Seller        string `json:"seller"`
	GrossAmount   string `json:"grossAmount"`
}

type updateOfferRequest struct {
	Caller      string `json:"caller"`
	OfferID     uint64 `json:"offerId"`
	GrossAmount string `json:"grossAmount"`
}

type acceptOfferRequest struct {
	Caller  string `json:"caller"`
	OfferID uint64 `json:"offerId"`
}

type withdrawRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "deposit", func(ctx context.Context) (int, interface{}, error) {
		var payload depositRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return 0, nil, badRequest("invalid json payload")
		}
		caller, err := parseAddress(payload.Caller)
		if err != nil {
			return 0, nil, err
		}
		amount, err := parseAmount(payload.Amount)
		if err != nil {
			return 0, nil, err
		}
		balance, err := s.engine.Deposit(caller, amount)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, map[string]string{"balance": balance.String()}, nil
	})
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "create_offer", func(ctx context.Context) (int, interface{}, error) {
		var payload createOfferRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return 0, nil, badRequest("invalid json payload")
		}
		caller, err := parseAddress(payload.Caller)
		if err != nil {
			return 0, nil, err
		}
		seller, err := parseAddress(payload.Seller)
		if err != nil {
			return 0, nil, err
		}
		contract, err := parseAddress(payload.AssetContract)
		if err != nil {
			return 0, nil, err
		}
		tokenID, err := parseAmountAllowZero(payload.TokenID)
		if err != nil {
			return 0, nil, err
		}
		gross, err := parseAmount(payload.GrossAmount)
		if err != nil {
			return 0, nil, err
		}
		off, err := s.engine.CreateOffer(caller, engine.AssetRef{Contract: contract, TokenID: tokenID}, seller, gross)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, viewOf(off), nil
	})
}

func (s *Server) handleUpdateOffer(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "update_offer", func(ctx context.Context) (int, interface{}, error) {
		var payload updateOfferRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return 0, nil, badRequest("invalid json payload")
		}
		caller, err := parseAddress(payload.Caller)
		if err != nil {
			return 0, nil, err
		}
		gross, err := parseAmount(payload.GrossAmount)
		if err != nil {
			return 0, nil, err
		}
		off, err := s.engine.UpdateOffer(caller, payload.OfferID, gross)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, viewOf(off), nil
	})
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "accept_offer", func(ctx context.Context) (int, interface{}, error) {
		var payload acceptOfferRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return 0, nil, badRequest("invalid json payload")
		}
		caller, err := parseAddress(payload.Caller)
		if err != nil {
			return 0, nil, err
		}
		off, txRef, err := s.engine.AcceptOffer(ctx, caller, payload.OfferID)
		if err != nil {
			return 0, nil, err
		}
		resp := struct {
			Offer offerView `json:"offer"`
			TxRef string    `json:"txRef"`
		}{viewOf(off), txRef}
		return http.StatusOK, resp, nil
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "withdraw", func(ctx context.Context) (int, interface{}, error) {
		var payload withdrawRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return 0, nil, badRequest("invalid json payload")
		}
		caller, err := parseAddress(payload.Caller)
		if err != nil {
			return 0, nil, err
		}
		amount, err := parseAmount(payload.Amount)
		if err != nil {
			return 0, nil, err
		}
		balance, err := s.engine.Withdraw(caller, amount)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]string{"balance": balance.String()}, nil
	})
}

// mutate runs a state-changing operation behind method, idempotency-key, and
// snapshot bookkeeping common to every mutating endpoint.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) (int, interface{}, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if key == "" {
		http.Error(w, "missing X-Idempotency-Key header", http.StatusBadRequest)
		return
	}
	key = op + ":" + key

	ctx := r.Context()

	if existing, _ := s.store.Get(ctx, key); existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.StatusCode)
		_, _ = w.Write(existing.Response)
		s.metrics.incOp(op, "cached")
		return
	}

	status, body, err := fn(ctx)
	if err != nil {
		s.metrics.incOp(op, "failed")
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	b, _ := json.Marshal(body)
	record := idempotency.Record{
		Operation:  op,
		StatusCode: status,
		Response:   b,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(s.cfg.Service.IdempotencyWindow),
	}
	_ = s.store.Save(ctx, key, record)

	s.saveSnapshot(ctx)
	s.updateGauges()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
	s.metrics.incOp(op, "ok")
}

func (s *Server) saveSnapshot(ctx context.Context) {
	if s.snaps == nil {
		return
	}
	if err := s.snaps.Save(ctx, s.engine.Snapshot()); err != nil {
		log.Printf("snapshot save error: %v", err)
	}
}

func (s *Server) updateGauges() {
	funds, _ := new(big.Float).SetInt(s.engine.Funds()).Float64()
	s.metrics.setFunds(funds)
	s.metrics.setOpenOffers(s.engine.OpenOffers())
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid offer id", http.StatusBadRequest)
		return
	}
	off, err := s.engine.GetOffer(id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(off))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, err := parseAddress(r.URL.Query().Get("user"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := struct {
		Balance   string `json:"balance"`
		Available string `json:"available"`
	}{
		Balance:   s.engine.Balance(user).String(),
		Available: s.engine.AvailableBalance(user).String(),
	}
	writeJSON(w, http.StatusOK, resp)
}

type adminRequest struct {
	Caller    string `json:"caller"`
	Collector string `json:"collector,omitempty"`
	Seconds   int64  `json:"seconds,omitempty"`
	Bps       uint64 `json:"bps,omitempty"`
}

func (s *Server) admin(w http.ResponseWriter, r *http.Request, op string, fn func(adminRequest, common.Address) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload adminRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	caller, err := parseAddress(payload.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := fn(payload, caller); err != nil {
		s.metrics.incOp(op, "failed")
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	s.metrics.incOp(op, "ok")
	s.saveSnapshot(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) handleSetFeeCollector(w http.ResponseWriter, r *http.Request) {
	s.admin(w, r, "set_fee_collector", func(payload adminRequest, caller common.Address) error {
		collector, err := parseAddress(payload.Collector)
		if err != nil {
			return err
		}
		return s.engine.SetFeeCollector(caller, collector)
	})
}

func (s *Server) handleSetExpiryWindow(w http.ResponseWriter, r *http.Request) {
	s.admin(w, r, "set_expiry_window", func(payload adminRequest, caller common.Address) error {
		return s.engine.SetExpiryWindow(caller, time.Duration(payload.Seconds)*time.Second)
	})
}

func (s *Server) handleSetCreationFee(w http.ResponseWriter, r *http.Request) {
	s.admin(w, r, "set_creation_fee", func(payload adminRequest, caller common.Address) error {
		return s.engine.SetCreationFeeRate(caller, payload.Bps)
	})
}

func (s *Server) handleSetSuccessFee(w http.ResponseWriter, r *http.Request) {
	s.admin(w, r, "set_success_fee", func(payload adminRequest, caller common.Address) error {
		return s.engine.SetSuccessFeeRate(caller, payload.Bps)
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.admin(w, r, "pause", func(payload adminRequest, caller common.Address) error {
		return s.engine.Pause(caller)
	})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.admin(w, r, "unpause", func(payload adminRequest, caller common.Address) error {
		return s.engine.Unpause(caller)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status     string      `json:"status"`
		RPC        interface{} `json:"rpc"`
		Database   interface{} `json:"database"`
		OpenOffers int         `json:"open_offers"`
		Paused     bool        `json:"paused"`
	}{
		Status:     status,
		RPC:        rpcInfo,
		Database:   dbInfo,
		OpenOffers: s.engine.OpenOffers(),
		Paused:     s.engine.Paused(),
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

type requestError struct {
	msg    string
	status int
}

func (e requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return requestError{msg: msg, status: http.StatusBadRequest}
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, badRequest("invalid address: " + raw)
	}
	return common.HexToAddress(raw), nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, err := parseAmountAllowZero(raw)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, engine.ErrInvalidAmount
	}
	return amount, nil
}

func parseAmountAllowZero(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() < 0 {
		return nil, badRequest("invalid amount: " + raw)
	}
	return amount, nil
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr.status
	}
	switch {
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidUser),
		errors.Is(err, engine.ErrInvalidAsset):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, engine.ErrInvalidBuyer),
		errors.Is(err, engine.ErrInvalidSeller),
		errors.Is(err, engine.ErrUnauthorizedOwner),
		errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidOfferID):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidOffer):
		return http.StatusConflict
	case errors.Is(err, engine.ErrExpiredOffer):
		return http.StatusGone
	case errors.Is(err, engine.ErrPaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", uuid.NewString())
		}
		next.ServeHTTP(w, r)
	})
}
