package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"peerlend/core/state"
	"peerlend/native/lending"
)

const requestLimit = 1 << 20 // 1 MiB

// Server exposes the matching engine over HTTP. Engine access is serialised
// behind a mutex; the engine itself is single-writer.
type Server struct {
	mu     sync.Mutex
	engine *lending.Engine
	state  *state.Manager
	log    *slog.Logger
}

// NewServer wires the engine and the persistence manager into an HTTP
// surface.
func NewServer(engine *lending.Engine, st *state.Manager, log *slog.Logger) *Server {
	return &Server{engine: engine, state: st, log: log}
}

// Router builds the chi router with all service endpoints mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/lending", func(r chi.Router) {
		r.Get("/markets", s.listMarkets)
		r.Get("/markets/{market}", s.getMarket)
		r.Get("/positions/{market}/{user}", s.getPosition)
		r.Get("/accounts/{user}/health", s.getHealthFactor)
		r.Post("/supply", s.operation("supply"))
		r.Post("/borrow", s.operation("borrow"))
		r.Post("/withdraw", s.operation("withdraw"))
		r.Post("/repay", s.operation("repay"))
		r.Post("/liquidate", s.liquidate)
		r.Post("/accrue", s.accrue)
	})
	return r
}

type operationRequest struct {
	Market string `json:"market"`
	User   string `json:"user"`
	Amount string `json:"amount"`
	Budget uint64 `json:"budget,omitempty"`
}

type operationResponse struct {
	Market  string `json:"market"`
	User    string `json:"user"`
	Amount  string `json:"amount"`
	Matched string `json:"matched"`
}

type liquidateRequest struct {
	DebtMarket       string `json:"debtMarket"`
	CollateralMarket string `json:"collateralMarket"`
	Liquidator       string `json:"liquidator"`
	Borrower         string `json:"borrower"`
	Amount           string `json:"amount"`
	Budget           uint64 `json:"budget,omitempty"`
}

type liquidateResponse struct {
	Repaid string `json:"repaid"`
	Seized string `json:"seized"`
}

type accrueRequest struct {
	Market string `json:"market"`
}

type marketResponse struct {
	Underlying          string        `json:"underlying"`
	Symbol              string        `json:"symbol"`
	ReserveFactorBps    uint64        `json:"reserveFactorBps"`
	CursorBps           uint64        `json:"cursorBps"`
	MaxSortedUsers      uint64        `json:"maxSortedUsers"`
	LiquidationBonusBps uint64        `json:"liquidationBonusBps"`
	CloseFactorBps      uint64        `json:"closeFactorBps"`
	BorrowCap           string        `json:"borrowCap,omitempty"`
	P2PDisabled         bool          `json:"p2pDisabled"`
	Paused              bool          `json:"paused"`
	Frozen              bool          `json:"frozen"`
	Indexes             indexResponse `json:"indexes"`
	Delta               deltaResponse `json:"delta"`
}

type indexResponse struct {
	P2PSupply  string `json:"p2pSupply"`
	P2PBorrow  string `json:"p2pBorrow"`
	PoolSupply string `json:"poolSupply"`
	PoolBorrow string `json:"poolBorrow"`
}

type deltaResponse struct {
	SupplyDelta string `json:"supplyDelta"`
	BorrowDelta string `json:"borrowDelta"`
	SupplyInP2P string `json:"supplyInP2P"`
	BorrowInP2P string `json:"borrowInP2P"`
}

type positionResponse struct {
	Market        string `json:"market"`
	User          string `json:"user"`
	SupplyInP2P   string `json:"supplyInP2P"`
	SupplyOnPool  string `json:"supplyOnPool"`
	SupplyBalance string `json:"supplyBalance"`
	BorrowInP2P   string `json:"borrowInP2P"`
	BorrowOnPool  string `json:"borrowOnPool"`
	BorrowBalance string `json:"borrowBalance"`
}

type healthResponse struct {
	User         string `json:"user"`
	HealthFactor string `json:"healthFactor"`
}

func (s *Server) listMarkets(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	markets := s.engine.Markets()
	out := make([]marketResponse, 0, len(markets))
	for _, id := range markets {
		resp, err := s.marketView(id)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	market, err := parseAddress(chi.URLParam(r, "market"))
	if err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.marketView(market)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) marketView(id common.Address) (marketResponse, error) {
	market, err := s.engine.MarketOf(id)
	if err != nil {
		return marketResponse{}, err
	}
	idx, err := s.engine.IndexesOf(id)
	if err != nil {
		return marketResponse{}, err
	}
	delta, err := s.engine.DeltaOf(id)
	if err != nil {
		return marketResponse{}, err
	}
	resp := marketResponse{
		Underlying:          market.Underlying.Hex(),
		Symbol:              market.Symbol,
		ReserveFactorBps:    market.ReserveFactorBps,
		CursorBps:           market.CursorBps,
		MaxSortedUsers:      market.MaxSortedUsers,
		LiquidationBonusBps: market.LiquidationBonusBps,
		CloseFactorBps:      market.CloseFactorBps,
		P2PDisabled:         market.P2PDisabled,
		Paused:              market.Paused,
		Frozen:              market.Frozen,
		Indexes: indexResponse{
			P2PSupply:  bigString(idx.P2PSupplyIndex),
			P2PBorrow:  bigString(idx.P2PBorrowIndex),
			PoolSupply: bigString(idx.PoolSupplyIndex),
			PoolBorrow: bigString(idx.PoolBorrowIndex),
		},
		Delta: deltaResponse{
			SupplyDelta: bigString(delta.SupplyDelta),
			BorrowDelta: bigString(delta.BorrowDelta),
			SupplyInP2P: bigString(delta.SupplyInP2P),
			BorrowInP2P: bigString(delta.BorrowInP2P),
		},
	}
	if market.BorrowCap != nil && market.BorrowCap.Sign() > 0 {
		resp.BorrowCap = market.BorrowCap.String()
	}
	return resp, nil
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	market, err := parseAddress(chi.URLParam(r, "market"))
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := parseAddress(chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := positionResponse{Market: market.Hex(), User: user.Hex()}
	supplyInP2P, supplyOnPool, err := s.engine.PositionOf(market, user, lending.SideSupply)
	if err != nil {
		writeError(w, err)
		return
	}
	borrowInP2P, borrowOnPool, err := s.engine.PositionOf(market, user, lending.SideBorrow)
	if err != nil {
		writeError(w, err)
		return
	}
	supplyBalance, err := s.engine.BalanceOf(market, user, lending.SideSupply)
	if err != nil {
		writeError(w, err)
		return
	}
	borrowBalance, err := s.engine.BalanceOf(market, user, lending.SideBorrow)
	if err != nil {
		writeError(w, err)
		return
	}
	resp.SupplyInP2P = bigString(supplyInP2P)
	resp.SupplyOnPool = bigString(supplyOnPool)
	resp.SupplyBalance = bigString(supplyBalance)
	resp.BorrowInP2P = bigString(borrowInP2P)
	resp.BorrowOnPool = bigString(borrowOnPool)
	resp.BorrowBalance = bigString(borrowBalance)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getHealthFactor(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	health, err := s.engine.HealthFactor(user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{User: user.Hex(), HealthFactor: bigString(health)})
}

// operation returns the handler for one of the four symmetric liquidity
// operations.
func (s *Server) operation(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req operationRequest
		if err := decodeRequest(r, &req); err != nil {
			writeError(w, err)
			return
		}
		market, err := parseAddress(req.Market)
		if err != nil {
			writeError(w, err)
			return
		}
		user, err := parseAddress(req.User)
		if err != nil {
			writeError(w, err)
			return
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, err)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		var moved, matched *big.Int
		switch name {
		case "supply":
			moved, matched, err = s.engine.Supply(market, user, amount, req.Budget)
		case "borrow":
			moved, matched, err = s.engine.Borrow(market, user, amount, req.Budget)
		case "withdraw":
			moved, matched, err = s.engine.Withdraw(market, user, amount, req.Budget)
		case "repay":
			moved, matched, err = s.engine.Repay(market, user, amount, req.Budget)
		default:
			err = fmt.Errorf("unknown operation %q", name)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		s.persist(name)
		writeJSON(w, http.StatusOK, operationResponse{
			Market:  market.Hex(),
			User:    user.Hex(),
			Amount:  bigString(moved),
			Matched: bigString(matched),
		})
	}
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	debtMarket, err := parseAddress(req.DebtMarket)
	if err != nil {
		writeError(w, err)
		return
	}
	collateralMarket, err := parseAddress(req.CollateralMarket)
	if err != nil {
		writeError(w, err)
		return
	}
	liquidator, err := parseAddress(req.Liquidator)
	if err != nil {
		writeError(w, err)
		return
	}
	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	repaid, seized, err := s.engine.Liquidate(debtMarket, collateralMarket, liquidator, borrower, amount, req.Budget)
	if err != nil {
		writeError(w, err)
		return
	}
	s.persist("liquidate")
	writeJSON(w, http.StatusOK, liquidateResponse{Repaid: bigString(repaid), Seized: bigString(seized)})
}

func (s *Server) accrue(w http.ResponseWriter, r *http.Request) {
	var req accrueRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	market, err := parseAddress(req.Market)
	if err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.engine.AccrueIndexes(market); err != nil {
		writeError(w, err)
		return
	}
	s.persist("accrue")
	resp, err := s.marketView(market)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// persist snapshots the engine after a mutating operation. A failed snapshot
// is logged but never fails the request: the operation itself already
// committed.
func (s *Server) persist(operation string) {
	if s.state == nil {
		return
	}
	if err := s.state.Save(s.engine); err != nil && s.log != nil {
		s.log.Error("state snapshot failed", "operation", operation, "error", err)
	}
}

func decodeRequest(r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return badRequestf("decode request: %v", err)
	}
	return nil
}

func parseAddress(value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, badRequestf("invalid address %q", value)
	}
	return common.HexToAddress(value), nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, badRequestf("invalid amount %q", value)
	}
	return amount, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// httpError carries an explicit status code picked at the decoding layer.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// statusFor maps engine sentinels onto HTTP statuses. Validation failures are
// client errors, policy rejections are 409/422, everything else is internal.
func statusFor(err error) int {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		return httpErr.status
	}
	switch {
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidUser):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrMarketNotCreated):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrMarketAlreadyCreated),
		errors.Is(err, lending.ErrMarketPaused),
		errors.Is(err, lending.ErrMarketFrozen),
		errors.Is(err, lending.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, lending.ErrUnhealthyPosition),
		errors.Is(err, lending.ErrBorrowCapExceeded),
		errors.Is(err, lending.ErrNoSupplyBalance),
		errors.Is(err, lending.ErrNoDebtToRepay),
		errors.Is(err, lending.ErrNotLiquidatable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
