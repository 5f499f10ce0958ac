package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammEngine/internal/dex"
	"ammEngine/internal/model"
)

const maxBodyBytes = 1 << 20

// TokenResolver looks up token metadata. *tokenmeta.Resolver satisfies it.
type TokenResolver interface {
	Token(ctx context.Context, token common.Address) (model.TokenMeta, error)
}

// RejectionRecorder counts failed write operations.
type RejectionRecorder interface {
	ObserveRejected(op string, err error)
}

// Minter credits accounts with new tokens. *ledger.Memory satisfies it.
type Minter interface {
	Mint(token, owner common.Address, amount *uint256.Int) error
	Custody() common.Address
}

// Options wires optional collaborators into the server.
type Options struct {
	Tokens         TokenResolver
	Rejections     RejectionRecorder
	MetricsHandler http.Handler
	Hub            *Hub
	Limiter        *RateLimiter
	// Faucet, when set, exposes POST /v1/faucet for crediting balances.
	Faucet Minter
	// IdentityHeader names a header set by a trusted proxy. When set, the
	// acting account comes from it and a body account must match. When
	// empty the body account is taken as is.
	IdentityHeader string
}

// Server exposes the engine over HTTP.
type Server struct {
	reg    *dex.Registry
	opts   Options
	logger *zap.Logger
	router *mux.Router
}

func NewServer(reg *dex.Registry, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{reg: reg, opts: opts, logger: logger, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(requestLogger(s.logger))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.opts.MetricsHandler != nil {
		r.Handle("/metrics", s.opts.MetricsHandler).Methods(http.MethodGet)
	}
	if s.opts.Hub != nil {
		r.Handle("/ws", s.opts.Hub).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	if s.opts.Limiter != nil {
		v1.Use(s.opts.Limiter.Middleware)
	}

	v1.HandleFunc("/pools", s.handleListPools).Methods(http.MethodGet)
	v1.HandleFunc("/pools", s.handleCreatePool).Methods(http.MethodPost)
	v1.HandleFunc("/pools/{pool}", s.handleGetPool).Methods(http.MethodGet)
	v1.HandleFunc("/pools/{pool}/status", s.handleSetPoolStatus).Methods(http.MethodPut)
	v1.HandleFunc("/pools/{pool}/reward-rate", s.handleSetRewardRate).Methods(http.MethodPut)
	v1.HandleFunc("/pools/{pool}/quote", s.handleQuote).Methods(http.MethodGet)
	v1.HandleFunc("/pools/{pool}/swap", s.handleSwap).Methods(http.MethodPost)
	v1.HandleFunc("/pools/{pool}/liquidity", s.handleAddLiquidity).Methods(http.MethodPost)
	v1.HandleFunc("/pools/{pool}/liquidity/remove", s.handleRemoveLiquidity).Methods(http.MethodPost)
	v1.HandleFunc("/pools/{pool}/liquidity/{account}", s.handleUserLiquidity).Methods(http.MethodGet)
	v1.HandleFunc("/pools/{pool}/rewards/claim", s.handleClaimRewards).Methods(http.MethodPost)
	v1.HandleFunc("/pools/{pool}/rewards/fund", s.handleFundRewards).Methods(http.MethodPost)
	v1.HandleFunc("/pools/{pool}/orders", s.handlePoolOrders).Methods(http.MethodGet)
	v1.HandleFunc("/pools/{pool}/orders", s.handleCreateOrder).Methods(http.MethodPost)
	v1.HandleFunc("/pools/{pool}/orders/sweep", s.handleSweepExpired).Methods(http.MethodPost)
	v1.HandleFunc("/orders/{order:[0-9]+}", s.handleGetOrder).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{order:[0-9]+}/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	v1.HandleFunc("/orders/{order:[0-9]+}/fill", s.handleFillOrder).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{account}/orders", s.handleUserOrders).Methods(http.MethodGet)
	if s.opts.Faucet != nil {
		v1.HandleFunc("/faucet", s.handleFaucet).Methods(http.MethodPost)
	}
}

// badRequest marks request decoding failures.
type badRequest struct {
	err error
}

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func invalid(format string, args ...any) error {
	return badRequest{err: fmt.Errorf(format, args...)}
}

// params decodes request fields, keeping the first error.
type params struct {
	err error
}

func (p *params) address(name, value string) common.Address {
	if p.err != nil {
		return common.Address{}
	}
	addr, err := dex.ParseAddress(value)
	if err != nil {
		p.err = invalid("%s: %v", name, err)
	}
	return addr
}

// actor resolves the account acting on a write request.
func (s *Server) actor(r *http.Request, p *params, account string) common.Address {
	header := s.opts.IdentityHeader
	if header == "" {
		return p.address("account", account)
	}
	if p.err != nil {
		return common.Address{}
	}
	value := r.Header.Get(header)
	if value == "" {
		p.err = fmt.Errorf("%w: missing %s header", dex.ErrUnauthorized, header)
		return common.Address{}
	}
	id := p.address(header, value)
	if account == "" {
		return id
	}
	claimed := p.address("account", account)
	if p.err == nil && claimed != id {
		p.err = fmt.Errorf("%w: account %s does not match %s", dex.ErrUnauthorized, claimed.Hex(), header)
	}
	return id
}

func (p *params) pool(value string) common.Hash {
	if p.err != nil {
		return common.Hash{}
	}
	id, err := dex.ParsePoolID(value)
	if err != nil {
		p.err = invalid("pool: %v", err)
	}
	return id
}

func (p *params) amount(name, value string) *uint256.Int {
	if p.err != nil {
		return new(uint256.Int)
	}
	v, err := dex.ParseAmount(value)
	if err != nil {
		p.err = invalid("%s: %v", name, err)
		return new(uint256.Int)
	}
	return v
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalid("decode body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func statusFor(err error) int {
	var bad badRequest
	if errors.As(err, &bad) {
		return http.StatusBadRequest
	}
	switch {
	case errors.Is(err, dex.ErrPoolNotFound), errors.Is(err, dex.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, dex.ErrPoolAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, dex.ErrUnauthorized):
		return http.StatusForbidden
	case dex.ErrorCode(err) == "internal":
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// fail writes err and records it when op names a write operation.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	code := dex.ErrorCode(err)
	if status == http.StatusBadRequest {
		code = "bad_request"
	}
	if op != "" && s.opts.Rejections != nil && status != http.StatusBadRequest {
		s.opts.Rejections.ObserveRejected(op, err)
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	}
	writeJSON(w, status, errorView{Error: err.Error(), Code: code})
}
