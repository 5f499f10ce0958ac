package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ammEngine/internal/dex"
	"ammEngine/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pools": len(s.reg.ListPools())})
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	ids := s.reg.ListPools()
	out := make([]poolView, 0, len(ids))
	for _, id := range ids {
		info, err := s.reg.PoolInfo(id)
		if err != nil {
			s.fail(w, "", err)
			return
		}
		out = append(out, s.poolView(r, info))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req model.Operation
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, "create_pool", err)
		return
	}
	p := &params{}
	tokenA := p.address("token_a", req.TokenA)
	tokenB := p.address("token_b", req.TokenB)
	if p.err != nil {
		s.fail(w, "create_pool", p.err)
		return
	}

	var (
		id  common.Hash
		err error
	)
	if req.FeeBps != nil {
		id, err = s.reg.CreatePoolWithFee(r.Context(), tokenA, tokenB, *req.FeeBps)
	} else {
		id, err = s.reg.CreatePool(r.Context(), tokenA, tokenB)
	}
	if err != nil {
		s.fail(w, "create_pool", err)
		return
	}
	info, err := s.reg.PoolInfo(id)
	if err != nil {
		s.fail(w, "create_pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, s.poolView(r, info))
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	p := &params{}
	id := p.pool(mux.Vars(r)["pool"])
	if p.err != nil {
		s.fail(w, "", p.err)
		return
	}
	info, err := s.reg.PoolInfo(id)
	if err != nil {
		s.fail(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, s.poolView(r, info))
}

func (s *Server) poolView(r *http.Request, info dex.PoolInfo) poolView {
	view := newPoolView(info)
	if s.opts.Tokens == nil {
		return view
	}
	if meta, err := s.opts.Tokens.Token(r.Context(), info.TokenA); err == nil {
		view.TokenAMeta = &meta
	} else {
		s.logger.Debug("token metadata", zap.String("token", info.TokenA.Hex()), zap.Error(err))
	}
	if meta, err := s.opts.Tokens.Token(r.Context(), info.TokenB); err == nil {
		view.TokenBMeta = &meta
	} else {
		s.logger.Debug("token metadata", zap.String("token", info.TokenB.Hex()), zap.Error(err))
	}
	return view
}

func (s *Server) handleSetPoolStatus(w http.ResponseWriter, r *http.Request) {
	var req model.Operation
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, "set_pool_active", err)
		return
	}
	p := &params{}
	id := p.pool(mux.Vars(r)["pool"])
	if p.err == nil && req.Active == nil {
		p.err = invalid("active is required")
	}
	if p.err != nil {
		s.fail(w, "set_pool_active", p.err)
		return
	}
	if err := s.reg.SetPoolActive(r.Context(), id, *req.Active); err != nil {
		s.fail(w, "set_pool_active", err)
		return
	}
	s.handleGetPool(w, r)
}

func (s *Server) handleSetRewardRate(w http.ResponseWriter, r *http.Request) {
	var req model.Operation
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, "set_reward_rate", err)
		return
	}
	p := &params{}
	id := p.pool(mux.Vars(r)["pool"])
	rate := p.amount("reward_rate", req.RewardRate)
	if p.err != nil {
		s.fail(w, "set_reward_rate", p.err)
		return
	}
	if err := s.reg.SetRewardRate(r.Context(), id, rate); err != nil {
		s.fail(w, "set_reward_rate", err)
		return
	}
	s.handleGetPool(w, r)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := &params{}
	id := p.pool(mux.Vars(r)["pool"])
	tokenIn := p.address("token_in", q.Get("token_in"))
	amountIn := p.amount("amount_in", q.Get("amount_in"))
	if p.err != nil {
		s.fail(w, "", p.err)
		return
	}
	out, err := s.reg.Quote(id, tokenIn, amountIn)
	if err != nil {
		s.fail(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token_in":   tokenIn.Hex(),
		"amount_in":  dex.FormatAmount(amountIn),
		"amount_out": dex.FormatAmount(out),
	})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req model.Operation
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, "swap", err)
		return
	}
	p := &params{}
	id := p.pool(mux.Vars(r)["pool"])
	trader := s.actor(r, p, req.Account)
	tokenIn := p.address("token_in", req.TokenIn)
	amountIn := p.amount("amount_in", req.AmountIn)
	minOut := p.amount("min_amount_out", req.MinAmountOut)
	if p.err != nil {
		s.fail(w, "swap", p.err)
		return
	}
	res, err := s.reg.Swap(r.Context(), trader, id, tokenIn, amountIn, minOut)
	if err != nil {
		s.fail(w, "swap", err)
		return
	}
	writeJSON(w, http.StatusOK, swapView{
		TokenIn:   res.TokenIn.Hex(),
		TokenOut:  res.TokenOut.Hex(),
		AmountIn:  dex.FormatAmount(&res.AmountIn),
		AmountOut: dex.FormatAmount(&res.AmountOut),
		Fee:       dex.FormatAmount(&res.Fee),
	})
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req model.Operation
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, "add_liquidity", err)
		return
	}
	p := &params{}
	id := p.pool(mux.Vars(r)["pool"])
	provider := s.actor(r, p, req.Account)
	aDesired := p.amount("amount_a_desired", req.AmountADesired)
	bDesired := p.amount("amount_b_desired", req.AmountBDesired)
	aMin := p.amount("amount_a_min", req.AmountAMin)
	bMin := p.amount("amount_b_min", req.AmountBMin)
	if p.err != nil {
		s.fail(w, "add_liquidity", p.err)
		return
	}
	res, err := s.reg.AddLiquidity(r.Context(), provider, id, aDesired, bDesired, aMin, bMin)
	if err != nil {
		s.fail(w, "add_liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"amount_a": dex.FormatAmount(&res.UsedA),
		"amount_b": dex.FormatAmount(&res.UsedB),
		"shares":   dex.FormatAmount(&res.SharesMinted),
	})
}

func (s *Server) handleRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var req model.Operation
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, "remove_liquidity", err)
		return
	}
	p := &params{}
	id := p.pool(mux.Vars(r)["pool"])
	provider := s.actor(r, p, req.Account)
	shares := p.amount("shares", req.Shares)
	aMin := p.amount("amount_a_min", req.AmountAMin)
	bMin := p.amount("amount_b_min", req.AmountBMin)
	if p.err != nil {
		s.fail(w, "remove_liquidity", p.err)
		return
	}
	res, err := s.reg.RemoveLiquidity(r.Context(), provider, id, shares, aMin, bMin)
	if err != nil {
		s.fail(w, "remove_liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"amount_a": dex.FormatAmount(&res.AmountA),
		"amount_b": dex.FormatAmount(&res.AmountB),
	})
}

func (s *Server) handleUserLiquidity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p := &params{}
	id := p.pool(vars["pool"])
	account := p.address("account", vars["account"])
	if p.err != nil {
		s.fail(w, "", p.err)
		return
	}
	info, err := s.reg.UserLiquidityInfo(id, account)
	if err != nil {
		s.fail(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, liquidityView{
		PoolID:         id.Hex(),
		Account:        account.Hex(),
		Shares:         dex.FormatAmount(&info.Shares),
		PendingRewards: dex.FormatAmount(&info.PendingRewards),
		ContributedA:   dex.FormatAmount(&info.ContributedA),
		ContributedB:   dex.FormatAmount(&info.ContributedB),
	})
}

func (s *Server) handleClaimRewards(w http.ResponseWriter, r *http.Request) {
	var req model.Operation
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, "claim_rewards", err)
		return
	}
	p := &params{}
	id := p.pool(mux.Vars(r)["pool"])
	provider := s.actor(r, p, req.Account)
	if p.err != nil {
		s.fail(w, "claim_rewards", p.err)
		return
	}
	paid, err := s.reg.ClaimRewards(r.Context(), provider, id)
	if err != nil {
		s.fail(w, "claim_rewards", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rewards": dex.FormatAmount(paid)})
}

func (s *Server) handleFundRewards(w http.ResponseWriter, r *http.Request) {
	var req model.Operation
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, "fund_rewards", err)
		return
	}
	p := &params{}
	id := p.pool(mux.Vars(r)["pool"])
	funder := s.actor(r, p, req.Account)
	amount := p.amount("amount", req.Amount)
	if p.err != nil {
		s.fail(w, "fund_rewards", p.err)
		return
	}
	if err := s.reg.FundRewards(r.Context(), funder, id, amount); err != nil {
		s.fail(w, "fund_rewards", err)
		return
	}
	s.handleGetPool(w, r)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req model.Operation
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, "faucet", err)
		return
	}
	p := &params{}
	token := p.address("token", req.Token)
	owner := s.actor(r, p, req.Account)
	amount := p.amount("amount", req.Amount)
	if p.err == nil && owner == s.opts.Faucet.Custody() {
		p.err = invalid("account: cannot mint to custody")
	}
	if p.err != nil {
		s.fail(w, "faucet", p.err)
		return
	}
	if amount.IsZero() {
		s.fail(w, "faucet", dex.ErrZeroAmount)
		return
	}
	if err := s.opts.Faucet.Mint(token, owner, amount); err != nil {
		s.fail(w, "faucet", err)
		return
	}
	s.logger.Info("faucet mint",
		zap.String("token", token.Hex()),
		zap.String("account", owner.Hex()),
		zap.String("amount", dex.FormatAmount(amount)),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   token.Hex(),
		"account": owner.Hex(),
		"amount":  dex.FormatAmount(amount),
	})
}

func (s *Server) handlePoolOrders(w http.ResponseWriter, r *http.Request) {
	p := &params{}
	id := p.pool(mux.Vars(r)["pool"])
	if p.err != nil {
		s.fail(w, "", p.err)
		return
	}
	orders, err := s.reg.PoolOrders(id)
	if err != nil {
		s.fail(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderViews(orders))
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req model.Operation
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, "create_order", err)
		return
	}
	p := &params{}
	trader := s.actor(r, p, req.Account)
	order := dex.LimitOrderParams{
		PoolID:       p.pool(mux.Vars(r)["pool"]),
		Side:         dex.OrderSide(strings.ToUpper(req.Side)),
		TokenIn:      p.address("token_in", req.TokenIn),
		AmountIn:     p.amount("amount_in", req.AmountIn),
		LimitPrice:   p.amount("limit_price", req.LimitPrice),
		MinAmountOut: p.amount("min_amount_out", req.MinAmountOut),
		ExpiresIn:    req.ExpiresIn,
	}
	if p.err != nil {
		s.fail(w, "create_order", p.err)
		return
	}
	id, err := s.reg.CreateLimitOrder(r.Context(), trader, order)
	if err != nil {
		s.fail(w, "create_order", err)
		return
	}
	created, err := s.reg.Order(id)
	if err != nil {
		s.fail(w, "create_order", err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderView(created))
}

func (s *Server) handleSweepExpired(w http.ResponseWriter, r *http.Request) {
	p := &params{}
	id := p.pool(mux.Vars(r)["pool"])
	if p.err != nil {
		s.fail(w, "sweep_expired", p.err)
		return
	}
	n, err := s.reg.SweepExpired(r.Context(), id)
	if err != nil {
		s.fail(w, "sweep_expired", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func orderID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["order"], 10, 64)
	if err != nil {
		return 0, invalid("order id: %v", err)
	}
	return id, nil
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		s.fail(w, "", err)
		return
	}
	order, err := s.reg.Order(id)
	if err != nil {
		s.fail(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		s.fail(w, "cancel_order", err)
		return
	}
	var req model.Operation
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, "cancel_order", err)
		return
	}
	p := &params{}
	caller := s.actor(r, p, req.Account)
	if p.err != nil {
		s.fail(w, "cancel_order", p.err)
		return
	}
	if err := s.reg.CancelOrder(r.Context(), caller, id); err != nil {
		s.fail(w, "cancel_order", err)
		return
	}
	s.handleGetOrder(w, r)
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		s.fail(w, "fill_order", err)
		return
	}
	filled, err := s.reg.TryFill(r.Context(), id)
	if err != nil {
		s.fail(w, "fill_order", err)
		return
	}
	order, err := s.reg.Order(id)
	if err != nil {
		s.fail(w, "fill_order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filled": filled, "order": newOrderView(order)})
}

func (s *Server) handleUserOrders(w http.ResponseWriter, r *http.Request) {
	p := &params{}
	account := p.address("account", mux.Vars(r)["account"])
	if p.err != nil {
		s.fail(w, "", p.err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderViews(s.reg.UserOrders(account)))
}
