package dex

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammEngine/internal/model"
)

type transferKind int

const (
	transferIn transferKind = iota
	transferOut
)

type transfer struct {
	kind    transferKind
	token   common.Address
	account common.Address
	amount  uint256.Int
}

// poolTxn records everything an operation may touch on a pool account so the
// operation can be undone if a later step, including a ledger transfer, fails.
type poolTxn struct {
	acct *poolAccount
	now  uint64

	before    Pool
	positions map[common.Address]*LiquidityPosition
	orders    map[uint64]*LimitOrder
	open      []uint64
	openSaved bool

	transfers []transfer
	events    []model.Event
	committed []func()
	// report is returned to the caller after a successful commit. It carries
	// outcomes such as an expiry sweep that are committed but not the
	// caller's intended effect.
	report error
}

func (a *poolAccount) begin(now uint64) *poolTxn {
	return &poolTxn{
		acct:      a,
		now:       now,
		before:    a.state,
		positions: make(map[common.Address]*LiquidityPosition),
		orders:    make(map[uint64]*LimitOrder),
	}
}

func (tx *poolTxn) pool() *Pool {
	return &tx.acct.state
}

// touchPosition saves the provider's position before it is modified.
func (tx *poolTxn) touchPosition(provider common.Address) {
	if _, seen := tx.positions[provider]; seen {
		return
	}
	if pos, ok := tx.acct.position(provider); ok {
		saved := *pos
		tx.positions[provider] = &saved
		return
	}
	tx.positions[provider] = nil
}

// touchOrder saves an order (or its absence) and the open list before either
// is modified.
func (tx *poolTxn) touchOrder(id uint64) {
	if !tx.openSaved {
		tx.open = append([]uint64(nil), tx.acct.openOrders...)
		tx.openSaved = true
	}
	if _, seen := tx.orders[id]; seen {
		return
	}
	if order, ok := tx.acct.orders[id]; ok {
		saved := *order
		tx.orders[id] = &saved
		return
	}
	tx.orders[id] = nil
}

func (tx *poolTxn) pull(token, from common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	tx.transfers = append(tx.transfers, transfer{kind: transferIn, token: token, account: from, amount: *amount})
}

func (tx *poolTxn) push(token, to common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	tx.transfers = append(tx.transfers, transfer{kind: transferOut, token: token, account: to, amount: *amount})
}

func (tx *poolTxn) rollback() {
	a := tx.acct
	a.state = tx.before
	for provider, saved := range tx.positions {
		if saved == nil {
			a.deletePosition(provider)
			continue
		}
		a.putPosition(*saved)
	}
	for id, saved := range tx.orders {
		if saved == nil {
			delete(a.orders, id)
			continue
		}
		a.orders[id] = saved
	}
	if tx.openSaved {
		a.openOrders = tx.open
	}
	tx.events = nil
	tx.committed = nil
	tx.report = nil
}

// onCommit queues fn to run once the transfers have settled, before the pool
// lock is released and before any event is published.
func (tx *poolTxn) onCommit(fn func()) {
	tx.committed = append(tx.committed, fn)
}

// emit records an event carrying the before/after pool snapshots. It is
// called after the operation's state changes are complete.
func (tx *poolTxn) emit(kind string, fill func(ev *model.Event)) {
	p := tx.pool()
	ev := model.Event{
		ID:        uuid.NewString(),
		Type:      kind,
		PoolID:    p.ID.Hex(),
		TokenA:    p.TokenA.Hex(),
		TokenB:    p.TokenB.Hex(),
		Timestamp: tx.now,
		Before:    poolState(&tx.before),
		After:     poolState(p),
	}
	if fill != nil {
		fill(&ev)
	}
	tx.events = append(tx.events, ev)
}

func poolState(p *Pool) model.PoolState {
	return model.PoolState{
		ReserveA:    FormatAmount(&p.ReserveA),
		ReserveB:    FormatAmount(&p.ReserveB),
		TotalShares: FormatAmount(&p.TotalShares),
	}
}

// mutate runs fn inside the pool's exclusive section. Internal state is
// updated first; the queued ledger transfers run last. Any failure restores
// the pool account and compensates transfers already made. Commit hooks run
// while the section is still held; events are published only after it is
// released.
func (r *Registry) mutate(ctx context.Context, acct *poolAccount, fn func(tx *poolTxn) error) error {
	acct.mu.Lock()
	tx := acct.begin(r.clock.Now())
	err := fn(tx)
	if err == nil {
		err = r.settle(ctx, tx.transfers)
	}
	if err != nil {
		tx.rollback()
	}
	for _, fn := range tx.committed {
		fn()
	}
	acct.mu.Unlock()
	if err != nil {
		return err
	}

	for _, ev := range tx.events {
		r.publish(ctx, ev)
	}
	return tx.report
}

// settle executes transfers in order. On failure the completed ones are
// reversed, newest first.
func (r *Registry) settle(ctx context.Context, transfers []transfer) error {
	for i := range transfers {
		if err := r.execute(ctx, transfers[i], false); err != nil {
			for j := i - 1; j >= 0; j-- {
				if cerr := r.execute(ctx, transfers[j], true); cerr != nil {
					r.logger.Warn("transfer compensation failed",
						zap.String("token", transfers[j].token.Hex()),
						zap.String("account", transfers[j].account.Hex()),
						zap.String("amount", FormatAmount(&transfers[j].amount)),
						zap.Error(cerr),
					)
				}
			}
			return err
		}
	}
	return nil
}

func (r *Registry) execute(ctx context.Context, t transfer, reverse bool) error {
	kind := t.kind
	if reverse {
		kind = 1 - kind
	}
	amount := t.amount
	switch kind {
	case transferIn:
		if err := r.ledger.TransferIn(ctx, t.token, t.account, &amount); err != nil {
			return fmt.Errorf("transfer in %s from %s: %w", t.token.Hex(), t.account.Hex(), err)
		}
	case transferOut:
		if err := r.ledger.TransferOut(ctx, t.token, t.account, &amount); err != nil {
			return fmt.Errorf("transfer out %s to %s: %w", t.token.Hex(), t.account.Hex(), err)
		}
	}
	return nil
}
