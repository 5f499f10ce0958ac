package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ammEngine/internal/dex"
	"ammEngine/internal/model"
)

type balanceKey struct {
	token common.Address
	owner common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Memory is an in-memory token ledger. Funds pulled by the engine are held by
// the custody account.
type Memory struct {
	mu              sync.Mutex
	custody         common.Address
	requireApproval bool
	balances        map[balanceKey]*uint256.Int
	allowances      map[allowanceKey]*uint256.Int
}

var _ dex.TokenLedger = (*Memory)(nil)

type Option func(*Memory)

// WithApprovals makes TransferIn spend an allowance granted to custody,
// failing with dex.ErrUnauthorized when it is short.
func WithApprovals() Option {
	return func(m *Memory) { m.requireApproval = true }
}

func NewMemory(custody common.Address, opts ...Option) *Memory {
	m := &Memory{
		custody:    custody,
		balances:   make(map[balanceKey]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Custody is the account holding engine funds.
func (m *Memory) Custody() common.Address {
	return m.custody
}

// Mint credits owner with new tokens.
func (m *Memory) Mint(token, owner common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balance(token, owner)
	sum, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return fmt.Errorf("mint %s: %w", token.Hex(), dex.ErrArithmeticOverflow)
	}
	bal.Set(sum)
	return nil
}

// Approve sets the amount custody may pull from owner.
func (m *Memory) Approve(token, owner common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[allowanceKey{token, owner, m.custody}] = new(uint256.Int).Set(amount)
}

func (m *Memory) TransferIn(_ context.Context, token, from common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requireApproval {
		allowance := m.allowances[allowanceKey{token, from, m.custody}]
		if allowance == nil || allowance.Lt(amount) {
			return fmt.Errorf("%w: allowance of %s for %s", dex.ErrUnauthorized, from.Hex(), token.Hex())
		}
	}
	if err := m.move(token, from, m.custody, amount); err != nil {
		return err
	}
	if m.requireApproval {
		allowance := m.allowances[allowanceKey{token, from, m.custody}]
		allowance.Sub(allowance, amount)
	}
	return nil
}

func (m *Memory) TransferOut(_ context.Context, token, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(token, m.custody, to, amount)
}

func (m *Memory) BalanceOf(_ context.Context, token, owner common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(uint256.Int).Set(m.balance(token, owner)), nil
}

func (m *Memory) balance(token, owner common.Address) *uint256.Int {
	key := balanceKey{token, owner}
	bal, ok := m.balances[key]
	if !ok {
		bal = new(uint256.Int)
		m.balances[key] = bal
	}
	return bal
}

func (m *Memory) move(token, from, to common.Address, amount *uint256.Int) error {
	src := m.balance(token, from)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", dex.ErrInsufficientBalance,
			from.Hex(), dex.FormatAmount(src), token.Hex(), dex.FormatAmount(amount))
	}
	dst := m.balance(token, to)
	if _, overflow := new(uint256.Int).AddOverflow(dst, amount); overflow {
		return fmt.Errorf("credit %s: %w", to.Hex(), dex.ErrArithmeticOverflow)
	}
	src.Sub(src, amount)
	dst.Add(dst, amount)
	return nil
}

// Balances returns every nonzero balance ordered by token, then owner.
func (m *Memory) Balances() []model.BalanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]balanceKey, 0, len(m.balances))
	for key, bal := range m.balances {
		if !bal.IsZero() {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if c := bytes.Compare(keys[i].token.Bytes(), keys[j].token.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(keys[i].owner.Bytes(), keys[j].owner.Bytes()) < 0
	})
	out := make([]model.BalanceRecord, 0, len(keys))
	for _, key := range keys {
		out = append(out, model.BalanceRecord{
			Token:  key.token.Hex(),
			Owner:  key.owner.Hex(),
			Amount: dex.FormatAmount(m.balances[key]),
		})
	}
	return out
}

// LoadBalances replaces all balances with records. Allowances are cleared.
func (m *Memory) LoadBalances(records []model.BalanceRecord) error {
	balances := make(map[balanceKey]*uint256.Int, len(records))
	for _, rec := range records {
		token, err := dex.ParseAddress(rec.Token)
		if err != nil {
			return fmt.Errorf("balance token: %w", err)
		}
		owner, err := dex.ParseAddress(rec.Owner)
		if err != nil {
			return fmt.Errorf("balance owner: %w", err)
		}
		amount, err := dex.ParseAmount(rec.Amount)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", owner.Hex(), err)
		}
		balances[balanceKey{token, owner}] = amount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = balances
	m.allowances = make(map[allowanceKey]*uint256.Int)
	return nil
}
