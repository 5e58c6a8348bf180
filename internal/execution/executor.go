package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"fxTradeBot/internal/domain"
	"fxTradeBot/internal/ports"
)

// Account is the in-process ledger the simulated and paper backends settle
// against.
type Account struct {
	mu      sync.Mutex
	balance float64
}

// NewAccount creates a ledger with the given starting balance.
func NewAccount(balance float64) *Account {
	return &Account{balance: balance}
}

// Balance returns the current balance.
func (a *Account) Balance() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// Apply credits (or debits, when negative) realized P&L.
func (a *Account) Apply(pnl float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance += pnl
}

// Set replaces the balance outright. Used only by the simulation reset.
func (a *Account) Set(balance float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance = balance
}

// balanceSetter is satisfied by backends whose account can be reset.
type balanceSetter interface {
	SetBalance(balance float64)
}

// SimExecutor fills orders instantly at the engine's market price against an
// in-process ledger.
type SimExecutor struct {
	account *Account
	logger  ports.Logger
}

// NewSimExecutor creates the simulation backend.
func NewSimExecutor(startingBalance float64, logger ports.Logger) *SimExecutor {
	return &SimExecutor{account: NewAccount(startingBalance), logger: logger}
}

func (s *SimExecutor) Mode() domain.ExecutionMode { return domain.ModeSimulation }

func (s *SimExecutor) OpenOrder(ctx context.Context, pair string, direction domain.Direction, lots, price float64) (*ports.OrderFill, error) {
	return simFill(pair, lots, price), nil
}

func (s *SimExecutor) CloseOrder(ctx context.Context, pair string, direction domain.Direction, lots, price float64) (*ports.OrderFill, error) {
	return simFill(pair, lots, price), nil
}

func (s *SimExecutor) Settle(ctx context.Context, pnl float64) error {
	s.account.Apply(pnl)
	return nil
}

func (s *SimExecutor) Balance(ctx context.Context) (float64, error) {
	return s.account.Balance(), nil
}

func (s *SimExecutor) Connected() bool { return true }

// SetBalance resets the ledger. Only the engine's ResetAccount calls this.
func (s *SimExecutor) SetBalance(balance float64) {
	s.account.Set(balance)
}

// paperSlippagePips is applied against the order direction so paper results
// are slightly pessimistic relative to the simulation.
const paperSlippagePips = 0.2

// PaperExecutor mirrors the simulation but applies fixed slippage, standing
// in for a demo broker account.
type PaperExecutor struct {
	account *Account
	logger  ports.Logger
}

// NewPaperExecutor creates the paper backend.
func NewPaperExecutor(startingBalance float64, logger ports.Logger) *PaperExecutor {
	return &PaperExecutor{account: NewAccount(startingBalance), logger: logger}
}

func (p *PaperExecutor) Mode() domain.ExecutionMode { return domain.ModePaper }

func (p *PaperExecutor) OpenOrder(ctx context.Context, pair string, direction domain.Direction, lots, price float64) (*ports.OrderFill, error) {
	return simFill(pair, lots, slip(pair, direction, price, true)), nil
}

func (p *PaperExecutor) CloseOrder(ctx context.Context, pair string, direction domain.Direction, lots, price float64) (*ports.OrderFill, error) {
	return simFill(pair, lots, slip(pair, direction, price, false)), nil
}

func (p *PaperExecutor) Settle(ctx context.Context, pnl float64) error {
	p.account.Apply(pnl)
	return nil
}

func (p *PaperExecutor) Balance(ctx context.Context) (float64, error) {
	return p.account.Balance(), nil
}

func (p *PaperExecutor) Connected() bool { return true }

func simFill(pair string, lots, price float64) *ports.OrderFill {
	return &ports.OrderFill{
		OrderID:   uuid.NewString(),
		Pair:      pair,
		Price:     price,
		Lots:      lots,
		Timestamp: time.Now().UTC(),
	}
}

// slip worsens the fill price by the fixed slippage: entries fill away from
// the trader, exits fill back toward the market.
func slip(pair string, direction domain.Direction, price float64, entry bool) float64 {
	offset := paperSlippagePips * domain.PipSize(pair)
	adverse := direction == domain.DirectionUp
	if !entry {
		adverse = !adverse
	}
	if adverse {
		return price + offset
	}
	return price - offset
}

var (
	_ ports.TradeExecutor = (*SimExecutor)(nil)
	_ ports.TradeExecutor = (*PaperExecutor)(nil)
	_ balanceSetter       = (*SimExecutor)(nil)
)
