package store

import (
	"context"
	"sync"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/shopspring/decimal"
)

// MemoryLedger is a process-lifetime balance ledger used by the simulator and
// tests.
type MemoryLedger struct {
	mu       sync.Mutex
	starting decimal.Decimal
	balances map[string]decimal.Decimal
}

func NewMemoryLedger(startingBalance decimal.Decimal) *MemoryLedger {
	return &MemoryLedger{
		starting: startingBalance,
		balances: make(map[string]decimal.Decimal),
	}
}

func (l *MemoryLedger) Balance(_ context.Context, id string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(id), nil
}

func (l *MemoryLedger) Adjust(_ context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balanceLocked(id)
	next := balance.Add(delta)
	if next.IsNegative() {
		return balance, battle.ErrInsufficientBalance
	}
	l.balances[id] = next
	return next, nil
}

func (l *MemoryLedger) balanceLocked(id string) decimal.Decimal {
	b, ok := l.balances[id]
	if !ok {
		b = l.starting
		l.balances[id] = b
	}
	return b
}
