// Package bank exposes the player credit wallet consumed by the round
// lifecycle: balance snapshots at round boundaries and the currency-in
// tracker folded into each round's transaction association.
package bank

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// ErrInsufficientCredits is returned when a withdrawal exceeds the
// available balance. It indicates an invariant violation upstream; the
// offending operation must halt, not retry.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Bank is the credit wallet interface.
type Bank interface {
	// Balance returns the current credit balance.
	Balance() uint64

	// Deposit adds credits to the wallet.
	Deposit(amount uint64)

	// Withdraw removes credits. Fails with ErrInsufficientCredits when
	// the balance does not cover the amount.
	Withdraw(amount uint64) error

	// CurrencyIn returns credits inserted since the last Reset.
	CurrencyIn() uint64

	// ResetCurrencyIn zeroes the currency-in tracker. Called when the
	// tracked amount has been consumed into a round record.
	ResetCurrencyIn()
}

// MemBank is a mutex-guarded in-memory wallet for the simulator and tests.
type MemBank struct {
	mu         sync.Mutex
	balance    uint64
	currencyIn uint64
	logger     *log.Logger
}

// NewMemBank creates a wallet with the given opening balance.
func NewMemBank(logger *log.Logger, balance uint64) *MemBank {
	return &MemBank{balance: balance, logger: logger.WithPrefix("bank")}
}

// Balance implements Bank.
func (b *MemBank) Balance() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

// Deposit implements Bank.
func (b *MemBank) Deposit(amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance += amount
	b.currencyIn += amount
}

// Withdraw implements Bank.
func (b *MemBank) Withdraw(amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if amount > b.balance {
		b.logger.Error("withdrawal exceeds balance", "amount", amount, "balance", b.balance)
		return fmt.Errorf("%w: withdraw %d with balance %d", ErrInsufficientCredits, amount, b.balance)
	}
	b.balance -= amount
	return nil
}

// CurrencyIn implements Bank.
func (b *MemBank) CurrencyIn() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currencyIn
}

// ResetCurrencyIn implements Bank.
func (b *MemBank) ResetCurrencyIn() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currencyIn = 0
}
