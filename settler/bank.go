package settler

import (
	"math/big"
	"sync"

	"github.com/pkg/errors"
)

// ErrInsufficientBalance is returned when a transfer exceeds the sender's balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Bank moves token value between chain-agnostic accounts.
type Bank interface {
	Transfer(token, from, to [32]byte, amount *big.Int) error
}

// MemoryBank is an in-process Bank keyed by (token, account).
type MemoryBank struct {
	mu       sync.Mutex
	balances map[[32]byte]map[[32]byte]*big.Int
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: make(map[[32]byte]map[[32]byte]*big.Int)}
}

// Mint credits amount of token to account.
func (b *MemoryBank) Mint(token, account [32]byte, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.balance(token, account)
	bal.Add(bal, amount)
}

// BalanceOf returns a copy of the account balance.
func (b *MemoryBank) BalanceOf(token, account [32]byte) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return new(big.Int).Set(b.balance(token, account))
}

func (b *MemoryBank) Transfer(token, from, to [32]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("invalid transfer amount")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.balance(token, from)
	if src.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "have %s, need %s", src, amount)
	}

	dst := b.balance(token, to)

	src.Sub(src, amount)
	dst.Add(dst, amount)

	return nil
}

func (b *MemoryBank) balance(token, account [32]byte) *big.Int {
	accounts, ok := b.balances[token]
	if !ok {
		accounts = make(map[[32]byte]*big.Int)
		b.balances[token] = accounts
	}

	bal, ok := accounts[account]
	if !ok {
		bal = new(big.Int)
		accounts[account] = bal
	}

	return bal
}
