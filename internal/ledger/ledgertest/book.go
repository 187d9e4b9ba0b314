// Package ledgertest provides an in-memory ledger for tests.
package ledgertest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Book is an in-memory ledger.Repository and ledger.Store. WithTx does not
// isolate writes; callers relying on rollback must not use it.
type Book struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
	txs      []ledger.Transaction
	counts   map[int64]ledger.DecisionCounts
	nextID   int64

	// BeforeSwap, when set, runs between the balance read and the swap.
	BeforeSwap func(userID int64)
}

var (
	_ ledger.Repository = (*Book)(nil)
	_ ledger.Store      = (*Book)(nil)
)

// NewBook returns a book with the given users at zero balance.
func NewBook(userIDs ...int64) *Book {
	b := &Book{balances: map[int64]decimal.Decimal{}, counts: map[int64]ledger.DecisionCounts{}}
	for _, id := range userIDs {
		b.balances[id] = decimal.Zero
	}
	return b
}

// AddUser registers a user at zero balance.
func (b *Book) AddUser(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.balances[id]; !ok {
		b.balances[id] = decimal.Zero
	}
}

// SetDecisionCounts stubs the budget request tallies used by trust scores.
func (b *Book) SetDecisionCounts(userID int64, c ledger.DecisionCounts) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[userID] = c
}

// Corrupt overwrites a stored balance without a transaction.
func (b *Book) Corrupt(userID int64, balance decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[userID] = balance
}

// All returns every transaction in append order.
func (b *Book) All() []ledger.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.txs)
}

// ByKind returns transactions of kind referencing referenceID.
func (b *Book) ByKind(kind ledger.Kind, referenceID int64) []ledger.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []ledger.Transaction
	for _, tx := range b.txs {
		if tx.Kind == kind && tx.ReferenceID != nil && *tx.ReferenceID == referenceID {
			out = append(out, tx)
		}
	}
	return out
}

func (b *Book) WithTx(ctx context.Context, fn func(context.Context, ledger.Store) error) error {
	return fn(ctx, b)
}

func (b *Book) Balance(_ context.Context, userID int64) (decimal.Decimal, error) {
	b.mu.Lock()
	balance, ok := b.balances[userID]
	b.mu.Unlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("ledgertest: user %d: %w", userID, shared.ErrNotFound)
	}
	if b.BeforeSwap != nil {
		b.BeforeSwap(userID)
	}
	return balance, nil
}

func (b *Book) CompareAndSwapBalance(_ context.Context, userID int64, before, after decimal.Decimal) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current, ok := b.balances[userID]
	if !ok {
		return false, fmt.Errorf("ledgertest: user %d: %w", userID, shared.ErrNotFound)
	}
	if !current.Equal(before) {
		return false, nil
	}
	b.balances[userID] = after
	return true, nil
}

func (b *Book) InsertTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	tx.ID = b.nextID
	b.txs = append(b.txs, tx)
	return tx, nil
}

func (b *Book) SumByReference(_ context.Context, referenceID int64, kinds ...ledger.Kind) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sum := decimal.Zero
	for _, tx := range b.txs {
		if tx.ReferenceID != nil && *tx.ReferenceID == referenceID && slices.Contains(kinds, tx.Kind) {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum, nil
}

func (b *Book) History(_ context.Context, filter ledger.HistoryFilter) ([]ledger.Transaction, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var matched []ledger.Transaction
	for i := len(b.txs) - 1; i >= 0; i-- {
		tx := b.txs[i]
		if tx.UserID != filter.UserID {
			continue
		}
		if filter.From != nil && tx.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !tx.CreatedAt.Before(*filter.To) {
			continue
		}
		matched = append(matched, tx)
	}
	total := len(matched)
	start := min(filter.Page.Offset(), total)
	end := min(start+filter.Page.Limit(), total)
	return matched[start:end], total, nil
}

func (b *Book) Transactions(_ context.Context, userID int64) ([]ledger.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []ledger.Transaction
	for _, tx := range b.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (b *Book) UserIDs(context.Context) ([]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int64, 0, len(b.balances))
	for id := range b.balances {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (b *Book) Stats(context.Context) (ledger.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := ledger.Stats{TotalUsers: len(b.balances)}
	for _, bal := range b.balances {
		s.TotalBalance = s.TotalBalance.Add(bal)
		switch {
		case bal.IsPositive():
			s.PositiveBalance = s.PositiveBalance.Add(bal)
		case bal.IsNegative():
			s.NegativeBalance = s.NegativeBalance.Add(bal)
			s.UsersInDebit++
		}
	}
	return s, nil
}

func (b *Book) DecisionCounts(_ context.Context, userID int64) (ledger.DecisionCounts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[userID], nil
}
