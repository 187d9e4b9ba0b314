package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saldo-erp/saldo/internal/shared"
)

// Store is the transactional view of the ledger tables. Implementations are
// scoped to a single database transaction.
type Store interface {
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	CompareAndSwapBalance(ctx context.Context, userID int64, before, after decimal.Decimal) (bool, error)
	InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	SumByReference(ctx context.Context, referenceID int64, kinds ...Kind) (decimal.Decimal, error)
}

// Post appends a transaction and moves the user's balance. It is the only code
// path that writes users.balance. A concurrent writer that moved the balance
// between read and write yields shared.ErrConcurrentModification.
func Post(ctx context.Context, st Store, in AppendInput, now time.Time) (Transaction, error) {
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	before, err := st.Balance(ctx, in.UserID)
	if err != nil {
		return Transaction{}, err
	}
	after := before.Add(in.Amount)
	if err := shared.CheckMoney("resulting balance", after); err != nil {
		return Transaction{}, err
	}
	swapped, err := st.CompareAndSwapBalance(ctx, in.UserID, before, after)
	if err != nil {
		return Transaction{}, err
	}
	if !swapped {
		return Transaction{}, fmt.Errorf("ledger: user %d balance moved: %w", in.UserID, shared.ErrConcurrentModification)
	}
	return st.InsertTransaction(ctx, Transaction{
		UserID:        in.UserID,
		Amount:        in.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Kind:          in.Kind,
		ReferenceID:   in.ReferenceID,
		Notes:         in.Notes,
		CreatedBy:     in.ActorID,
		CreatedAt:     now,
	})
}

// NetInvoiceCharge returns how much an invoice currently holds against its
// owner's balance, as a positive amount. Zero means nothing to refund.
func NetInvoiceCharge(ctx context.Context, st Store, invoiceID int64) (decimal.Decimal, error) {
	net, err := st.SumByReference(ctx, invoiceID, InvoiceKinds...)
	if err != nil {
		return decimal.Zero, err
	}
	return net.Neg(), nil
}

// Hooks lets other state machines reuse the ledger's conflict retry policy and
// report transactions once their own database transaction has committed.
type Hooks interface {
	Retry(ctx context.Context, fn func(context.Context) error) error
	Committed(ctx context.Context, txs ...Transaction)
}

var _ Hooks = (*Service)(nil)
