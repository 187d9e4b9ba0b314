package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/saldo-erp/saldo/internal/shared"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAuditCleanChain(t *testing.T) {
	txs := []Transaction{
		{ID: 1, Amount: d("100"), BalanceBefore: d("0"), BalanceAfter: d("100")},
		{ID: 2, Amount: d("-40"), BalanceBefore: d("100"), BalanceAfter: d("60")},
	}
	require.Empty(t, Audit(3, d("60"), txs))
}

func TestAuditFindsBrokenChain(t *testing.T) {
	txs := []Transaction{
		{ID: 1, Amount: d("100"), BalanceBefore: d("0"), BalanceAfter: d("100")},
		{ID: 2, Amount: d("-40"), BalanceBefore: d("90"), BalanceAfter: d("50")},
		{ID: 3, Amount: d("5"), BalanceBefore: d("50"), BalanceAfter: d("56")},
	}
	found := Audit(3, d("65"), txs)
	require.Len(t, found, 2)
	require.Equal(t, int64(2), found[0].TransactionID)
	require.Contains(t, found[0].Problem, "previous balance_after 100")
	require.Equal(t, int64(3), found[1].TransactionID)
	require.Equal(t, "user 3 tx 3: balance_after 56 != balance_before 50 + amount 5", found[1].String())
}

func TestAppendInputValidate(t *testing.T) {
	valid := AppendInput{UserID: 1, Amount: d("1"), Kind: KindAdjustment, ActorID: 2}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.Kind = "bonus"
	require.Error(t, bad.Validate())

	bad = valid
	bad.ActorID = 0
	require.Error(t, bad.Validate())

	bad = valid
	bad.Amount = d("-0.005")
	require.ErrorIs(t, bad.Validate(), shared.ErrValidation)

	bad = valid
	bad.Amount = d("1000000000000")
	require.ErrorIs(t, bad.Validate(), shared.ErrValidation)
}

func TestPostRejectsBalanceOutOfRange(t *testing.T) {
	st := &fixedStore{balance: d("999999999999.99")}
	_, err := Post(context.Background(), st, AppendInput{UserID: 1, Amount: d("0.01"), Kind: KindAdjustment, ActorID: 2}, time.Now())
	require.ErrorIs(t, err, shared.ErrValidation)
	require.False(t, st.swapped)
}

type fixedStore struct {
	balance decimal.Decimal
	swapped bool
}

func (s *fixedStore) Balance(context.Context, int64) (decimal.Decimal, error) { return s.balance, nil }

func (s *fixedStore) CompareAndSwapBalance(context.Context, int64, decimal.Decimal, decimal.Decimal) (bool, error) {
	s.swapped = true
	return true, nil
}

func (s *fixedStore) InsertTransaction(_ context.Context, tx Transaction) (Transaction, error) {
	return tx, nil
}

func (s *fixedStore) SumByReference(context.Context, int64, ...Kind) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
