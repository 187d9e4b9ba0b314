package invoices

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saldo-erp/saldo/internal/shared"
)

func TestRelinkKeepsSingleLink(t *testing.T) {
	inv := Invoice{ID: 1, BudgetRequestID: ptr(4)}

	moved, err := Relink(inv, ToAdvance(9))
	require.NoError(t, err)
	require.Equal(t, int64(9), *moved.AdvanceID)
	require.Nil(t, moved.BudgetRequestID)

	back, err := Relink(moved, ToBudgetRequest(4))
	require.NoError(t, err)
	require.Nil(t, back.AdvanceID)
	require.Equal(t, int64(4), *back.BudgetRequestID)

	_, err = Relink(inv, Link{AdvanceID: ptr(1), BudgetRequestID: ptr(2)})
	require.ErrorIs(t, err, shared.ErrValidation)

	cleared, err := Relink(moved, Link{})
	require.NoError(t, err)
	require.Nil(t, cleared.AdvanceID)
	require.Nil(t, cleared.BudgetRequestID)
}

func TestLeaseLiveness(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ping := now.Add(-90 * time.Second)
	lease := Lease{Reviewer: ptr(3), StartedAt: &ping, LastPing: &ping}

	require.True(t, lease.Live(now, DefaultLeaseTTL))
	require.True(t, lease.HeldByOther(4, now, DefaultLeaseTTL))
	require.False(t, lease.HeldByOther(3, now, DefaultLeaseTTL))
	require.False(t, lease.Live(now.Add(time.Minute), DefaultLeaseTTL))
	require.False(t, Lease{}.Live(now, DefaultLeaseTTL))
}

func TestFilterMatches(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	inv := Invoice{UserID: 2, CompanyID: 5, Status: StatusRejected, AdvanceID: ptr(8), CreatedAt: created}

	require.True(t, Filter{}.Matches(inv))
	require.True(t, Filter{Status: StatusRejected, AdvanceID: 8}.Matches(inv))
	require.False(t, Filter{UserID: 3}.Matches(inv))
	to := created
	require.False(t, Filter{CreatedTo: &to}.Matches(inv))
}

func ptr(v int64) *int64 { return &v }
