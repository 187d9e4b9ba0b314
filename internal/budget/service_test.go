package budget_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/saldo-erp/saldo/internal/advances"
	"github.com/saldo-erp/saldo/internal/advances/advancetest"
	"github.com/saldo-erp/saldo/internal/budget"
	"github.com/saldo-erp/saldo/internal/budget/budgettest"
	"github.com/saldo-erp/saldo/internal/invoices"
	"github.com/saldo-erp/saldo/internal/invoices/invoicetest"
	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/ledger/ledgertest"
	"github.com/saldo-erp/saldo/internal/shared"
)

const (
	ownerID   int64 = 7
	companyID int64 = 1
)

var reviewer = shared.Actor{ID: 3, Role: shared.RoleAccountant}

type fixture struct {
	book     *ledgertest.Book
	store    *budgettest.Store
	advances *advancetest.Store
	svc      *budget.Service
	advSvc   *advances.Service
	invSvc   *invoices.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	book := ledgertest.NewBook(ownerID)
	inv := invoicetest.New(book)
	adv := advancetest.New(inv)
	store := budgettest.New(adv)
	clock := func() time.Time { return time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC) }
	hooks := ledger.NewService(book, nil, nil, nil, nil, nil)

	svc := budget.NewService(store, nil, nil, nil)
	svc.WithNow(clock)
	advSvc := advances.NewService(adv, hooks, nil, nil, nil, nil)
	advSvc.WithNow(clock)
	invSvc := invoices.NewService(inv, hooks, nil, nil, nil)
	invSvc.WithNow(clock)
	return &fixture{book: book, store: store, advances: adv, svc: svc, advSvc: advSvc, invSvc: invSvc}
}

func (f *fixture) fund(t *testing.T, amount string) {
	t.Helper()
	_, err := ledger.Post(context.Background(), f.book, ledger.AppendInput{
		UserID:  ownerID,
		Amount:  decimal.RequireFromString(amount),
		Kind:    ledger.KindAdjustment,
		Notes:   "opening balance",
		ActorID: reviewer.ID,
	}, time.Now())
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T) string {
	t.Helper()
	b, err := f.book.Balance(context.Background(), ownerID)
	require.NoError(t, err)
	return b.StringFixed(2)
}

func (f *fixture) request(t *testing.T, amount string) budget.Request {
	t.Helper()
	req, err := f.svc.Create(context.Background(), budget.CreateInput{
		UserID:        ownerID,
		CompanyID:     companyID,
		Amount:        decimal.RequireFromString(amount),
		Justification: "need more budget",
		ActorID:       ownerID,
	})
	require.NoError(t, err)
	return req
}

func TestRequestToSettledAdvance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, "100")

	req := f.request(t, "50")
	require.Equal(t, budget.StatusPending, req.Status)
	require.Equal(t, "100.00", req.CurrentBalanceAtRequest.StringFixed(2))

	decision, err := f.svc.Approve(ctx, req.ID, reviewer)
	require.NoError(t, err)
	require.Equal(t, budget.StatusApproved, decision.Request.Status)
	require.NotNil(t, decision.Advance)
	require.Equal(t, advances.StatusPending, decision.Advance.Status)
	require.Equal(t, advances.SourceBudgetRequest, decision.Advance.SourceType)
	require.Equal(t, req.ID, *decision.Advance.SourceID)
	require.True(t, decision.Advance.Amount.Equal(decimal.NewFromInt(50)))
	require.Equal(t, "100.00", f.balance(t), "approval must not touch the ledger")

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, decision.Advance.ID, *got.AdvanceID)
	require.Equal(t, reviewer.ID, *got.ReviewedBy)

	_, err = f.advSvc.Transfer(ctx, decision.Advance.ID, reviewer, "")
	require.NoError(t, err)
	require.Equal(t, "150.00", f.balance(t))

	settled, _, err := f.advSvc.Settle(ctx, decision.Advance.ID, reviewer)
	require.NoError(t, err)
	require.Equal(t, advances.StatusSettled, settled.Status)
	require.Equal(t, "150.00", f.balance(t))

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, shared.ApprovalSubmit, history[0].Action)
	require.Equal(t, shared.ApprovalApprove, history[1].Action)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]budget.CreateInput{
		"zero amount":        {UserID: ownerID, CompanyID: companyID, Amount: decimal.Zero, Justification: "need more budget"},
		"negative amount":    {UserID: ownerID, CompanyID: companyID, Amount: decimal.NewFromInt(-5), Justification: "need more budget"},
		"short":              {UserID: ownerID, CompanyID: companyID, Amount: decimal.NewFromInt(5), Justification: "abcd"},
		"padded short":       {UserID: ownerID, CompanyID: companyID, Amount: decimal.NewFromInt(5), Justification: "   abcd   "},
		"missing company id": {UserID: ownerID, Amount: decimal.NewFromInt(5), Justification: "need more budget"},
		"sub-cent amount":    {UserID: ownerID, CompanyID: companyID, Amount: decimal.RequireFromString("0.004"), Justification: "need more budget"},
		"amount too large":   {UserID: ownerID, CompanyID: companyID, Amount: decimal.RequireFromString("1000000000000"), Justification: "need more budget"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	req, err := f.svc.Create(context.Background(), budget.CreateInput{UserID: ownerID, CompanyID: companyID, Amount: decimal.NewFromInt(5), Justification: "żółw!"})
	require.NoError(t, err)
	require.Equal(t, "żółw!", req.Justification)
}

func TestDecisionsOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	approved := f.request(t, "20")
	rejected := f.request(t, "30")

	_, err := f.svc.Approve(ctx, approved.ID, reviewer)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, approved.ID, reviewer)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = f.svc.Reject(ctx, approved.ID, reviewer, "too late")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.svc.Reject(ctx, rejected.ID, reviewer, "   ")
	require.ErrorIs(t, err, shared.ErrValidation)
	out, err := f.svc.Reject(ctx, rejected.ID, reviewer, " duplicate request ")
	require.NoError(t, err)
	require.Equal(t, budget.StatusRejected, out.Status)
	require.Equal(t, "duplicate request", out.RejectionReason)
	_, err = f.svc.Approve(ctx, rejected.ID, reviewer)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, ok := f.advances.BySource(rejected.ID)
	require.False(t, ok)
	require.Empty(t, f.book.All())

	_, err = f.svc.Approve(ctx, 999, reviewer)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestConcurrentApprovalOpensOneAdvance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.request(t, "40")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
		invalid  int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Approve(ctx, req.ID, reviewer)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				approved++
			} else if errors.Is(err, shared.ErrInvalidTransition) {
				invalid++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, approved)
	require.Equal(t, 4, invalid)

	page, err := f.advSvc.List(ctx, advances.Filter{UserID: ownerID})
	require.NoError(t, err)
	require.Len(t, page.Advances, 1)
}

// serializationAbort fails the first transaction the way PostgreSQL aborts a
// RepeatableRead transaction whose locked row was changed by a writer that
// committed first. rival runs that writer.
type serializationAbort struct {
	*budgettest.Store
	rival func()
	calls int
}

func (r *serializationAbort) WithTx(ctx context.Context, fn func(context.Context, budget.TxRepository) error) error {
	r.calls++
	if r.calls == 1 {
		r.rival()
		return fmt.Errorf("budget: could not serialize access: %w", shared.ErrConcurrentModification)
	}
	return r.Store.WithTx(ctx, fn)
}

func TestLosingDecisionFailsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	admin := shared.Actor{ID: 4, Role: shared.RoleAdmin}
	cases := map[string]func(*budget.Service, int64) error{
		"approve": func(svc *budget.Service, id int64) error {
			_, err := svc.Approve(ctx, id, admin)
			return err
		},
		"reject": func(svc *budget.Service, id int64) error {
			_, err := svc.Reject(ctx, id, admin, "duplicate request")
			return err
		},
	}
	for name, decide := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request(t, "40")
			repo := &serializationAbort{Store: f.store, rival: func() {
				_, err := f.svc.Approve(ctx, req.ID, reviewer)
				require.NoError(t, err)
			}}
			loser := budget.NewService(repo, nil, nil, nil)

			err := decide(loser, req.ID)
			require.ErrorIs(t, err, shared.ErrInvalidTransition)
			require.NotErrorIs(t, err, shared.ErrConcurrentModification)
			require.Equal(t, 2, repo.calls)

			got, err := f.svc.Get(ctx, req.ID)
			require.NoError(t, err)
			require.Equal(t, budget.StatusApproved, got.Status)
			page, err := f.advSvc.List(ctx, advances.Filter{UserID: ownerID})
			require.NoError(t, err)
			require.Len(t, page.Advances, 1)
		})
	}
}

func TestDecisionSurfacesConflictAfterLastAttempt(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, "40")
	repo := &serializationAbort{Store: f.store, rival: func() {}}
	svc := budget.NewService(repo, nil, nil, nil)
	svc.WithMaxAttempts(1)

	_, err := svc.Approve(context.Background(), req.ID, reviewer)
	require.ErrorIs(t, err, shared.ErrConcurrentModification)
	require.Equal(t, 1, repo.calls)
}

func TestDeleteKeepsApprovedHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pending := f.request(t, "10")
	approved := f.request(t, "11")
	rejected := f.request(t, "12")
	_, err := f.svc.Approve(ctx, approved.ID, reviewer)
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, rejected.ID, reviewer, "no")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, pending.ID, reviewer))
	require.NoError(t, f.svc.Delete(ctx, rejected.ID, reviewer))
	require.ErrorIs(t, f.svc.Delete(ctx, approved.ID, reviewer), shared.ErrInvalidTransition)
	require.ErrorIs(t, f.svc.Delete(ctx, pending.ID, reviewer), shared.ErrNotFound)

	require.False(t, f.store.Exists(pending.ID))
	require.True(t, f.store.Exists(approved.ID))
}

func TestListings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.request(t, "1")
	second := f.request(t, "2")
	f.store.Seed(budget.Request{UserID: 99, CompanyID: companyID, RequestedAmount: decimal.NewFromInt(3), Justification: "someone else"})
	_, err := f.svc.Reject(ctx, first.ID, reviewer, "no")
	require.NoError(t, err)

	pending, err := f.svc.ListPending(ctx, shared.PageRequest{Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Len(t, pending.Requests, 2)
	require.Equal(t, 2, pending.Pagination.Total)

	mine, err := f.svc.ListByUser(ctx, ownerID, shared.PageRequest{Page: 1, PerPage: 1})
	require.NoError(t, err)
	require.Len(t, mine.Requests, 1)
	require.Equal(t, second.ID, mine.Requests[0].ID)
	require.Equal(t, 2, mine.Pagination.TotalPages)

	_, err = f.svc.List(ctx, budget.Filter{Status: "lost"})
	require.ErrorIs(t, err, shared.ErrValidation)
}
