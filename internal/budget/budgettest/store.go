// Package budgettest provides an in-memory budget request store for tests.
package budgettest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/saldo-erp/saldo/internal/advances"
	"github.com/saldo-erp/saldo/internal/advances/advancetest"
	"github.com/saldo-erp/saldo/internal/budget"
	"github.com/saldo-erp/saldo/internal/invoices"
	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Store is an in-memory budget.Repository layered over an advance store.
type Store struct {
	Advances *advancetest.Store

	mu        sync.Mutex
	rows      map[int64]budget.Request
	approvals []shared.ApprovalLog
	nextID    int64
}

var (
	_ budget.Repository   = (*Store)(nil)
	_ budget.TxRepository = (*txView)(nil)
)

// New returns an empty store.
func New(adv *advancetest.Store) *Store {
	return &Store{Advances: adv, rows: map[int64]budget.Request{}}
}

// Seed inserts req as-is, assigning an id when missing.
func (s *Store) Seed(req budget.Request) budget.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == 0 {
		s.nextID++
		req.ID = s.nextID
	} else if req.ID > s.nextID {
		s.nextID = req.ID
	}
	if req.Status == "" {
		req.Status = budget.StatusPending
	}
	s.rows[req.ID] = req
	return req
}

// Exists reports whether the request row is present.
func (s *Store) Exists(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[id]
	return ok
}

// WithTx implements budget.Repository.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, budget.TxRepository) error) error {
	return s.Advances.Invoices.WithTx(ctx, func(ctx context.Context, itx invoices.TxRepository) error {
		return s.Advances.Within(ctx, itx, func(ctx context.Context, atx advances.TxRepository) error {
			s.mu.Lock()
			rows, logs, next := maps.Clone(s.rows), slices.Clone(s.approvals), s.nextID
			s.mu.Unlock()
			if err := fn(ctx, &txView{s: s, adv: atx}); err != nil {
				s.mu.Lock()
				s.rows, s.approvals, s.nextID = rows, logs, next
				s.mu.Unlock()
				return err
			}
			return nil
		})
	})
}

// Get implements budget.Repository.
func (s *Store) Get(_ context.Context, id int64) (budget.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *Store) get(id int64) (budget.Request, error) {
	req, ok := s.rows[id]
	if !ok {
		return budget.Request{}, fmt.Errorf("budget request %d: %w", id, shared.ErrNotFound)
	}
	if adv, ok := s.Advances.BySource(id); ok {
		req.AdvanceID = &adv.ID
	}
	return req, nil
}

// List implements budget.Repository. Newest requests come first.
func (s *Store) List(_ context.Context, filter budget.Filter) ([]budget.Request, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []budget.Request
	ids := slices.Sorted(maps.Keys(s.rows))
	slices.Reverse(ids)
	for _, id := range ids {
		req, _ := s.get(id)
		if filter.Matches(req) {
			out = append(out, req)
		}
	}
	total := len(out)
	if filter.Page.PerPage > 0 {
		lo := min(filter.Page.Offset(), total)
		hi := min(lo+filter.Page.Limit(), total)
		out = out[lo:hi]
	}
	return out, total, nil
}

// Approvals implements budget.Repository.
func (s *Store) Approvals(_ context.Context, id int64) ([]shared.ApprovalLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []shared.ApprovalLog
	for _, l := range s.approvals {
		if l.Module == budget.ApprovalModule && l.RefID == id {
			out = append(out, l)
		}
	}
	return out, nil
}

type txView struct {
	s   *Store
	adv advances.TxRepository
}

func (t *txView) Advances() advances.TxRepository { return t.adv }
func (t *txView) Ledger() ledger.Store            { return t.adv.Ledger() }

func (t *txView) Insert(_ context.Context, req budget.Request) (budget.Request, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.nextID++
	req.ID = t.s.nextID
	req.UpdatedAt = req.CreatedAt
	t.s.rows[req.ID] = req
	return req, nil
}

func (t *txView) LockByID(_ context.Context, id int64) (budget.Request, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.get(id)
}

func (t *txView) Decide(_ context.Context, id int64, status budget.Status, reviewer int64, reason string, at time.Time) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	req, ok := t.s.rows[id]
	if !ok || req.Status != budget.StatusPending {
		return false, nil
	}
	req.Status, req.ReviewedBy, req.ReviewedAt, req.RejectionReason, req.UpdatedAt = status, &reviewer, &at, reason, at
	t.s.rows[id] = req
	return true, nil
}

func (t *txView) Delete(_ context.Context, id int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	req, ok := t.s.rows[id]
	if !ok || !req.Status.Deletable() {
		return fmt.Errorf("budget request %d is not deletable: %w", id, shared.ErrInvalidTransition)
	}
	delete(t.s.rows, id)
	return nil
}

func (t *txView) RecordApproval(_ context.Context, entry shared.ApprovalLog) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	entry.ID = int64(len(t.s.approvals) + 1)
	t.s.approvals = append(t.s.approvals, entry)
	return nil
}
