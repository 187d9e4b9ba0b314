// Package invoicetest provides an in-memory invoice store for tests.
package invoicetest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/saldo-erp/saldo/internal/invoices"
	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/ledger/ledgertest"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Store is an in-memory invoices.Repository. Transactions are serialized and
// invoice rows roll back when fn fails; ledger rows live in Book.
type Store struct {
	Book *ledgertest.Book

	txMu   sync.Mutex
	mu     sync.Mutex
	rows   map[int64]invoices.Invoice
	nextID int64
}

var (
	_ invoices.Repository   = (*Store)(nil)
	_ invoices.TxRepository = (*txView)(nil)
)

// New returns an empty store backed by book.
func New(book *ledgertest.Book) *Store {
	return &Store{Book: book, rows: map[int64]invoices.Invoice{}}
}

// Seed inserts inv as-is, assigning an id when missing.
func (s *Store) Seed(inv invoices.Invoice) invoices.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == 0 {
		s.nextID++
		inv.ID = s.nextID
	} else if inv.ID > s.nextID {
		s.nextID = inv.ID
	}
	if inv.Status == "" {
		inv.Status = invoices.StatusPending
	}
	s.rows[inv.ID] = inv
	return inv
}

// Exists reports whether the invoice row is present.
func (s *Store) Exists(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[id]
	return ok
}

func (s *Store) WithTx(ctx context.Context, fn func(context.Context, invoices.TxRepository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	snapshot := maps.Clone(s.rows)
	s.mu.Unlock()
	if err := fn(ctx, &txView{s: s}); err != nil {
		s.mu.Lock()
		s.rows = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Get(_ context.Context, id int64) (invoices.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *Store) get(id int64) (invoices.Invoice, error) {
	inv, ok := s.rows[id]
	if !ok {
		return invoices.Invoice{}, fmt.Errorf("invoicetest: invoice %d: %w", id, shared.ErrNotFound)
	}
	return inv, nil
}

func (s *Store) List(_ context.Context, filter invoices.Filter) ([]invoices.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(filter.Matches), nil
}

func (s *Store) ListLinkedTo(_ context.Context, advanceID int64) ([]invoices.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(linkedTo(advanceID)), nil
}

func (s *Store) sorted(keep func(invoices.Invoice) bool) []invoices.Invoice {
	var out []invoices.Invoice
	for _, id := range slices.Sorted(maps.Keys(s.rows)) {
		if inv := s.rows[id]; keep(inv) {
			out = append(out, inv)
		}
	}
	return out
}

func linkedTo(advanceID int64) func(invoices.Invoice) bool {
	return func(inv invoices.Invoice) bool {
		return inv.AdvanceID != nil && *inv.AdvanceID == advanceID
	}
}

func (s *Store) AcquireLease(_ context.Context, id, actorID int64, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	free := inv.CurrentReviewer == nil || *inv.CurrentReviewer == actorID || inv.LastReviewPing == nil || inv.LastReviewPing.Before(staleBefore)
	if !free {
		return false, nil
	}
	if inv.CurrentReviewer == nil || *inv.CurrentReviewer != actorID {
		inv.ReviewStartedAt = &now
	}
	inv.CurrentReviewer = &actorID
	inv.LastReviewPing = &now
	s.rows[id] = inv
	return true, nil
}

func (s *Store) HeartbeatLease(_ context.Context, id, actorID int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.rows[id]
	if !ok || inv.CurrentReviewer == nil || *inv.CurrentReviewer != actorID {
		return false, nil
	}
	inv.LastReviewPing = &now
	s.rows[id] = inv
	return true, nil
}

func (s *Store) ReleaseLease(_ context.Context, id, actorID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.rows[id]
	if !ok || inv.CurrentReviewer == nil || *inv.CurrentReviewer != actorID {
		return false, nil
	}
	inv.CurrentReviewer, inv.ReviewStartedAt, inv.LastReviewPing = nil, nil, nil
	s.rows[id] = inv
	return true, nil
}

type txView struct {
	s *Store
}

func (t *txView) Ledger() ledger.Store { return t.s.Book }

func (t *txView) Insert(_ context.Context, inv invoices.Invoice) (invoices.Invoice, error) {
	if inv.AdvanceID != nil && inv.BudgetRequestID != nil {
		return invoices.Invoice{}, fmt.Errorf("%w: both links set", shared.ErrValidation)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.nextID++
	inv.ID = t.s.nextID
	inv.UpdatedAt = inv.CreatedAt
	t.s.rows[inv.ID] = inv
	return inv, nil
}

func (t *txView) LockByID(_ context.Context, id int64) (invoices.Invoice, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.get(id)
}

func (t *txView) LockLinkedTo(_ context.Context, advanceID int64) ([]invoices.Invoice, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.sorted(linkedTo(advanceID)), nil
}

func (t *txView) UpdateStatus(_ context.Context, id int64, from []invoices.Status, to invoices.Status, reason string, now time.Time) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	inv, ok := t.s.rows[id]
	if !ok || !slices.Contains(from, inv.Status) {
		return false, nil
	}
	inv.Status, inv.RejectionReason, inv.UpdatedAt = to, reason, now
	t.s.rows[id] = inv
	return true, nil
}

func (t *txView) UpdateLink(_ context.Context, id int64, link invoices.Link, now time.Time) error {
	if err := link.Validate(); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	inv, err := t.s.get(id)
	if err != nil {
		return err
	}
	inv.AdvanceID, inv.BudgetRequestID, inv.UpdatedAt = link.AdvanceID, link.BudgetRequestID, now
	t.s.rows[id] = inv
	return nil
}

func (t *txView) ClearLease(_ context.Context, id int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if inv, ok := t.s.rows[id]; ok {
		inv.CurrentReviewer, inv.ReviewStartedAt, inv.LastReviewPing = nil, nil, nil
		t.s.rows[id] = inv
	}
	return nil
}

func (t *txView) SettleAccepted(_ context.Context, advanceID int64, now time.Time) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var n int64
	for id, inv := range t.s.rows {
		if linkedTo(advanceID)(inv) && inv.Status == invoices.StatusAccepted {
			inv.Status, inv.UpdatedAt = invoices.StatusSettled, now
			t.s.rows[id] = inv
			n++
		}
	}
	return n, nil
}

func (t *txView) Delete(_ context.Context, id int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.rows[id]; !ok {
		return fmt.Errorf("invoicetest: invoice %d: %w", id, shared.ErrNotFound)
	}
	delete(t.s.rows, id)
	return nil
}
