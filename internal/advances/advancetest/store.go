// Package advancetest provides an in-memory advance store for tests.
package advancetest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/saldo-erp/saldo/internal/advances"
	"github.com/saldo-erp/saldo/internal/invoices"
	"github.com/saldo-erp/saldo/internal/invoices/invoicetest"
	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Store is an in-memory advances.Repository layered over an invoice store.
// Its transactions run inside the invoice store's so both roll back together.
type Store struct {
	Invoices *invoicetest.Store

	mu     sync.Mutex
	rows   map[int64]advances.Advance
	nextID int64
}

var (
	_ advances.Repository   = (*Store)(nil)
	_ advances.TxRepository = (*txView)(nil)
)

// New returns an empty store.
func New(inv *invoicetest.Store) *Store {
	return &Store{Invoices: inv, rows: map[int64]advances.Advance{}}
}

// WithTx implements advances.Repository.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, advances.TxRepository) error) error {
	return s.Invoices.WithTx(ctx, func(ctx context.Context, itx invoices.TxRepository) error {
		return s.Within(ctx, itx, fn)
	})
}

// Within runs fn against advance rows using an already open invoice
// transaction, restoring the rows when fn fails.
func (s *Store) Within(ctx context.Context, itx invoices.TxRepository, fn func(context.Context, advances.TxRepository) error) error {
	s.mu.Lock()
	snapshot := maps.Clone(s.rows)
	next := s.nextID
	s.mu.Unlock()
	if err := fn(ctx, &txView{s: s, inv: itx}); err != nil {
		s.mu.Lock()
		s.rows, s.nextID = snapshot, next
		s.mu.Unlock()
		return err
	}
	return nil
}

// Get implements advances.Repository.
func (s *Store) Get(_ context.Context, id int64) (advances.Advance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *Store) get(id int64) (advances.Advance, error) {
	adv, ok := s.rows[id]
	if !ok {
		return advances.Advance{}, fmt.Errorf("advance %d: %w", id, shared.ErrNotFound)
	}
	return adv, nil
}

// List implements advances.Repository.
func (s *Store) List(_ context.Context, filter advances.Filter) ([]advances.Advance, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []advances.Advance
	for _, id := range slices.Sorted(maps.Keys(s.rows)) {
		adv := s.rows[id]
		switch {
		case filter.Status != "" && adv.Status != filter.Status:
		case filter.UserID != 0 && adv.UserID != filter.UserID:
		case filter.CompanyID != 0 && adv.CompanyID != filter.CompanyID:
		default:
			out = append(out, adv)
		}
	}
	return out, len(out), nil
}

// LinkedInvoices implements advances.Repository.
func (s *Store) LinkedInvoices(ctx context.Context, id int64) ([]invoices.Invoice, error) {
	return s.Invoices.ListLinkedTo(ctx, id)
}

// BySource returns the advance opened from a budget request, if any.
func (s *Store) BySource(requestID int64) (advances.Advance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, adv := range s.rows {
		if adv.SourceType == advances.SourceBudgetRequest && adv.SourceID != nil && *adv.SourceID == requestID {
			return adv, true
		}
	}
	return advances.Advance{}, false
}

type txView struct {
	s   *Store
	inv invoices.TxRepository
}

func (t *txView) Invoices() invoices.TxRepository { return t.inv }
func (t *txView) Ledger() ledger.Store            { return t.inv.Ledger() }

func (t *txView) Insert(_ context.Context, adv advances.Advance) (advances.Advance, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.nextID++
	adv.ID = t.s.nextID
	adv.UpdatedAt = adv.CreatedAt
	t.s.rows[adv.ID] = adv
	return adv, nil
}

func (t *txView) LockByID(_ context.Context, id int64) (advances.Advance, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.get(id)
}

func (t *txView) MarkTransferred(_ context.Context, id int64, number string, at time.Time, by int64) (bool, error) {
	return t.update(id, advances.StatusPending, func(adv *advances.Advance) {
		adv.Status, adv.TransferNumber, adv.TransferDate, adv.TransferConfirmedBy = advances.StatusTransferred, number, &at, &by
		adv.UpdatedAt = at
	}), nil
}

func (t *txView) MarkSettled(_ context.Context, id int64, at time.Time, by int64) (bool, error) {
	return t.update(id, advances.StatusTransferred, func(adv *advances.Advance) {
		adv.Status, adv.SettledAt, adv.SettledBy = advances.StatusSettled, &at, &by
		adv.UpdatedAt = at
	}), nil
}

func (t *txView) update(id int64, from advances.Status, apply func(*advances.Advance)) bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	adv, ok := t.s.rows[id]
	if !ok || adv.Status != from {
		return false
	}
	apply(&adv)
	t.s.rows[id] = adv
	return true
}

func (t *txView) Delete(_ context.Context, id int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.rows[id]; !ok {
		return fmt.Errorf("advance %d: %w", id, shared.ErrNotFound)
	}
	delete(t.s.rows, id)
	return nil
}
