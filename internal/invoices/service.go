package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Service coordinates invoice decisions, links and review leases.
type Service struct {
	repo     Repository
	ledger   ledger.Hooks
	audit    shared.Auditor
	events   shared.Publisher
	logger   *slog.Logger
	leaseTTL time.Duration
	now      func() time.Time
}

// NewService constructs the invoice service.
func NewService(repo Repository, hooks ledger.Hooks, audit shared.Auditor, events shared.Publisher, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if events == nil {
		events = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: hooks, audit: audit, events: events, logger: logger, leaseTTL: DefaultLeaseTTL, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithLeaseTTL sets the review lease expiry window.
func (s *Service) WithLeaseTTL(ttl time.Duration) {
	if ttl > 0 {
		s.leaseTTL = ttl
	}
}

// Submit creates a pending invoice.
func (s *Service) Submit(ctx context.Context, in SubmitInput, actor shared.Actor) (Invoice, error) {
	if err := in.Validate(); err != nil {
		return Invoice{}, err
	}
	now := s.now().UTC()
	var created Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.Insert(ctx, Invoice{
			UserID:          in.UserID,
			CompanyID:       in.CompanyID,
			Number:          strings.TrimSpace(in.Number),
			Amount:          in.Amount,
			Status:          StatusPending,
			AdvanceID:       in.Link.AdvanceID,
			BudgetRequestID: in.Link.BudgetRequestID,
			CreatedAt:       now,
		})
		created = inv
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	s.after(ctx, actor, "invoice.submit", created, shared.EventInvoiceSubmitted, "")
	return created, nil
}

// Get returns a single invoice.
func (s *Service) Get(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.Get(ctx, id)
}

// List returns invoices matching filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]Invoice, error) {
	return s.repo.List(ctx, filter)
}

// ListLinkedTo returns every invoice whose advance link equals advanceID.
func (s *Service) ListLinkedTo(ctx context.Context, advanceID int64) ([]Invoice, error) {
	return s.repo.ListLinkedTo(ctx, advanceID)
}

// SetLink rewrites an invoice's funding link.
func (s *Service) SetLink(ctx context.Context, id int64, link Link, actor shared.Actor) (Invoice, error) {
	if err := link.Validate(); err != nil {
		return Invoice{}, err
	}
	var updated Invoice
	err := s.ledger.Retry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			inv, err := tx.LockByID(ctx, id)
			if err != nil {
				return err
			}
			updated, err = Reassign(ctx, tx, inv, link, s.now().UTC())
			return err
		})
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, actor, "invoice.relink", updated, map[string]any{"advance_id": updated.AdvanceID, "budget_request_id": updated.BudgetRequestID})
	return updated, nil
}

// SetStatus moves an invoice to status through the matching decision.
func (s *Service) SetStatus(ctx context.Context, id int64, status Status, actor shared.Actor, reason string) (Invoice, error) {
	switch status {
	case StatusAccepted:
		return s.Accept(ctx, id, actor)
	case StatusRejected:
		return s.Reject(ctx, id, actor, reason)
	case StatusSettled:
		return s.decide(ctx, id, actor, "invoice.settle", "", func(ctx context.Context, tx TxRepository, inv Invoice, now time.Time) (Invoice, *ledger.Transaction, error) {
			updated, err := s.transition(ctx, tx, inv, []Status{StatusAccepted}, StatusSettled, "", now)
			return updated, nil, err
		})
	}
	return Invoice{}, fmt.Errorf("%w: cannot set status %q", shared.ErrInvalidTransition, status)
}

// Accept approves a pending invoice and charges its amount to the owner's
// balance. The charge does not depend on the link: an invoice on a pending
// advance, a budget request or nothing at all is charged the same way, and the
// advance credit arrives separately when the advance is transferred.
func (s *Service) Accept(ctx context.Context, id int64, actor shared.Actor) (Invoice, error) {
	return s.decide(ctx, id, actor, "invoice.accept", shared.EventInvoiceAccepted, func(ctx context.Context, tx TxRepository, inv Invoice, now time.Time) (Invoice, *ledger.Transaction, error) {
		updated, err := s.transition(ctx, tx, inv, []Status{StatusPending}, StatusAccepted, "", now)
		if err != nil {
			return inv, nil, err
		}
		posted, err := ledger.Post(ctx, tx.Ledger(), ledger.AppendInput{
			UserID:      inv.UserID,
			Amount:      inv.Amount.Neg(),
			Kind:        ledger.KindInvoiceDeduction,
			ReferenceID: ledger.Ref(inv.ID),
			Notes:       fmt.Sprintf("invoice %s accepted", inv.Number),
			ActorID:     actor.ID,
		}, now)
		if err != nil {
			return inv, nil, err
		}
		return updated, &posted, nil
	})
}

// Reject declines a pending or accepted invoice, refunding any charge.
func (s *Service) Reject(ctx context.Context, id int64, actor shared.Actor, reason string) (Invoice, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Invoice{}, fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
	}
	return s.decide(ctx, id, actor, "invoice.reject", shared.EventInvoiceRejected, func(ctx context.Context, tx TxRepository, inv Invoice, now time.Time) (Invoice, *ledger.Transaction, error) {
		updated, err := s.transition(ctx, tx, inv, []Status{StatusPending, StatusAccepted}, StatusRejected, reason, now)
		if err != nil {
			return inv, nil, err
		}
		refund, err := refundCharge(ctx, tx, inv, ledger.KindInvoiceRefund, actor.ID, now, fmt.Sprintf("invoice %s rejected: %s", inv.Number, reason))
		return updated, refund, err
	})
}

// Delete removes an invoice, refunding any charge it still holds.
func (s *Service) Delete(ctx context.Context, id int64, actor shared.Actor) error {
	_, err := s.decide(ctx, id, actor, "invoice.delete", shared.EventInvoiceDeleted, func(ctx context.Context, tx TxRepository, inv Invoice, now time.Time) (Invoice, *ledger.Transaction, error) {
		refund, err := Remove(ctx, tx, inv, actor.ID, now)
		return inv, refund, err
	})
	return err
}

type decision func(ctx context.Context, tx TxRepository, inv Invoice, now time.Time) (Invoice, *ledger.Transaction, error)

// decide locks the invoice, refuses when another reviewer holds a live lease,
// applies fn and clears the lease, all in one transaction retried on balance
// conflicts.
func (s *Service) decide(ctx context.Context, id int64, actor shared.Actor, action string, evt shared.EventType, fn decision) (Invoice, error) {
	var (
		result Invoice
		posted *ledger.Transaction
	)
	err := s.ledger.Retry(ctx, func(ctx context.Context) error {
		posted = nil
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			now := s.now().UTC()
			inv, err := tx.LockByID(ctx, id)
			if err != nil {
				return err
			}
			if inv.Lease().HeldByOther(actor.ID, now, s.leaseTTL) {
				return fmt.Errorf("invoices: invoice %d reviewed by %d: %w", id, *inv.CurrentReviewer, shared.ErrLeaseHeld)
			}
			if result, posted, err = fn(ctx, tx, inv, now); err != nil {
				return err
			}
			result.CurrentReviewer, result.ReviewStartedAt, result.LastReviewPing = nil, nil, nil
			return tx.ClearLease(ctx, id)
		})
	})
	if err != nil {
		return Invoice{}, err
	}
	if posted != nil {
		s.ledger.Committed(ctx, *posted)
	}
	var reason string
	if posted != nil {
		reason = posted.Notes
	}
	s.after(ctx, actor, action, result, evt, reason)
	return result, nil
}

func (s *Service) transition(ctx context.Context, tx TxRepository, inv Invoice, from []Status, to Status, reason string, now time.Time) (Invoice, error) {
	if !slices.Contains(from, inv.Status) {
		return inv, fmt.Errorf("invoices: invoice %d is %s, cannot become %s: %w", inv.ID, inv.Status, to, shared.ErrInvalidTransition)
	}
	ok, err := tx.UpdateStatus(ctx, inv.ID, from, to, reason, now)
	if err != nil {
		return inv, err
	}
	if !ok {
		return inv, fmt.Errorf("invoices: invoice %d changed concurrently: %w", inv.ID, shared.ErrInvalidTransition)
	}
	inv.Status, inv.RejectionReason, inv.UpdatedAt = to, reason, now
	return inv, nil
}

// AcquireReview claims the review lease for actor.
func (s *Service) AcquireReview(ctx context.Context, id int64, actor shared.Actor) (LeaseStatus, error) {
	now := s.now().UTC()
	ok, err := s.repo.AcquireLease(ctx, id, actor.ID, now, now.Add(-s.leaseTTL))
	if err != nil {
		return LeaseStatus{}, err
	}
	if !ok {
		return LeaseStatus{}, s.leaseFailure(ctx, id)
	}
	return s.ReviewStatus(ctx, id)
}

// HeartbeatReview refreshes actor's lease.
func (s *Service) HeartbeatReview(ctx context.Context, id int64, actor shared.Actor) (LeaseStatus, error) {
	ok, err := s.repo.HeartbeatLease(ctx, id, actor.ID, s.now().UTC())
	if err != nil {
		return LeaseStatus{}, err
	}
	if !ok {
		return LeaseStatus{}, s.leaseFailure(ctx, id)
	}
	return s.ReviewStatus(ctx, id)
}

// ReleaseReview drops actor's lease. Releasing a lease actor does not hold is a no-op.
func (s *Service) ReleaseReview(ctx context.Context, id int64, actor shared.Actor) error {
	if _, err := s.repo.ReleaseLease(ctx, id, actor.ID); err != nil {
		return err
	}
	_, err := s.repo.Get(ctx, id)
	return err
}

// ReviewStatus reports the invoice's lease.
func (s *Service) ReviewStatus(ctx context.Context, id int64) (LeaseStatus, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return LeaseStatus{}, err
	}
	return StatusOf(inv, s.now().UTC(), s.leaseTTL), nil
}

func (s *Service) leaseFailure(ctx context.Context, id int64) error {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.CurrentReviewer == nil {
		return fmt.Errorf("invoices: invoice %d has no review lease: %w", id, shared.ErrLeaseHeld)
	}
	return fmt.Errorf("invoices: invoice %d reviewed by %d: %w", id, *inv.CurrentReviewer, shared.ErrLeaseHeld)
}

func (s *Service) after(ctx context.Context, actor shared.Actor, action string, inv Invoice, evt shared.EventType, reason string) {
	s.recordAudit(ctx, actor, action, inv, map[string]any{"status": inv.Status, "amount": inv.Amount.String()})
	if evt == "" {
		return
	}
	if err := s.events.Publish(ctx, shared.Event{
		ID:         uuid.NewString(),
		Type:       evt,
		UserID:     inv.UserID,
		ActorID:    actor.ID,
		EntityID:   inv.ID,
		Amount:     inv.Amount,
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	}); err != nil {
		s.logger.Warn("publish invoice event", slog.String("type", string(evt)), slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, inv Invoice, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "invoice",
		EntityID: inv.ID,
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit invoice", slog.String("action", action), slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
	}
}
