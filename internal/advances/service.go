package advances

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saldo-erp/saldo/internal/invoices"
	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Service drives the advance state machine.
type Service struct {
	repo      Repository
	ledger    ledger.Hooks
	passwords shared.PasswordVerifier
	audit     shared.Auditor
	events    shared.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the advance service.
func NewService(repo Repository, hooks ledger.Hooks, passwords shared.PasswordVerifier, audit shared.Auditor, events shared.Publisher, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if events == nil {
		events = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: hooks, passwords: passwords, audit: audit, events: events, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Open inserts a pending advance inside tx. Budget request approval uses it to
// create the advance in the same transaction as the status change.
func Open(ctx context.Context, tx TxRepository, in CreateInput, now time.Time) (Advance, error) {
	if err := in.Validate(); err != nil {
		return Advance{}, err
	}
	return tx.Insert(ctx, Advance{
		UserID:      in.UserID,
		CompanyID:   in.CompanyID,
		Amount:      in.Amount,
		Status:      StatusPending,
		SourceType:  in.SourceType,
		SourceID:    in.SourceID,
		Description: strings.TrimSpace(in.Description),
		CreatedBy:   in.ActorID,
		CreatedAt:   now,
	})
}

// Create opens a manual advance.
func (s *Service) Create(ctx context.Context, in CreateInput) (Advance, error) {
	in.SourceType = SourceManual
	if err := in.Validate(); err != nil {
		return Advance{}, err
	}
	var created Advance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		adv, err := Open(ctx, tx, in, s.now().UTC())
		created = adv
		return err
	})
	if err != nil {
		return Advance{}, err
	}
	s.recordAudit(ctx, in.ActorID, "advance.create", created.ID, map[string]any{"amount": created.Amount.String(), "user_id": created.UserID})
	return created, nil
}

// Get returns a single advance.
func (s *Service) Get(ctx context.Context, id int64) (Advance, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of advances.
func (s *Service) List(ctx context.Context, filter Filter) (Page, error) {
	list, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	if list == nil {
		list = []Advance{}
	}
	return Page{Advances: list, Pagination: shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total)}, nil
}

// Transfer confirms the money went out and credits the user's balance.
func (s *Service) Transfer(ctx context.Context, id int64, actor shared.Actor, transferNumber string) (Advance, error) {
	var (
		result Advance
		credit ledger.Transaction
	)
	err := s.ledger.Retry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			now := s.now().UTC()
			adv, err := tx.LockByID(ctx, id)
			if err != nil {
				return err
			}
			if adv.Status != StatusPending {
				return fmt.Errorf("advances: advance %d is %s, only pending can be transferred: %w", id, adv.Status, shared.ErrInvalidTransition)
			}
			number := strings.TrimSpace(transferNumber)
			ok, err := tx.MarkTransferred(ctx, id, number, now, actor.ID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("advances: advance %d changed concurrently: %w", id, shared.ErrInvalidTransition)
			}
			credit, err = ledger.Post(ctx, tx.Ledger(), ledger.AppendInput{
				UserID:      adv.UserID,
				Amount:      adv.Amount,
				Kind:        ledger.KindAdvanceCredit,
				ReferenceID: ledger.Ref(adv.ID),
				Notes:       fmt.Sprintf("advance %d transferred", adv.ID),
				ActorID:     actor.ID,
			}, now)
			if err != nil {
				return err
			}
			adv.Status, adv.TransferNumber, adv.TransferDate, adv.TransferConfirmedBy, adv.UpdatedAt = StatusTransferred, number, &now, &actor.ID, now
			result = adv
			return nil
		})
	})
	if err != nil {
		return Advance{}, err
	}
	s.ledger.Committed(ctx, credit)
	s.recordAudit(ctx, actor.ID, "advance.transfer", id, map[string]any{"transaction_id": credit.ID, "transfer_number": result.TransferNumber})
	s.publish(ctx, shared.EventAdvanceTransferred, result, actor.ID, "")
	return result, nil
}

// Settle closes a transferred advance and settles its accepted invoices.
// Settlement moves no money.
func (s *Service) Settle(ctx context.Context, id int64, actor shared.Actor) (Advance, int64, error) {
	var (
		result  Advance
		settled int64
	)
	err := s.ledger.Retry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			now := s.now().UTC()
			adv, err := tx.LockByID(ctx, id)
			if err != nil {
				return err
			}
			if adv.Status != StatusTransferred {
				return fmt.Errorf("advances: advance %d is %s, only transferred can be settled: %w", id, adv.Status, shared.ErrInvalidTransition)
			}
			ok, err := tx.MarkSettled(ctx, id, now, actor.ID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("advances: advance %d changed concurrently: %w", id, shared.ErrInvalidTransition)
			}
			if settled, err = tx.Invoices().SettleAccepted(ctx, id, now); err != nil {
				return err
			}
			adv.Status, adv.SettledAt, adv.SettledBy, adv.UpdatedAt = StatusSettled, &now, &actor.ID, now
			result = adv
			return nil
		})
	})
	if err != nil {
		return Advance{}, 0, err
	}
	s.recordAudit(ctx, actor.ID, "advance.settle", id, map[string]any{"settled_invoices": settled})
	s.publish(ctx, shared.EventAdvanceSettled, result, actor.ID, "")
	return result, settled, nil
}

// LinkedInvoices lists invoices currently pointing at the advance.
func (s *Service) LinkedInvoices(ctx context.Context, id int64) ([]invoices.Invoice, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	linked, err := s.repo.LinkedInvoices(ctx, id)
	if linked == nil {
		linked = []invoices.Invoice{}
	}
	return linked, err
}

// Delete removes an advance after re-authenticating the actor. Linked
// invoices are deleted or re-pointed per the strategy, and a funded advance
// is reversed out of the owner's balance, all in one transaction.
func (s *Service) Delete(ctx context.Context, req DeleteRequest) (DeleteResult, error) {
	if err := req.Validate(); err != nil {
		return DeleteResult{}, err
	}
	if s.passwords == nil {
		return DeleteResult{}, fmt.Errorf("%w: re-authentication unavailable", shared.ErrAuthorization)
	}
	if err := s.passwords.VerifyPassword(ctx, req.ActorID, req.Password); err != nil {
		return DeleteResult{}, err
	}

	var (
		result  DeleteResult
		deleted Advance
	)
	err := s.ledger.Retry(ctx, func(ctx context.Context) error {
		result = DeleteResult{AdvanceID: req.AdvanceID, Strategy: req.Strategy, DeletedInvoices: []int64{}, ReassignedInvoices: []int64{}}
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			now := s.now().UTC()
			adv, err := tx.LockByID(ctx, req.AdvanceID)
			if err != nil {
				return err
			}
			linked, err := tx.Invoices().LockLinkedTo(ctx, adv.ID)
			if err != nil {
				return err
			}
			switch req.Strategy {
			case DeleteWithInvoices:
				err = s.deleteInvoices(ctx, tx, linked, req.ActorID, now, &result)
			case ReassignInvoices:
				err = s.reassignInvoices(ctx, tx, adv, linked, req.TargetAdvanceID, now, &result)
			}
			if err != nil {
				return err
			}
			if adv.Status.Funded() {
				reversal, err := ledger.Post(ctx, tx.Ledger(), ledger.AppendInput{
					UserID:      adv.UserID,
					Amount:      adv.Amount.Neg(),
					Kind:        ledger.KindAdjustment,
					ReferenceID: ledger.Ref(adv.ID),
					Notes:       fmt.Sprintf("reversal of deleted %s advance %d", adv.Status, adv.ID),
					ActorID:     req.ActorID,
				}, now)
				if err != nil {
					return err
				}
				result.Postings = append(result.Postings, reversal)
			}
			deleted = adv
			return tx.Delete(ctx, adv.ID)
		})
	})
	if err != nil {
		return DeleteResult{}, err
	}
	s.ledger.Committed(ctx, result.Postings...)
	s.recordAudit(ctx, req.ActorID, "advance.delete", req.AdvanceID, map[string]any{
		"strategy":            req.Strategy,
		"target_advance_id":   req.TargetAdvanceID,
		"deleted_invoices":    result.DeletedInvoices,
		"reassigned_invoices": result.ReassignedInvoices,
	})
	s.publish(ctx, shared.EventAdvanceDeleted, deleted, req.ActorID, string(req.Strategy))
	return result, nil
}

func (s *Service) deleteInvoices(ctx context.Context, tx TxRepository, linked []invoices.Invoice, actorID int64, now time.Time, result *DeleteResult) error {
	for _, inv := range linked {
		refund, err := invoices.Remove(ctx, tx.Invoices(), inv, actorID, now)
		if err != nil {
			return err
		}
		if refund != nil {
			result.Postings = append(result.Postings, *refund)
		}
		result.DeletedInvoices = append(result.DeletedInvoices, inv.ID)
	}
	return nil
}

func (s *Service) reassignInvoices(ctx context.Context, tx TxRepository, adv Advance, linked []invoices.Invoice, targetID *int64, now time.Time, result *DeleteResult) error {
	if targetID == nil {
		if len(linked) > 0 {
			return fmt.Errorf("%w: advance %d has %d linked invoices, target advance required", shared.ErrValidation, adv.ID, len(linked))
		}
		return nil
	}
	target, err := tx.LockByID(ctx, *targetID)
	if err != nil {
		return fmt.Errorf("%w: target advance %d: %v", shared.ErrValidation, *targetID, err)
	}
	result.TargetAdvanceID = &target.ID
	for _, inv := range linked {
		if _, err := invoices.Reassign(ctx, tx.Invoices(), inv, invoices.ToAdvance(target.ID), now); err != nil {
			return err
		}
		result.ReassignedInvoices = append(result.ReassignedInvoices, inv.ID)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ shared.EventType, adv Advance, actorID int64, reason string) {
	err := s.events.Publish(ctx, shared.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		UserID:     adv.UserID,
		ActorID:    actorID,
		EntityID:   adv.ID,
		Amount:     adv.Amount,
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("publish advance event", slog.String("type", string(typ)), slog.Int64("advance_id", adv.ID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "advance",
		EntityID: id,
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit advance", slog.String("action", action), slog.Int64("advance_id", id), slog.Any("error", err))
	}
}
