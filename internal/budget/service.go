package budget

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saldo-erp/saldo/internal/advances"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Service drives the budget request state machine.
type Service struct {
	repo   Repository
	audit  shared.Auditor
	events shared.Publisher
	logger *slog.Logger
	now    func() time.Time

	maxAttempts int
}

const defaultMaxAttempts = 3

// NewService constructs the budget request service.
func NewService(repo Repository, audit shared.Auditor, events shared.Publisher, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if events == nil {
		events = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, events: events, logger: logger, now: time.Now, maxAttempts: defaultMaxAttempts}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMaxAttempts sets how often a transaction aborted by a concurrent writer
// is retried. The retry re-reads the request status.
func (s *Service) WithMaxAttempts(n int) {
	if n > 0 {
		s.maxAttempts = n
	}
}

func (s *Service) inTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return shared.RetryOnConflict(ctx, s.maxAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, fn)
	})
}

// Create submits a pending request, snapshotting the user's balance.
func (s *Service) Create(ctx context.Context, in CreateInput) (Request, error) {
	if err := in.Validate(); err != nil {
		return Request{}, err
	}
	var created Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now().UTC()
		balance, err := tx.Ledger().Balance(ctx, in.UserID)
		if err != nil {
			return err
		}
		created, err = tx.Insert(ctx, Request{
			UserID:                  in.UserID,
			CompanyID:               in.CompanyID,
			RequestedAmount:         in.Amount,
			Justification:           strings.TrimSpace(in.Justification),
			Status:                  StatusPending,
			CurrentBalanceAtRequest: balance,
			CreatedAt:               now,
		})
		if err != nil {
			return err
		}
		return tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  ApprovalModule,
			RefID:   created.ID,
			ActorID: in.ActorID,
			Action:  shared.ApprovalSubmit,
			Note:    fmt.Sprintf("requested %s", created.RequestedAmount.StringFixed(2)),
			At:      now,
		})
	})
	if err != nil {
		return Request{}, err
	}
	s.recordAudit(ctx, in.ActorID, "budget_request.create", created.ID, map[string]any{"amount": created.RequestedAmount.String()})
	s.publish(ctx, shared.EventBudgetSubmitted, created, in.ActorID, "")
	return created, nil
}

// Approve accepts a pending request and opens its advance in the same
// transaction.
func (s *Service) Approve(ctx context.Context, id int64, actor shared.Actor) (Decision, error) {
	var decision Decision
	err := s.inTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now().UTC()
		req, err := s.decide(ctx, tx, id, StatusApproved, actor, "", now)
		if err != nil {
			return err
		}
		adv, err := advances.Open(ctx, tx.Advances(), advances.CreateInput{
			UserID:      req.UserID,
			CompanyID:   req.CompanyID,
			Amount:      req.RequestedAmount,
			Description: req.Justification,
			SourceType:  advances.SourceBudgetRequest,
			SourceID:    &req.ID,
			ActorID:     actor.ID,
		}, now)
		if err != nil {
			return err
		}
		req.AdvanceID = &adv.ID
		decision = Decision{Request: req, Advance: &adv}
		return tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  ApprovalModule,
			RefID:   req.ID,
			ActorID: actor.ID,
			Action:  shared.ApprovalApprove,
			Note:    fmt.Sprintf("advance %d opened", adv.ID),
			At:      now,
		})
	})
	if err != nil {
		return Decision{}, err
	}
	s.recordAudit(ctx, actor.ID, "budget_request.approve", id, map[string]any{"advance_id": decision.Advance.ID})
	s.publish(ctx, shared.EventBudgetApproved, decision.Request, actor.ID, "")
	return decision, nil
}

// Reject closes a pending request with a reason.
func (s *Service) Reject(ctx context.Context, id int64, actor shared.Actor, reason string) (Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Request{}, fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
	}
	var rejected Request
	err := s.inTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now().UTC()
		req, err := s.decide(ctx, tx, id, StatusRejected, actor, reason, now)
		if err != nil {
			return err
		}
		rejected = req
		return tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  ApprovalModule,
			RefID:   req.ID,
			ActorID: actor.ID,
			Action:  shared.ApprovalReject,
			Note:    reason,
			At:      now,
		})
	})
	if err != nil {
		return Request{}, err
	}
	s.recordAudit(ctx, actor.ID, "budget_request.reject", id, map[string]any{"reason": reason})
	s.publish(ctx, shared.EventBudgetRejected, rejected, actor.ID, reason)
	return rejected, nil
}

func (s *Service) decide(ctx context.Context, tx TxRepository, id int64, to Status, actor shared.Actor, reason string, now time.Time) (Request, error) {
	req, err := tx.LockByID(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req.Status != StatusPending {
		return Request{}, fmt.Errorf("budget: request %d is %s, only pending can be decided: %w", id, req.Status, shared.ErrInvalidTransition)
	}
	ok, err := tx.Decide(ctx, id, to, actor.ID, reason, now)
	if err != nil {
		return Request{}, err
	}
	if !ok {
		return Request{}, fmt.Errorf("budget: request %d changed concurrently: %w", id, shared.ErrInvalidTransition)
	}
	req.Status, req.ReviewedBy, req.ReviewedAt, req.RejectionReason, req.UpdatedAt = to, &actor.ID, &now, reason, now
	return req, nil
}

// Delete removes a pending or rejected request.
func (s *Service) Delete(ctx context.Context, id int64, actor shared.Actor) error {
	err := s.inTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if !req.Status.Deletable() {
			return fmt.Errorf("budget: request %d is %s and backs an advance: %w", id, req.Status, shared.ErrInvalidTransition)
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor.ID, "budget_request.delete", id, nil)
	return nil
}

// Get returns a single request.
func (s *Service) Get(ctx context.Context, id int64) (Request, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of requests.
func (s *Service) List(ctx context.Context, filter Filter) (Page, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return Page{}, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
	}
	list, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	if list == nil {
		list = []Request{}
	}
	return Page{Requests: list, Pagination: shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total)}, nil
}

// ListByUser returns the user's requests, newest first.
func (s *Service) ListByUser(ctx context.Context, userID int64, page shared.PageRequest) (Page, error) {
	return s.List(ctx, Filter{UserID: userID, Page: page})
}

// ListPending returns requests awaiting a decision.
func (s *Service) ListPending(ctx context.Context, page shared.PageRequest) (Page, error) {
	return s.List(ctx, Filter{Status: StatusPending, Page: page})
}

// History returns the submit and decision trail of a request.
func (s *Service) History(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	logs, err := s.repo.Approvals(ctx, id)
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	return logs, err
}

func (s *Service) publish(ctx context.Context, typ shared.EventType, req Request, actorID int64, reason string) {
	err := s.events.Publish(ctx, shared.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		UserID:     req.UserID,
		ActorID:    actorID,
		EntityID:   req.ID,
		Amount:     req.RequestedAmount,
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("publish budget request event", slog.String("type", string(typ)), slog.Int64("request_id", req.ID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "budget_request",
		EntityID: id,
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit budget request", slog.String("action", action), slog.Int64("request_id", id), slog.Any("error", err))
	}
}
