package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	jobmetrics "github.com/saldo-erp/saldo/internal/jobs"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Service orchestrates bulk runs.
type Service struct {
	repo      Repository
	targets   map[string]Target
	passwords shared.PasswordVerifier
	audit     shared.Auditor
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the orchestrator with the given targets.
func NewService(repo Repository, passwords shared.PasswordVerifier, audit shared.Auditor, metrics *jobmetrics.Metrics, logger *slog.Logger, targets ...Target) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Target, len(targets))
	for _, t := range targets {
		byName[t.Name()] = t
	}
	return &Service{repo: repo, targets: byName, passwords: passwords, audit: audit, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) target(name string) (Target, error) {
	t, ok := s.targets[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown bulk target %q", shared.ErrValidation, name)
	}
	return t, nil
}

// Preview captures the candidate set for criteria. Nothing is modified.
func (s *Service) Preview(ctx context.Context, target string, criteria Criteria, actor shared.Actor) (Run, error) {
	t, err := s.target(target)
	if err != nil {
		return Run{}, err
	}
	if err := criteria.Validate(); err != nil {
		return Run{}, err
	}
	candidates, err := t.Candidates(ctx, criteria)
	if err != nil {
		return Run{}, err
	}
	now := s.now().UTC()
	run := Run{
		ID:        uuid.New(),
		Target:    t.Name(),
		Criteria:  criteria,
		Phase:     PhasePreview,
		CreatedBy: actor.ID,
		Items:     make([]Item, 0, len(candidates)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, c := range candidates {
		run.Items = append(run.Items, Item{Seq: i + 1, Candidate: c, Outcome: OutcomePending})
	}
	if err := s.repo.Create(ctx, run); err != nil {
		return Run{}, err
	}
	s.logger.Info("bulk preview", slog.String("run_id", run.ID.String()), slog.String("target", run.Target), slog.Int("candidates", run.Count()))
	return run, nil
}

// Confirm re-authenticates the actor who previewed the run. A failed check
// leaves the run in preview.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor shared.Actor, password string) (Run, error) {
	run, err := s.repo.Get(ctx, id)
	if err != nil {
		return Run{}, err
	}
	if run.Phase != PhasePreview {
		return Run{}, fmt.Errorf("bulk: run %s is %s, expected %s: %w", id, run.Phase, PhasePreview, shared.ErrInvalidTransition)
	}
	if run.CreatedBy != actor.ID {
		return Run{}, fmt.Errorf("%w: run %s belongs to another actor", shared.ErrAuthorization, id)
	}
	if s.passwords == nil {
		return Run{}, fmt.Errorf("%w: re-authentication unavailable", shared.ErrAuthorization)
	}
	if err := s.passwords.VerifyPassword(ctx, actor.ID, password); err != nil {
		return Run{}, err
	}
	if err := s.advance(ctx, &run, PhasePreview, PhaseConfirmPassword, &actor.ID); err != nil {
		return Run{}, err
	}
	run.ConfirmedBy = &actor.ID
	return run, nil
}

// Execute deletes every captured candidate one at a time, then verifies.
// Execution is detached from ctx cancellation so a dropped client does not
// leave the run half processed.
func (s *Service) Execute(ctx context.Context, id uuid.UUID, actor shared.Actor) (Run, error) {
	run, err := s.repo.Get(ctx, id)
	if err != nil {
		return Run{}, err
	}
	t, err := s.target(run.Target)
	if err != nil {
		return Run{}, err
	}
	if run.Phase == PhaseConfirmPassword && (run.ConfirmedBy == nil || *run.ConfirmedBy != actor.ID) {
		return Run{}, fmt.Errorf("%w: run %s was confirmed by another actor", shared.ErrAuthorization, id)
	}
	if err := s.advance(ctx, &run, PhaseConfirmPassword, PhaseExecuting, nil); err != nil {
		return Run{}, err
	}

	ctx = context.WithoutCancel(ctx)
	tracker := s.metrics.Track("bulk_" + run.Target)
	for i := range run.Items {
		item := &run.Items[i]
		err := t.Delete(ctx, item.Candidate.EntityID, actor)
		at := s.now().UTC()
		item.ProcessedAt = &at
		if err != nil {
			item.Outcome, item.Error = OutcomeFailed, err.Error()
			s.logger.Warn("bulk item failed", slog.String("run_id", id.String()), slog.Int64("entity_id", item.Candidate.EntityID), slog.Any("error", err))
		} else {
			item.Outcome, item.Error = OutcomeSucceeded, ""
		}
		s.metrics.AddBulkItems(run.Target, string(item.Outcome), 1)
		if err := s.repo.RecordItem(ctx, id, *item); err != nil {
			s.logger.Error("bulk record item", slog.String("run_id", id.String()), slog.Int("seq", item.Seq), slog.Any("error", err))
		}
	}

	if err := s.advance(ctx, &run, PhaseExecuting, PhaseVerifying, nil); err != nil {
		return Run{}, tracker.End(err)
	}
	remaining, err := t.Candidates(ctx, run.Criteria)
	if err != nil {
		return Run{}, tracker.End(fmt.Errorf("bulk: verify run %s: %w", id, err))
	}
	v := verify(run.Items, len(remaining))
	now := s.now().UTC()
	if err := s.repo.Complete(ctx, id, v, now); err != nil {
		return Run{}, tracker.End(err)
	}
	_ = tracker.End(nil)
	run.Phase, run.Verification, run.CompletedAt, run.UpdatedAt = PhaseComplete, &v, &now, now

	s.recordAudit(ctx, actor.ID, run, v)
	if v.Warning != "" {
		s.logger.Warn("bulk run incomplete", slog.String("run_id", id.String()), slog.String("warning", v.Warning))
	}
	return run, nil
}

// Get returns a run with its item log.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Run, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) advance(ctx context.Context, run *Run, from, to Phase, actorID *int64) error {
	if run.Phase != from {
		return fmt.Errorf("bulk: run %s is %s, expected %s: %w", run.ID, run.Phase, from, shared.ErrInvalidTransition)
	}
	now := s.now().UTC()
	ok, err := s.repo.Advance(ctx, run.ID, from, to, actorID, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bulk: run %s changed concurrently: %w", run.ID, shared.ErrInvalidTransition)
	}
	run.Phase, run.UpdatedAt = to, now
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, run Run, v Verification) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID: actorID,
		Action:  "bulk.execute",
		Entity:  "bulk_run",
		Meta: map[string]any{
			"run_id":    run.ID.String(),
			"target":    run.Target,
			"processed": v.Processed,
			"succeeded": v.Succeeded,
			"failed":    v.Failed,
			"remaining": v.Remaining,
		},
		At: s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit bulk run", slog.String("run_id", run.ID.String()), slog.Any("error", err))
	}
}
