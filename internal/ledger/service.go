package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/saldo-erp/saldo/internal/platform/cache"
	"github.com/saldo-erp/saldo/internal/shared"
)

const defaultMaxAttempts = 3

// Service exposes ledger reads and manual adjustments, and lets the other
// state machines retry and report the transactions they post.
type Service struct {
	repo        Repository
	cache       *cache.Versioned
	audit       shared.Auditor
	events      shared.Publisher
	metrics     *Metrics
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

// NewService constructs the ledger service. cache, audit, events and metrics
// may be nil.
func NewService(repo Repository, stats *cache.Versioned, audit shared.Auditor, events shared.Publisher, metrics *Metrics, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if events == nil {
		events = shared.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		cache:       stats,
		audit:       audit,
		events:      events,
		metrics:     metrics,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMaxAttempts sets how often a conflicting write is retried.
func (s *Service) WithMaxAttempts(n int) {
	if n > 0 {
		s.maxAttempts = n
	}
}

// Append records a manual adjustment. Every other kind is produced by the
// budget, advance and invoice state machines and is refused here.
func (s *Service) Append(ctx context.Context, in AppendInput) (Transaction, error) {
	if in.Kind != KindAdjustment {
		return Transaction{}, fmt.Errorf("%w: kind %q is system-internal", shared.ErrAuthorization, in.Kind)
	}
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	var posted Transaction
	err := s.Retry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, st Store) error {
			tx, err := Post(ctx, st, in, s.now().UTC())
			if err != nil {
				return err
			}
			posted = tx
			return nil
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	s.Committed(ctx, posted)
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "ledger.adjust",
		Entity:   "user",
		EntityID: in.UserID,
		Meta:     map[string]any{"amount": posted.Amount.String(), "transaction_id": posted.ID, "notes": in.Notes},
		At:       posted.CreatedAt,
	}); err != nil {
		s.logger.Warn("audit ledger adjustment", slog.Int64("user_id", in.UserID), slog.Any("error", err))
	}
	s.publish(ctx, shared.Event{
		Type:     shared.EventLedgerAdjusted,
		UserID:   in.UserID,
		ActorID:  in.ActorID,
		EntityID: posted.ID,
		Amount:   posted.Amount,
		Reason:   in.Notes,
	})
	return posted, nil
}

// Retry re-runs fn while it fails with shared.ErrConcurrentModification.
func (s *Service) Retry(ctx context.Context, fn func(context.Context) error) error {
	return shared.RetryOnConflict(ctx, s.maxAttempts, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, shared.ErrConcurrentModification) {
			s.metrics.conflict()
		}
		return err
	})
}

// Committed must be called once the transactions posted by a caller have
// committed. It invalidates cached stats and counts the appends.
func (s *Service) Committed(ctx context.Context, txs ...Transaction) {
	if len(txs) == 0 {
		return
	}
	for _, tx := range txs {
		s.metrics.appended(tx.Kind)
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump ledger stats cache", slog.Any("error", err))
	}
}

// Balance returns the stored balance.
func (s *Service) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.repo.Balance(ctx, userID)
}

// History returns the user's transactions, newest first.
func (s *Service) History(ctx context.Context, filter HistoryFilter) (HistoryPage, error) {
	if filter.UserID <= 0 {
		return HistoryPage{}, fmt.Errorf("%w: user id required", shared.ErrValidation)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return HistoryPage{}, fmt.Errorf("%w: date range reversed", shared.ErrValidation)
	}
	txs, total, err := s.repo.History(ctx, filter)
	if err != nil {
		return HistoryPage{}, err
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return HistoryPage{
		Transactions: txs,
		Pagination:   shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total),
	}, nil
}

// StatsForAll aggregates current balances across all users.
func (s *Service) StatsForAll(ctx context.Context) (Stats, error) {
	key, err := s.cache.BuildKey(ctx, "stats")
	if err != nil {
		s.logger.Warn("build ledger stats key", slog.Any("error", err))
		return s.repo.Stats(ctx)
	}
	var stats Stats
	err = s.cache.FetchJSON(ctx, key, &stats, func(ctx context.Context) (any, error) {
		return s.repo.Stats(ctx)
	})
	return stats, err
}

// TrustScore derives the user's reputation from budget request outcomes.
func (s *Service) TrustScore(ctx context.Context, userID int64) (TrustScore, error) {
	counts, err := s.repo.DecisionCounts(ctx, userID)
	if err != nil {
		return TrustScore{}, err
	}
	return ScoreTrust(userID, counts), nil
}

// Verify checks the sum and chain invariants for one user.
func (s *Service) Verify(ctx context.Context, userID int64) ([]Discrepancy, error) {
	balance, err := s.repo.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := s.repo.Transactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	found := Audit(userID, balance, txs)
	s.metrics.violated(len(found))
	return found, nil
}

// VerifyAll checks every user and returns all discrepancies found.
func (s *Service) VerifyAll(ctx context.Context) ([]Discrepancy, error) {
	ids, err := s.repo.UserIDs(ctx)
	if err != nil {
		return nil, err
	}
	var out []Discrepancy
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		found, err := s.Verify(ctx, id)
		if err != nil {
			return out, fmt.Errorf("ledger: verify user %d: %w", id, err)
		}
		out = append(out, found...)
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, evt shared.Event) {
	evt.ID = uuid.NewString()
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = s.now().UTC()
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish ledger event", slog.String("type", string(evt.Type)), slog.Any("error", err))
	}
}
