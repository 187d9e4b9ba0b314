package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/saldo-erp/saldo/internal/jobs"
	"github.com/saldo-erp/saldo/internal/ledger"
)

// LedgerVerifier re-derives balances from the transaction history.
type LedgerVerifier interface {
	VerifyAll(ctx context.Context) ([]ledger.Discrepancy, error)
}

// LedgerIntegrityJob reports users whose stored balance drifted from history.
type LedgerIntegrityJob struct {
	Ledger  LedgerVerifier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLedgerIntegrityJob initialises the integrity handler.
func NewLedgerIntegrityJob(verifier LedgerVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Ledger:  verifier,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the check. Discrepancies are logged and counted but do not
// fail the task.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	start := j.now()
	tracker := j.Metrics.Track("ledger_integrity")
	logger := j.logger()

	found, err := j.Ledger.VerifyAll(ctx)
	if err != nil {
		logger.Error("verification failed", slog.Any("error", err))
		return tracker.End(err)
	}
	for _, d := range found {
		logger.Error("ledger discrepancy",
			slog.Int64("user_id", d.UserID),
			slog.Int64("transaction_id", d.TransactionID),
			slog.String("problem", d.Problem),
		)
	}
	j.Metrics.AddIntegrityViolations(len(found))
	logger.Info("completed ledger integrity check",
		slog.Int("discrepancies", len(found)),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return tracker.End(nil)
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *LedgerIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
