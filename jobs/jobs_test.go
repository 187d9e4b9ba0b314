package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/saldo-erp/saldo/internal/jobs"
	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/shared"
)

type fakeQueue struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	q.opts = append(q.opts, opts)
	return &asynq.TaskInfo{ID: "t1", Queue: QueueDefault}, nil
}

type recordingNotifier struct {
	got []Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, n)
	return nil
}

type stubVerifier struct {
	found []ledger.Discrepancy
	err   error
}

func (s stubVerifier) VerifyAll(context.Context) ([]ledger.Discrepancy, error) {
	return s.found, s.err
}

func sampleEvent() shared.Event {
	return shared.Event{
		ID:         "evt-1",
		Type:       shared.EventAdvanceTransferred,
		UserID:     7,
		ActorID:    3,
		EntityID:   12,
		Amount:     decimal.RequireFromString("1234.5"),
		OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPublisherEnqueuesEvent(t *testing.T) {
	q := &fakeQueue{}
	p := &Publisher{client: q, logger: slogDiscard()}

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, q.tasks, 1)
	require.Equal(t, TaskEventNotify, q.tasks[0].Type())
	require.Len(t, q.opts[0], 1)

	var decoded shared.Event
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &decoded))
	require.Equal(t, int64(12), decoded.EntityID)
	require.True(t, decoded.Amount.Equal(decimal.RequireFromString("1234.5")))
}

func TestPublisherTreatsDuplicateAsDelivered(t *testing.T) {
	p := &Publisher{client: &fakeQueue{err: asynq.ErrTaskIDConflict}, logger: slogDiscard()}
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))

	p = &Publisher{client: &fakeQueue{err: errors.New("redis down")}, logger: slogDiscard()}
	require.Error(t, p.Publish(context.Background(), sampleEvent()))
}

func TestSummaryUsesLocale(t *testing.T) {
	en := NewSummarizer("en", "PLN").Summary(sampleEvent())
	require.Contains(t, en, "1,234.50 PLN")
	require.Contains(t, en, "#12")

	pl := NewSummarizer("pl", "PLN").Summary(sampleEvent())
	require.Contains(t, pl, "234,50 PLN")

	rejected := sampleEvent()
	rejected.Type = shared.EventBudgetRejected
	rejected.Reason = "no receipts"
	require.Contains(t, NewSummarizer("en", "PLN").Summary(rejected), "no receipts")
}

func TestNotifyJob(t *testing.T) {
	notifier := &recordingNotifier{}
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := &NotifyJob{Notifier: notifier, Summarizer: NewSummarizer("en", "PLN"), Metrics: metrics}

	task, err := NewEventTask(sampleEvent())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, notifier.got, 1)
	require.Equal(t, int64(7), notifier.got[0].UserID)
	require.Equal(t, shared.EventAdvanceTransferred, notifier.got[0].Type)

	err = job.Handle(context.Background(), asynq.NewTask(TaskEventNotify, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	notifier.err = errors.New("smtp unavailable")
	require.Error(t, job.Handle(context.Background(), task))
	require.Equal(t, float64(1), counterValue(t, reg, "saldo_jobs_failures_total", "event_notify"))
}

func TestLedgerIntegrityJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewLedgerIntegrityJob(stubVerifier{found: []ledger.Discrepancy{
		{UserID: 4, Problem: "stored balance 10 differs from history 0"},
		{UserID: 5, TransactionID: 9, Problem: "balance_after does not chain"},
	}}, slogDiscard(), metrics)

	task, err := NewLedgerIntegrityTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, float64(2), counterValue(t, reg, "saldo_ledger_integrity_violations_total", ""))
	require.Equal(t, float64(1), counterValue(t, reg, "saldo_jobs_total", "ledger_integrity"))

	failing := NewLedgerIntegrityJob(stubVerifier{err: errors.New("db gone")}, slogDiscard(), metrics)
	require.Error(t, failing.Handle(context.Background(), task))

	var unset *LedgerIntegrityJob
	require.Error(t, unset.Handle(context.Background(), task))
}

func TestQueueHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, slogDiscard()).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body queueHealth
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, QueueDefault, body.Queue)
}
