package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	jobmetrics "github.com/saldo-erp/saldo/internal/jobs"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Notification is what the delivery collaborator receives for one event.
type Notification struct {
	UserID  int64            `json:"user_id"`
	Type    shared.EventType `json:"type"`
	Summary string           `json:"summary"`
	Event   shared.Event     `json:"event"`
}

// Notifier hands notifications to whatever delivers them to users.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. It is the worker default
// until a delivery channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		slog.Int64("user_id", n.UserID),
		slog.String("type", string(n.Type)),
		slog.String("summary", n.Summary),
	)
	return nil
}

// Summarizer renders short event summaries with locale-aware amounts.
type Summarizer struct {
	printer  *message.Printer
	currency string
}

// NewSummarizer builds a summarizer for the BCP 47 locale tag. Unknown tags
// fall back to the root locale.
func NewSummarizer(locale, currency string) *Summarizer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	return &Summarizer{printer: message.NewPrinter(tag), currency: currency}
}

// Summary formats evt for display.
func (s *Summarizer) Summary(evt shared.Event) string {
	amount := s.printer.Sprintf("%.2f %s", evt.Amount.InexactFloat64(), s.currency)
	switch evt.Type {
	case shared.EventBudgetSubmitted:
		return fmt.Sprintf("Budget request #%d for %s submitted", evt.EntityID, amount)
	case shared.EventBudgetApproved:
		return fmt.Sprintf("Budget request #%d for %s approved", evt.EntityID, amount)
	case shared.EventBudgetRejected:
		return fmt.Sprintf("Budget request #%d for %s rejected: %s", evt.EntityID, amount, evt.Reason)
	case shared.EventAdvanceTransferred:
		return fmt.Sprintf("Advance #%d of %s transferred to your balance", evt.EntityID, amount)
	case shared.EventAdvanceSettled:
		return fmt.Sprintf("Advance #%d of %s settled", evt.EntityID, amount)
	case shared.EventAdvanceDeleted:
		return fmt.Sprintf("Advance #%d of %s deleted", evt.EntityID, amount)
	case shared.EventInvoiceAccepted:
		return fmt.Sprintf("Invoice #%d for %s accepted", evt.EntityID, amount)
	case shared.EventInvoiceRejected:
		return fmt.Sprintf("Invoice #%d for %s rejected: %s", evt.EntityID, amount, evt.Reason)
	default:
		return fmt.Sprintf("%s #%d: %s", evt.Type, evt.EntityID, amount)
	}
}

// NotifyJob turns queued events into notifications.
type NotifyJob struct {
	Notifier   Notifier
	Summarizer *Summarizer
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// Handle processes TaskEventNotify tasks.
func (j *NotifyJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Notifier == nil {
		return errors.New("notify: handler not configured")
	}
	var evt shared.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return fmt.Errorf("decode event: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track("event_notify")
	defer func() { err = tracker.End(err) }()

	summarizer := j.Summarizer
	if summarizer == nil {
		summarizer = NewSummarizer("en", "")
	}
	n := Notification{
		UserID:  evt.UserID,
		Type:    evt.Type,
		Summary: summarizer.Summary(evt),
		Event:   evt,
	}
	if err := j.Notifier.Notify(ctx, n); err != nil {
		j.logger().Warn("notify failed",
			slog.String("type", string(evt.Type)),
			slog.Int64("user_id", evt.UserID),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

func (j *NotifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskEventNotify))
	}
	return slog.Default().With(slog.String("job", TaskEventNotify))
}
