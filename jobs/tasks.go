package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/saldo-erp/saldo/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries integrity checks ahead of notifications.
	QueueCritical = "critical"

	// TaskEventNotify delivers a committed domain event to the notifier.
	TaskEventNotify = "saldo:event:notify"
	// TaskLedgerIntegrity re-derives every balance from its history.
	TaskLedgerIntegrity = "saldo:ledger:integrity"
)

// LedgerIntegrityPayload carries scheduling metadata.
type LedgerIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewEventTask wraps a domain event in an Asynq task.
func NewEventTask(evt shared.Event) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEventNotify, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewLedgerIntegrityTask constructs the scheduled integrity check task.
func NewLedgerIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueCritical), asynq.MaxRetry(1)), nil
}
