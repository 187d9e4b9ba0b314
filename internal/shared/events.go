package shared

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a domain notification.
type EventType string

const (
	EventBudgetSubmitted    EventType = "budget.submitted"
	EventBudgetApproved     EventType = "budget.approved"
	EventBudgetRejected     EventType = "budget.rejected"
	EventAdvanceTransferred EventType = "advance.transferred"
	EventAdvanceSettled     EventType = "advance.settled"
	EventAdvanceDeleted     EventType = "advance.deleted"
	EventInvoiceSubmitted   EventType = "invoice.submitted"
	EventInvoiceAccepted    EventType = "invoice.accepted"
	EventInvoiceRejected    EventType = "invoice.rejected"
	EventInvoiceDeleted     EventType = "invoice.deleted"
	EventLedgerAdjusted     EventType = "ledger.adjusted"
)

// Event is emitted after a state change commits.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	UserID     int64           `json:"user_id"`
	ActorID    int64           `json:"actor_id"`
	EntityID   int64           `json:"entity_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher delivers events to notification consumers. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher drops events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }
