// Package bulk runs destructive operations over a filtered candidate set.
//
// A run walks idle -> preview -> confirm_password -> executing -> verifying
// -> complete. Items are processed one at a time, each outcome is persisted,
// and a final verification re-runs the filter so a partially applied run is
// visible. Nothing is rolled back when an item fails.
package bulk

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/saldo-erp/saldo/internal/shared"
)

// Phase is the position of a run in its lifecycle.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhasePreview         Phase = "preview"
	PhaseConfirmPassword Phase = "confirm_password"
	PhaseExecuting       Phase = "executing"
	PhaseVerifying       Phase = "verifying"
	PhaseComplete        Phase = "complete"
)

// Stage orders phases.
func (p Phase) Stage() int {
	switch p {
	case PhaseIdle:
		return 0
	case PhasePreview:
		return 1
	case PhaseConfirmPassword:
		return 2
	case PhaseExecuting:
		return 3
	case PhaseVerifying:
		return 4
	case PhaseComplete:
		return 5
	}
	return -1
}

// Outcome is the result of processing one item.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Criteria selects candidates. Fields a target does not support must be zero.
type Criteria struct {
	Status      string     `json:"status,omitempty"`
	UserID      int64      `json:"user_id,omitempty"`
	CompanyID   int64      `json:"company_id,omitempty"`
	AdvanceID   int64      `json:"advance_id,omitempty"`
	CreatedFrom *time.Time `json:"created_from,omitempty"`
	CreatedTo   *time.Time `json:"created_to,omitempty"`
}

// Validate checks the date range.
func (c Criteria) Validate() error {
	if c.CreatedFrom != nil && c.CreatedTo != nil && !c.CreatedFrom.Before(*c.CreatedTo) {
		return fmt.Errorf("%w: created_from must be before created_to", shared.ErrValidation)
	}
	if c.UserID < 0 || c.CompanyID < 0 || c.AdvanceID < 0 {
		return fmt.Errorf("%w: ids must be positive", shared.ErrValidation)
	}
	return nil
}

// Candidate is an entity the run would act on.
type Candidate struct {
	EntityID int64           `json:"entity_id"`
	UserID   int64           `json:"user_id"`
	Label    string          `json:"label"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
}

// Item is a candidate with its processing outcome.
type Item struct {
	Seq         int        `json:"seq"`
	Candidate   Candidate  `json:"candidate"`
	Outcome     Outcome    `json:"outcome"`
	Error       string     `json:"error,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Verification summarises a finished run.
type Verification struct {
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Remaining int    `json:"remaining"`
	Warning   string `json:"warning,omitempty"`
}

// Run is a persisted bulk operation.
type Run struct {
	ID           uuid.UUID     `json:"id"`
	Target       string        `json:"target"`
	Criteria     Criteria      `json:"criteria"`
	Phase        Phase         `json:"phase"`
	CreatedBy    int64         `json:"created_by"`
	ConfirmedBy  *int64        `json:"confirmed_by,omitempty"`
	Items        []Item        `json:"items"`
	Verification *Verification `json:"verification,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Count is the number of candidates captured at preview.
func (r Run) Count() int { return len(r.Items) }

func verify(items []Item, remaining int) Verification {
	v := Verification{Remaining: remaining}
	for _, it := range items {
		switch it.Outcome {
		case OutcomeSucceeded:
			v.Processed++
			v.Succeeded++
		case OutcomeFailed:
			v.Processed++
			v.Failed++
		}
	}
	switch {
	case v.Failed > 0 && remaining > 0:
		v.Warning = fmt.Sprintf("%d of %d items failed; %d still match the criteria", v.Failed, v.Processed, remaining)
	case v.Failed > 0:
		v.Warning = fmt.Sprintf("%d of %d items failed", v.Failed, v.Processed)
	case remaining > 0:
		v.Warning = fmt.Sprintf("%d items still match the criteria", remaining)
	}
	return v
}
