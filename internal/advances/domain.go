// Package advances implements the advance lifecycle: pending, transferred,
// settled. Transfer is the single point where an advance credits the ledger.
package advances

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Status enumerates advance states.
type Status string

const (
	StatusPending     Status = "pending"
	StatusTransferred Status = "transferred"
	StatusSettled     Status = "settled"
)

// Stage orders statuses along the lifecycle.
func (s Status) Stage() int {
	switch s {
	case StatusPending:
		return 0
	case StatusTransferred:
		return 1
	case StatusSettled:
		return 2
	}
	return -1
}

// Funded reports whether the advance has credited the ledger.
func (s Status) Funded() bool {
	return s == StatusTransferred || s == StatusSettled
}

// SourceType records how an advance came to exist.
type SourceType string

const (
	SourceBudgetRequest SourceType = "budget_request"
	SourceManual        SourceType = "manual"
)

// Advance is money pushed to a user ahead of invoice settlement.
type Advance struct {
	ID                  int64           `json:"id"`
	UserID              int64           `json:"user_id"`
	CompanyID           int64           `json:"company_id"`
	Amount              decimal.Decimal `json:"amount"`
	Status              Status          `json:"status"`
	SourceType          SourceType      `json:"source_type"`
	SourceID            *int64          `json:"source_id,omitempty"`
	Description         string          `json:"description"`
	TransferNumber      string          `json:"transfer_number,omitempty"`
	TransferDate        *time.Time      `json:"transfer_date,omitempty"`
	TransferConfirmedBy *int64          `json:"transfer_confirmed_by,omitempty"`
	SettledAt           *time.Time      `json:"settled_at,omitempty"`
	SettledBy           *int64          `json:"settled_by,omitempty"`
	CreatedBy           int64           `json:"created_by"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// CreateInput opens a new pending advance.
type CreateInput struct {
	UserID      int64
	CompanyID   int64
	Amount      decimal.Decimal
	Description string
	SourceType  SourceType
	SourceID    *int64
	ActorID     int64
}

// Validate checks create input.
func (in CreateInput) Validate() error {
	switch {
	case in.UserID <= 0:
		return fmt.Errorf("%w: user id required", shared.ErrValidation)
	case in.CompanyID <= 0:
		return fmt.Errorf("%w: company id required", shared.ErrValidation)
	case !in.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	case in.ActorID <= 0:
		return fmt.Errorf("%w: actor required", shared.ErrValidation)
	}
	if err := shared.CheckMoney("amount", in.Amount); err != nil {
		return err
	}
	switch in.SourceType {
	case SourceManual:
		if in.SourceID != nil {
			return fmt.Errorf("%w: manual advance has no source", shared.ErrValidation)
		}
		if strings.TrimSpace(in.Description) == "" {
			return fmt.Errorf("%w: description required", shared.ErrValidation)
		}
	case SourceBudgetRequest:
		if in.SourceID == nil {
			return fmt.Errorf("%w: budget request source id required", shared.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown source type %q", shared.ErrValidation, in.SourceType)
	}
	return nil
}

// DeleteStrategy decides what happens to invoices linked to a deleted advance.
type DeleteStrategy string

const (
	DeleteWithInvoices DeleteStrategy = "delete_with_invoices"
	ReassignInvoices   DeleteStrategy = "reassign_invoices"
)

// DeleteRequest is the complete, server-validated deletion order.
type DeleteRequest struct {
	AdvanceID       int64          `json:"advance_id"`
	ActorID         int64          `json:"actor_id"`
	Password        string         `json:"-"`
	Strategy        DeleteStrategy `json:"strategy"`
	TargetAdvanceID *int64         `json:"target_advance_id,omitempty"`
}

// Validate checks the request shape. Whether a target is needed depends on
// linked invoices and is checked when the advance is locked.
func (r DeleteRequest) Validate() error {
	switch {
	case r.AdvanceID <= 0:
		return fmt.Errorf("%w: advance id required", shared.ErrValidation)
	case r.ActorID <= 0:
		return fmt.Errorf("%w: actor required", shared.ErrValidation)
	case r.Password == "":
		return fmt.Errorf("%w: password required", shared.ErrAuthorization)
	}
	switch r.Strategy {
	case DeleteWithInvoices:
		if r.TargetAdvanceID != nil {
			return fmt.Errorf("%w: %s takes no target advance", shared.ErrValidation, r.Strategy)
		}
	case ReassignInvoices:
		if r.TargetAdvanceID != nil && *r.TargetAdvanceID == r.AdvanceID {
			return fmt.Errorf("%w: target advance must differ from the deleted advance", shared.ErrValidation)
		}
		if r.TargetAdvanceID != nil && *r.TargetAdvanceID <= 0 {
			return fmt.Errorf("%w: target advance id must be positive", shared.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown strategy %q", shared.ErrValidation, r.Strategy)
	}
	return nil
}

// DeleteResult reports what a deletion did.
type DeleteResult struct {
	AdvanceID          int64                `json:"advance_id"`
	Strategy           DeleteStrategy       `json:"strategy"`
	TargetAdvanceID    *int64               `json:"target_advance_id,omitempty"`
	DeletedInvoices    []int64              `json:"deleted_invoices"`
	ReassignedInvoices []int64              `json:"reassigned_invoices"`
	Postings           []ledger.Transaction `json:"postings"`
}

// Filter narrows advance listings.
type Filter struct {
	Status    Status
	UserID    int64
	CompanyID int64
	Page      shared.PageRequest
}

// Page is a page of advances.
type Page struct {
	Advances   []Advance         `json:"advances"`
	Pagination shared.Pagination `json:"pagination"`
}
