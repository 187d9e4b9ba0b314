// Package invoices holds the invoice collaborator surface the money state
// machines depend on: linkage to advances and budget requests, accept/reject
// decisions guarded by the review lease, and compensating ledger entries.
package invoices

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saldo-erp/saldo/internal/shared"
)

// Status enumerates invoice states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusSettled  Status = "settled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusSettled:
		return true
	}
	return false
}

// Invoice is the subset of invoice fields the core works with.
type Invoice struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	CompanyID       int64           `json:"company_id"`
	Number          string          `json:"number"`
	Amount          decimal.Decimal `json:"amount"`
	Status          Status          `json:"status"`
	AdvanceID       *int64          `json:"advance_id,omitempty"`
	BudgetRequestID *int64          `json:"budget_request_id,omitempty"`
	CurrentReviewer *int64          `json:"current_reviewer,omitempty"`
	ReviewStartedAt *time.Time      `json:"review_started_at,omitempty"`
	LastReviewPing  *time.Time      `json:"last_review_ping,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Link returns the invoice's current link.
func (i Invoice) Link() Link {
	return Link{AdvanceID: i.AdvanceID, BudgetRequestID: i.BudgetRequestID}
}

// Lease returns the invoice's review lease.
func (i Invoice) Lease() Lease {
	return Lease{Reviewer: i.CurrentReviewer, StartedAt: i.ReviewStartedAt, LastPing: i.LastReviewPing}
}

// Link points an invoice at the advance or budget request funding it.
type Link struct {
	AdvanceID       *int64 `json:"advance_id,omitempty"`
	BudgetRequestID *int64 `json:"budget_request_id,omitempty"`
}

// ToAdvance links to an advance.
func ToAdvance(id int64) Link { return Link{AdvanceID: &id} }

// ToBudgetRequest links to a budget request.
func ToBudgetRequest(id int64) Link { return Link{BudgetRequestID: &id} }

// Validate enforces that at most one link is set and ids are positive.
func (l Link) Validate() error {
	if l.AdvanceID != nil && l.BudgetRequestID != nil {
		return fmt.Errorf("%w: invoice may link to an advance or a budget request, not both", shared.ErrValidation)
	}
	if l.AdvanceID != nil && *l.AdvanceID <= 0 {
		return fmt.Errorf("%w: advance id must be positive", shared.ErrValidation)
	}
	if l.BudgetRequestID != nil && *l.BudgetRequestID <= 0 {
		return fmt.Errorf("%w: budget request id must be positive", shared.ErrValidation)
	}
	return nil
}

// Relink rewrites the invoice's link to target. The previous link is replaced,
// never kept alongside the new one.
func Relink(inv Invoice, target Link) (Invoice, error) {
	if err := target.Validate(); err != nil {
		return inv, err
	}
	inv.AdvanceID = cloneID(target.AdvanceID)
	inv.BudgetRequestID = cloneID(target.BudgetRequestID)
	return inv, nil
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// SubmitInput creates an invoice.
type SubmitInput struct {
	UserID    int64
	CompanyID int64
	Number    string
	Amount    decimal.Decimal
	Link      Link
}

// Validate checks submit input.
func (in SubmitInput) Validate() error {
	switch {
	case in.UserID <= 0:
		return fmt.Errorf("%w: user id required", shared.ErrValidation)
	case in.CompanyID <= 0:
		return fmt.Errorf("%w: company id required", shared.ErrValidation)
	case strings.TrimSpace(in.Number) == "":
		return fmt.Errorf("%w: invoice number required", shared.ErrValidation)
	case !in.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if err := shared.CheckMoney("amount", in.Amount); err != nil {
		return err
	}
	return in.Link.Validate()
}

// Filter narrows invoice listings.
type Filter struct {
	Status      Status     `json:"status,omitempty"`
	UserID      int64      `json:"user_id,omitempty"`
	CompanyID   int64      `json:"company_id,omitempty"`
	AdvanceID   int64      `json:"advance_id,omitempty"`
	CreatedFrom *time.Time `json:"created_from,omitempty"`
	CreatedTo   *time.Time `json:"created_to,omitempty"`
}

// Matches reports whether inv satisfies f.
func (f Filter) Matches(inv Invoice) bool {
	switch {
	case f.Status != "" && inv.Status != f.Status:
		return false
	case f.UserID != 0 && inv.UserID != f.UserID:
		return false
	case f.CompanyID != 0 && inv.CompanyID != f.CompanyID:
		return false
	case f.AdvanceID != 0 && (inv.AdvanceID == nil || *inv.AdvanceID != f.AdvanceID):
		return false
	case f.CreatedFrom != nil && inv.CreatedAt.Before(*f.CreatedFrom):
		return false
	case f.CreatedTo != nil && !inv.CreatedAt.Before(*f.CreatedTo):
		return false
	}
	return true
}
