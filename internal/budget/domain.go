// Package budget implements budget requests: a user asks for money, staff
// approve or reject, and approval opens a pending advance. Approval itself
// never touches the ledger.
package budget

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/saldo-erp/saldo/internal/advances"
	"github.com/saldo-erp/saldo/internal/shared"
)

// ApprovalModule tags budget request entries in the approval history.
const ApprovalModule = "budget_request"

// MinJustification is the shortest accepted justification, in characters.
const MinJustification = 5

// Status enumerates budget request states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Deletable reports whether a request in s may be removed. Approved requests
// are history behind an advance.
func (s Status) Deletable() bool {
	return s == StatusPending || s == StatusRejected
}

// Request is a user's ask for an advance.
type Request struct {
	ID                      int64           `json:"id"`
	UserID                  int64           `json:"user_id"`
	CompanyID               int64           `json:"company_id"`
	RequestedAmount         decimal.Decimal `json:"requested_amount"`
	Justification           string          `json:"justification"`
	Status                  Status          `json:"status"`
	CurrentBalanceAtRequest decimal.Decimal `json:"current_balance_at_request"`
	ReviewedBy              *int64          `json:"reviewed_by,omitempty"`
	ReviewedAt              *time.Time      `json:"reviewed_at,omitempty"`
	RejectionReason         string          `json:"rejection_reason,omitempty"`
	AdvanceID               *int64          `json:"advance_id,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// CreateInput submits a new request.
type CreateInput struct {
	UserID        int64
	CompanyID     int64
	Amount        decimal.Decimal
	Justification string
	ActorID       int64
}

// Validate checks create input.
func (in CreateInput) Validate() error {
	switch {
	case in.UserID <= 0:
		return fmt.Errorf("%w: user id required", shared.ErrValidation)
	case in.CompanyID <= 0:
		return fmt.Errorf("%w: company id required", shared.ErrValidation)
	case !in.Amount.IsPositive():
		return fmt.Errorf("%w: requested amount must be positive", shared.ErrValidation)
	case utf8.RuneCountInString(strings.TrimSpace(in.Justification)) < MinJustification:
		return fmt.Errorf("%w: justification needs at least %d characters", shared.ErrValidation, MinJustification)
	}
	return shared.CheckMoney("requested amount", in.Amount)
}

// Decision is the outcome of an approval.
type Decision struct {
	Request Request           `json:"request"`
	Advance *advances.Advance `json:"advance,omitempty"`
}

// Filter narrows request listings.
type Filter struct {
	Status      Status
	UserID      int64
	CompanyID   int64
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Page        shared.PageRequest
}

// Matches reports whether req satisfies the filter, ignoring paging.
func (f Filter) Matches(req Request) bool {
	switch {
	case f.Status != "" && req.Status != f.Status:
		return false
	case f.UserID != 0 && req.UserID != f.UserID:
		return false
	case f.CompanyID != 0 && req.CompanyID != f.CompanyID:
		return false
	case f.CreatedFrom != nil && req.CreatedAt.Before(*f.CreatedFrom):
		return false
	case f.CreatedTo != nil && !req.CreatedAt.Before(*f.CreatedTo):
		return false
	}
	return true
}

// Page is a page of requests.
type Page struct {
	Requests   []Request         `json:"requests"`
	Pagination shared.Pagination `json:"pagination"`
}
