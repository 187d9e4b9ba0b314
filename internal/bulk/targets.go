package bulk

import (
	"context"
	"fmt"

	"github.com/saldo-erp/saldo/internal/budget"
	"github.com/saldo-erp/saldo/internal/invoices"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Target is an entity kind a run can delete.
type Target interface {
	Name() string
	// Candidates lists entities matching c without changing anything.
	Candidates(ctx context.Context, c Criteria) ([]Candidate, error)
	// Delete removes one entity through its normal deletion path.
	Delete(ctx context.Context, id int64, actor shared.Actor) error
}

// Invoices deletes invoices, refunding any deduction they carry.
type Invoices struct {
	Service *invoices.Service
}

func (t Invoices) Name() string { return "invoices" }

func (t Invoices) Candidates(ctx context.Context, c Criteria) ([]Candidate, error) {
	status := invoices.Status(c.Status)
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown invoice status %q", shared.ErrValidation, c.Status)
	}
	list, err := t.Service.List(ctx, invoices.Filter{
		Status:      status,
		UserID:      c.UserID,
		CompanyID:   c.CompanyID,
		AdvanceID:   c.AdvanceID,
		CreatedFrom: c.CreatedFrom,
		CreatedTo:   c.CreatedTo,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(list))
	for _, inv := range list {
		out = append(out, Candidate{EntityID: inv.ID, UserID: inv.UserID, Label: inv.Number, Status: string(inv.Status), Amount: inv.Amount})
	}
	return out, nil
}

func (t Invoices) Delete(ctx context.Context, id int64, actor shared.Actor) error {
	return t.Service.Delete(ctx, id, actor)
}

// BudgetRequests deletes pending and rejected budget requests.
type BudgetRequests struct {
	Service *budget.Service
}

func (t BudgetRequests) Name() string { return "budget_requests" }

func (t BudgetRequests) Candidates(ctx context.Context, c Criteria) ([]Candidate, error) {
	if c.AdvanceID != 0 {
		return nil, fmt.Errorf("%w: budget requests cannot be filtered by advance", shared.ErrValidation)
	}
	filter := budget.Filter{
		Status:      budget.Status(c.Status),
		UserID:      c.UserID,
		CompanyID:   c.CompanyID,
		CreatedFrom: c.CreatedFrom,
		CreatedTo:   c.CreatedTo,
		Page:        shared.PageRequest{Page: 1, PerPage: 200},
	}
	var out []Candidate
	for {
		page, err := t.Service.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, req := range page.Requests {
			out = append(out, Candidate{
				EntityID: req.ID,
				UserID:   req.UserID,
				Label:    fmt.Sprintf("budget request %d", req.ID),
				Status:   string(req.Status),
				Amount:   req.RequestedAmount,
			})
		}
		if len(page.Requests) == 0 || filter.Page.Page >= page.Pagination.TotalPages {
			return out, nil
		}
		filter.Page.Page++
	}
}

func (t BudgetRequests) Delete(ctx context.Context, id int64, actor shared.Actor) error {
	return t.Service.Delete(ctx, id, actor)
}
