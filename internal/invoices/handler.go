package invoices

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/saldo-erp/saldo/internal/platform/httpx"
	"github.com/saldo-erp/saldo/internal/rbac"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Handler exposes invoice endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the invoice handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	staff := h.rbac.RequireAny(shared.RoleAccountant, shared.RoleAdmin)
	r.Route("/invoices", func(r chi.Router) {
		r.Use(h.rbac.RequireAny())
		r.Post("/", h.submit)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.show)
			r.With(staff).Delete("/", h.remove)
			r.With(staff).Post("/link", h.link)
			r.With(staff).Post("/accept", h.accept)
			r.With(staff).Post("/reject", h.reject)
			r.Route("/review", func(r chi.Router) {
				r.Use(staff)
				r.Get("/", h.reviewStatus)
				r.Post("/acquire", h.acquire)
				r.Post("/heartbeat", h.heartbeat)
				r.Post("/release", h.release)
			})
		})
	})
}

type submitRequest struct {
	UserID          int64           `json:"user_id"`
	CompanyID       int64           `json:"company_id" validate:"required,gt=0"`
	Number          string          `json:"number" validate:"required,max=64"`
	Amount          decimal.Decimal `json:"amount"`
	AdvanceID       *int64          `json:"advance_id" validate:"omitempty,gt=0"`
	BudgetRequestID *int64          `json:"budget_request_id" validate:"omitempty,gt=0"`
}

type linkRequest struct {
	AdvanceID       *int64 `json:"advance_id" validate:"omitempty,gt=0"`
	BudgetRequestID *int64 `json:"budget_request_id" validate:"omitempty,gt=0"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.UserID == 0 {
		req.UserID = actor.ID
	}
	if err := rbac.OwnerOrStaff(actor, req.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Submit(r.Context(), SubmitInput{
		UserID:    req.UserID,
		CompanyID: req.CompanyID,
		Number:    req.Number,
		Amount:    req.Amount,
		Link:      Link{AdvanceID: req.AdvanceID, BudgetRequestID: req.BudgetRequestID},
	}, actor)
	h.respond(w, "invoice submit", http.StatusCreated, inv, err)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err == nil {
		actor, _ := shared.ActorFromContext(r.Context())
		err = rbac.OwnerOrStaff(actor, inv.UserID)
	}
	h.respond(w, "invoice show", http.StatusOK, inv, err)
}

func (h *Handler) link(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	var req linkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.SetLink(r.Context(), id, Link{AdvanceID: req.AdvanceID, BudgetRequestID: req.BudgetRequestID}, actor)
	h.respond(w, "invoice link", http.StatusOK, inv, err)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Accept(r.Context(), id, actor)
	h.respond(w, "invoice accept", http.StatusOK, inv, err)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Reject(r.Context(), id, actor, req.Reason)
	h.respond(w, "invoice reject", http.StatusOK, inv, err)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, actor); err != nil {
		h.respond(w, "invoice delete", 0, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reviewStatus(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.target(w, r)
	if !ok {
		return
	}
	st, err := h.service.ReviewStatus(r.Context(), id)
	h.respond(w, "invoice review status", http.StatusOK, st, err)
}

func (h *Handler) acquire(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	st, err := h.service.AcquireReview(r.Context(), id, actor)
	h.respond(w, "invoice review acquire", http.StatusOK, st, err)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	st, err := h.service.HeartbeatReview(r.Context(), id, actor)
	h.respond(w, "invoice review heartbeat", http.StatusOK, st, err)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.ReleaseReview(r.Context(), id, actor); err != nil {
		h.respond(w, "invoice review release", 0, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (int64, shared.Actor, bool) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, shared.Actor{}, false
	}
	actor, _ := shared.ActorFromContext(r.Context())
	return id, actor, true
}

func (h *Handler) respond(w http.ResponseWriter, op string, status int, body any, err error) {
	if err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error(op, slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, status, body)
}
