package advances

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/saldo-erp/saldo/internal/platform/httpx"
	"github.com/saldo-erp/saldo/internal/rbac"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Handler exposes advance endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the advance handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/advances", func(r chi.Router) {
		r.Use(h.rbac.RequireAny())
		r.Get("/", h.list)
		r.With(h.rbac.RequireAny(shared.RoleAccountant, shared.RoleAdmin)).Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.show)
			r.Get("/invoices", h.invoices)
			r.Group(func(r chi.Router) {
				r.Use(h.rbac.RequireAny(shared.RoleAccountant, shared.RoleAdmin))
				r.Post("/transfer", h.transfer)
				r.Post("/settle", h.settle)
				r.Post("/delete", h.remove)
			})
		})
	})
}

type createRequest struct {
	UserID      int64           `json:"user_id" validate:"required,gt=0"`
	CompanyID   int64           `json:"company_id" validate:"required,gt=0"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"required,max=500"`
}

type transferRequest struct {
	TransferNumber string `json:"transfer_number" validate:"max=64"`
}

type deleteRequest struct {
	Strategy        DeleteStrategy `json:"strategy" validate:"required,oneof=delete_with_invoices reassign_invoices"`
	Password        string         `json:"password" validate:"required"`
	TargetAdvanceID *int64         `json:"target_advance_id" validate:"omitempty,gt=0"`
}

type settleResponse struct {
	Advance         Advance `json:"advance"`
	SettledInvoices int64   `json:"settled_invoices"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	q := r.URL.Query()
	filter := Filter{Status: Status(q.Get("status")), Page: shared.PageRequestFromQuery(q)}
	if raw := q.Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, httpx.ErrBadRequest)
			return
		}
		filter.UserID = id
	}
	if raw := q.Get("company_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, httpx.ErrBadRequest)
			return
		}
		filter.CompanyID = id
	}
	if !actor.Role.IsStaff() {
		filter.UserID = actor.ID
	}
	page, err := h.service.List(r.Context(), filter)
	h.respond(w, "advance list", http.StatusOK, page, err)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	adv, err := h.service.Create(r.Context(), CreateInput{
		UserID:      req.UserID,
		CompanyID:   req.CompanyID,
		Amount:      req.Amount,
		Description: req.Description,
		ActorID:     actor.ID,
	})
	h.respond(w, "advance create", http.StatusCreated, adv, err)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	adv, err := h.service.Get(r.Context(), id)
	if err == nil {
		err = rbac.OwnerOrStaff(actor, adv.UserID)
	}
	h.respond(w, "advance show", http.StatusOK, adv, err)
}

func (h *Handler) invoices(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	adv, err := h.service.Get(r.Context(), id)
	if err == nil {
		err = rbac.OwnerOrStaff(actor, adv.UserID)
	}
	if err != nil {
		h.respond(w, "advance invoices", 0, nil, err)
		return
	}
	linked, err := h.service.LinkedInvoices(r.Context(), id)
	h.respond(w, "advance invoices", http.StatusOK, linked, err)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	adv, err := h.service.Transfer(r.Context(), id, actor, req.TransferNumber)
	h.respond(w, "advance transfer", http.StatusOK, adv, err)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	adv, n, err := h.service.Settle(r.Context(), id, actor)
	h.respond(w, "advance settle", http.StatusOK, settleResponse{Advance: adv, SettledInvoices: n}, err)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	var req deleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Delete(r.Context(), DeleteRequest{
		AdvanceID:       id,
		ActorID:         actor.ID,
		Password:        req.Password,
		Strategy:        req.Strategy,
		TargetAdvanceID: req.TargetAdvanceID,
	})
	h.respond(w, "advance delete", http.StatusOK, res, err)
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
