package budget

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

// Handler exposes budget request endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the budget request handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	staff := h.rbac.RequireAny(shared.RoleAccountant, shared.RoleAdmin)
	r.Route("/budget-requests", func(r chi.Router) {
		r.Use(h.rbac.RequireAny())
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.show)
			r.Get("/history", h.history)
			r.With(staff).Post("/approve", h.approve)
			r.With(staff).Post("/reject", h.reject)
			r.With(staff).Delete("/", h.remove)
		})
	})
}

type createRequest struct {
	UserID        int64           `json:"user_id"`
	CompanyID     int64           `json:"company_id" validate:"required,gt=0"`
	Amount        decimal.Decimal `json:"requested_amount"`
	Justification string          `json:"justification" validate:"required,max=2000"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req createRequest
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
	created, err := h.service.Create(r.Context(), CreateInput{
		UserID:        req.UserID,
		CompanyID:     req.CompanyID,
		Amount:        req.Amount,
		Justification: req.Justification,
		ActorID:       actor.ID,
	})
	h.respond(w, "budget request create", http.StatusCreated, created, err)
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
	if !actor.Role.IsStaff() {
		filter.UserID = actor.ID
	}
	page, err := h.service.List(r.Context(), filter)
	h.respond(w, "budget request list", http.StatusOK, page, err)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	req, ok := h.owned(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	req, ok := h.owned(w, r)
	if !ok {
		return
	}
	logs, err := h.service.History(r.Context(), req.ID)
	h.respond(w, "budget request history", http.StatusOK, logs, err)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	decision, err := h.service.Approve(r.Context(), id, actor)
	h.respond(w, "budget request approve", http.StatusOK, decision, err)
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
	out, err := h.service.Reject(r.Context(), id, actor, req.Reason)
	h.respond(w, "budget request reject", http.StatusOK, out, err)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, actor); err != nil {
		h.respond(w, "budget request delete", 0, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (Request, bool) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return Request{}, false
	}
	req, err := h.service.Get(r.Context(), id)
	if err == nil {
		err = rbac.OwnerOrStaff(actor, req.UserID)
	}
	if err != nil {
		h.respond(w, "budget request show", 0, nil, err)
		return Request{}, false
	}
	return req, true
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
