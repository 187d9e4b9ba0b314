package bulk

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/saldo-erp/saldo/internal/platform/httpx"
	"github.com/saldo-erp/saldo/internal/rbac"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Handler exposes bulk run endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the bulk handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/bulk", func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.RoleAdmin))
		r.Post("/{target}/preview", h.preview)
		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", h.show)
			r.Post("/confirm", h.confirm)
			r.Post("/execute", h.execute)
		})
	})
}

type previewRequest struct {
	Status      string     `json:"status" validate:"max=32"`
	UserID      int64      `json:"user_id" validate:"gte=0"`
	CompanyID   int64      `json:"company_id" validate:"gte=0"`
	AdvanceID   int64      `json:"advance_id" validate:"gte=0"`
	CreatedFrom *time.Time `json:"created_from"`
	CreatedTo   *time.Time `json:"created_to"`
}

type confirmRequest struct {
	Password string `json:"password" validate:"required"`
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req previewRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	run, err := h.service.Preview(r.Context(), chi.URLParam(r, "target"), Criteria(req), actor)
	h.respond(w, "bulk preview", http.StatusCreated, run, err)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.target(w, r)
	if !ok {
		return
	}
	run, err := h.service.Get(r.Context(), id)
	h.respond(w, "bulk show", http.StatusOK, run, err)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	run, err := h.service.Confirm(r.Context(), id, actor, req.Password)
	h.respond(w, "bulk confirm", http.StatusOK, run, err)
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := h.target(w, r)
	if !ok {
		return
	}
	run, err := h.service.Execute(r.Context(), id, actor)
	h.respond(w, "bulk execute", http.StatusOK, run, err)
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (uuid.UUID, shared.Actor, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid run id", httpx.ErrBadRequest))
		return uuid.Nil, shared.Actor{}, false
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
