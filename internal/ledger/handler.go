package ledger

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/saldo-erp/saldo/internal/platform/httpx"
	"github.com/saldo-erp/saldo/internal/rbac"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Handler exposes ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Use(h.rbac.RequireAny())
		r.With(h.rbac.RequireAny(shared.RoleAccountant, shared.RoleAdmin)).Post("/adjustments", h.adjust)
		r.With(h.rbac.RequireAny(shared.RoleAccountant, shared.RoleAdmin)).Get("/stats", h.stats)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/history", h.history)
			r.Get("/balance", h.balance)
			r.Get("/trust-score", h.trustScore)
			r.With(h.rbac.RequireAny(shared.RoleAdmin)).Get("/verify", h.verify)
		})
	})
}

type adjustmentRequest struct {
	UserID int64           `json:"user_id" validate:"required,gt=0"`
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes" validate:"required,min=3,max=500"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tx, err := h.service.Append(r.Context(), AppendInput{
		UserID:  req.UserID,
		Amount:  req.Amount,
		Kind:    KindAdjustment,
		Notes:   req.Notes,
		ActorID: actor.ID,
	})
	if err != nil {
		h.fail(w, "ledger adjust", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tx)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subject(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := HistoryFilter{UserID: userID, Page: shared.PageRequestFromQuery(q)}
	var err error
	if filter.From, err = parseDate(q.Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = parseDate(q.Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.History(r.Context(), filter)
	if err != nil {
		h.fail(w, "ledger history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subject(w, r)
	if !ok {
		return
	}
	balance, err := h.service.Balance(r.Context(), userID)
	if err != nil {
		h.fail(w, "ledger balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

func (h *Handler) trustScore(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subject(w, r)
	if !ok {
		return
	}
	score, err := h.service.TrustScore(r.Context(), userID)
	if err != nil {
		h.fail(w, "ledger trust score", err)
		return
	}
	httpx.JSON(w, http.StatusOK, score)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.StatsForAll(r.Context())
	if err != nil {
		h.fail(w, "ledger stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	found, err := h.service.Verify(r.Context(), userID)
	if err != nil {
		h.fail(w, "ledger verify", err)
		return
	}
	if found == nil {
		found = []Discrepancy{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "ok": len(found) == 0, "discrepancies": found})
}

// subject parses the userID path parameter and checks the actor may read it.
func (h *Handler) subject(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, false
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := rbac.OwnerOrStaff(actor, userID); err != nil {
		httpx.RespondError(w, err)
		return 0, false
	}
	return userID, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q must be YYYY-MM-DD", httpx.ErrBadRequest, raw)
	}
	return &t, nil
}
