// Package rbac enforces coarse role checks on top of the actor supplied by
// the upstream authentication gateway.
package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/saldo-erp/saldo/internal/platform/httpx"
	"github.com/saldo-erp/saldo/internal/shared"
)

const (
	// HeaderActorID carries the authenticated user id.
	HeaderActorID = "X-Actor-ID"
	// HeaderActorRole carries the authenticated user's role.
	HeaderActorRole = "X-Actor-Role"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// Actor resolves the gateway headers into a shared.Actor on the request
// context. Requests without a valid actor pass through anonymous.
func (m Middleware) Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := m.parseActor(r)
		if ok {
			r = r.WithContext(shared.ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAny ensures the current actor holds one of roles. With no roles any
// authenticated actor is accepted.
func (m Middleware) RequireAny(roles ...shared.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), "actor required")
				return
			}
			if len(roles) == 0 || hasRole(actor.Role, roles) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, fmt.Errorf("%w: role %s", shared.ErrAuthorization, actor.Role))
		})
	}
}

// OwnerOrStaff allows staff to act on anyone and plain users only on themselves.
func OwnerOrStaff(actor shared.Actor, userID int64) error {
	if actor.Role.IsStaff() || actor.ID == userID {
		return nil
	}
	return fmt.Errorf("%w: user %d may not access user %d", shared.ErrAuthorization, actor.ID, userID)
}

func (m Middleware) parseActor(r *http.Request) (shared.Actor, bool) {
	rawID := strings.TrimSpace(r.Header.Get(HeaderActorID))
	if rawID == "" {
		return shared.Actor{}, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		if m.Logger != nil {
			m.Logger.Warn("rbac parse actor id", slog.String("value", rawID))
		}
		return shared.Actor{}, false
	}
	role := shared.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole))))
	if role == "" {
		role = shared.RoleUser
	}
	if !role.Valid() {
		if m.Logger != nil {
			m.Logger.Warn("rbac unknown role", slog.String("value", string(role)))
		}
		return shared.Actor{}, false
	}
	return shared.Actor{ID: id, Role: role}, true
}

func hasRole(role shared.Role, allowed []shared.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
