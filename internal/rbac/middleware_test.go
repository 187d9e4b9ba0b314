package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saldo-erp/saldo/internal/shared"
)

func serve(t *testing.T, handler http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireAny(t *testing.T) {
	m := Middleware{}
	var seen shared.Actor
	handler := m.Actor(m.RequireAny(shared.RoleAccountant, shared.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := serve(t, handler, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, handler, map[string]string{HeaderActorID: "5"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, handler, map[string]string{HeaderActorID: "5", HeaderActorRole: "superuser"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, handler, map[string]string{HeaderActorID: "5", HeaderActorRole: "Accountant"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, shared.Actor{ID: 5, Role: shared.RoleAccountant}, seen)
}

func TestOwnerOrStaff(t *testing.T) {
	require.NoError(t, OwnerOrStaff(shared.Actor{ID: 3, Role: shared.RoleUser}, 3))
	require.NoError(t, OwnerOrStaff(shared.Actor{ID: 1, Role: shared.RoleAdmin}, 3))
	require.ErrorIs(t, OwnerOrStaff(shared.Actor{ID: 4, Role: shared.RoleUser}, 3), shared.ErrAuthorization)
}
