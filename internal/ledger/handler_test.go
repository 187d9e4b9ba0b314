package ledger_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/ledger/ledgertest"
	"github.com/saldo-erp/saldo/internal/rbac"
)

func newRouter(t *testing.T, book *ledgertest.Book) http.Handler {
	t.Helper()
	mw := rbac.Middleware{}
	router := chi.NewRouter()
	router.Use(mw.Actor)
	ledger.NewHandler(slog.Default(), newService(t, book), mw).MountRoutes(router)
	return router
}

func do(router http.Handler, method, path, actorID, role, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(rbac.HeaderActorID, actorID)
	req.Header.Set(rbac.HeaderActorRole, role)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdjustmentEndpoint(t *testing.T) {
	book := ledgertest.NewBook(userID)
	router := newRouter(t, book)

	rec := do(router, http.MethodPost, "/ledger/adjustments", "7", "user", `{"user_id":7,"amount":"10","notes":"gift"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(router, http.MethodPost, "/ledger/adjustments", "1", "accountant", `{"user_id":7,"amount":"0","notes":"nothing"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/ledger/adjustments", "1", "accountant", `{"user_id":7,"amount":"100.00","notes":"opening balance"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var tx ledger.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	require.Equal(t, ledger.KindAdjustment, tx.Kind)
	require.Equal(t, "100", tx.BalanceAfter.String())

	rec = do(router, http.MethodGet, "/ledger/users/7/balance", "7", "user", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"balance":"100"`)
}

func TestHistoryEndpointScopesToOwner(t *testing.T) {
	router := newRouter(t, ledgertest.NewBook(userID, 9))

	rec := do(router, http.MethodGet, "/ledger/users/7/history", "9", "user", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(router, http.MethodGet, "/ledger/users/7/history?from=2024-13-01", "7", "user", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodGet, "/ledger/users/7/history?page=1&per_page=5", "1", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"transactions":[]`)

	rec = do(router, http.MethodGet, "/ledger/users/7/verify", "1", "accountant", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(router, http.MethodGet, "/ledger/users/7/verify", "1", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok":true`)
}
