package invoices_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/saldo-erp/saldo/internal/invoices"
	"github.com/saldo-erp/saldo/internal/rbac"
)

func (f *fixture) router() http.Handler {
	mw := rbac.Middleware{}
	router := chi.NewRouter()
	router.Use(mw.Actor)
	invoices.NewHandler(slog.Default(), f.svc, mw).MountRoutes(router)
	return router
}

func call(router http.Handler, method, path, actor, role, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(rbac.HeaderActorID, actor)
	req.Header.Set(rbac.HeaderActorRole, role)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestInvoiceHTTPFlow(t *testing.T) {
	f := newFixture(t)
	router := f.router()

	rec := call(router, http.MethodPost, "/invoices", "10", "user", `{"company_id":1,"number":"FV/1","amount":"15.00"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var inv invoices.Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	require.Equal(t, ownerID, inv.UserID)

	rec = call(router, http.MethodPost, "/invoices", "11", "user", `{"user_id":10,"company_id":1,"number":"FV/2","amount":"1"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(router, http.MethodPost, "/invoices/1/accept", "10", "user", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(router, http.MethodPost, "/invoices/1/review/acquire", "1", "accountant", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = call(router, http.MethodPost, "/invoices/1/review/acquire", "2", "admin", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	rec = call(router, http.MethodPost, "/invoices/1/reject", "2", "admin", `{"reason":"wrong vendor"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = call(router, http.MethodPost, "/invoices/1/accept", "1", "accountant", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "-15", f.balance(t))

	rec = call(router, http.MethodDelete, "/invoices/1", "2", "admin", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "0", f.balance(t))

	rec = call(router, http.MethodGet, "/invoices/1", "10", "user", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
