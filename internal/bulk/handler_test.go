package bulk_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/saldo-erp/saldo/internal/bulk"
	"github.com/saldo-erp/saldo/internal/rbac"
)

func (f *fixture) router() http.Handler {
	mw := rbac.Middleware{}
	router := chi.NewRouter()
	router.Use(mw.Actor)
	bulk.NewHandler(slog.Default(), f.svc, mw).MountRoutes(router)
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

func TestBulkHTTPFlow(t *testing.T) {
	f := newFixture(t)
	f.invoice(t, 1, "10")
	router := f.router()

	rec := call(router, http.MethodPost, "/bulk/invoices/preview", "2", "accountant", `{}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(router, http.MethodPost, "/bulk/invoices/preview", "1", "admin", `{"company_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var run bulk.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Len(t, run.Items, 1)
	base := "/bulk/runs/" + run.ID.String()

	rec = call(router, http.MethodPost, base+"/execute", "1", "admin", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = call(router, http.MethodPost, base+"/confirm", "1", "admin", `{"password":"nope"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(router, http.MethodPost, base+"/confirm", "1", "admin", `{"password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(router, http.MethodPost, base+"/execute", "1", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Equal(t, bulk.PhaseComplete, run.Phase)
	require.Equal(t, 1, run.Verification.Succeeded)

	rec = call(router, http.MethodGet, base, "1", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(router, http.MethodGet, "/bulk/runs/not-a-uuid", "1", "admin", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
