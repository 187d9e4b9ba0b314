package budget_test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/saldo-erp/saldo/internal/budget"
	"github.com/saldo-erp/saldo/internal/rbac"
)

func (f *fixture) router() http.Handler {
	mw := rbac.Middleware{}
	router := chi.NewRouter()
	router.Use(mw.Actor)
	budget.NewHandler(slog.Default(), f.svc, mw).MountRoutes(router)
	return router
}

func call(router http.Handler, method, path, actor, role, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != "" {
		req.Header.Set(rbac.HeaderActorID, actor)
		req.Header.Set(rbac.HeaderActorRole, role)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestBudgetRequestHTTP(t *testing.T) {
	f := newFixture(t)
	router := f.router()

	rec := call(router, http.MethodPost, "/budget-requests", "", "", `{}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(router, http.MethodPost, "/budget-requests", "7", "user", `{"company_id":1,"requested_amount":"50","justification":"hi"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(router, http.MethodPost, "/budget-requests", "7", "user", `{"company_id":1,"requested_amount":"50","justification":"need more budget"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var req budget.Request
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req))
	require.Equal(t, ownerID, req.UserID)

	path := fmt.Sprintf("/budget-requests/%d", req.ID)
	rec = call(router, http.MethodGet, path, "8", "user", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(router, http.MethodPost, path+"/approve", "7", "user", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(router, http.MethodGet, "/budget-requests?status=pending", "3", "accountant", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page budget.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Requests, 1)

	rec = call(router, http.MethodPost, path+"/reject", "3", "accountant", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(router, http.MethodPost, path+"/approve", "3", "accountant", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var decision budget.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	require.NotNil(t, decision.Advance)

	rec = call(router, http.MethodPost, path+"/approve", "3", "accountant", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = call(router, http.MethodGet, path+"/history", "7", "user", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"APPROVE"`)

	rec = call(router, http.MethodDelete, path, "3", "accountant", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}
