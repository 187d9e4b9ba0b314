package advances_test

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

	"github.com/saldo-erp/saldo/internal/advances"
	"github.com/saldo-erp/saldo/internal/rbac"
)

func (f *fixture) router() http.Handler {
	mw := rbac.Middleware{}
	router := chi.NewRouter()
	router.Use(mw.Actor)
	advances.NewHandler(slog.Default(), f.svc, mw).MountRoutes(router)
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

func TestAdvanceHTTPFlow(t *testing.T) {
	f := newFixture(t)
	router := f.router()

	rec := call(router, http.MethodPost, "/advances", "20", "user", `{"user_id":20,"company_id":3,"amount":"40","description":"fuel"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(router, http.MethodPost, "/advances", "2", "accountant", `{"user_id":20,"company_id":3,"amount":"40","description":"fuel"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var adv advances.Advance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &adv))
	require.Equal(t, advances.StatusPending, adv.Status)

	path := fmt.Sprintf("/advances/%d", adv.ID)
	rec = call(router, http.MethodGet, path, "20", "user", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = call(router, http.MethodGet, path, "21", "user", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(router, http.MethodPost, path+"/settle", "2", "accountant", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = call(router, http.MethodPost, path+"/transfer", "2", "accountant", `{"transfer_number":"PL/9"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "40", f.balance(t))

	rec = call(router, http.MethodPost, path+"/transfer", "2", "accountant", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = call(router, http.MethodGet, path+"/invoices", "20", "user", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = call(router, http.MethodGet, "/advances?status=transferred", "21", "user", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page advances.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Empty(t, page.Advances)
}

func TestAdvanceHTTPDelete(t *testing.T) {
	f := newFixture(t)
	router := f.router()
	adv := f.open(t, "30")
	path := fmt.Sprintf("/advances/%d/delete", adv.ID)

	rec := call(router, http.MethodPost, path, "2", "accountant", `{"strategy":"burn_it","password":"s3cret"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(router, http.MethodPost, path, "2", "accountant", `{"strategy":"delete_with_invoices","password":"nope"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(router, http.MethodPost, path, "2", "accountant", `{"strategy":"delete_with_invoices","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res advances.DeleteResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, adv.ID, res.AdvanceID)

	rec = call(router, http.MethodGet, fmt.Sprintf("/advances/%d", adv.ID), "2", "accountant", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
