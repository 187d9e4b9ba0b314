package app

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/ledger/ledgertest"
	"github.com/saldo-erp/saldo/internal/observability"
	"github.com/saldo-erp/saldo/internal/rbac"
	"github.com/saldo-erp/saldo/internal/shared"
	_ "github.com/saldo-erp/saldo/testing"
)

func newTestRouter(t *testing.T, cfg *Config, health func(*http.Request) error) (http.Handler, *observability.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.Middleware{Logger: logger}
	metrics := observability.NewMetrics()
	book := ledgertest.NewBook(7)
	svc := ledger.NewService(book, nil, nil, nil, nil, logger)
	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		RBACMiddleware: mw,
		Metrics:        metrics,
		Health:         health,
		LedgerHandler:  ledger.NewHandler(logger, svc, mw),
	}), metrics
}

func get(h http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndHeaders(t *testing.T) {
	h, _ := newTestRouter(t, &Config{RateLimitPerMinute: 100}, nil)

	rec := get(h, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	down, _ := newTestRouter(t, &Config{RateLimitPerMinute: 100}, func(*http.Request) error {
		return errors.New("pool closed")
	})
	require.Equal(t, http.StatusServiceUnavailable, get(down, "/healthz", nil).Code)
}

func TestRouterMountsDomainHandlers(t *testing.T) {
	h, _ := newTestRouter(t, &Config{RateLimitPerMinute: 100}, nil)

	require.Equal(t, http.StatusUnauthorized, get(h, "/ledger/users/7/balance", nil).Code)

	owner := map[string]string{rbac.HeaderActorID: "7", rbac.HeaderActorRole: string(shared.RoleUser)}
	rec := get(h, "/ledger/users/7/balance", owner)
	require.Equal(t, http.StatusOK, rec.Code)

	other := map[string]string{rbac.HeaderActorID: "8", rbac.HeaderActorRole: string(shared.RoleUser)}
	require.Equal(t, http.StatusForbidden, get(h, "/ledger/users/7/balance", other).Code)
}

func TestRouterExposesMetrics(t *testing.T) {
	h, _ := newTestRouter(t, &Config{RateLimitPerMinute: 100}, nil)
	get(h, "/healthz", nil)

	rec := get(h, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "saldo_http_requests_total"))
}

func TestRouterRateLimit(t *testing.T) {
	h, _ := newTestRouter(t, &Config{RateLimitPerMinute: 2}, nil)

	require.Equal(t, http.StatusOK, get(h, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, get(h, "/healthz", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, get(h, "/healthz", nil).Code)
}
