package system

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
	"admission-gateway/server"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func router(t *testing.T, opts Options) http.Handler {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	opts.Logger = l

	reg := server.NewRegistrar(server.DefaultDocsPath, l)
	require.NoError(t, reg.Register(Group(opts)))
	h, err := reg.Handler()
	require.NoError(t, err)
	return h
}

func TestHealth(t *testing.T) {
	h := router(t, Options{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStats_ReportsCountersAndConcurrency(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	ctx := context.Background()
	_ = stats.Record(ctx, domain.StatsEvent{Key: "a", Allowed: true, Method: "POST", Route: "/keygen"})
	_ = stats.Record(ctx, domain.StatsEvent{Key: "a", Allowed: false, Method: "POST", Route: "/keygen"})
	_ = stats.Record(ctx, domain.StatsEvent{Key: "b", Failed: true, Method: "GET", Route: "/p2p"})

	h := router(t, Options{
		Stats: stats,
		Concurrency: func() application.ConcurrencySnapshot {
			return application.ConcurrencySnapshot{InFlight: 2, Capacity: 10, Rejected: 1}
		},
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got statsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotNil(t, got.Total)
	assert.Equal(t, infra.Counters{Allowed: 1, Denied: 1, Failed: 1}, *got.Total)
	assert.Equal(t, infra.Counters{Allowed: 1, Denied: 1}, got.ByRoute["POST /keygen"])
	assert.Empty(t, got.ByKey, "keys are tracked only on request")
	require.NotNil(t, got.Concurrency)
	assert.Equal(t, 10, got.Concurrency.Capacity)
}

func TestStats_EmptyWithoutSources(t *testing.T) {
	h := router(t, Options{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())
}
