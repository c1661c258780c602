package exporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dirkpetersen/ober/pkg/config"
	"github.com/dirkpetersen/ober/pkg/metrics"
	"github.com/dirkpetersen/ober/pkg/status"
	"github.com/dirkpetersen/ober/pkg/system"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCollector struct {
	snap *status.Snapshot
}

func (f *fakeCollector) Collect(_ context.Context) *status.Snapshot { return f.snap }

func testSnapshot() *status.Snapshot {
	return &status.Snapshot{
		Services: map[string]system.ServiceInfo{
			config.ServiceHTTP: {Name: config.ServiceHTTP, Active: true, Enabled: true, Status: "active"},
			config.ServiceHA:   {Name: config.ServiceHA, Active: false, Status: "inactive"},
		},
		Keepalived: status.KeepalivedStatus{
			VRRPState: map[string]string{"VI_1": "MASTER", "VI_2": "BACKUP"},
		},
	}
}

func newTestServer(token string) *Server {
	cfg := &config.Config{
		Exporter: config.ExporterConfig{
			Listen:         "127.0.0.1:0",
			AuthToken:      token,
			RateLimit:      1000,
			RateLimitBurst: 1000,
		},
	}
	return NewServer(cfg, &fakeCollector{snap: testSnapshot()}, metrics.NewSet(), zerolog.Nop())
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer("")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap status.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.Services[config.ServiceHTTP].Active)
	assert.Equal(t, "MASTER", snap.Keepalived.VRRPState["VI_1"])
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer("secret-token")
	handler := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// No token: rejected.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong token: rejected.
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct token: accepted.
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health endpoint stays open for liveness probes.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareDisabledWithoutToken(t *testing.T) {
	s := newTestServer("")
	handler := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshUpdatesMetrics(t *testing.T) {
	s := newTestServer("")
	s.refresh(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.metrics.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `ober_service_up{service="ober-http"} 1`)
	assert.Contains(t, body, `ober_service_up{service="ober-ha"} 0`)
	assert.Contains(t, body, `ober_vrrp_master{instance="VI_1"} 1`)
	assert.Contains(t, body, `ober_vrrp_master{instance="VI_2"} 0`)
}

func TestRefreshCountsCollectFailures(t *testing.T) {
	s := newTestServer("")
	s.collector = &fakeCollector{snap: nil}
	s.refresh(context.Background())

	rec := httptest.NewRecorder()
	s.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "ober_scrape_errors_total 1")
}

func TestClientLimiter(t *testing.T) {
	cl := newClientLimiter(1, 2)
	handler := cl.middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// The burst passes, then the bucket runs dry.
	statuses := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
