package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

func serveProbe(h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReportsBuildWithoutDependencies(t *testing.T) {
	started := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "2.4.0", CommitSHA: "9f1c2e", Environment: "prod", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(95 * time.Second) }),
		WithHealthSystemService(&stubSystemService{err: errors.New("must not be called")}),
	)

	rec := serveProbe(h.Healthz, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Equal(t, domain.HealthStatusOK, gjson.Get(body, "status").String())
	require.Equal(t, "2.4.0", gjson.Get(body, "version").String())
	require.Equal(t, "9f1c2e", gjson.Get(body, "commitSha").String())
	require.Equal(t, "prod", gjson.Get(body, "environment").String())
	require.Equal(t, "1m35s", gjson.Get(body, "uptime").String())
	require.Equal(t, "2025-06-01T09:01:35Z", gjson.Get(body, "timestamp").String())
}

func TestReadyzHealthy(t *testing.T) {
	generated := time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC)
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Uptime:      5 * time.Minute,
		GeneratedAt: generated,
		Checks: map[string]domain.SystemHealthCheck{
			"store": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: generated},
		},
	}}))

	rec := serveProbe(h.Readyz, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Equal(t, "5m0s", gjson.Get(body, "uptime").String())
	require.Equal(t, "2025-06-01T09:05:00Z", gjson.Get(body, "timestamp").String())
	require.Equal(t, domain.HealthStatusOK, gjson.Get(body, "checks.store.status").String())
	require.EqualValues(t, 12, gjson.Get(body, "checks.store.latencyMs").Int())
	require.False(t, gjson.Get(body, "details").Exists())
}

func TestReadyzUnhealthyListsReasons(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
		Status: domain.HealthStatusError,
		Checks: map[string]domain.SystemHealthCheck{
			"store":       {Status: domain.HealthStatusOK},
			"pubsub":      {Status: domain.HealthStatusDegraded, Detail: "slow publish"},
			"mediaBucket": {Status: domain.HealthStatusError, Error: "bucket missing"},
		},
	}}))

	rec := serveProbe(h.Readyz, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := rec.Body.String()
	require.Equal(t, domain.HealthStatusError, gjson.Get(body, "status").String())
	details := gjson.Get(body, "details").Array()
	require.Len(t, details, 2)
	require.Equal(t, "mediaBucket: bucket missing", details[0].String())
	require.Equal(t, "pubsub: slow publish", details[1].String())
}

func TestReadyzCollectFailure(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("collect failed")}))

	rec := serveProbe(h.Readyz, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "health_unavailable", gjson.Get(rec.Body.String(), "error").String())
}

func TestReadyzWithoutSystemService(t *testing.T) {
	rec := serveProbe(NewHealthHandlers().Readyz, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, domain.HealthStatusOK, gjson.Get(rec.Body.String(), "status").String())
}
