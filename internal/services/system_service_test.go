package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/tripdesk/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestHealthReportStampsBuildMetadata(t *testing.T) {
	started := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)
	collected := now.Add(-time.Second)

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Checks:      map[string]domain.SystemHealthCheck{"store": {Status: domain.HealthStatusOK}},
			GeneratedAt: collected,
		}},
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: "2.4.0", CommitSHA: "9f1c2e", Environment: "staging", StartedAt: started},
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusOK, report.Status)
	require.Equal(t, "2.4.0", report.Version)
	require.Equal(t, "9f1c2e", report.CommitSHA)
	require.Equal(t, "staging", report.Environment)
	require.Equal(t, 90*time.Minute, report.Uptime)
	require.Equal(t, collected, report.GeneratedAt)
}

func TestHealthReportFallsBackToWorstCheck(t *testing.T) {
	cases := map[string]struct {
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		"all ok": {
			checks: map[string]domain.SystemHealthCheck{"store": {Status: domain.HealthStatusOK}},
			want:   domain.HealthStatusOK,
		},
		"degraded wins over ok": {
			checks: map[string]domain.SystemHealthCheck{
				"store":  {Status: domain.HealthStatusOK},
				"pubsub": {Status: domain.HealthStatusDegraded},
			},
			want: domain.HealthStatusDegraded,
		},
		"error wins over degraded": {
			checks: map[string]domain.SystemHealthCheck{
				"pubsub":  {Status: domain.HealthStatusDegraded},
				"secrets": {Status: domain.HealthStatusError},
			},
			want: domain.HealthStatusError,
		},
		"missing status is degraded": {
			checks: map[string]domain.SystemHealthCheck{"geocoder": {}},
			want:   domain.HealthStatusDegraded,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Checks: tc.checks}},
			})
			require.NoError(t, err)
			report, err := svc.HealthReport(context.Background())
			require.NoError(t, err)
			require.Equal(t, tc.want, report.Status)
			require.False(t, report.GeneratedAt.IsZero())
		})
	}
}

func TestHealthReportLogsFailingChecks(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Status: domain.HealthStatusError,
			Checks: map[string]domain.SystemHealthCheck{
				"store":       {Status: domain.HealthStatusOK},
				"mediaBucket": {Status: domain.HealthStatusError, Error: "bucket missing"},
			},
		}},
		Logger: zap.New(core),
	})
	require.NoError(t, err)

	_, err = svc.HealthReport(context.Background())
	require.NoError(t, err)
	entries := logs.FilterMessage("dependency check not ok").All()
	require.Len(t, entries, 1)
	require.Equal(t, "mediaBucket", entries[0].ContextMap()["check"])
	require.Equal(t, "bucket missing", entries[0].ContextMap()["error"])
}

func TestHealthReportWrapsCollectError(t *testing.T) {
	boom := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: boom}})
	require.NoError(t, err)

	_, err = svc.HealthReport(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	_, err := NewSystemService(SystemServiceDeps{})
	require.Error(t, err)
}
