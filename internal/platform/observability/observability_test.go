package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tripdesk/api/internal/platform/requestctx"
)

func TestNewLoggerUsesCloudLoggingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, zapcore.InfoLevel)
	logger.Debug("hidden")
	logger.Warn("careful", zap.String("orderId", "ord-1"))
	require.NoError(t, logger.Sync())

	line := buf.String()
	require.Equal(t, "WARNING", gjson.Get(line, "severity").String())
	require.Equal(t, "careful", gjson.Get(line, "message").String())
	require.Equal(t, "ord-1", gjson.Get(line, "orderId").String())
	require.True(t, gjson.Get(line, "timestamp").Exists())
	require.NotContains(t, line, "hidden")
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("")
	require.NoError(t, err)
	require.Equal(t, zapcore.InfoLevel, level)

	level, err = parseLevel(" DEBUG ")
	require.NoError(t, err)
	require.Equal(t, zapcore.DebugLevel, level)

	_, err = parseLevel("chatty")
	require.Error(t, err)
}

func newObservedRouter(t *testing.T, handler http.HandlerFunc) (http.Handler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(InjectLoggerMiddleware(logger))
	r.Use(TraceMiddleware("tripdesk-test"))
	r.Use(RecoveryMiddleware(nil))
	r.Use(RequestLoggerMiddleware("tripdesk-test"))
	r.Get("/orders/{orderID}", handler)
	return r, logs
}

func TestRequestLoggerRecordsRouteAndStatus(t *testing.T) {
	router, logs := newObservedRouter(t, func(w http.ResponseWriter, r *http.Request) {
		requestctx.Logger(r.Context()).Info("loading order")
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/ord-9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	inner := logs.FilterMessage("loading order").All()
	require.Len(t, inner, 1)
	require.NotEmpty(t, inner[0].ContextMap()["request_id"])

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	fields := completed[0].ContextMap()
	require.Equal(t, zapcore.WarnLevel, completed[0].Level)
	require.Equal(t, "/orders/{orderID}", fields["route"])
	require.EqualValues(t, http.StatusNotFound, fields["status"])
	require.Equal(t, "GET", fields["method"])
}

func TestRecoveryReturnsErrorEnvelope(t *testing.T) {
	router, logs := newObservedRouter(t, func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal_server_error", gjson.Get(rec.Body.String(), "error").String())
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	require.Equal(t, zapcore.ErrorLevel, completed[0].Level)
}

func TestTraceMiddlewarePropagatesCloudTraceHeader(t *testing.T) {
	const traceID = "105445aa7843bc8bf206b12000100000"
	var seen requestctx.TraceInfo
	handler := TraceMiddleware("tripdesk-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/stats/summary", nil)
	req.Header.Set(cloudTraceHeader, traceID+"/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, traceID, seen.TraceID)
	require.Equal(t, "0000000000000001", seen.SpanID)
	require.True(t, seen.Sampled)
	require.Equal(t, "projects/tripdesk-test/traces/"+traceID, seen.Resource())
	require.Equal(t, traceID+"/1;o=1", rec.Header().Get(cloudTraceHeader))
}

func TestTraceMiddlewareWithoutParent(t *testing.T) {
	var ok bool
	handler := TraceMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = requestctx.Trace(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.False(t, ok)
	require.Empty(t, rec.Header().Get(cloudTraceHeader))
}

func TestParseCloudTrace(t *testing.T) {
	cases := map[string]bool{
		"105445aa7843bc8bf206b12000100000/2;o=0":                true,
		"105445aa7843bc8bf206b12000100000/00000000000000ff;o=1": true,
		"105445aa7843bc8bf206b12000100000":                      false,
		"nothex/1;o=1":                                          false,
		"105445aa7843bc8bf206b12000100000/0;o=1":                false,
		"":                                                      false,
	}
	for header, want := range cases {
		_, ok := parseCloudTrace(header)
		require.Equal(t, want, ok, header)
	}
}

func TestClean(t *testing.T) {
	require.Equal(t, "GETX", clean("GET\x00X\n", 10))
	require.Equal(t, "abc", clean("abcdef", 3))
}
