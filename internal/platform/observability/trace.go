package observability

import (
	"context"
	"encoding/binary"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/tripdesk/api/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

// TraceMiddleware starts a server span per request. The parent is taken from the W3C
// traceparent header or, failing that, from X-Cloud-Trace-Context. The active span is echoed
// back in X-Cloud-Trace-Context and recorded on the request context for log correlation.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	propagators := propagation.NewCompositeTextMapPropagator(cloudTraceContext{}, propagation.TraceContext{})
	return func(next http.Handler) http.Handler {
		annotate := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sc := trace.SpanContextFromContext(ctx)
			if sc.IsValid() {
				ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{
					TraceID:   sc.TraceID().String(),
					SpanID:    sc.SpanID().String(),
					Sampled:   sc.IsSampled(),
					ProjectID: projectID,
				})
				cloudTraceContext{}.Inject(ctx, propagation.HeaderCarrier(w.Header()))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
		return otelhttp.NewHandler(annotate, "http.server",
			otelhttp.WithPropagators(propagators),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}

// cloudTraceContext reads and writes TRACE_ID/SPAN_ID;o=OPTIONS where SPAN_ID is decimal.
type cloudTraceContext struct{}

var _ propagation.TextMapPropagator = cloudTraceContext{}

func (cloudTraceContext) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return
	}
	sid := sc.SpanID()
	option := "0"
	if sc.IsSampled() {
		option = "1"
	}
	carrier.Set(cloudTraceHeader, sc.TraceID().String()+"/"+strconv.FormatUint(binary.BigEndian.Uint64(sid[:]), 10)+";o="+option)
}

func (cloudTraceContext) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	sc, ok := parseCloudTrace(carrier.Get(cloudTraceHeader))
	if !ok {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

func (cloudTraceContext) Fields() []string {
	return []string{cloudTraceHeader}
}

func parseCloudTrace(header string) (trace.SpanContext, bool) {
	traceHex, rest, ok := strings.Cut(strings.TrimSpace(header), "/")
	if !ok {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(strings.TrimSpace(spanPart))
	if !ok {
		return trace.SpanContext{}, false
	}
	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return sc, sc.IsValid()
}

// parseSpanID accepts the documented decimal form and the 16-digit hex form some proxies emit.
func parseSpanID(value string) (trace.SpanID, bool) {
	if n, err := strconv.ParseUint(value, 10, 64); err == nil && n != 0 {
		var id trace.SpanID
		binary.BigEndian.PutUint64(id[:], n)
		return id, true
	}
	if len(value) == 16 {
		if id, err := trace.SpanIDFromHex(value); err == nil {
			return id, true
		}
	}
	return trace.SpanID{}, false
}
