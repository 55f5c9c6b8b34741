package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tripdesk/api/internal/platform/auth"
	"github.com/tripdesk/api/internal/platform/httpx"
)

const (
	defaultHeader = "Idempotency-Key"
	replayHeader  = "Idempotent-Replayed"
	maxKeyLength  = 255
)

type guard struct {
	store    Store
	header   string
	ttl      time.Duration
	optional bool
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures Middleware.
type Option func(*guard)

// WithHeader changes the request header carrying the key.
func WithHeader(name string) Option {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long completed replies are replayed.
func WithTTL(ttl time.Duration) Option {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithOptionalKey passes keyless requests straight through instead of rejecting them.
func WithOptionalKey() Option {
	return func(g *guard) { g.optional = true }
}

// WithLogger reports store failures.
func WithLogger(logger *zap.Logger) Option {
	return func(g *guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *guard) {
		if now != nil {
			g.now = now
		}
	}
}

// Middleware guards POST, PUT, PATCH and DELETE requests. The first request for a key runs;
// concurrent duplicates get 409, later duplicates get the stored reply, and reuse of the key
// for a different payload gets 422. Replies with a 5xx status are not kept so the client can retry.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{store: store, header: defaultHeader, ttl: DefaultTTL, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(next, w, r)
		})
	}
}

func (g *guard) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		next.ServeHTTP(w, r)
		return
	}

	key := strings.TrimSpace(r.Header.Get(g.header))
	switch {
	case key == "" && g.optional:
		next.ServeHTTP(w, r)
		return
	case key == "":
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", g.header+" header is required", http.StatusBadRequest))
		return
	case len(key) > maxKeyLength:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", g.header+" is too long", http.StatusBadRequest))
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	id := EntryID(callerScope(ctx), key)
	fingerprint := fingerprintOf(r, body)
	outcome, entry, err := g.store.Claim(ctx, id, fingerprint, g.now().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was already used for a different request", http.StatusUnprocessableEntity))
		return
	case err != nil:
		g.logger.Error("idempotency: claim failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
		return
	}

	switch outcome {
	case OutcomeReplay:
		replay(w, entry.Reply)
		return
	case OutcomeInFlight:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is still running", http.StatusConflict))
		return
	}

	rec := &bufferedResponse{header: make(http.Header)}
	next.ServeHTTP(rec, r)
	reply := rec.reply()

	if reply.Status >= http.StatusInternalServerError {
		g.abandon(ctx, id)
		rec.flushTo(w)
		return
	}
	if err := g.store.Complete(ctx, id, fingerprint, reply, g.now().UTC(), g.ttl); err != nil {
		g.logger.Error("idempotency: storing reply failed", zap.Int("status", reply.Status), zap.Error(err))
		g.abandon(ctx, id)
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to persist idempotency state", http.StatusInternalServerError))
		return
	}
	rec.flushTo(w)
}

func (g *guard) abandon(ctx context.Context, id string) {
	if err := g.store.Abandon(ctx, id); err != nil {
		g.logger.Warn("idempotency: releasing key failed", zap.Error(err))
	}
}

// callerScope keeps keys of different operators apart.
func callerScope(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return "operator:" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "service:" + svc.Subject
	}
	return "anonymous"
}

func fingerprintOf(r *http.Request, body []byte) string {
	return digest(strings.Join([]string{
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		digest(string(body)),
	}, "\n"))
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func replay(w http.ResponseWriter, reply Reply) {
	for name, values := range reply.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeader, "true")
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(reply.Body)
}

// bufferedResponse holds the handler output until the reply is stored.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) reply() Reply {
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	return Reply{Status: status, Header: b.header.Clone(), Body: b.body.Bytes()}
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) {
	reply := b.reply()
	for name, values := range reply.Header {
		w.Header()[name] = values
	}
	w.WriteHeader(reply.Status)
	_, _ = w.Write(reply.Body)
}
