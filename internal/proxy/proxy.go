package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/aggregw/internal/circuitbreaker"
	"github.com/vyrodovalexey/aggregw/internal/observability"
	"github.com/vyrodovalexey/aggregw/internal/registry"
	"github.com/vyrodovalexey/aggregw/internal/router"
)

// DefaultTimeout bounds every forwarded call.
const DefaultTimeout = 10 * time.Second

// DefaultName is used as the envelope source when no gateway name is set.
const DefaultName = "api-gateway"

// maxErrorBody caps how much of a 5xx payload is buffered for relay.
const maxErrorBody = 1 << 20

var errErrorBodyTooLarge = errors.New("backend error payload exceeds relay limit")

// Backend call outcomes recorded as metric labels.
const (
	OutcomeSuccess        = "success"
	OutcomeBackendError   = "backend_error"
	OutcomeUnavailable    = "unavailable"
	OutcomeCircuitOpen    = "circuit_open"
	OutcomeUnknownService = "unknown_service"
	OutcomeCanceled       = "canceled"
)

// Hop-by-hop headers. These are removed when sent to the backend.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Request describes one backend call. Path is the already rewritten
// backend path.
type Request struct {
	Service       string
	Method        string
	Path          string
	RawQuery      string
	Header        http.Header
	Body          io.Reader
	ContentLength int64

	// Inbound, when set, supplies the X-Forwarded-* values.
	Inbound *http.Request
}

// Forwarder routes inbound requests to registered services behind
// per-service circuit breakers.
type Forwarder struct {
	routes   *router.Table
	breakers *circuitbreaker.Manager
	registry registry.Registry

	client  *http.Client
	timeout time.Duration
	name    string
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithTransport sets the HTTP transport used for backend calls.
func WithTransport(transport http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.client.Transport = transport
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(f *Forwarder) {
		f.tracer = t
	}
}

// WithName sets the gateway name reported as the source of gateway-level errors.
func WithName(name string) Option {
	return func(f *Forwarder) {
		if name != "" {
			f.name = name
		}
	}
}

// NewForwarder creates a Forwarder.
func NewForwarder(
	routes *router.Table,
	breakers *circuitbreaker.Manager,
	reg registry.Registry,
	opts ...Option,
) *Forwarder {
	f := &Forwarder{
		routes:   routes,
		breakers: breakers,
		registry: reg,
		client: &http.Client{
			// Redirects are relayed to the client, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: DefaultTimeout,
		name:    DefaultName,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the gateway name.
func (f *Forwarder) Name() string {
	return f.name
}

// Do gates, discovers, forwards and classifies one backend call. Responses
// with any status are returned; the breaker has already been updated. The
// caller must close the response body, which also releases the deadline.
func (f *Forwarder) Do(ctx context.Context, req *Request) (*http.Response, error) {
	service := req.Service
	start := time.Now()

	ctx, span := f.tracer.StartSpan(ctx, "proxy "+service,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("peer.service", service),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		),
	)
	defer span.End()

	if f.breakers.IsOpen(service) {
		f.observe(service, OutcomeCircuitOpen, start)
		observability.MarkFailed(span, nil, "circuit open")
		return nil, NewCircuitOpenError(service)
	}

	record, err := f.registry.Discover(ctx, service)
	if err != nil {
		f.breakers.Release(service)
		observability.MarkFailed(span, err, "discovery failed")
		if errors.Is(err, registry.ErrServiceNotFound) {
			f.observe(service, OutcomeUnknownService, start)
			return nil, NewServiceUnknownError(service, f.knownServices(ctx), err)
		}
		if ctx.Err() != nil {
			f.observe(service, OutcomeCanceled, start)
			return nil, errors.Join(ErrClientCanceled, err)
		}
		f.logger.Warn("service discovery failed",
			observability.String("service", service),
			observability.Error(err),
		)
		f.observe(service, OutcomeUnavailable, start)
		return nil, NewServiceUnavailableError(service, "registry", err)
	}

	target := strings.TrimSuffix(record.BaseURL, "/") + req.Path
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	out, err := http.NewRequestWithContext(callCtx, req.Method, target, req.Body)
	if err != nil {
		cancel()
		f.breakers.Release(service)
		return nil, NewInternalError(err)
	}
	out.Header = cleanHeader(req.Header)
	if req.Body != nil && req.ContentLength > 0 {
		out.ContentLength = req.ContentLength
	}
	if req.Inbound != nil {
		setForwardedHeaders(out, req.Inbound)
	}
	observability.InjectTraceContext(callCtx, out)

	resp, err := f.client.Do(out)
	if err != nil {
		cancel()
		if errors.Is(ctx.Err(), context.Canceled) {
			f.breakers.Release(service)
			f.observe(service, OutcomeCanceled, start)
			return nil, errors.Join(ErrClientCanceled, err)
		}

		reason := "connection"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		f.breakers.RecordFailure(service)
		f.observe(service, OutcomeUnavailable, start)
		observability.MarkFailed(span, err, reason)
		f.logger.Warn("backend call failed",
			observability.String("service", service),
			observability.String("target", target),
			observability.String("reason", reason),
			observability.Error(err),
		)
		return nil, NewServiceUnavailableError(service, reason, err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if IsFailureStatus(resp.StatusCode) {
		f.breakers.RecordFailure(service)
		f.observe(service, OutcomeBackendError, start)
		observability.MarkFailed(span, nil, "backend error")
		f.logger.Warn("backend returned server error",
			observability.String("service", service),
			observability.String("target", target),
			observability.Int("status", resp.StatusCode),
		)
	} else {
		f.breakers.RecordSuccess(service)
		f.observe(service, OutcomeSuccess, start)
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// ServeHTTP proxies r according to the route table.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rule, err := f.routes.Match(r.URL.Path)
	if err != nil {
		WriteError(w, NewRouteNotFoundError(r.URL.Path, f.routes.Prefixes()), f.name)
		return
	}

	req := &Request{
		Service:  rule.TargetService,
		Method:   r.Method,
		Path:     rule.RewriteURL(r.URL),
		RawQuery: r.URL.RawQuery,
		Header:   r.Header,
		Inbound:  r,
	}
	if hasBody(r.Method) && r.Body != nil && r.Body != http.NoBody {
		req.Body = r.Body
		req.ContentLength = r.ContentLength
	}

	resp, err := f.Do(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrClientCanceled) {
			return
		}
		WriteError(w, AsGatewayError(err), f.name)
		return
	}
	defer resp.Body.Close()

	if IsFailureStatus(resp.StatusCode) {
		f.relayFailure(w, resp, rule.TargetService)
		return
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.logger.Debug("response relay interrupted",
			observability.String("service", rule.TargetService),
			observability.Error(err),
		)
	}
}

// relayFailure passes a 5xx payload through. An empty, unreadable or
// oversized payload is replaced with the BACKEND_ERROR envelope.
func (f *Forwarder) relayFailure(w http.ResponseWriter, resp *http.Response, service string) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
	if len(body) > maxErrorBody {
		f.logger.Warn("backend error payload too large to relay",
			observability.String("service", service),
			observability.Int("status", resp.StatusCode),
		)
		err = errErrorBodyTooLarge
	}
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		WriteError(w, NewBackendError(service, resp.StatusCode), f.name)
		return
	}

	copyHeader(w.Header(), resp.Header)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

func (f *Forwarder) knownServices(ctx context.Context) []string {
	records, err := f.registry.List(ctx)
	if err != nil {
		f.logger.Debug("listing services failed", observability.Error(err))
		return nil
	}
	return registry.Names(records)
}

func (f *Forwarder) observe(service, outcome string, start time.Time) {
	if f.metrics != nil {
		f.metrics.RecordBackendCall(service, outcome, time.Since(start))
	}
}

// IsFailureStatus reports whether a backend status counts as a breaker failure.
func IsFailureStatus(status int) bool {
	return status >= http.StatusInternalServerError
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// cleanHeader copies h without Host, Content-Length and hop-by-hop headers.
func cleanHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	for _, v := range out.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		out.Del(name)
	}
	out.Del("Host")
	out.Del("Content-Length")
	return out
}

func setForwardedHeaders(out, in *http.Request) {
	if clientIP, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}

	if in.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}
	out.Header.Set("X-Forwarded-Host", in.Host)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, name := range hopHeaders {
		dst.Del(name)
	}
}

// cancelOnClose releases the call deadline once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
