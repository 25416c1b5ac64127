// Package aggregator implements the composite read endpoints. Each
// aggregate fans out to several services through the proxy primitive,
// tolerates the failure of any branch, and merges what came back.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/vyrodovalexey/aggregw/internal/config"
	"github.com/vyrodovalexey/aggregw/internal/observability"
	"github.com/vyrodovalexey/aggregw/internal/proxy"
)

// Services the aggregates read from.
const (
	ListService    = "list-service"
	CatalogService = "item-service"
)

// maxBranchBody caps a single backend payload.
const maxBranchBody = 8 << 20

// ErrUpstream indicates a branch call returned an unusable response.
var ErrUpstream = errors.New("upstream returned an unusable response")

// Caller issues one backend call. proxy.Forwarder implements it.
type Caller interface {
	Do(ctx context.Context, req *proxy.Request) (*http.Response, error)
}

// Aggregator serves the dashboard and global search aggregates.
type Aggregator struct {
	caller Caller
	cfg    config.AggregatorConfig
	logger observability.Logger
	tracer *observability.Tracer
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithTracer sets the tracer used for branch spans.
func WithTracer(t *observability.Tracer) Option {
	return func(a *Aggregator) {
		a.tracer = t
	}
}

// New creates an Aggregator. Zero limits in cfg fall back to defaults.
func New(caller Caller, cfg config.AggregatorConfig, opts ...Option) *Aggregator {
	def := config.DefaultConfig().Spec.Aggregator
	if cfg.DashboardPageSize <= 0 {
		cfg.DashboardPageSize = def.DashboardPageSize
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = def.SampleSize
	}
	if cfg.SearchListPageSize <= 0 {
		cfg.SearchListPageSize = def.SearchListPageSize
	}
	if cfg.RecentLists <= 0 {
		cfg.RecentLists = def.RecentLists
	}
	if cfg.CatalogLimit <= 0 {
		cfg.CatalogLimit = def.CatalogLimit
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = def.ListLimit
	}

	a := &Aggregator{
		caller: caller,
		cfg:    cfg,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Meta reports which branches failed.
type Meta struct {
	Partial bool     `json:"partial"`
	Failed  []string `json:"failed"`
}

func metaFor[T any](names []string, results []Result[T]) Meta {
	m := Meta{Failed: []string{}}
	for i, r := range results {
		if !r.OK() {
			m.Failed = append(m.Failed, names[i])
		}
	}
	m.Partial = len(m.Failed) > 0
	return m
}

// envelope is the uniform backend response body.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// fetch performs a GET and returns the envelope's data member.
func (a *Aggregator) fetch(
	ctx context.Context,
	service, path string,
	query url.Values,
	token string,
) (json.RawMessage, error) {
	header := make(http.Header)
	header.Set("Accept", "application/json")
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.caller.Do(ctx, &proxy.Request{
		Service:  service,
		Method:   http.MethodGet,
		Path:     path,
		RawQuery: query.Encode(),
		Header:   header,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBranchBody))
		return nil, fmt.Errorf("%w: %s %s status %d", ErrUpstream, service, path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBranchBody)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUpstream, service, path, err)
	}
	if env.Success != nil && !*env.Success {
		return nil, fmt.Errorf("%w: %s %s reported failure", ErrUpstream, service, path)
	}
	return env.Data, nil
}

// fetchArray fetches a path whose data member is a JSON array.
func (a *Aggregator) fetchArray(
	ctx context.Context,
	service, path string,
	query url.Values,
	token string,
) ([]json.RawMessage, error) {
	data, err := a.fetch(ctx, service, path, query, token)
	if err != nil {
		return nil, err
	}
	return decodeArray(data)
}

func decodeArray(data json.RawMessage) ([]json.RawMessage, error) {
	out := []json.RawMessage{}
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: expected an array: %w", ErrUpstream, err)
	}
	return out, nil
}

func limitQuery(n int) url.Values {
	return url.Values{"limit": {strconv.Itoa(n)}}
}

func capSlice[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func orEmpty(s []json.RawMessage) []json.RawMessage {
	if s == nil {
		return []json.RawMessage{}
	}
	return s
}

func (a *Aggregator) logFailures(aggregate string, names []string, results []Result[[]json.RawMessage]) {
	for i, r := range results {
		if r.Err != nil {
			a.logger.Warn("aggregate branch failed",
				observability.String("aggregate", aggregate),
				observability.String("branch", names[i]),
				observability.Error(r.Err),
			)
		}
	}
}
