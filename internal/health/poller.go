package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vyrodovalexey/aggregw/internal/config"
	"github.com/vyrodovalexey/aggregw/internal/observability"
	"github.com/vyrodovalexey/aggregw/internal/registry"
)

// Poller periodically probes every registered service and writes the
// result back to the registry.
type Poller struct {
	registry     registry.Registry
	client       *http.Client
	logger       observability.Logger
	metrics      *Metrics
	path         string
	timeout      time.Duration
	interval     time.Duration
	initialDelay time.Duration

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// PollerOption is a functional option for configuring the poller.
type PollerOption func(*Poller)

// WithLogger sets the logger for the poller.
func WithLogger(logger observability.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithClient sets the HTTP client used for probes.
func WithClient(client *http.Client) PollerOption {
	return func(p *Poller) {
		p.client = client
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) PollerOption {
	return func(p *Poller) {
		p.metrics = m
	}
}

// NewPoller creates a poller. Zero durations fall back to defaults.
func NewPoller(reg registry.Registry, cfg config.HealthCheckConfig, opts ...PollerOption) *Poller {
	p := &Poller{
		registry:     reg,
		client:       &http.Client{},
		logger:       observability.NopLogger(),
		path:         cfg.Path,
		timeout:      cfg.Timeout.Duration(),
		interval:     cfg.Interval.Duration(),
		initialDelay: cfg.InitialDelay.Duration(),
	}
	if p.path == "" {
		p.path = config.DefaultHealthPath
	}
	if p.timeout <= 0 {
		p.timeout = config.DefaultHealthTimeout
	}
	if p.interval <= 0 {
		p.interval = config.DefaultHealthInterval
	}
	if p.initialDelay < 0 {
		p.initialDelay = 0
	}

	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	return p
}

// Start starts the polling loop.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.stoppedCh = make(chan struct{})
	p.mu.Unlock()

	go p.run(ctx, p.stopCh, p.stoppedCh)
}

// Stop stops the polling loop and waits for an in-flight round to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh, stoppedCh := p.stopCh, p.stoppedCh
	p.mu.Unlock()

	close(stopCh)
	<-stoppedCh
}

func (p *Poller) run(ctx context.Context, stopCh <-chan struct{}, stoppedCh chan<- struct{}) {
	defer close(stoppedCh)

	// The initial delay lets services finish registering after startup.
	delay := time.NewTimer(p.initialDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return
	case <-stopCh:
		return
	case <-delay.C:
	}

	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-roundCtx.Done():
		}
	}()

	p.CheckAll(roundCtx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.CheckAll(roundCtx)
		}
	}
}

// CheckAll probes every registered service concurrently and records the
// results. Failures are logged, never returned; the returned map holds the
// outcome per service.
func (p *Poller) CheckAll(ctx context.Context) map[string]bool {
	records, err := p.registry.List(ctx)
	if err != nil {
		p.logger.Warn("health check skipped: registry unavailable", observability.Error(err))
		return nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]bool, len(records))
	)
	for name, rec := range records {
		wg.Add(1)
		go func() {
			defer wg.Done()
			healthy := p.check(ctx, rec)
			mu.Lock()
			results[name] = healthy
			mu.Unlock()
		}()
	}
	wg.Wait()

	return results
}

// check probes one service and stores the verdict.
func (p *Poller) check(ctx context.Context, rec registry.ServiceRecord) bool {
	start := time.Now()
	healthy, err := p.probe(ctx, rec)
	if ctx.Err() != nil {
		// Round aborted; keep the previous verdict.
		return false
	}
	p.metrics.record(rec.Name, healthy, time.Since(start))

	if !healthy {
		fields := []observability.Field{
			observability.String("service", rec.Name),
			observability.String("baseUrl", rec.BaseURL),
		}
		if err != nil {
			fields = append(fields, observability.Error(err))
		}
		p.logger.Warn("service health probe failed", fields...)
	}

	if err := p.registry.UpdateHealth(ctx, rec.Name, healthy); err != nil {
		if errors.Is(err, registry.ErrServiceNotFound) {
			p.logger.Debug("service unregistered during health check",
				observability.String("service", rec.Name))
		} else {
			p.logger.Warn("failed to store health result",
				observability.String("service", rec.Name),
				observability.Error(err),
			)
		}
	}
	return healthy
}

func (p *Poller) probe(ctx context.Context, rec registry.ServiceRecord) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := strings.TrimSuffix(rec.BaseURL, "/") + p.path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return false, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices, nil
}
