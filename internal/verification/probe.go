package verification

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ProbeOptions configures a Prober
type ProbeOptions struct {
	// BaseURL is prefixed to every probed path; empty disables probing
	BaseURL string
	// Timeout bounds each probe (default 5s)
	Timeout time.Duration
	// RequestsPerSecond limits the probe rate (0 = unlimited)
	RequestsPerSecond float64
	// MaxConcurrent caps in-flight probes (default 4)
	MaxConcurrent int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// ProbeFailure describes one path that did not answer successfully.
type ProbeFailure struct {
	Path   string
	Status int
	Err    error
}

func (f ProbeFailure) String() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Path, f.Err)
	}
	return fmt.Sprintf("%s: status %d", f.Path, f.Status)
}

// Prober issues concurrent, rate-limited GET requests against the running system.
type Prober struct {
	baseURL       string
	timeout       time.Duration
	limiter       *rate.Limiter
	maxConcurrent int
	client        *http.Client
	logger        *slog.Logger
}

// NewProber creates a prober
func NewProber(opts ProbeOptions) *Prober {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Prober{
		baseURL:       strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		timeout:       opts.Timeout,
		limiter:       rate.NewLimiter(limit, opts.MaxConcurrent),
		maxConcurrent: opts.MaxConcurrent,
		client:        opts.HTTPClient,
		logger:        opts.Logger,
	}
}

// Enabled reports whether a base URL is configured
func (p *Prober) Enabled() bool {
	return p != nil && p.baseURL != ""
}

// ProbeAll probes every path and returns the failures in input order.
// An answer below 400 counts as success.
func (p *Prober) ProbeAll(ctx context.Context, paths []string) []ProbeFailure {
	results := make([]*ProbeFailure, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)
	var mu sync.Mutex
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			failure := p.probe(gctx, path)
			if failure != nil {
				mu.Lock()
				results[i] = failure
				mu.Unlock()
			}
			// Failures are collected, not propagated, so sibling probes keep running
			return nil
		})
	}
	_ = g.Wait()

	var failures []ProbeFailure
	for _, f := range results {
		if f != nil {
			failures = append(failures, *f)
		}
	}
	return failures
}

func (p *Prober) probe(ctx context.Context, path string) *ProbeFailure {
	if err := p.limiter.Wait(ctx); err != nil {
		return &ProbeFailure{Path: path, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := p.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &ProbeFailure{Path: path, Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "path", path, "err", err)
		return &ProbeFailure{Path: path, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		p.logger.Debug("probe returned error status", "path", path, "status", resp.StatusCode)
		return &ProbeFailure{Path: path, Status: resp.StatusCode}
	}
	return nil
}
