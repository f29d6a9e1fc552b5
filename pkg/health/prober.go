// Package health probes skill endpoints for reachability and latency. A
// probe never mutates remote state and never fails the process; unreachable
// endpoints are reported, not retried.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// Check describes one endpoint to probe.
type Check struct {
	URL     string `json:"url"`
	Method  string `json:"method,omitempty"`
	AuthRef string `json:"auth_ref,omitempty"`
}

// Result is the outcome of a single probe. Reachable is true whenever the
// endpoint produced any complete HTTP response, including error statuses;
// StatusCode is nil exactly when Reachable is false.
type Result struct {
	EndpointURL string `json:"endpoint_url"`
	Reachable   bool   `json:"reachable"`
	StatusCode  *int   `json:"status_code,omitempty"`
	LatencyMS   int64  `json:"latency_ms"`
	AuthPresent bool   `json:"auth_present"`
}

// Prober issues health probes with a fixed per-probe timeout.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewProber creates a prober. timeout bounds each individual probe; zero
// selects the 5 second default.
func NewProber(timeout time.Duration, logger *slog.Logger) *Prober {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
}

// Probe checks a single endpoint. The latency is measured from request start
// to response (or failure), so even unreachable endpoints report how long
// the attempt took.
func (p *Prober) Probe(ctx context.Context, check Check) Result {
	result := Result{
		EndpointURL: check.URL,
		AuthPresent: check.AuthRef != "" && os.Getenv(check.AuthRef) != "",
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	method := check.Method
	if method == "" {
		method = http.MethodGet
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, check.URL, nil)
	if err != nil {
		result.LatencyMS = time.Since(start).Milliseconds()
		p.logger.Warn("health probe request invalid", "url", check.URL, "error", err)
		return result
	}

	resp, err := p.client.Do(req)
	result.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		p.logger.Info("health probe failed", "url", check.URL, "latency_ms", result.LatencyMS, "error", err)
		return result
	}
	resp.Body.Close()

	status := resp.StatusCode
	result.Reachable = true
	result.StatusCode = &status
	p.logger.Info("health probe completed",
		"url", check.URL, "status", status, "latency_ms", result.LatencyMS)
	return result
}

// ProbeAll probes every check concurrently and returns results in the same
// order as the input. It returns only once every probe has resolved, so a
// caller aggregating the batch never observes a partial snapshot.
func (p *Prober) ProbeAll(ctx context.Context, checks []Check) []Result {
	results := make([]Result, len(checks))

	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check Check) {
			defer wg.Done()
			results[i] = p.Probe(ctx, check)
		}(i, check)
	}
	wg.Wait()

	return results
}
