package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbeReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber(time.Second, nil)
	result := p.Probe(context.Background(), Check{URL: srv.URL})

	if !result.Reachable {
		t.Fatal("expected reachable")
	}
	if result.StatusCode == nil || *result.StatusCode != http.StatusOK {
		t.Errorf("unexpected status %v", result.StatusCode)
	}
	if result.LatencyMS < 0 {
		t.Errorf("expected non-negative latency, got %d", result.LatencyMS)
	}
}

func TestProbeServerErrorStillReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProber(time.Second, nil)
	result := p.Probe(context.Background(), Check{URL: srv.URL})

	if !result.Reachable {
		t.Fatal("expected reachable for completed error response")
	}
	if result.StatusCode == nil || *result.StatusCode != http.StatusInternalServerError {
		t.Errorf("unexpected status %v", result.StatusCode)
	}
}

func TestProbeUnreachable(t *testing.T) {
	p := NewProber(time.Second, nil)
	result := p.Probe(context.Background(), Check{URL: "http://127.0.0.1:1/health"})

	if result.Reachable {
		t.Fatal("expected unreachable")
	}
	if result.StatusCode != nil {
		t.Errorf("expected nil status code, got %d", *result.StatusCode)
	}
}

func TestProbeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewProber(20*time.Millisecond, nil)
	start := time.Now()
	result := p.Probe(context.Background(), Check{URL: srv.URL})

	if result.Reachable {
		t.Fatal("expected unreachable on timeout")
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("probe did not abort at timeout, took %v", elapsed)
	}
}

func TestProbeAuthPresence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := NewProber(time.Second, nil)

	t.Setenv("HEALTH_PROBE_KEY", "tok")
	if r := p.Probe(context.Background(), Check{URL: srv.URL, AuthRef: "HEALTH_PROBE_KEY"}); !r.AuthPresent {
		t.Error("expected auth present when env var set")
	}

	t.Setenv("HEALTH_PROBE_KEY", "")
	if r := p.Probe(context.Background(), Check{URL: srv.URL, AuthRef: "HEALTH_PROBE_KEY"}); r.AuthPresent {
		t.Error("expected auth absent when env var empty")
	}

	if r := p.Probe(context.Background(), Check{URL: srv.URL}); r.AuthPresent {
		t.Error("expected auth absent when no auth_ref declared")
	}
}

func TestProbeAllPreservesOrder(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	p := NewProber(time.Second, nil)
	checks := []Check{
		{URL: ok.URL},
		{URL: "http://127.0.0.1:1/health"},
		{URL: broken.URL},
	}

	results := p.ProbeAll(context.Background(), checks)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.EndpointURL != checks[i].URL {
			t.Errorf("result %d out of order: got %q want %q", i, r.EndpointURL, checks[i].URL)
		}
	}
	if !results[0].Reachable || results[1].Reachable || !results[2].Reachable {
		t.Errorf("unexpected reachability: %+v", results)
	}
	if results[2].StatusCode == nil || *results[2].StatusCode != http.StatusBadGateway {
		t.Errorf("unexpected status for third probe: %v", results[2].StatusCode)
	}
}
