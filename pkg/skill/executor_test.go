package skill

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	rerrors "github.com/evosys/evo-runner/pkg/errors"
)

func configOnlyDescriptor(url, authRef string, outputs []Field) Descriptor {
	return Descriptor{
		Name:    "test-skill",
		Mode:    ModeConfigOnly,
		Outputs: outputs,
		Config: &EndpointConfig{
			AuthRef: authRef,
			Endpoints: []Endpoint{
				{Name: "main", URL: url, Method: http.MethodPost},
			},
		},
	}
}

func TestExecuteConfigOnlySuccess(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"temperature": 21.5}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_SKILL_KEY", "secret-token")

	exec := NewExecutor(time.Second, nil)
	desc := configOnlyDescriptor(srv.URL, "TEST_SKILL_KEY", []Field{
		{Name: "temperature", Type: "number", Required: true},
	})

	result := exec.Execute(context.Background(), desc, map[string]any{"city": "Madrid"})
	if !result.Succeeded {
		t.Fatalf("expected success, got error %v", result.Error)
	}
	if gotAuth.Load() != "Bearer secret-token" {
		t.Errorf("expected bearer credential, got %v", gotAuth.Load())
	}

	var out map[string]any
	if err := json.Unmarshal(result.Output, &out); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if out["temperature"] != 21.5 {
		t.Errorf("unexpected output %v", out)
	}
}

func TestExecuteMissingCredentialFailsFast(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	os.Unsetenv("TEST_SKILL_MISSING_KEY")

	exec := NewExecutor(time.Second, nil)
	desc := configOnlyDescriptor(srv.URL, "TEST_SKILL_MISSING_KEY", nil)

	result := exec.Execute(context.Background(), desc, nil)
	if result.Succeeded {
		t.Fatal("expected failure")
	}
	if result.Error.Code != rerrors.CodeAuthMissing {
		t.Errorf("expected AUTH_MISSING, got %v", result.Error.Code)
	}
	if requests.Load() != 0 {
		t.Errorf("expected no HTTP request issued, got %d", requests.Load())
	}
}

func TestExecuteNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	exec := NewExecutor(time.Second, nil)
	result := exec.Execute(context.Background(), configOnlyDescriptor(srv.URL, "", nil), nil)
	if result.Succeeded {
		t.Fatal("expected failure")
	}
	if result.Error.Code != rerrors.CodeNonSuccessStatus {
		t.Errorf("expected NON_SUCCESS_STATUS, got %v", result.Error.Code)
	}
}

func TestExecuteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	exec := NewExecutor(20*time.Millisecond, nil)
	start := time.Now()
	result := exec.Execute(context.Background(), configOnlyDescriptor(srv.URL, "", nil), nil)
	if result.Succeeded {
		t.Fatal("expected failure")
	}
	if result.Error.Code != rerrors.CodeTimeout {
		t.Errorf("expected TIMEOUT, got %v", result.Error.Code)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("invocation did not abort at timeout, took %v", elapsed)
	}
	if result.LatencyMS < 0 {
		t.Errorf("expected non-negative latency")
	}
}

func TestExecuteTransportError(t *testing.T) {
	exec := NewExecutor(time.Second, nil)
	// Port 1 on loopback is almost never listening: connection refused.
	desc := configOnlyDescriptor("http://127.0.0.1:1", "", nil)

	result := exec.Execute(context.Background(), desc, nil)
	if result.Succeeded {
		t.Fatal("expected failure")
	}
	if result.Error.Code != rerrors.CodeTransport {
		t.Errorf("expected TRANSPORT_ERROR, got %v", result.Error.Code)
	}
}

func TestExecuteOutputSchemaMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"wrong_field": true}`))
	}))
	defer srv.Close()

	exec := NewExecutor(time.Second, nil)
	desc := configOnlyDescriptor(srv.URL, "", []Field{
		{Name: "temperature", Type: "number", Required: true},
	})

	result := exec.Execute(context.Background(), desc, nil)
	if result.Succeeded {
		t.Fatal("expected failure")
	}
	if result.Error.Code != rerrors.CodeOutputSchemaMismatch {
		t.Errorf("expected OUTPUT_SCHEMA_MISMATCH, got %v", result.Error.Code)
	}
}

func TestExecuteNoEndpoints(t *testing.T) {
	exec := NewExecutor(time.Second, nil)
	desc := Descriptor{Name: "bare", Mode: ModeConfigOnly, Config: &EndpointConfig{}}

	result := exec.Execute(context.Background(), desc, nil)
	if !result.Succeeded {
		t.Fatalf("expected success, got %v", result.Error)
	}
}

func TestExecuteCodeMode(t *testing.T) {
	dir := t.TempDir()
	script := "#!/bin/sh\ncat >/dev/null\necho '{\"summary\": \"done\"}'\n"
	path := filepath.Join(dir, "run.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	exec := NewExecutor(time.Second, nil)
	desc := Descriptor{
		Name: "summarize",
		Mode: ModeCode,
		Code: &CodeEntry{Entrypoint: path},
		Dir:  dir,
		Outputs: []Field{
			{Name: "summary", Type: "string", Required: true},
		},
	}

	result := exec.Execute(context.Background(), desc, map[string]any{"text": "hello"})
	if !result.Succeeded {
		t.Fatalf("expected success, got %v", result.Error)
	}
}

func TestExecuteCodeModeNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fail.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	exec := NewExecutor(time.Second, nil)
	desc := Descriptor{Name: "failer", Mode: ModeCode, Code: &CodeEntry{Entrypoint: path}, Dir: dir}

	result := exec.Execute(context.Background(), desc, nil)
	if result.Succeeded {
		t.Fatal("expected failure")
	}
	if result.Error.Code != rerrors.CodeExecutableFailure {
		t.Errorf("expected EXECUTABLE_FAILURE, got %v", result.Error.Code)
	}
}

func TestExecuteCodeModeMalformedOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho not-json\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	exec := NewExecutor(time.Second, nil)
	desc := Descriptor{Name: "garbage", Mode: ModeCode, Code: &CodeEntry{Entrypoint: path}, Dir: dir}

	result := exec.Execute(context.Background(), desc, nil)
	if result.Succeeded {
		t.Fatal("expected failure")
	}
	if result.Error.Code != rerrors.CodeExecutableFailure {
		t.Errorf("expected EXECUTABLE_FAILURE, got %v", result.Error.Code)
	}
}
