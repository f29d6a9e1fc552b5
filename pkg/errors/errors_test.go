// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("connection refused")
	re := New(CodeTransport, "skill endpoint unreachable", cause)

	if re.Code != CodeTransport {
		t.Errorf("expected CodeTransport, got %v", re.Code)
	}
	if re.Message != "skill endpoint unreachable" {
		t.Errorf("expected message 'skill endpoint unreachable', got %q", re.Message)
	}
	if re.Err != cause {
		t.Errorf("expected cause to be preserved")
	}
	if !errors.Is(re, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestWithContext(t *testing.T) {
	re := New(CodeExecutableFailure, "skill exited non-zero", nil)
	re.WithContext("skill", "weather-lookup").
		WithContext("exit_code", 2)

	if re.Context["skill"] != "weather-lookup" {
		t.Errorf("expected context skill to be 'weather-lookup'")
	}
	if re.Context["exit_code"] != 2 {
		t.Errorf("expected context exit_code to be set")
	}
}

func TestWithRecoverable(t *testing.T) {
	re := New(CodeConnectionFailure, "session dropped", nil)
	if re.Recoverable {
		t.Errorf("expected recoverable to be false by default")
	}

	re.WithRecoverable(true)
	if !re.Recoverable {
		t.Errorf("expected recoverable to be true after WithRecoverable")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		re       *RunnerError
		expected string
	}{
		{
			name:     "with cause",
			re:       New(CodeTimeout, "invocation timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] invocation timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			re:       New(CodeAuthMissing, "auth env var not set", nil),
			expected: "[AUTH_MISSING] auth env var not set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.re.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMarshalJSON(t *testing.T) {
	re := New(CodeNonSuccessStatus, "endpoint returned 503", nil).
		WithContext("status", 503).
		WithRecoverable(true)

	data, err := json.Marshal(re)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["code"] != "NON_SUCCESS_STATUS" {
		t.Errorf("expected code NON_SUCCESS_STATUS, got %v", out["code"])
	}
	if out["recoverable"] != true {
		t.Errorf("expected recoverable true")
	}
}

func TestAsRunnerError(t *testing.T) {
	if AsRunnerError(nil) != nil {
		t.Errorf("expected nil for nil error")
	}

	typed := New(CodeTimeout, "timeout", nil)
	if AsRunnerError(typed) != typed {
		t.Errorf("expected same instance for typed error")
	}

	wrapped := AsRunnerError(errors.New("plain"))
	if wrapped.Code != CodeInternal {
		t.Errorf("expected untyped error wrapped as internal, got %v", wrapped.Code)
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != "" {
		t.Errorf("expected empty code for nil")
	}
	if CodeOf(New(CodeAuthMissing, "x", nil)) != CodeAuthMissing {
		t.Errorf("expected CodeAuthMissing")
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Errorf("expected CodeInternal for untyped error")
	}
}
