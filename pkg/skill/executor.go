package skill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/kaptinlin/jsonschema"

	"github.com/evosys/evo-runner/pkg/errors"
)

// InvocationResult is produced once per skill invocation, serialized into an
// outbound report event, then discarded.
type InvocationResult struct {
	SkillName string              `json:"skill_name"`
	Succeeded bool                `json:"succeeded"`
	Output    json.RawMessage     `json:"output,omitempty"`
	Error     *errors.RunnerError `json:"error,omitempty"`
	LatencyMS int64               `json:"latency_ms"`
	Timestamp time.Time           `json:"timestamp"`
}

// Executor runs one skill invocation against a descriptor and an input
// payload. Invocations are independent and stateless with respect to prior
// ones; the per-invocation timeout is the only abort mechanism.
type Executor struct {
	httpClient     *http.Client
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewExecutor creates an executor. timeout bounds HTTP-mode invocations;
// code-mode skills may declare a longer budget in their manifest.
func NewExecutor(timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		httpClient:     &http.Client{},
		defaultTimeout: timeout,
		logger:         logger,
	}
}

// Execute runs one invocation and always returns a result; failures are
// captured in the result, never silently swallowed.
func (e *Executor) Execute(ctx context.Context, desc Descriptor, input map[string]any) InvocationResult {
	start := time.Now()

	timeout := e.defaultTimeout
	if desc.Mode == ModeCode && desc.Code != nil && desc.Code.TimeoutSeconds > 0 {
		timeout = time.Duration(desc.Code.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := e.run(ctx, desc, input)
	if err == nil {
		err = validateOutput(desc.Outputs, output)
	}

	result := InvocationResult{
		SkillName: desc.Name,
		LatencyMS: time.Since(start).Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		re := errors.AsRunnerError(err)
		result.Error = re
		e.logger.Warn("skill invocation failed",
			"skill", desc.Name, "error_code", string(re.Code), "error", re.Error())
		return result
	}

	result.Succeeded = true
	result.Output = output
	return result
}

func (e *Executor) run(ctx context.Context, desc Descriptor, input map[string]any) (json.RawMessage, error) {
	switch desc.Mode {
	case ModeConfigOnly:
		return e.runConfigOnly(ctx, desc, input)
	case ModeCode:
		return e.runCode(ctx, desc, input)
	default:
		return nil, errors.New(errors.CodeConfig, fmt.Sprintf("unknown skill mode %q", desc.Mode), nil)
	}
}

// runConfigOnly issues the declared HTTP requests in manifest order. The
// last response body is the invocation output.
func (e *Executor) runConfigOnly(ctx context.Context, desc Descriptor, input map[string]any) (json.RawMessage, error) {
	cfg := desc.Config
	if cfg == nil || len(cfg.Endpoints) == 0 {
		return json.Marshal(map[string]string{"status": "no_endpoints"})
	}

	// Resolve the credential before touching the network: a missing
	// auth_ref is a configuration error, not a network error.
	var token string
	if cfg.AuthRef != "" {
		token = os.Getenv(cfg.AuthRef)
		if token == "" {
			return nil, errors.New(errors.CodeAuthMissing, "auth env var not set for skill", nil).
				WithContext("skill", desc.Name).
				WithContext("auth_ref", cfg.AuthRef)
		}
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to encode skill input", err)
	}

	var output json.RawMessage
	for _, ep := range cfg.Endpoints {
		method := ep.Method
		if method == "" {
			method = http.MethodPost
		}

		var reqBody *bytes.Reader
		if method == http.MethodGet || method == http.MethodHead {
			reqBody = bytes.NewReader(nil)
		} else {
			reqBody = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, ep.URL, reqBody)
		if err != nil {
			return nil, errors.New(errors.CodeConfig, "failed to build skill request", err).
				WithContext("endpoint", ep.URL)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range ep.Headers {
			req.Header.Set(k, v)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		e.logger.Info("calling skill endpoint", "skill", desc.Name, "url", ep.URL, "method", method)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, errors.New(errors.CodeTimeout, "skill request exceeded timeout", err).
					WithContext("endpoint", ep.URL).
					WithRecoverable(true)
			}
			return nil, errors.New(errors.CodeTransport, "skill request failed", err).
				WithContext("endpoint", ep.URL).
				WithRecoverable(true)
		}

		respBody, status, err := readBody(resp)
		if err != nil {
			return nil, errors.New(errors.CodeTransport, "failed to read skill response", err).
				WithContext("endpoint", ep.URL)
		}
		if status < 200 || status > 299 {
			return nil, errors.New(errors.CodeNonSuccessStatus, "skill endpoint returned non-success status", nil).
				WithContext("endpoint", ep.URL).
				WithContext("status", status)
		}

		output = respBody
	}

	return output, nil
}

// runCode invokes the declared entrypoint with the JSON input on stdin and
// the JSON output expected on stdout.
func (e *Executor) runCode(ctx context.Context, desc Descriptor, input map[string]any) (json.RawMessage, error) {
	if desc.Code == nil || desc.Code.Entrypoint == "" {
		return nil, errors.New(errors.CodeConfig, "code skill has no entrypoint", nil).
			WithContext("skill", desc.Name)
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to encode skill input", err)
	}

	cmd := exec.CommandContext(ctx, desc.Code.Entrypoint)
	cmd.Dir = desc.Dir
	cmd.Stdin = bytes.NewReader(body)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.CodeTimeout, "skill entrypoint exceeded timeout", err).
				WithContext("entrypoint", desc.Code.Entrypoint).
				WithRecoverable(true)
		}
		return nil, errors.New(errors.CodeExecutableFailure, "skill entrypoint exited non-zero", err).
			WithContext("entrypoint", desc.Code.Entrypoint).
			WithContext("stderr", truncate(stderr.String(), 1024))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if !json.Valid(out) {
		return nil, errors.New(errors.CodeExecutableFailure, "skill entrypoint produced malformed output", nil).
			WithContext("entrypoint", desc.Code.Entrypoint).
			WithContext("output", truncate(string(out), 1024))
	}
	return json.RawMessage(out), nil
}

// validateOutput checks the output structurally against the declared output
// schema. A mismatch is a result-level failure, not a transport failure.
func validateOutput(outputs []Field, output json.RawMessage) error {
	if len(outputs) == 0 || output == nil {
		return nil
	}

	schemaDoc, err := json.Marshal(fieldsToSchema(outputs))
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to build output schema", err)
	}

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(schemaDoc)
	if err != nil {
		return errors.New(errors.CodeInternal, "invalid output schema", err)
	}

	var value any
	if err := json.Unmarshal(output, &value); err != nil {
		return errors.New(errors.CodeOutputSchemaMismatch, "skill output is not valid JSON", err)
	}

	result := schema.Validate(value)
	if !result.IsValid() {
		return errors.New(errors.CodeOutputSchemaMismatch, "skill output does not match declared schema", nil).
			WithContext("details", result.Error())
	}
	return nil
}

// fieldsToSchema converts declared fields into a JSON Schema object.
func fieldsToSchema(fields []Field) map[string]any {
	properties := make(map[string]any, len(fields))
	var required []string
	for _, f := range fields {
		prop := map[string]any{}
		if f.Type != "" {
			prop["type"] = f.Type
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func readBody(resp *http.Response) (json.RawMessage, int, error) {
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, resp.StatusCode, err
	}
	raw := bytes.TrimSpace(buf.Bytes())
	if len(raw) == 0 || !json.Valid(raw) {
		// Wrap non-JSON responses so the output is always structured.
		wrapped, err := json.Marshal(map[string]string{"raw": string(raw)})
		return wrapped, resp.StatusCode, err
	}
	return json.RawMessage(raw), resp.StatusCode, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
