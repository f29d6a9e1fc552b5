package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/evosys/evo-runner/pkg/errors"
	"github.com/evosys/evo-runner/pkg/resilience"
)

// GatewayProvider implements Provider against the OpenAI-compatible chat
// completions endpoint exposed by the gateway. Agents never hold model
// credentials; the gateway injects them.
type GatewayProvider struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// NewGateway creates a GatewayProvider. model is the default used when a
// request leaves Model empty.
func NewGateway(baseURL, model string) *GatewayProvider {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &GatewayProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "llm_gateway",
		}),
	}
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Chat sends a chat request through the gateway. Calls go through a circuit
// breaker so a dead gateway fails fast instead of stacking up timeouts.
func (p *GatewayProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	err := p.breaker.Call(ctx, func() error {
		var callErr error
		resp, callErr = p.chat(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *GatewayProvider) chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to marshal gateway request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to create gateway request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.CodeTimeout, "gateway call exceeded timeout", err).
				WithRecoverable(true)
		}
		return nil, errors.New(errors.CodeTransport, "gateway call failed", err).
			WithRecoverable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.New(errors.CodeNonSuccessStatus, "gateway returned non-success status", nil).
			WithContext("status", resp.StatusCode).
			WithContext("body", string(raw)).
			WithRecoverable(resp.StatusCode >= 500)
	}

	var gResp chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&gResp); err != nil {
		return nil, errors.New(errors.CodeTransport, "failed to decode gateway response", err)
	}
	if len(gResp.Choices) == 0 {
		return nil, errors.New(errors.CodeInternal, "gateway response contained no choices", nil)
	}

	return &ChatResponse{
		Content: gResp.Choices[0].Message.Content,
		Usage:   gResp.Usage,
	}, nil
}

// BreakerState exposes the circuit breaker state for health reporting.
func (p *GatewayProvider) BreakerState() resilience.CircuitBreakerState {
	return p.breaker.State()
}

var _ Provider = (*GatewayProvider)(nil)
