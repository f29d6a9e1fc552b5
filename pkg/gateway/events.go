// Package gateway maintains the websocket session with the orchestrator:
// registration, heartbeats, the outbound send queue, and reconnection. The
// session state machine lives entirely inside the Client; other packages see
// only Send and the current epoch.
package gateway

import (
	"encoding/json"

	"github.com/evosys/evo-runner/pkg/health"
)

// Event names on the orchestrator wire. The set is closed; unknown inbound
// events are dropped by the dispatcher.
const (
	EventRegister   = "agent:register"
	EventRegistered = "agent:registered"
	EventStatus     = "agent:status"
	EventReport     = "agent:report"
	EventHealth     = "agent:health"

	EventPipelineNext = "pipeline:next"
	EventStageResult  = "pipeline:stage_result"

	EventKingCommand = "king:command"

	EventTaskInvite   = "task:invite"
	EventTaskJoin     = "task:join"
	EventTaskEvaluate = "task:evaluate"
	EventTaskSummary  = "task:summary"

	EventDebugPrompt   = "debug:prompt"
	EventDebugResponse = "debug:response"
)

// Envelope is the wire frame: an event name plus its JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Registration is the agent:register payload, the first outbound message of
// every epoch.
type Registration struct {
	AgentID      string   `json:"agent_id"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	Skills       []string `json:"skills"`
}

// Status is the agent:status heartbeat payload.
type Status struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

// Report is the agent:report payload emitted after each skill invocation or
// evaluation.
type Report struct {
	AgentID string          `json:"agent_id"`
	SkillID string          `json:"skill_id"`
	Result  json.RawMessage `json:"result"`
	Score   *float64        `json:"score,omitempty"`
}

// HealthReport is the agent:health payload: one aggregated batch of probe
// results.
type HealthReport struct {
	AgentID string          `json:"agent_id"`
	Results []health.Result `json:"results"`
}

// PipelineNext is the inbound pipeline:next payload assigning a stage.
type PipelineNext struct {
	RunID      string         `json:"run_id"`
	Stage      string         `json:"stage"`
	ArtifactID string         `json:"artifact_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StageResult is the outbound pipeline:stage_result payload.
type StageResult struct {
	RunID      string          `json:"run_id"`
	Stage      string          `json:"stage"`
	AgentID    string          `json:"agent_id"`
	Status     string          `json:"status"` // completed | failed
	ArtifactID string          `json:"artifact_id,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// KingCommand is the inbound king:command payload.
type KingCommand struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
}

// TaskInvite is the inbound task:invite payload.
type TaskInvite struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description,omitempty"`
}

// TaskJoin is the outbound task:join reply.
type TaskJoin struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
}

// TaskEvaluate is the inbound task:evaluate payload describing a finished
// task whose output needs scoring.
type TaskEvaluate struct {
	TaskID        string         `json:"task_id"`
	TaskType      string         `json:"task_type"`
	OutputSummary string         `json:"output_summary"`
	ExitCode      *int           `json:"exit_code,omitempty"`
	LatencyMS     *int64         `json:"latency_ms,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// TaskSummary is the outbound task:summary reply.
type TaskSummary struct {
	TaskID     string          `json:"task_id"`
	AgentID    string          `json:"agent_id"`
	Summary    string          `json:"summary"`
	Score      float64         `json:"score"`
	Tags       []string        `json:"tags,omitempty"`
	Evaluation json.RawMessage `json:"evaluation,omitempty"`
}

// DebugPrompt is the inbound debug:prompt payload.
type DebugPrompt struct {
	RequestID   string  `json:"request_id"`
	TaskID      string  `json:"task_id,omitempty"`
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
}

// DebugResponse is the outbound debug:response reply.
type DebugResponse struct {
	RequestID string `json:"request_id"`
	TaskID    string `json:"task_id,omitempty"`
	AgentID   string `json:"agent_id"`
	Role      string `json:"role"`
	Model     string `json:"model,omitempty"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}
