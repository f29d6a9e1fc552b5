// Package kernel implements the built-in role handlers of the evolution
// pipeline. Each kernel role owns one pipeline stage; every role also
// answers orchestrator commands, task invitations, and debug prompts.
package kernel

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/evosys/evo-runner/pkg/dispatch"
	"github.com/evosys/evo-runner/pkg/gateway"
	"github.com/evosys/evo-runner/pkg/health"
	"github.com/evosys/evo-runner/pkg/llm"
	"github.com/evosys/evo-runner/pkg/skill"
	"github.com/evosys/evo-runner/pkg/soul"
	"github.com/evosys/evo-runner/pkg/telemetry"
)

// DefaultModel is used when neither config nor the inbound event names one.
const DefaultModel = "gpt-4o-mini"

// Deps carries everything a kernel needs. All fields except Provider and
// Emitter may be nil in tests.
type Deps struct {
	Soul     *soul.Soul
	Skills   *skill.Store
	Provider llm.Provider
	Executor *skill.Executor
	Prober   *health.Prober
	Emitter  dispatch.Emitter
	Model    string
	Logger   *slog.Logger
	Metrics  *telemetry.RunnerMetrics
}

// Kernel binds one role's handlers to its collaborators.
type Kernel struct {
	soul     *soul.Soul
	skills   *skill.Store
	provider llm.Provider
	executor *skill.Executor
	prober   *health.Prober
	emitter  dispatch.Emitter
	model    string
	logger   *slog.Logger
	metrics  *telemetry.RunnerMetrics
}

// New creates a kernel from its dependencies.
func New(deps Deps) *Kernel {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Model == "" {
		deps.Model = DefaultModel
	}
	if deps.Skills == nil {
		deps.Skills = skill.NewStore(nil)
	}
	return &Kernel{
		soul:     deps.Soul,
		skills:   deps.Skills,
		provider: deps.Provider,
		executor: deps.Executor,
		prober:   deps.Prober,
		emitter:  deps.Emitter,
		model:    deps.Model,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
}

// Register wires this role's accepted events into the dispatcher. Every role
// answers commands, invitations, and debug prompts; kernel roles additionally
// take their own pipeline stage, and Evaluation scores finished tasks.
func (k *Kernel) Register(d *dispatch.Dispatcher) {
	d.Handle(gateway.EventKingCommand, k.onKingCommand)
	d.Handle(gateway.EventTaskInvite, k.onTaskInvite)
	d.Handle(gateway.EventDebugPrompt, k.onDebugPrompt)

	if stage := k.stageFunc(); stage != nil {
		d.Handle(gateway.EventPipelineNext, k.pipelineHandler(stage))
	}
	if k.soul.Role.Kind == soul.RoleEvaluation {
		d.Handle(gateway.EventTaskEvaluate, k.onTaskEvaluate)
	}
}

// stageFunc is one pipeline stage implementation. The returned value is
// serialized into the stage result's output.
type stageFunc func(ctx context.Context, next gateway.PipelineNext) (any, error)

func (k *Kernel) stageFunc() stageFunc {
	switch k.soul.Role.Kind {
	case soul.RoleLearning:
		return k.learningStage
	case soul.RoleBuilding:
		return k.buildingStage
	case soul.RolePreLoad:
		return k.preloadStage
	case soul.RoleEvaluation:
		return k.evaluationStage
	case soul.RoleSkillManage:
		return k.skillManageStage
	default:
		return nil
	}
}

// pipelineHandler runs a stage and always reports a stage result, completed
// or failed. A stage error fails the stage, never the process.
func (k *Kernel) pipelineHandler(stage stageFunc) dispatch.Handler {
	return func(ctx context.Context, env gateway.Envelope) {
		var next gateway.PipelineNext
		if err := json.Unmarshal(env.Payload, &next); err != nil {
			k.logger.Warn("malformed pipeline:next payload", "error", err)
			return
		}

		k.logger.Info("processing pipeline stage",
			"role", k.soul.Role.String(), "run_id", next.RunID, "stage", next.Stage)

		result := gateway.StageResult{
			RunID:      next.RunID,
			Stage:      next.Stage,
			AgentID:    k.soul.AgentID,
			ArtifactID: next.ArtifactID,
		}

		output, err := stage(ctx, next)
		if err != nil {
			k.logger.Error("pipeline stage failed",
				"run_id", next.RunID, "stage", next.Stage, "error", err)
			result.Status = "failed"
			result.Error = err.Error()
		} else {
			result.Status = "completed"
			if raw, merr := json.Marshal(output); merr == nil {
				result.Output = raw
			}
		}

		if err := k.emitter.Send(gateway.EventStageResult, result); err != nil {
			k.logger.Error("failed to emit stage result",
				"run_id", next.RunID, "stage", next.Stage, "error", err)
		}
	}
}

// chat queries the LLM with the soul's behavior as the system message.
func (k *Kernel) chat(ctx context.Context, prompt string, temperature float64) (string, error) {
	resp, err := k.provider.Chat(ctx, llm.ChatRequest{
		Model:       k.model,
		Temperature: temperature,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: k.soul.Behavior},
			{Role: llm.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// modelJSON parses a model response as JSON. Models occasionally answer in
// prose despite instructions; those responses are wrapped, not rejected.
func modelJSON(response string) any {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &v); err != nil {
		return map[string]any{"raw_response": response}
	}
	return v
}

func asObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asString(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func asFloat(m map[string]any, key string, fallback float64) float64 {
	if f, ok := m[key].(float64); ok {
		return f
	}
	return fallback
}
