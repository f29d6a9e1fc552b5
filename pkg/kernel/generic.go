package kernel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evosys/evo-runner/pkg/errors"
	"github.com/evosys/evo-runner/pkg/gateway"
	"github.com/evosys/evo-runner/pkg/llm"
)

// onKingCommand handles orchestrator commands. invoke_skill runs one skill
// invocation and reports the result; everything else (rebuild, restart) is
// acted on by the orchestrator restarting the process generation, so it is
// only acknowledged in the log here.
func (k *Kernel) onKingCommand(ctx context.Context, env gateway.Envelope) {
	var cmd gateway.KingCommand
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		k.logger.Warn("malformed king:command payload", "error", err)
		return
	}

	k.logger.Info("received orchestrator command",
		"command", cmd.Command, "role", k.soul.Role.String())

	if cmd.Command == "invoke_skill" {
		k.invokeSkill(ctx, cmd.Args)
	}
}

// invokeSkill executes one named skill and reports the invocation result.
func (k *Kernel) invokeSkill(ctx context.Context, args map[string]any) {
	name, _ := args["skill"].(string)
	desc, ok := k.skills.Get(name)
	if !ok {
		k.logger.Warn("invoke_skill for unknown skill", "skill", name)
		return
	}

	input, _ := args["input"].(map[string]any)
	result := k.executor.Execute(ctx, desc, input)
	k.metrics.RecordInvocation(ctx, desc.Name, result.Succeeded, errCode(result.Error), result.LatencyMS)

	raw, err := json.Marshal(result)
	if err != nil {
		k.logger.Error("failed to encode invocation result", "skill", name, "error", err)
		return
	}
	if err := k.emitter.Send(gateway.EventReport, gateway.Report{
		AgentID: k.soul.AgentID,
		SkillID: desc.Name,
		Result:  raw,
	}); err != nil {
		k.logger.Error("failed to report invocation", "skill", name, "error", err)
	}
}

// onTaskInvite joins the named task room.
func (k *Kernel) onTaskInvite(ctx context.Context, env gateway.Envelope) {
	var invite gateway.TaskInvite
	if err := json.Unmarshal(env.Payload, &invite); err != nil || invite.TaskID == "" {
		return
	}

	if err := k.emitter.Send(gateway.EventTaskJoin, gateway.TaskJoin{
		TaskID:  invite.TaskID,
		AgentID: k.soul.AgentID,
	}); err != nil {
		k.logger.Warn("failed to emit task:join", "task_id", invite.TaskID, "error", err)
		return
	}
	k.logger.Info("joined task room", "task_id", invite.TaskID)
}

// onDebugPrompt forwards a prompt to the LLM and replies with the full
// response and its latency.
func (k *Kernel) onDebugPrompt(ctx context.Context, env gateway.Envelope) {
	var prompt gateway.DebugPrompt
	if err := json.Unmarshal(env.Payload, &prompt); err != nil {
		k.logger.Warn("malformed debug:prompt payload", "error", err)
		return
	}

	model := prompt.Model
	if model == "" {
		model = k.model
	}

	k.logger.Info("processing debug prompt",
		"request_id", prompt.RequestID, "model", model)

	start := time.Now()
	resp, err := k.provider.Chat(ctx, llm.ChatRequest{
		Model:       model,
		Temperature: prompt.Temperature,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: k.soul.Behavior},
			{Role: llm.RoleUser, Content: prompt.Prompt},
		},
	})
	latency := time.Since(start).Milliseconds()

	response := gateway.DebugResponse{
		RequestID: prompt.RequestID,
		TaskID:    prompt.TaskID,
		AgentID:   k.soul.AgentID,
		Role:      k.soul.Role.String(),
		Model:     model,
		LatencyMS: latency,
	}
	if err != nil {
		k.logger.Error("debug prompt failed", "request_id", prompt.RequestID, "error", err)
		response.Error = err.Error()
	} else {
		response.Response = resp.Content
	}

	if err := k.emitter.Send(gateway.EventDebugResponse, response); err != nil {
		k.logger.Error("failed to emit debug:response",
			"request_id", prompt.RequestID, "error", err)
	}
}

func errCode(err *errors.RunnerError) string {
	if err == nil {
		return ""
	}
	return string(err.Code)
}
