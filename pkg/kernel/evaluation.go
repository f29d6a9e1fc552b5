package kernel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evosys/evo-runner/pkg/gateway"
)

// evaluationStage scores a built skill across several dimensions and
// produces a lifecycle recommendation for the skill-manage stage.
func (k *Kernel) evaluationStage(ctx context.Context, next gateway.PipelineNext) (any, error) {
	k.logger.Info("evaluation agent: scoring skill", "artifact_id", next.ArtifactID)

	metadata, _ := json.MarshalIndent(next.Metadata, "", "  ")
	prompt := fmt.Sprintf(
		"You are a skill evaluator for an AI self-evolution system.\n"+
			"Evaluate the following skill:\n%s\n\n"+
			"Score it on these dimensions (0.0 to 1.0):\n"+
			"1. utility: How useful is this skill to the system?\n"+
			"2. reliability: How reliable are the endpoints/APIs?\n"+
			"3. novelty: Does it add genuinely new capabilities?\n"+
			"4. integration: How well does it fit with existing skills?\n\n"+
			"Also provide:\n"+
			"- overall_score: weighted average (utility=0.4, reliability=0.3, novelty=0.2, integration=0.1)\n"+
			"- recommendation: 'activate', 'hold', or 'discard'\n"+
			"- reasoning: brief explanation\n"+
			"- subtasks: an array of follow-up work items if recommendation is 'activate'.\n"+
			"  Each subtask should have: task_type (string), summary (string), payload (object with relevant details).\n"+
			"  Return an empty array if no follow-up work is needed.\n\n"+
			"Respond with valid JSON.",
		metadata)

	response, err := k.chat(ctx, prompt, 0.3)
	if err != nil {
		return nil, err
	}

	evaluation := asObject(modelJSON(response))
	overallScore := asFloat(evaluation, "overall_score", 0.0)
	recommendation := asString(evaluation, "recommendation", "hold")

	k.logger.Info("evaluation complete",
		"artifact_id", next.ArtifactID,
		"overall_score", overallScore,
		"recommendation", recommendation)

	subtasks := evaluation["subtasks"]
	if subtasks == nil {
		subtasks = []any{}
	}

	return map[string]any{
		"evaluation":     evaluation,
		"artifact_id":    next.ArtifactID,
		"overall_score":  overallScore,
		"recommendation": recommendation,
		"subtasks":       subtasks,
	}, nil
}

// onTaskEvaluate scores a finished task's output and replies with a
// task:summary. Pipeline tasks are scored by the pipeline itself and skipped
// here.
func (k *Kernel) onTaskEvaluate(ctx context.Context, env gateway.Envelope) {
	var task gateway.TaskEvaluate
	if err := json.Unmarshal(env.Payload, &task); err != nil {
		k.logger.Warn("malformed task:evaluate payload", "error", err)
		return
	}
	if task.TaskType == "pipeline" {
		return
	}

	k.logger.Info("evaluating task output", "task_id", task.TaskID, "task_type", task.TaskType)

	exitInfo := "No exit code (LLM prompt)"
	if task.ExitCode != nil {
		exitInfo = fmt.Sprintf("Exit code: %d", *task.ExitCode)
	}
	latencyInfo := ""
	if task.LatencyMS != nil {
		latencyInfo = fmt.Sprintf("Latency: %dms", *task.LatencyMS)
	}

	output := task.OutputSummary
	if len(output) > 4000 {
		output = output[:4000]
	}

	prompt := fmt.Sprintf(
		"You are a task evaluator for an AI self-evolution system.\n"+
			"Evaluate the following task output and produce a brief summary.\n\n"+
			"Task type: %s\n%s\n%s\n\n"+
			"Output (truncated):\n```\n%s\n```\n\n"+
			"Respond with valid JSON containing:\n"+
			"- summary: 1-2 sentence summary of what happened\n"+
			"- score: 0.0-1.0 quality/success score\n"+
			"- tags: array of relevant tags\n"+
			"- learnings: any patterns or facts worth remembering",
		task.TaskType, exitInfo, latencyInfo, output)

	response, err := k.chat(ctx, prompt, 0.3)
	if err != nil {
		k.logger.Warn("task evaluation failed", "task_id", task.TaskID, "error", err)
		return
	}

	evaluation := asObject(modelJSON(response))
	if len(evaluation) == 0 {
		evaluation = map[string]any{"summary": response, "score": 0.5, "tags": []any{}}
	}

	raw, _ := json.Marshal(evaluation)
	var tags []string
	if tagList, ok := evaluation["tags"].([]any); ok {
		for _, t := range tagList {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}

	summary := gateway.TaskSummary{
		TaskID:     task.TaskID,
		AgentID:    k.soul.AgentID,
		Summary:    asString(evaluation, "summary", "Task completed"),
		Score:      asFloat(evaluation, "score", 0.5),
		Tags:       tags,
		Evaluation: raw,
	}
	if err := k.emitter.Send(gateway.EventTaskSummary, summary); err != nil {
		k.logger.Error("failed to emit task:summary", "task_id", task.TaskID, "error", err)
	}
}
