package kernel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evosys/evo-runner/pkg/gateway"
)

// activationThreshold is the minimum evaluation score for activation.
// Skills below it are discarded regardless of recommendation.
const activationThreshold = 0.6

// skillManageStage makes the lifecycle decision for an evaluated skill:
// discard it, or plan its deployment and activate it.
func (k *Kernel) skillManageStage(ctx context.Context, next gateway.PipelineNext) (any, error) {
	recommendation := "hold"
	overallScore := 0.0
	if next.Metadata != nil {
		recommendation = asString(next.Metadata, "recommendation", "hold")
		overallScore = asFloat(next.Metadata, "overall_score", 0.0)
	}

	k.logger.Info("skill-manage agent: processing lifecycle decision",
		"artifact_id", next.ArtifactID,
		"recommendation", recommendation,
		"score", overallScore)

	if recommendation == "discard" || overallScore < activationThreshold {
		k.logger.Info("skill discarded", "artifact_id", next.ArtifactID)
		return map[string]any{
			"action":      "discarded",
			"artifact_id": next.ArtifactID,
			"reason": fmt.Sprintf("score %.2f below threshold %.1f or recommendation=discard",
				overallScore, activationThreshold),
		}, nil
	}

	metadata, _ := json.MarshalIndent(next.Metadata, "", "  ")
	prompt := fmt.Sprintf(
		"You are a skill deployment manager for an AI self-evolution system.\n"+
			"A skill has passed evaluation and should be activated.\n"+
			"Skill data: %s\n\n"+
			"Determine:\n"+
			"1. target_agents: Which user agents should receive this skill? (array of role names)\n"+
			"2. deployment_notes: Any special configuration needed\n"+
			"3. rollback_plan: How to revert if the skill causes issues\n\n"+
			"Respond with valid JSON.",
		metadata)

	response, err := k.chat(ctx, prompt, 0.3)
	if err != nil {
		return nil, err
	}

	k.logger.Info("skill lifecycle complete", "artifact_id", next.ArtifactID, "action", "activated")

	return map[string]any{
		"action":        "activated",
		"artifact_id":   next.ArtifactID,
		"deployment":    modelJSON(response),
		"overall_score": overallScore,
	}, nil
}
