package kernel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evosys/evo-runner/pkg/gateway"
)

// learningStage discovers candidate skills that would complement the current
// catalog, guided by the trigger metadata.
func (k *Kernel) learningStage(ctx context.Context, next gateway.PipelineNext) (any, error) {
	k.logger.Info("learning agent: starting skill discovery")

	existing := k.skills.Names()
	metadata, _ := json.MarshalIndent(next.Metadata, "", "  ")

	prompt := fmt.Sprintf(
		"You are a skill discovery agent for an AI self-evolution system.\n"+
			"Existing skills: %v\n"+
			"Trigger metadata: %s\n\n"+
			"Identify 1-3 potential new skills that would complement the existing set.\n"+
			"For each candidate, provide:\n"+
			"- name: a short kebab-case identifier\n"+
			"- description: what the skill does\n"+
			"- source: where it could be obtained (API, registry, etc.)\n"+
			"- priority: high/medium/low\n\n"+
			"Respond with valid JSON array of candidates.",
		existing, metadata)

	response, err := k.chat(ctx, prompt, 0.7)
	if err != nil {
		return nil, err
	}

	candidates := modelJSON(response)
	k.logger.Info("learning agent: discovery complete")

	return map[string]any{
		"candidates":      candidates,
		"existing_skills": existing,
	}, nil
}
