package kernel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evosys/evo-runner/pkg/gateway"
	"github.com/evosys/evo-runner/pkg/skill"
)

// buildingStage packages a discovered candidate into manifest and config
// documents. The generated manifest is re-validated with the same parser the
// loader uses; a manifest that would not load is reported, not shipped
// silently.
func (k *Kernel) buildingStage(ctx context.Context, next gateway.PipelineNext) (any, error) {
	k.logger.Info("building agent: packaging skill", "artifact_id", next.ArtifactID)

	metadata, _ := json.MarshalIndent(next.Metadata, "", "  ")
	prompt := fmt.Sprintf(
		"You are a skill builder for an AI self-evolution system.\n"+
			"Build a skill package for the following candidate:\n%s\n\n"+
			"Generate:\n"+
			"1. A manifest.yaml with: name, version (0.1.0), description, capabilities (array), "+
			"has_code (false for API-only), inputs (array of name/type/required/description), "+
			"outputs (array of name/type/required/description)\n"+
			"2. A config.yaml with: auth_ref (env var name), endpoints (array of name/url/method)\n\n"+
			"Respond with JSON object containing 'manifest_yaml' and 'config_yaml' as strings.",
		metadata)

	response, err := k.chat(ctx, prompt, 0.3)
	if err != nil {
		return nil, err
	}

	buildOutput := asObject(modelJSON(response))
	manifestValid := false
	if manifestStr, ok := buildOutput["manifest_yaml"].(string); ok {
		desc, err := skill.ParseManifest([]byte(manifestStr))
		if err != nil {
			k.logger.Warn("generated manifest failed validation", "error", err)
		} else {
			manifestValid = true
			k.logger.Info("manifest validated",
				"skill", desc.Name, "capabilities", desc.Capabilities)
		}
	}

	return map[string]any{
		"build_output":   buildOutput,
		"manifest_valid": manifestValid,
		"artifact_id":    next.ArtifactID,
	}, nil
}
