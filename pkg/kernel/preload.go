package kernel

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/evosys/evo-runner/pkg/gateway"
	"github.com/evosys/evo-runner/pkg/health"
	"github.com/evosys/evo-runner/pkg/skill"
)

// preloadStage validates a built skill's endpoints before activation. No LLM
// involved. All declared endpoints are probed concurrently; the aggregated
// batch is reported upstream as one health event, and any unreachable
// endpoint fails the stage.
func (k *Kernel) preloadStage(ctx context.Context, next gateway.PipelineNext) (any, error) {
	k.logger.Info("pre-load agent: health-checking endpoints", "artifact_id", next.ArtifactID)

	checks := extractChecks(next.Metadata)
	if len(checks) == 0 {
		k.logger.Info("no endpoints to check, passing pre-load")
		return map[string]any{
			"health_results": []health.Result{},
			"all_healthy":    true,
			"message":        "no endpoints to validate",
		}, nil
	}

	results := k.prober.ProbeAll(ctx, checks)

	allHealthy := true
	var failed []string
	for _, r := range results {
		k.metrics.RecordProbe(ctx, r.Reachable)
		if !r.Reachable {
			allHealthy = false
			failed = append(failed, r.EndpointURL)
		}
	}

	if err := k.emitter.Send(gateway.EventHealth, gateway.HealthReport{
		AgentID: k.soul.AgentID,
		Results: results,
	}); err != nil {
		k.logger.Warn("failed to report health batch", "error", err)
	}

	if !allHealthy {
		k.logger.Warn("some endpoints failed health check", "failed", failed)
		return nil, fmt.Errorf("health check failed for endpoints: %s", strings.Join(failed, ", "))
	}

	k.logger.Info("all endpoints healthy", "checked", len(results))
	return map[string]any{
		"health_results": results,
		"all_healthy":    allHealthy,
	}, nil
}

// extractChecks collects endpoint URLs from the stage metadata: the build
// output's generated config plus any endpoints listed directly.
func extractChecks(metadata map[string]any) []health.Check {
	var checks []health.Check

	if build, ok := metadata["build_output"].(map[string]any); ok {
		if configStr, ok := build["config_yaml"].(string); ok {
			var cfg skill.EndpointConfig
			if err := yaml.Unmarshal([]byte(configStr), &cfg); err == nil {
				for _, ep := range cfg.Endpoints {
					checks = append(checks, health.Check{URL: ep.URL, AuthRef: cfg.AuthRef})
				}
			}
		}
	}

	if endpoints, ok := metadata["endpoints"].([]any); ok {
		for _, ep := range endpoints {
			if m, ok := ep.(map[string]any); ok {
				if url, ok := m["url"].(string); ok && url != "" {
					checks = append(checks, health.Check{URL: url})
				}
			}
		}
	}

	return checks
}
