// Package runner composes the agent process: identity, skills, handlers,
// and the orchestrator session.
package runner

import (
	"context"
	"log/slog"

	"github.com/evosys/evo-runner/pkg/config"
	"github.com/evosys/evo-runner/pkg/dispatch"
	"github.com/evosys/evo-runner/pkg/gateway"
	"github.com/evosys/evo-runner/pkg/health"
	"github.com/evosys/evo-runner/pkg/kernel"
	"github.com/evosys/evo-runner/pkg/llm"
	"github.com/evosys/evo-runner/pkg/skill"
	"github.com/evosys/evo-runner/pkg/soul"
	"github.com/evosys/evo-runner/pkg/telemetry"
)

// Runner is one agent process generation: a fixed identity plus a session
// that survives any number of reconnects.
type Runner struct {
	soul    *soul.Soul
	skills  *skill.Store
	client  *gateway.Client
	logger  *slog.Logger
	metrics *telemetry.RunnerMetrics
}

// New builds a runner from the agent folder and configuration. The only
// fatal path is a soul that cannot form an identity; skill problems are
// logged and skipped.
func New(agentDir string, cfg *config.Config, logger *slog.Logger, metrics *telemetry.RunnerMetrics) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := soul.Load(agentDir)
	if err != nil {
		return nil, err
	}
	logger.Info("identity formed",
		"agent_id", s.AgentID, "role", s.Role.String(), "kernel", s.Role.IsKernel())

	skills := skill.NewStore(skill.LoadDir(agentDir, logger))
	identity := gateway.Identity{
		AgentID:      s.AgentID,
		Role:         s.Role.String(),
		Capabilities: skills.Capabilities(),
		Skills:       skills.Names(),
	}

	provider := llm.NewGateway(cfg.Gateway.Address, cfg.Gateway.Model)
	executor := skill.NewExecutor(cfg.Skill.InvocationTimeout, logger)
	prober := health.NewProber(cfg.Skill.ProbeTimeout, logger)

	dispatcher := dispatch.New(s.Role, logger, metrics)

	client := gateway.NewClient(cfg.King.Address, identity,
		func(ctx context.Context, env gateway.Envelope) {
			dispatcher.Dispatch(ctx, env)
		},
		gateway.Options{
			HeartbeatInterval:   cfg.King.HeartbeatInterval,
			RegistrationTimeout: cfg.King.RegistrationTimeout,
			ReconnectMinDelay:   cfg.King.ReconnectMinDelay,
			ReconnectMaxDelay:   cfg.King.ReconnectMaxDelay,
		},
		logger, metrics)

	k := kernel.New(kernel.Deps{
		Soul:     s,
		Skills:   skills,
		Provider: provider,
		Executor: executor,
		Prober:   prober,
		Emitter:  client,
		Model:    cfg.Gateway.Model,
		Logger:   logger,
		Metrics:  metrics,
	})
	k.Register(dispatcher)

	return &Runner{
		soul:    s,
		skills:  skills,
		client:  client,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// AgentID returns the process identity.
func (r *Runner) AgentID() string { return r.soul.AgentID }

// Run blocks until ctx is cancelled. The session reconnects forever; only
// cancellation ends the process generation.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner starting",
		"agent_id", r.soul.AgentID,
		"skills", r.skills.Names(),
		"capabilities", r.skills.Capabilities())
	return r.client.Run(ctx)
}
