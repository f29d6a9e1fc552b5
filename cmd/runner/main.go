// Command runner is the agent process of the evolution pipeline. It forms an
// identity from an agent folder, connects to the orchestrator, and serves
// its role's events until terminated.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evosys/evo-runner/pkg/config"
	"github.com/evosys/evo-runner/pkg/runner"
	"github.com/evosys/evo-runner/pkg/telemetry"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	agentFlag := flag.String("agent", "", "agent folder containing soul.md and skills/ (defaults to $AGENT_FOLDER)")
	flag.Parse()

	agentDir := *agentFlag
	if agentDir == "" {
		agentDir = flag.Arg(0)
	}
	if agentDir == "" {
		agentDir = os.Getenv("AGENT_FOLDER")
	}
	if agentDir == "" {
		fatal(fmt.Errorf("no agent folder: pass -agent, a positional argument, or set AGENT_FOLDER"))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(fmt.Errorf("load config: %w", err))
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig("evo-runner", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		fatal(fmt.Errorf("init telemetry: %w", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewRunnerMetrics()
	if err != nil {
		fatal(fmt.Errorf("init metrics: %w", err))
	}

	r, err := runner.New(agentDir, cfg, logger, metrics)
	if err != nil {
		logger.Error("fatal startup failure", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runner stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("runner stopped", "agent_id", r.AgentID())
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "runner:", err)
	os.Exit(1)
}
