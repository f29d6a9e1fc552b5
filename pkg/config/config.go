// Package config loads runner configuration from defaults, an optional YAML
// file, and RUNNER_-prefixed environment variables, in that order.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	King      KingConfig      `koanf:"king"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	Skill     SkillConfig     `koanf:"skill"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// KingConfig controls the orchestrator connection.
type KingConfig struct {
	Address             string        `koanf:"address"`
	HeartbeatInterval   time.Duration `koanf:"heartbeat_interval"`
	RegistrationTimeout time.Duration `koanf:"registration_timeout"`
	ReconnectMinDelay   time.Duration `koanf:"reconnect_min_delay"`
	ReconnectMaxDelay   time.Duration `koanf:"reconnect_max_delay"`
}

// GatewayConfig controls the LLM proxy used by role handlers.
type GatewayConfig struct {
	Address string `koanf:"address"`
	Model   string `koanf:"model"`
}

// SkillConfig controls skill execution and probing.
type SkillConfig struct {
	ProbeTimeout      time.Duration `koanf:"probe_timeout"`
	InvocationTimeout time.Duration `koanf:"invocation_timeout"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("king.address", "http://localhost:3000")
	k.Set("king.heartbeat_interval", "30s")
	k.Set("king.registration_timeout", "10s")
	k.Set("king.reconnect_min_delay", "1s")
	k.Set("king.reconnect_max_delay", "60s")

	k.Set("gateway.address", "http://localhost:8080")
	k.Set("gateway.model", "gpt-4o-mini")

	k.Set("skill.probe_timeout", "5s")
	k.Set("skill.invocation_timeout", "5s")

	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (RUNNER_KING_ADDRESS -> king.address)
	if err := k.Load(env.Provider("RUNNER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "RUNNER_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
