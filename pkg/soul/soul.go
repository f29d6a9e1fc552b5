// Package soul loads an agent's identity from the soul.md file in its agent
// folder. The identity is created once at startup and never re-derived.
package soul

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/evosys/evo-runner/pkg/errors"
)

// Soul is the parsed contents of an agent's soul.md file.
type Soul struct {
	// AgentID is the globally distinguishable identifier: role tag plus a
	// random suffix, so the orchestrator can tell apart multiple instances
	// of the same role.
	AgentID string

	// Role determines which event/stage combinations the dispatcher accepts.
	Role Role

	// Behavior is the full `## Behavior` section, used as the system prompt
	// for LLM-backed handlers.
	Behavior string

	// Body is the raw markdown, kept for introspection.
	Body string
}

// Load reads and parses soul.md from agentDir.
//
// Expected format:
//
//	# Agent Title
//
//	## Role
//	learning
//
//	## Behavior
//	...
//
// An unreadable soul.md is a fatal startup error: no valid identity can be
// registered without it.
func Load(agentDir string) (*Soul, error) {
	path := filepath.Join(agentDir, "soul.md")
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeFatalStartup, fmt.Sprintf("failed to read %s", path), err)
	}

	roleLine, ok := extractSection(string(content), "Role")
	if !ok {
		roleLine = "unknown"
	}
	role := ParseRole(roleLine)

	behavior, _ := extractFullSection(string(content), "Behavior")

	return &Soul{
		AgentID:  newAgentID(role),
		Role:     role,
		Behavior: behavior,
		Body:     string(content),
	}, nil
}

// newAgentID builds a role-tagged identifier with a random suffix.
func newAgentID(role Role) string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return role.String() + "-" + suffix
}

// extractSection returns the first non-empty line of a `## Section`.
func extractSection(content, section string) (string, bool) {
	marker := "## " + section
	inSection := false

	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == marker {
			inSection = true
			continue
		}
		if inSection {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, "#") {
				break // next section
			}
			return trimmed, true
		}
	}

	return "", false
}

// extractFullSection returns all lines between `## Section` and the next
// `##` header (or EOF), trimmed.
func extractFullSection(content, section string) (string, bool) {
	marker := "## " + section
	inSection := false
	var lines []string

	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == marker {
			inSection = true
			continue
		}
		if inSection {
			if strings.HasPrefix(strings.TrimSpace(line), "## ") {
				break
			}
			lines = append(lines, line)
		}
	}

	text := strings.TrimSpace(strings.Join(lines, "\n"))
	if text == "" {
		return "", false
	}
	return text, true
}
