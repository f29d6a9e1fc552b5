package soul

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	rerrors "github.com/evosys/evo-runner/pkg/errors"
)

func TestExtractRoleFromSoulContent(t *testing.T) {
	content := "# Learning Agent\n\n## Role\nlearning\n\n## Behavior\nDiscover skills."
	role, ok := extractSection(content, "Role")
	if !ok {
		t.Fatal("expected role section")
	}
	if role != "learning" {
		t.Errorf("expected learning, got %q", role)
	}
}

func TestMissingSectionReturnsFalse(t *testing.T) {
	content := "# Agent\n\n## Behavior\nDo stuff."
	if _, ok := extractSection(content, "Role"); ok {
		t.Error("expected no role section")
	}
}

func TestExtractFullBehaviorSection(t *testing.T) {
	content := "# Learning Agent\n\n## Role\nlearning\n\n## Behavior\n- Discover skills\n- Evaluate candidates\n\n## Events\n- pipeline:next"
	behavior, ok := extractFullSection(content, "Behavior")
	if !ok {
		t.Fatal("expected behavior section")
	}
	if !strings.Contains(behavior, "Discover skills") || !strings.Contains(behavior, "Evaluate candidates") {
		t.Errorf("behavior missing lines: %q", behavior)
	}
	if strings.Contains(behavior, "pipeline:next") {
		t.Errorf("behavior leaked into next section: %q", behavior)
	}
}

func TestExtractFullSectionAtEndOfFile(t *testing.T) {
	content := "# Agent\n\n## Role\ntest\n\n## Behavior\nDo stuff.\nMore stuff."
	behavior, ok := extractFullSection(content, "Behavior")
	if !ok {
		t.Fatal("expected behavior section")
	}
	if !strings.Contains(behavior, "Do stuff.") || !strings.Contains(behavior, "More stuff.") {
		t.Errorf("unexpected behavior: %q", behavior)
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in       string
		wantKind RoleKind
		wantName string
	}{
		{"learning", RoleLearning, ""},
		{"Building", RoleBuilding, ""},
		{"pre-load", RolePreLoad, ""},
		{"pre_load", RolePreLoad, ""},
		{"Skill Manage", RoleSkillManage, ""},
		{"evaluation", RoleEvaluation, ""},
		{"trader", RoleUser, "trader"},
	}
	for _, tt := range tests {
		got := ParseRole(tt.in)
		if got.Kind != tt.wantKind {
			t.Errorf("ParseRole(%q).Kind = %v, want %v", tt.in, got.Kind, tt.wantKind)
		}
		if got.Name != tt.wantName {
			t.Errorf("ParseRole(%q).Name = %q, want %q", tt.in, got.Name, tt.wantName)
		}
	}
}

func TestRoleStage(t *testing.T) {
	if ParseRole("evaluation").Stage() != "evaluation" {
		t.Error("expected evaluation stage")
	}
	if ParseRole("custom-agent").Stage() != "" {
		t.Error("expected empty stage for user role")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	content := "# Evaluation Agent\n\n## Role\nevaluation\n\n## Behavior\nScore skills carefully.\n"
	if err := os.WriteFile(filepath.Join(dir, "soul.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Role.Kind != RoleEvaluation {
		t.Errorf("expected evaluation role, got %v", s.Role.Kind)
	}
	if !strings.HasPrefix(s.AgentID, "evaluation-") {
		t.Errorf("expected role-prefixed agent id, got %q", s.AgentID)
	}
	if len(s.AgentID) <= len("evaluation-") {
		t.Errorf("expected random suffix in agent id, got %q", s.AgentID)
	}
	if s.Behavior != "Score skills carefully." {
		t.Errorf("unexpected behavior: %q", s.Behavior)
	}
}

func TestLoadAgentIDsDistinct(t *testing.T) {
	dir := t.TempDir()
	content := "## Role\nlearning\n"
	if err := os.WriteFile(filepath.Join(dir, "soul.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a.AgentID == b.AgentID {
		t.Errorf("two loads produced identical agent ids: %q", a.AgentID)
	}
}

func TestLoadMissingSoulIsFatal(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing soul.md")
	}
	var re *rerrors.RunnerError
	if !errors.As(err, &re) || re.Code != rerrors.CodeFatalStartup {
		t.Errorf("expected FATAL_STARTUP, got %v", err)
	}
}
