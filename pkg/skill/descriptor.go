// Package skill loads skill descriptors from an agent folder and executes
// invocations against them. The descriptor set is fixed after load; a config
// change requires a new process generation.
package skill

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModeKind is the execution mode of a skill. The set is closed: config-only
// skills call declared HTTP endpoints, code skills run an external
// entrypoint.
type ModeKind string

const (
	ModeConfigOnly ModeKind = "config_only"
	ModeCode       ModeKind = "code"
)

// Field describes one named input or output of a skill.
type Field struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Required    bool   `yaml:"required" json:"required"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Endpoint is one HTTP call declared by a config-only skill.
type Endpoint struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// EndpointConfig is the config.yaml contents for a config-only skill.
type EndpointConfig struct {
	// AuthRef names the environment variable holding the bearer credential.
	AuthRef   string     `yaml:"auth_ref"`
	Endpoints []Endpoint `yaml:"endpoints"`
}

// CodeEntry declares the external executable of a code-mode skill.
type CodeEntry struct {
	Entrypoint     string `yaml:"entrypoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Descriptor is one loaded skill. Read-only after load.
type Descriptor struct {
	Name         string
	Version      string
	Description  string
	Capabilities []string
	Inputs       []Field
	Outputs      []Field

	Mode   ModeKind
	Config *EndpointConfig // set when Mode == ModeConfigOnly
	Code   *CodeEntry      // set when Mode == ModeCode

	// Dir is the skill directory, used as the working directory for
	// code-mode entrypoints.
	Dir string
}

// manifest is the on-disk manifest.yaml shape.
type manifest struct {
	Name           string   `yaml:"name"`
	Version        string   `yaml:"version"`
	Description    string   `yaml:"description"`
	Capabilities   []string `yaml:"capabilities"`
	HasCode        bool     `yaml:"has_code"`
	Entrypoint     string   `yaml:"entrypoint"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Inputs         []Field  `yaml:"inputs"`
	Outputs        []Field  `yaml:"outputs"`
}

// LoadDir scans <agentDir>/skills/ and loads all valid skill descriptors.
// A missing skills directory means the agent simply has no pre-loaded
// skills. Malformed skill directories are logged and skipped: skill load
// problems never prevent the identity from registering.
func LoadDir(agentDir string, logger *slog.Logger) []Descriptor {
	if logger == nil {
		logger = slog.Default()
	}
	skillsDir := filepath.Join(agentDir, "skills")

	entries, err := os.ReadDir(skillsDir)
	if err != nil {
		logger.Info("no skills directory found, agent has no pre-loaded skills", "dir", skillsDir)
		return nil
	}

	var out []Descriptor
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(skillsDir, entry.Name())
		desc, err := loadSkill(dir)
		if err != nil {
			logger.Warn("skipping invalid skill", "dir", dir, "error", err)
			continue
		}
		logger.Info("loaded skill", "skill", desc.Name, "mode", desc.Mode, "path", dir)
		out = append(out, desc)
	}
	return out
}

func loadSkill(dir string) (Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.yaml"))
	if err != nil {
		return Descriptor{}, err
	}

	desc, err := ParseManifest(data)
	if err != nil {
		return Descriptor{}, err
	}
	desc.Dir = dir

	if desc.Mode == ModeConfigOnly {
		desc.Config = readEndpointConfig(dir)
	}
	return desc, nil
}

// ParseManifest parses a manifest document into a descriptor without reading
// any companion config. Also used to re-validate generated manifests.
func ParseManifest(data []byte) (Descriptor, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Descriptor{}, err
	}
	if m.Name == "" {
		return Descriptor{}, fmt.Errorf("manifest has no name")
	}

	desc := Descriptor{
		Name:         m.Name,
		Version:      m.Version,
		Description:  m.Description,
		Capabilities: m.Capabilities,
		Inputs:       m.Inputs,
		Outputs:      m.Outputs,
	}

	if m.HasCode {
		desc.Mode = ModeCode
		desc.Code = &CodeEntry{Entrypoint: m.Entrypoint, TimeoutSeconds: m.TimeoutSeconds}
	} else {
		desc.Mode = ModeConfigOnly
		desc.Config = &EndpointConfig{}
	}
	return desc, nil
}

func readEndpointConfig(dir string) *EndpointConfig {
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		return &EndpointConfig{}
	}
	var cfg EndpointConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &EndpointConfig{}
	}
	return &cfg
}

// Store is the in-memory skill catalog, fixed for the process lifetime.
type Store struct {
	skills []Descriptor
	byName map[string]int
}

// NewStore builds a store from loaded descriptors.
func NewStore(skills []Descriptor) *Store {
	byName := make(map[string]int, len(skills))
	for i, s := range skills {
		byName[s.Name] = i
	}
	return &Store{skills: skills, byName: byName}
}

// Get returns the descriptor for name.
func (s *Store) Get(name string) (Descriptor, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return s.skills[i], true
}

// All returns the descriptors in load order.
func (s *Store) All() []Descriptor {
	return s.skills
}

// Names returns skill names in load order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.skills))
	for _, sk := range s.skills {
		names = append(names, sk.Name)
	}
	return names
}

// Capabilities returns the deduplicated, sorted union of all skill
// capabilities, advertised at registration.
func (s *Store) Capabilities() []string {
	seen := make(map[string]struct{})
	for _, sk := range s.skills {
		for _, c := range sk.Capabilities {
			seen[c] = struct{}{}
		}
	}
	caps := make([]string, 0, len(seen))
	for c := range seen {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}
