package soul

import "strings"

// RoleKind enumerates the kernel roles plus the open user variant.
type RoleKind string

const (
	RoleLearning    RoleKind = "learning"
	RoleBuilding    RoleKind = "building"
	RolePreLoad     RoleKind = "pre-load"
	RoleEvaluation  RoleKind = "evaluation"
	RoleSkillManage RoleKind = "skill-manage"

	// RoleUser is an open variant for custom agents; the role's Name carries
	// the declared identifier. User roles only receive the generic command
	// surface, never kernel pipeline stages.
	RoleUser RoleKind = "user"
)

// Role is the agent's role tag. The five kernel kinds are closed; RoleUser
// carries an open-ended name.
type Role struct {
	Kind RoleKind
	Name string // set only when Kind == RoleUser
}

// ParseRole normalizes a free-form role string into a Role. Unrecognized
// values become user roles named by the normalized string.
func ParseRole(s string) Role {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
	normalized = strings.ReplaceAll(normalized, "_", "-")

	switch RoleKind(normalized) {
	case RoleLearning, RoleBuilding, RolePreLoad, RoleEvaluation, RoleSkillManage:
		return Role{Kind: RoleKind(normalized)}
	}
	return Role{Kind: RoleUser, Name: normalized}
}

// String returns the kebab-case role tag; user roles return their name.
func (r Role) String() string {
	if r.Kind == RoleUser {
		if r.Name == "" {
			return string(RoleUser)
		}
		return r.Name
	}
	return string(r.Kind)
}

// Stage returns the pipeline stage this role serves, or "" for user roles.
func (r Role) Stage() string {
	if r.Kind == RoleUser {
		return ""
	}
	return string(r.Kind)
}

// IsKernel reports whether the role is one of the five closed kernel kinds.
func (r Role) IsKernel() bool {
	return r.Kind != RoleUser
}
