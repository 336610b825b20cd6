package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile holds the policy envelope tied to a deployment
// context (contracts.DeploymentContext*): the crypto and retention rules
// that apply, and the context ceiling trust scores may not exceed in
// that context.
type DeploymentProfile struct {
	Context        string             `yaml:"context" json:"context"`
	ContextCeiling int                `yaml:"context_ceiling" json:"context_ceiling"`
	Compliance     []string           `yaml:"compliance" json:"compliance"`
	Networking     NetworkingConfig   `yaml:"networking" json:"networking"`
	CryptoPolicy   CryptoPolicyConfig `yaml:"crypto_policy" json:"crypto_policy"`
	Retention      RetentionConfig    `yaml:"retention" json:"retention"`
}

// NetworkingConfig controls outbound networking policy for a context.
type NetworkingConfig struct {
	OutboundMode string   `yaml:"outbound_mode" json:"outbound_mode"` // "allowlist" | "denylist" | "island"
	Allowlist    []string `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
	Denylist     []string `yaml:"denylist,omitempty" json:"denylist,omitempty"`
	IslandMode   bool     `yaml:"island_mode" json:"island_mode"`
}

// CryptoPolicyConfig defines allowed cryptographic algorithms for a context.
type CryptoPolicyConfig struct {
	AllowedAlgorithms []string `yaml:"allowed_algorithms" json:"allowed_algorithms"`
	KeyRotationDays   int      `yaml:"key_rotation_days" json:"key_rotation_days"`
	RequireHSM        bool     `yaml:"require_hsm,omitempty" json:"require_hsm,omitempty"`
}

// RetentionConfig defines proof/audit retention policy for a context.
type RetentionConfig struct {
	MaxDays      int `yaml:"max_days" json:"max_days"`
	AuditLogDays int `yaml:"audit_log_days" json:"audit_log_days"`
}

// LoadProfile loads a deployment profile YAML by context name.
func LoadProfile(profilesDir, context string) (*DeploymentProfile, error) {
	context = strings.ToLower(context)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", context))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", context, err)
	}

	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", context, err)
	}
	if profile.Context == "" {
		profile.Context = context
	}
	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*DeploymentProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*DeploymentProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile DeploymentProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Context == "" {
			base := filepath.Base(path)
			profile.Context = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Context] = &profile
	}

	return profiles, nil
}

// IsIslandMode reports whether the profile blocks all outbound networking.
func (p *DeploymentProfile) IsIslandMode() bool {
	return p.Networking.IslandMode || p.Networking.OutboundMode == "island"
}

// IsAllowed checks if a hostname is allowed by the networking policy.
func (p *DeploymentProfile) IsAllowed(hostname string) bool {
	if p.IsIslandMode() {
		return false
	}

	switch p.Networking.OutboundMode {
	case "allowlist":
		for _, h := range p.Networking.Allowlist {
			if h == hostname {
				return true
			}
		}
		return false
	case "denylist":
		for _, h := range p.Networking.Denylist {
			if h == hostname {
				return false
			}
		}
		return true
	default:
		return true
	}
}
