package approval

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the policy thresholds and role sets driving the state machine.
// Defaults mirror the production values; deployments override them with a
// YAML file.
type Config struct {
	AutoApprove struct {
		RiskMax   int     `yaml:"risk_max"`
		AmountMax float64 `yaml:"amount_max"`
	} `yaml:"auto_approve"`

	TwoManRule struct {
		RiskMin   int     `yaml:"risk_min"`
		AmountMin float64 `yaml:"amount_min"`
	} `yaml:"two_man_rule"`

	// Roles that bypass tier checks and may decide unilaterally.
	ManagerOverrideRoles []string `yaml:"manager_override_roles"`

	// Approver role sets keyed by tier: low_risk, medium_risk, high_risk,
	// two_man_rule.
	ApproverRoles map[string][]string `yaml:"approver_roles"`

	// How long a request may sit undecided before it is flagged.
	EscalationWindow time.Duration `yaml:"-"`
}

// UnmarshalYAML decodes overrides on top of the current values. The
// escalation window is written as a duration string ("4h", "90m"), which
// yaml.v3 cannot decode into time.Duration directly.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		AutoApprove struct {
			RiskMax   int     `yaml:"risk_max"`
			AmountMax float64 `yaml:"amount_max"`
		} `yaml:"auto_approve"`
		TwoManRule struct {
			RiskMin   int     `yaml:"risk_min"`
			AmountMin float64 `yaml:"amount_min"`
		} `yaml:"two_man_rule"`
		ManagerOverrideRoles []string            `yaml:"manager_override_roles"`
		ApproverRoles        map[string][]string `yaml:"approver_roles"`
		EscalationWindow     string              `yaml:"escalation_window"`
	}
	raw.AutoApprove = c.AutoApprove
	raw.TwoManRule = c.TwoManRule
	raw.ManagerOverrideRoles = c.ManagerOverrideRoles
	raw.ApproverRoles = c.ApproverRoles

	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.AutoApprove = raw.AutoApprove
	c.TwoManRule = raw.TwoManRule
	c.ManagerOverrideRoles = raw.ManagerOverrideRoles
	c.ApproverRoles = raw.ApproverRoles
	if raw.EscalationWindow != "" {
		window, err := time.ParseDuration(raw.EscalationWindow)
		if err != nil {
			return fmt.Errorf("parse escalation_window: %w", err)
		}
		c.EscalationWindow = window
	}
	return nil
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	var cfg Config
	cfg.AutoApprove.RiskMax = 39
	cfg.AutoApprove.AmountMax = 300
	cfg.TwoManRule.RiskMin = 70
	cfg.TwoManRule.AmountMin = 5000
	cfg.ManagerOverrideRoles = []string{"CISO", "CEO", "CFO"}
	cfg.ApproverRoles = map[string][]string{
		"low_risk":     {"TeamLead", "SecurityAnalyst", "Admin"},
		"medium_risk":  {"SecurityLead", "TeamLead", "Admin"},
		"high_risk":    {"SecurityLead", "FinanceLead", "CISO"},
		"two_man_rule": {"SecurityLead", "FinanceLead", "CISO", "CEO"},
	}
	cfg.EscalationWindow = 4 * time.Hour
	return cfg
}

// LoadConfig reads overrides from a YAML file on top of the defaults. An
// empty path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read policy config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse policy config: %w", err)
	}
	return cfg, nil
}

// RiskLevelOf buckets a risk score.
func (c Config) RiskLevelOf(score int) RiskLevel {
	switch {
	case score <= c.AutoApprove.RiskMax:
		return RiskLow
	case score < c.TwoManRule.RiskMin:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// CanAutoApprove reports whether the request clears both auto-approve
// thresholds.
func (c Config) CanAutoApprove(r *Request) bool {
	return r.RiskScore <= c.AutoApprove.RiskMax && r.Amount <= c.AutoApprove.AmountMax
}

// RequiresTwoManRule reports whether the request needs two distinct
// approvals.
func (c Config) RequiresTwoManRule(r *Request) bool {
	return r.RiskScore >= c.TwoManRule.RiskMin || r.Amount >= c.TwoManRule.AmountMin
}

// RequiredApproverRoles returns the roles authorized to decide on the
// request.
func (c Config) RequiredApproverRoles(r *Request) []string {
	if c.RequiresTwoManRule(r) {
		return c.ApproverRoles["two_man_rule"]
	}
	return c.ApproverRoles[string(c.RiskLevelOf(r.RiskScore))+"_risk"]
}

// IsManagerOverride reports whether the role bypasses all tier checks.
func (c Config) IsManagerOverride(role string) bool {
	return slices.Contains(c.ManagerOverrideRoles, role)
}

// CanDecide reports whether the role may decide on the request, with a
// human-readable reason for the audit trail.
func (c Config) CanDecide(role string, r *Request) (bool, string) {
	if c.IsManagerOverride(role) {
		return true, "manager override"
	}
	if slices.Contains(c.RequiredApproverRoles(r), role) {
		if c.RequiresTwoManRule(r) {
			return true, "two-man rule approver"
		}
		return true, fmt.Sprintf("%s risk approver", c.RiskLevelOf(r.RiskScore))
	}
	return false, "role not authorized for this request"
}
