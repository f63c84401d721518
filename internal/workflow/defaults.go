package workflow

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// fileConfig mirrors the YAML layout of the workflow defaults file.
type fileConfig struct {
	Statuses                     []domain.TicketStatus                         `yaml:"statuses"`
	Transitions                  map[domain.TicketStatus][]domain.TicketStatus `yaml:"transitions"`
	AllowFreeTransitions         *bool                                         `yaml:"allow_free_transitions"`
	RequireAssigneeForProgress   *bool                                         `yaml:"require_assignee_for_progress"`
	RequireResponseForResolution *bool                                         `yaml:"require_response_for_resolution"`
	AllowCustomerToReopen        *bool                                         `yaml:"allow_customer_to_reopen"`
	AutoCloseAfter               string                                        `yaml:"auto_close_after"`
	DefaultTeamID                string                                        `yaml:"default_team_id"`
	Rules                        []domain.TransitionRule                       `yaml:"rules"`
}

// LoadDefaults reads the workflow defaults file at path. An empty path or a
// missing file yields DefaultConfig.
func LoadDefaults(path string) (domain.WorkflowConfig, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read workflow defaults: %w", err)
	}
	return ParseDefaults(data)
}

// ParseDefaults overlays YAML-encoded settings on DefaultConfig.
func ParseDefaults(data []byte) (domain.WorkflowConfig, error) {
	cfg := DefaultConfig()
	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse workflow defaults: %w", err)
	}

	if len(raw.Statuses) > 0 {
		cfg.Statuses = raw.Statuses
	}
	if len(raw.Transitions) > 0 {
		cfg.Transitions = raw.Transitions
	}
	if raw.AllowFreeTransitions != nil {
		cfg.AllowFreeTransitions = *raw.AllowFreeTransitions
	}
	if raw.RequireAssigneeForProgress != nil {
		cfg.RequireAssigneeForProgress = *raw.RequireAssigneeForProgress
	}
	if raw.RequireResponseForResolution != nil {
		cfg.RequireResponseForResolution = *raw.RequireResponseForResolution
	}
	if raw.AllowCustomerToReopen != nil {
		cfg.AllowCustomerToReopen = *raw.AllowCustomerToReopen
	}
	if raw.AutoCloseAfter != "" {
		d, err := time.ParseDuration(raw.AutoCloseAfter)
		if err != nil {
			return cfg, fmt.Errorf("parse auto_close_after: %w", err)
		}
		if d <= 0 {
			return cfg, fmt.Errorf("auto_close_after must be positive, got %s", raw.AutoCloseAfter)
		}
		cfg.AutoCloseAfter = &d
	}
	if raw.DefaultTeamID != "" {
		teamID := raw.DefaultTeamID
		cfg.DefaultTeamID = &teamID
	}
	cfg.Rules = raw.Rules

	if err := checkConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// checkConfig rejects transition tables or rules that name statuses outside
// the configured set.
func checkConfig(cfg domain.WorkflowConfig) error {
	for from, targets := range cfg.Transitions {
		if !KnownStatus(cfg, from) {
			return fmt.Errorf("transitions: unknown status %q", from)
		}
		for _, to := range targets {
			if !KnownStatus(cfg, to) {
				return fmt.Errorf("transitions from %s: unknown status %q", from, to)
			}
		}
	}
	for i, rule := range cfg.Rules {
		if !KnownStatus(cfg, rule.Target) {
			return fmt.Errorf("rules[%d]: unknown target %q", i, rule.Target)
		}
		if rule.Condition == "" {
			return fmt.Errorf("rules[%d]: condition required", i)
		}
	}
	return nil
}
