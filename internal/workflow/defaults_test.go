package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

func TestLoadDefaultsMissingFile(t *testing.T) {
	cfg, err := LoadDefaults(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.RequireAssigneeForProgress || cfg.AllowFreeTransitions {
		t.Fatalf("expected strict defaults, got %+v", cfg)
	}
	if len(cfg.Statuses) != len(DefaultStatuses) {
		t.Fatalf("unexpected statuses: %v", cfg.Statuses)
	}
}

func TestLoadDefaultsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	content := `
statuses: [open, in_progress, resolved, closed]
transitions:
  open: [in_progress, closed]
  in_progress: [resolved]
  resolved: [closed, open]
  closed: [open]
allow_free_transitions: false
require_response_for_resolution: false
allow_customer_to_reopen: false
auto_close_after: 72h
default_team_id: team-triage
rules:
  - target: resolved
    condition: has_due_date
    severity: recommended
    message: set a due date
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadDefaults(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Statuses) != 4 {
		t.Fatalf("unexpected statuses: %v", cfg.Statuses)
	}
	if got := cfg.Transitions[domain.TicketStatusOpen]; len(got) != 2 || got[1] != domain.TicketStatusClosed {
		t.Fatalf("unexpected open transitions: %v", got)
	}
	if cfg.RequireResponseForResolution {
		t.Fatal("expected require_response_for_resolution override")
	}
	if !cfg.RequireAssigneeForProgress {
		t.Fatal("unset keys should keep defaults")
	}
	if cfg.AllowCustomerToReopen {
		t.Fatal("expected allow_customer_to_reopen override")
	}
	if cfg.AutoCloseAfter == nil || *cfg.AutoCloseAfter != 72*time.Hour {
		t.Fatalf("unexpected auto close: %v", cfg.AutoCloseAfter)
	}
	if cfg.DefaultTeamID == nil || *cfg.DefaultTeamID != "team-triage" {
		t.Fatalf("unexpected default team: %v", cfg.DefaultTeamID)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Severity != domain.SeverityRecommended {
		t.Fatalf("unexpected rules: %+v", cfg.Rules)
	}
}

func TestParseDefaultsRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad duration", "auto_close_after: soon\n"},
		{"negative duration", "auto_close_after: -1h\n"},
		{"unknown transition status", "statuses: [open, closed]\ntransitions:\n  open: [archived]\n"},
		{"rule without condition", "rules:\n  - target: resolved\n"},
		{"rule with unknown target", "rules:\n  - target: archived\n    condition: has_team\n"},
		{"malformed yaml", "statuses: [open\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDefaults([]byte(tt.content)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
