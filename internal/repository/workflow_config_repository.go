package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// WorkflowConfigRepository reads per-organization workflow settings.
type WorkflowConfigRepository interface {
	// Get returns pgx.ErrNoRows when the organization has no stored config.
	Get(ctx context.Context, organizationID string) (*domain.WorkflowConfig, error)
	// ListWithAutoClose returns every stored config that enables auto-close.
	ListWithAutoClose(ctx context.Context) ([]domain.WorkflowConfig, error)
}

type workflowConfigRepository struct {
	pool *pgxpool.Pool
}

// NewWorkflowConfigRepository builds repository.
func NewWorkflowConfigRepository(pool *pgxpool.Pool) WorkflowConfigRepository {
	return &workflowConfigRepository{pool: pool}
}

const workflowConfigColumns = `organization_id, statuses, transitions, allow_free_transitions,
               require_assignee_for_progress, require_response_for_resolution,
               auto_close_after_seconds, default_team_id, allow_customer_to_reopen, rules`

func (r *workflowConfigRepository) Get(ctx context.Context, organizationID string) (*domain.WorkflowConfig, error) {
	query := `SELECT ` + workflowConfigColumns + ` FROM workflow_configs WHERE organization_id=$1`
	return scanWorkflowConfig(r.pool.QueryRow(ctx, query, organizationID))
}

func (r *workflowConfigRepository) ListWithAutoClose(ctx context.Context) ([]domain.WorkflowConfig, error) {
	query := `SELECT ` + workflowConfigColumns + ` FROM workflow_configs
        WHERE auto_close_after_seconds IS NOT NULL AND auto_close_after_seconds > 0
        ORDER BY organization_id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.WorkflowConfig
	for rows.Next() {
		cfg, err := scanWorkflowConfig(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *cfg)
	}
	return result, rows.Err()
}

func scanWorkflowConfig(row pgx.Row) (*domain.WorkflowConfig, error) {
	var (
		cfg              domain.WorkflowConfig
		autoCloseSeconds *int64
	)
	if err := row.Scan(
		&cfg.OrganizationID,
		&cfg.Statuses,
		&cfg.Transitions,
		&cfg.AllowFreeTransitions,
		&cfg.RequireAssigneeForProgress,
		&cfg.RequireResponseForResolution,
		&autoCloseSeconds,
		&cfg.DefaultTeamID,
		&cfg.AllowCustomerToReopen,
		&cfg.Rules,
	); err != nil {
		return nil, err
	}
	if autoCloseSeconds != nil && *autoCloseSeconds > 0 {
		d := time.Duration(*autoCloseSeconds) * time.Second
		cfg.AutoCloseAfter = &d
	}
	return &cfg, nil
}
