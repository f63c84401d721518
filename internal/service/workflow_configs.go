package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// WorkflowConfigResolver returns the workflow configuration in force for an
// organization: its stored row, or the service defaults when it has none.
type WorkflowConfigResolver struct {
	repo     repository.WorkflowConfigRepository
	defaults domain.WorkflowConfig
}

// NewWorkflowConfigResolver builds a resolver. repo may be nil, in which case
// every organization uses defaults.
func NewWorkflowConfigResolver(repo repository.WorkflowConfigRepository, defaults domain.WorkflowConfig) *WorkflowConfigResolver {
	return &WorkflowConfigResolver{repo: repo, defaults: defaults}
}

// Resolve reads the configuration fresh on every call.
func (r *WorkflowConfigResolver) Resolve(ctx context.Context, organizationID string) (domain.WorkflowConfig, error) {
	if r.repo != nil {
		cfg, err := r.repo.Get(ctx, organizationID)
		if err == nil {
			return *cfg, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return domain.WorkflowConfig{}, apperrors.MapError(err)
		}
	}
	cfg := r.defaults
	cfg.OrganizationID = organizationID
	return cfg, nil
}

// Defaults returns the configuration used for organizations without a row.
func (r *WorkflowConfigResolver) Defaults() domain.WorkflowConfig {
	return r.defaults
}
