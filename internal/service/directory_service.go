package service

import (
	"context"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// DirectoryService lists the teams and staff of the caller's organization.
type DirectoryService struct {
	teams repository.TeamRepository
	staff repository.StaffRepository
}

// DirectoryDependencies encapsulates repositories required for directory reads.
type DirectoryDependencies struct {
	TeamRepo  repository.TeamRepository
	StaffRepo repository.StaffRepository
}

// StaffListFilters define listing parameters.
type StaffListFilters struct {
	Role   *domain.StaffRole
	TeamID *string
	Active *bool
	Limit  int
	Offset int
}

// NewDirectoryService constructs the service.
func NewDirectoryService(deps DirectoryDependencies) *DirectoryService {
	return &DirectoryService{teams: deps.TeamRepo, staff: deps.StaffRepo}
}

// ListTeams returns the active teams of the actor's organization.
func (s *DirectoryService) ListTeams(ctx context.Context, actor *domain.StaffMember) ([]domain.Team, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	teams, err := s.teams.ListActive(ctx, actor.OrganizationID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if teams == nil {
		teams = []domain.Team{}
	}
	return teams, nil
}

// ListStaff returns staff of the actor's organization.
func (s *DirectoryService) ListStaff(ctx context.Context, actor *domain.StaffMember, filters StaffListFilters) ([]domain.StaffMember, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	staff, err := s.staff.List(ctx, repository.StaffFilter{
		OrganizationID: &actor.OrganizationID,
		Role:           filters.Role,
		TeamID:         filters.TeamID,
		Active:         filters.Active,
		Limit:          filters.Limit,
		Offset:         filters.Offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if staff == nil {
		staff = []domain.StaffMember{}
	}
	return staff, nil
}
