package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// DirectoryHandler lists teams and staff members of the caller's organization.
type DirectoryHandler struct {
	directory *service.DirectoryService
}

// NewDirectoryHandler constructs handler.
func NewDirectoryHandler(directoryService *service.DirectoryService) *DirectoryHandler {
	return &DirectoryHandler{directory: directoryService}
}

// ListTeams GET /staff/teams.
func (h *DirectoryHandler) ListTeams(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	teams, err := h.directory.ListTeams(c.UserContext(), staff)
	if err != nil {
		return err
	}
	resp := make([]dto.TeamResponse, 0, len(teams))
	for _, team := range teams {
		resp = append(resp, dto.TeamResponse{
			ID:          team.ID,
			Name:        team.Name,
			Description: team.Description,
			IsActive:    team.IsActive,
			CreatedAt:   team.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": resp})
}

// ListStaff GET /staff/members.
func (h *DirectoryHandler) ListStaff(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	filters := service.StaffListFilters{TeamID: optionalQuery(c, "team_id")}
	if raw := c.Query("role"); raw != "" {
		role := domain.StaffRole(raw)
		switch role {
		case domain.StaffRoleAgent, domain.StaffRoleTeamLead, domain.StaffRoleAdmin:
			filters.Role = &role
		default:
			return apperrors.NewValidationError("invalid role", map[string]any{"role": raw})
		}
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return apperrors.NewValidationError("invalid active flag", map[string]any{"active": raw})
		}
		filters.Active = &active
	}
	filters.Limit, filters.Offset = pagination(c)

	members, err := h.directory.ListStaff(c.UserContext(), staff, filters)
	if err != nil {
		return err
	}
	resp := make([]dto.StaffMemberResponse, 0, len(members))
	for _, m := range members {
		resp = append(resp, dto.StaffMemberResponse{
			ID:     m.ID,
			Name:   m.Name,
			Email:  m.Email,
			Role:   m.Role,
			TeamID: m.TeamID,
			Active: m.Active,
		})
	}
	return c.JSON(fiber.Map{"data": resp})
}
