package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// StaffRepository handles persistence for staff members.
type StaffRepository interface {
	GetByID(ctx context.Context, id string) (*domain.StaffMember, error)
	GetByEmail(ctx context.Context, email string) (*domain.StaffMember, error)
	List(ctx context.Context, filter StaffFilter) ([]domain.StaffMember, error)
	// ListWorkloads returns one row per active agent in the organization with
	// the number of assigned tickets whose status is in active, ordered by
	// name then id.
	ListWorkloads(ctx context.Context, organizationID string, teamID *string, active []domain.TicketStatus) ([]domain.AgentWorkload, error)
}

// StaffFilter defines query params for staff listing.
type StaffFilter struct {
	OrganizationID *string
	Role           *domain.StaffRole
	TeamID         *string
	Active         *bool
	Limit          int
	Offset         int
}

type staffRepository struct {
	pool *pgxpool.Pool
}

// NewStaffRepository instantiates the repository.
func NewStaffRepository(pool *pgxpool.Pool) StaffRepository {
	return &staffRepository{pool: pool}
}

const staffColumns = `id, organization_id, name, email, password_hash, role, team_id, active_flag, created_at, updated_at`

func (r *staffRepository) GetByID(ctx context.Context, id string) (*domain.StaffMember, error) {
	query := `SELECT ` + staffColumns + ` FROM staff_members WHERE id=$1`
	return scanStaff(r.pool.QueryRow(ctx, query, id))
}

func (r *staffRepository) GetByEmail(ctx context.Context, email string) (*domain.StaffMember, error) {
	query := `SELECT ` + staffColumns + ` FROM staff_members WHERE email=$1`
	return scanStaff(r.pool.QueryRow(ctx, query, email))
}

func (r *staffRepository) List(ctx context.Context, filter StaffFilter) ([]domain.StaffMember, error) {
	query := `SELECT ` + staffColumns + ` FROM staff_members`
	args := []any{}
	clauses := []string{}

	if filter.OrganizationID != nil {
		args = append(args, *filter.OrganizationID)
		clauses = append(clauses, fmt.Sprintf("organization_id=$%d", len(args)))
	}
	if filter.Role != nil {
		args = append(args, *filter.Role)
		clauses = append(clauses, fmt.Sprintf("role=$%d", len(args)))
	}
	if filter.TeamID != nil {
		args = append(args, *filter.TeamID)
		clauses = append(clauses, fmt.Sprintf("team_id=$%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("active_flag=$%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.StaffMember
	for rows.Next() {
		staff, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *staff)
	}
	return result, rows.Err()
}

func (r *staffRepository) ListWorkloads(ctx context.Context, organizationID string, teamID *string, active []domain.TicketStatus) ([]domain.AgentWorkload, error) {
	const query = `
        SELECT s.id, COALESCE(s.team_id::text, ''), COUNT(t.id)
        FROM staff_members s
        LEFT JOIN tickets t
            ON t.assignee_staff_id = s.id AND t.status = ANY($2)
        WHERE s.organization_id=$1 AND s.active_flag=TRUE
            AND ($3::uuid IS NULL OR s.team_id=$3::uuid)
        GROUP BY s.id, s.team_id, s.name
        ORDER BY s.name ASC, s.id ASC`

	statuses := make([]string, len(active))
	for i, status := range active {
		statuses[i] = string(status)
	}
	rows, err := r.pool.Query(ctx, query, organizationID, statuses, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AgentWorkload
	for rows.Next() {
		var (
			w     domain.AgentWorkload
			count int64
		)
		if err := rows.Scan(&w.AgentID, &w.TeamID, &count); err != nil {
			return nil, err
		}
		w.ActiveTickets = int(count)
		result = append(result, w)
	}
	return result, rows.Err()
}

func scanStaff(row pgx.Row) (*domain.StaffMember, error) {
	var staff domain.StaffMember
	if err := row.Scan(
		&staff.ID,
		&staff.OrganizationID,
		&staff.Name,
		&staff.Email,
		&staff.PasswordHash,
		&staff.Role,
		&staff.TeamID,
		&staff.Active,
		&staff.CreatedAt,
		&staff.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &staff, nil
}
