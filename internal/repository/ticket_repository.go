package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// TicketFilter captures ticket search parameters.
type TicketFilter struct {
	OrganizationID *string
	RequesterID    *string
	TeamID         *string
	AssigneeID     *string
	Unassigned     bool
	Statuses       []domain.TicketStatus
	Priorities     []domain.TicketPriority
	SearchTerm     *string
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	ResolvedBefore *time.Time
	// ResolvedAfter resumes a resolved_at ordered scan after the given row.
	ResolvedAfter *ResolvedCursor
	// WithoutWorkflowConfig keeps tickets of organizations that have no
	// stored workflow_configs row.
	WithoutWorkflowConfig bool
	OldestFirst           bool
	OldestResolvedFirst   bool
	Limit                 int
	Offset                int
}

// ResolvedCursor is the (resolved_at, id) key of the last row a scan saw.
type ResolvedCursor struct {
	ResolvedAt time.Time
	ID         string
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// AssignIfUnassigned sets the assignee only when the ticket has none and
	// reports whether the row changed.
	AssignIfUnassigned(ctx context.Context, ticketID, staffID string) (bool, error)
	// SetTeamIfUnset routes the ticket to teamID only when it has no team.
	SetTeamIfUnset(ctx context.Context, ticketID, teamID string) (bool, error)
	// UpdateAssignment writes team_id and assignee_staff_id only.
	UpdateAssignment(ctx context.Context, ticket *domain.Ticket) error
	// UpdateStatus writes status, resolved_at and closed_at while the stored
	// status still equals from. It reports false when another writer moved
	// the ticket first.
	UpdateStatus(ctx context.Context, ticket *domain.Ticket, from domain.TicketStatus) (bool, error)
	UpdatePriority(ctx context.Context, ticket *domain.Ticket) error
	// MarkFirstResponse stamps first_response_at once; later calls are no-ops.
	MarkFirstResponse(ctx context.Context, ticketID string, at time.Time) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, external_key, organization_id, requester_user_id, team_id, assignee_staff_id,
               title, description, status, priority, tags, due_at, first_response_at,
               created_at, updated_at, resolved_at, closed_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (external_key, organization_id, requester_user_id, team_id, assignee_staff_id,
            title, description, status, priority, tags, due_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.ExternalKey,
		ticket.OrganizationID,
		ticket.RequesterID,
		ticket.TeamID,
		ticket.AssigneeID,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.Tags,
		ticket.DueAt,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	query, args := buildTicketQuery(filter)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) AssignIfUnassigned(ctx context.Context, ticketID, staffID string) (bool, error) {
	const query = `
        UPDATE tickets SET assignee_staff_id=$1, updated_at=NOW()
        WHERE id=$2 AND assignee_staff_id IS NULL`
	cmd, err := r.pool.Exec(ctx, query, staffID, ticketID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ticketRepository) SetTeamIfUnset(ctx context.Context, ticketID, teamID string) (bool, error) {
	const query = `
        UPDATE tickets SET team_id=$1, updated_at=NOW()
        WHERE id=$2 AND team_id IS NULL`
	cmd, err := r.pool.Exec(ctx, query, teamID, ticketID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ticketRepository) UpdateAssignment(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET team_id=$1, assignee_staff_id=$2, updated_at=NOW()
        WHERE id=$3
        RETURNING updated_at`
	return r.pool.QueryRow(ctx, query, ticket.TeamID, ticket.AssigneeID, ticket.ID).Scan(&ticket.UpdatedAt)
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, ticket *domain.Ticket, from domain.TicketStatus) (bool, error) {
	const query = `
        UPDATE tickets SET status=$1, resolved_at=$2, closed_at=$3, updated_at=NOW()
        WHERE id=$4 AND status=$5
        RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		ticket.Status,
		ticket.ResolvedAt,
		ticket.ClosedAt,
		ticket.ID,
		from,
	).Scan(&ticket.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ticketRepository) UpdatePriority(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET priority=$1, updated_at=NOW()
        WHERE id=$2
        RETURNING updated_at`
	return r.pool.QueryRow(ctx, query, ticket.Priority, ticket.ID).Scan(&ticket.UpdatedAt)
}

func (r *ticketRepository) MarkFirstResponse(ctx context.Context, ticketID string, at time.Time) error {
	const query = `
        UPDATE tickets SET first_response_at=$1
        WHERE id=$2 AND first_response_at IS NULL`
	_, err := r.pool.Exec(ctx, query, at, ticketID)
	return err
}

// buildTicketQuery renders filter into a parameterised SELECT.
func buildTicketQuery(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	add := func(format string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(format, len(args)))
	}

	if filter.OrganizationID != nil {
		add("organization_id=$%d", *filter.OrganizationID)
	}
	if filter.RequesterID != nil {
		add("requester_user_id=$%d", *filter.RequesterID)
	}
	if filter.TeamID != nil {
		add("team_id=$%d", *filter.TeamID)
	}
	if filter.AssigneeID != nil {
		add("assignee_staff_id=$%d", *filter.AssigneeID)
	} else if filter.Unassigned {
		clauses = append(clauses, "assignee_staff_id IS NULL")
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		add("created_at >= $%d", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		add("created_at <= $%d", *filter.CreatedTo)
	}
	if filter.ResolvedBefore != nil {
		add("resolved_at <= $%d", *filter.ResolvedBefore)
	}
	if filter.ResolvedAfter != nil {
		args = append(args, filter.ResolvedAfter.ResolvedAt, filter.ResolvedAfter.ID)
		clauses = append(clauses, fmt.Sprintf("(resolved_at, id) > ($%d, $%d::uuid)", len(args)-1, len(args)))
	}
	if filter.WithoutWorkflowConfig {
		clauses = append(clauses, "NOT EXISTS (SELECT 1 FROM workflow_configs w WHERE w.organization_id = tickets.organization_id)")
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s)", placeholder, placeholder))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	order := "updated_at DESC"
	switch {
	case filter.OldestResolvedFirst:
		order = "resolved_at ASC, id ASC"
	case filter.OldestFirst:
		order = "created_at ASC, id ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY %s LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), order, limit, offset)
	return query, args
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.OrganizationID,
		&ticket.RequesterID,
		&ticket.TeamID,
		&ticket.AssigneeID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Tags,
		&ticket.DueAt,
		&ticket.FirstResponseAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ResolvedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
