package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	SubjectType domain.SubjectType
	User        *domain.User
	Staff       *domain.StaffMember
}

// IsStaff reports whether the caller is a staff member.
func (p *Principal) IsStaff() bool {
	return p != nil && p.SubjectType == domain.SubjectTypeStaff && p.Staff != nil
}

// ID returns the caller's user or staff id.
func (p *Principal) ID() string {
	switch {
	case p == nil:
		return ""
	case p.Staff != nil:
		return p.Staff.ID
	case p.User != nil:
		return p.User.ID
	}
	return ""
}

// OrganizationID returns the organization the caller belongs to.
func (p *Principal) OrganizationID() string {
	switch {
	case p == nil:
		return ""
	case p.Staff != nil:
		return p.Staff.OrganizationID
	case p.User != nil:
		return p.User.OrganizationID
	}
	return ""
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens *TokenManager
	users  repository.UserRepository
	staff  repository.StaffRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, users repository.UserRepository, staff repository.StaffRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users, staff: staff}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(strings.TrimSpace(parts[1]))
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	principal := &Principal{SubjectType: claims.SubjectType}

	switch claims.SubjectType {
	case domain.SubjectTypeUser:
		user, err := m.users.GetByID(c.UserContext(), claims.Subject)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewUnauthorized("user not found")
			}
			return apperrors.MapError(err)
		}
		if user.Status != domain.UserStatusActive {
			return apperrors.NewForbidden("user suspended")
		}
		principal.User = user
	case domain.SubjectTypeStaff:
		staff, err := m.staff.GetByID(c.UserContext(), claims.Subject)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewUnauthorized("staff not found")
			}
			return apperrors.MapError(err)
		}
		if !staff.Active {
			return apperrors.NewForbidden("staff account disabled")
		}
		principal.Staff = staff
	default:
		return apperrors.NewUnauthorized("unknown subject")
	}

	SetPrincipal(c, principal)
	return c.Next()
}

// SetPrincipal stores the authenticated entity on the request.
func SetPrincipal(c *fiber.Ctx, principal *Principal) {
	c.Locals(principalKey, principal)
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
