package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// AuthService exchanges credentials for bearer tokens.
type AuthService struct {
	users    repository.UserRepository
	staff    repository.StaffRepository
	tokenMgr *auth.TokenManager
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	UserRepo     repository.UserRepository
	StaffRepo    repository.StaffRepository
	TokenManager *auth.TokenManager
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	return &AuthService{
		users:    deps.UserRepo,
		staff:    deps.StaffRepo,
		tokenMgr: deps.TokenManager,
	}
}

// LoginUser authenticates an end-user.
func (s *AuthService) LoginUser(ctx context.Context, email, password string) (*domain.User, domain.Token, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.BurnComparison(password)
			return nil, domain.Token{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, domain.Token{}, apperrors.MapError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, domain.Token{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if user.Status != domain.UserStatusActive {
		return nil, domain.Token{}, apperrors.NewForbidden("user suspended")
	}
	token, err := s.tokenMgr.GenerateToken(user.ID, user.OrganizationID, domain.SubjectTypeUser, nil)
	if err != nil {
		return nil, domain.Token{}, apperrors.MapError(err)
	}
	return user, token, nil
}

// LoginStaff authenticates staff and returns role-bearing token.
func (s *AuthService) LoginStaff(ctx context.Context, email, password string) (*domain.StaffMember, domain.Token, error) {
	staff, err := s.staff.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.BurnComparison(password)
			return nil, domain.Token{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, domain.Token{}, apperrors.MapError(err)
	}
	if err := auth.ComparePassword(staff.PasswordHash, password); err != nil {
		return nil, domain.Token{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if !staff.Active {
		return nil, domain.Token{}, apperrors.NewForbidden("staff inactive")
	}
	role := staff.Role
	token, err := s.tokenMgr.GenerateToken(staff.ID, staff.OrganizationID, domain.SubjectTypeStaff, &role)
	if err != nil {
		return nil, domain.Token{}, apperrors.MapError(err)
	}
	return staff, token, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
