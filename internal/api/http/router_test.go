package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

// newTestApp wires the real router with nil services; every request below is
// rejected before a service would be reached.
func newTestApp(t *testing.T, principal *auth.Principal, deps map[string]handlers.Pinger) (*fiber.App, *observability.Metrics) {
	t.Helper()
	app := fiber.New()
	metrics := observability.NewMetrics()
	RegisterMiddlewares(app, zaptest.NewLogger(t), metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:       handlers.NewHealthHandler("helpdesk-service", "test", deps),
		Auth:         handlers.NewAuthHandler(nil),
		Tickets:      handlers.NewTicketsHandler(nil, nil),
		StaffTickets: handlers.NewStaffTicketsHandler(nil, nil),
		Assignments:  handlers.NewAssignmentHandler(nil),
		Directory:    handlers.NewDirectoryHandler(nil),
		Authenticate: func(c *fiber.Ctx) error {
			if principal == nil {
				return apperrors.NewUnauthorized("missing authorization header")
			}
			auth.SetPrincipal(c, principal)
			return c.Next()
		},
	})
	return app, metrics
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (int, errorEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var env errorEnvelope
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &env)
	return resp.StatusCode, env
}

func staffPrincipal(role domain.StaffRole) *auth.Principal {
	return &auth.Principal{
		SubjectType: domain.SubjectTypeStaff,
		Staff:       &domain.StaffMember{ID: "s1", OrganizationID: "org-1", Role: role, Active: true},
	}
}

func userPrincipal() *auth.Principal {
	return &auth.Principal{
		SubjectType: domain.SubjectTypeUser,
		User:        &domain.User{ID: "u1", OrganizationID: "org-1", Status: domain.UserStatusActive},
	}
}

func TestRouteGuards(t *testing.T) {
	tests := []struct {
		name      string
		principal *auth.Principal
		method    string
		path      string
		status    int
		code      string
	}{
		{"anonymous ticket list", nil, nethttp.MethodGet, "/tickets", nethttp.StatusUnauthorized, apperrors.CodeUnauthorized},
		{"user on staff route", userPrincipal(), nethttp.MethodGet, "/staff/tickets", nethttp.StatusForbidden, apperrors.CodeForbidden},
		{"staff on user route", staffPrincipal(domain.StaffRoleAdmin), nethttp.MethodGet, "/tickets", nethttp.StatusForbidden, apperrors.CodeForbidden},
		{"agent batch assign", staffPrincipal(domain.StaffRoleAgent), nethttp.MethodPost, "/staff/tickets/auto-assign", nethttp.StatusForbidden, apperrors.CodeForbidden},
		{"agent assigns other", staffPrincipal(domain.StaffRoleAgent), nethttp.MethodPost, "/staff/tickets/t1/assign", nethttp.StatusForbidden, apperrors.CodeForbidden},
		{"unknown route", nil, nethttp.MethodGet, "/nope", nethttp.StatusNotFound, apperrors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(t, tt.principal, nil)
			status, env := doRequest(t, app, tt.method, tt.path, "")
			if status != tt.status {
				t.Fatalf("status = %d, want %d", status, tt.status)
			}
			if env.Error.Code != tt.code {
				t.Fatalf("code = %q, want %q", env.Error.Code, tt.code)
			}
		})
	}
}

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name      string
		principal *auth.Principal
		method    string
		path      string
		body      string
	}{
		{"login without password", nil, nethttp.MethodPost, "/auth/users/login", `{"email":"a@example.com"}`},
		{"staff login malformed", nil, nethttp.MethodPost, "/auth/staff/login", `{"email":`},
		{"validate without status", staffPrincipal(domain.StaffRoleAgent), nethttp.MethodPost, "/staff/tickets/t1/status/validate", `{}`},
		{"status without status", staffPrincipal(domain.StaffRoleAgent), nethttp.MethodPatch, "/staff/tickets/t1/status", `{"comment":"x"}`},
		{"empty staff message", staffPrincipal(domain.StaffRoleAgent), nethttp.MethodPost, "/staff/tickets/t1/messages", `{"body":"  "}`},
		{"customer internal note", userPrincipal(), nethttp.MethodPost, "/tickets/t1/messages", `{"body":"hi","message_type":"INTERNAL_NOTE"}`},
		{"assign without staff id", staffPrincipal(domain.StaffRoleTeamLead), nethttp.MethodPost, "/staff/tickets/t1/assign", `{}`},
		{"negative batch limit", staffPrincipal(domain.StaffRoleAdmin), nethttp.MethodPost, "/staff/tickets/auto-assign", `{"limit":-1}`},
		{"bad priority filter", staffPrincipal(domain.StaffRoleAgent), nethttp.MethodGet, "/staff/tickets?priority=asap", ""},
		{"bad timestamp filter", userPrincipal(), nethttp.MethodGet, "/tickets?created_from=yesterday", ""},
		{"bad role filter", staffPrincipal(domain.StaffRoleAdmin), nethttp.MethodGet, "/staff/members?role=BOSS", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, metrics := newTestApp(t, tt.principal, nil)
			status, env := doRequest(t, app, tt.method, tt.path, tt.body)
			if status != nethttp.StatusBadRequest {
				t.Fatalf("status = %d, want 400", status)
			}
			if env.Error.Code != apperrors.CodeValidationFailed {
				t.Fatalf("code = %q, want %q", env.Error.Code, apperrors.CodeValidationFailed)
			}
			if len(metrics.Snapshot().Errors) == 0 {
				t.Fatal("expected error to be counted")
			}
		})
	}
}

func TestReadiness(t *testing.T) {
	healthy := map[string]handlers.Pinger{
		"postgres": pingerFunc(func(context.Context) error { return nil }),
	}
	app, _ := newTestApp(t, nil, healthy)
	if status, _ := doRequest(t, app, nethttp.MethodGet, "/health/ready", ""); status != nethttp.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}

	failing := map[string]handlers.Pinger{
		"postgres": pingerFunc(func(context.Context) error { return nil }),
		"redis":    pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	}
	app, _ = newTestApp(t, nil, failing)
	status, env := doRequest(t, app, nethttp.MethodGet, "/health/ready", "")
	if status != nethttp.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", status)
	}
	if env.Error.Code != apperrors.CodeDependencyUnavailable {
		t.Fatalf("code = %q", env.Error.Code)
	}
	if env.Error.Details["redis"] != "connection refused" || env.Error.Details["postgres"] != "ok" {
		t.Fatalf("unexpected details: %+v", env.Error.Details)
	}
}

func TestPanicRendersInternalError(t *testing.T) {
	app := fiber.New()
	RegisterMiddlewares(app, zaptest.NewLogger(t), nil, 0)
	app.Get("/boom", func(*fiber.Ctx) error { panic("boom") })

	status, env := doRequest(t, app, nethttp.MethodGet, "/boom", "")
	if status != nethttp.StatusInternalServerError || env.Error.Code != apperrors.CodeInternal {
		t.Fatalf("got %d %q, want 500 %q", status, env.Error.Code, apperrors.CodeInternal)
	}
}
