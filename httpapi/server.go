package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"disputeflow/auth"
	"disputeflow/client"
	"disputeflow/dispute"
	"disputeflow/escalation"
	"disputeflow/settings"
)

// TokenVerifier validates bearer tokens, typically auth.Service.
type TokenVerifier interface {
	VerifyToken(token string) (string, auth.Role, error)
}

// EscalationRunner is the manual-trigger entry point, typically
// escalation.Runner.
type EscalationRunner interface {
	Run(ctx context.Context, opts escalation.RunOptions) escalation.RunResult
}

// HealthReporter builds the monitoring view, typically settings.Service.
type HealthReporter interface {
	Health(ctx context.Context, automation string) (settings.HealthReport, error)
}

// KillSwitch reads and writes the automation enablement flag.
type KillSwitch interface {
	IsEnabled(ctx context.Context, automation string) (bool, error)
	SetEnabled(ctx context.Context, automation string, enabled bool) error
}

// CaseDirectory is the slice of the dispute service the API exposes.
type CaseDirectory interface {
	ListByClient(ctx context.Context, clientID string) ([]dispute.Case, error)
	GetByID(ctx context.Context, caseID string) (dispute.Case, error)
	MarkResponse(ctx context.Context, caseID string, status dispute.ResponseStatus, escalateVerified bool) (dispute.Case, error)
}

// Server wires the admin HTTP surface: authentication, the manual escalation
// trigger, health, and the thin case/client reads around them.
type Server struct {
	auth     *auth.Service
	verifier TokenVerifier
	runner   EscalationRunner
	health   HealthReporter
	killSw   KillSwitch
	clients  *client.Service
	disputes CaseDirectory
}

func New(authSvc *auth.Service, runner EscalationRunner, health HealthReporter, killSw KillSwitch, clients *client.Service, disputes CaseDirectory) *Server {
	return &Server{
		auth:     authSvc,
		verifier: authSvc,
		runner:   runner,
		health:   health,
		killSw:   killSw,
		clients:  clients,
		disputes: disputes,
	}
}

// Routes assembles the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Post("/admin/escalation/run", s.handleRunEscalation)
		r.Get("/admin/escalation/health", s.handleHealth)
		r.Put("/admin/escalation/enabled", s.handleSetEnabled)

		r.Get("/admin/clients", s.handleListClients)
		r.Get("/admin/clients/{clientID}/cases", s.handleListCases)
		r.Get("/admin/cases/{caseID}", s.handleGetCase)
		r.Post("/admin/cases/{caseID}/response", s.handleMarkResponse)
	})

	return r
}

type roleKey struct{}

func roleFromContext(ctx context.Context) auth.Role {
	role, _ := ctx.Value(roleKey{}).(auth.Role)
	return role
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		_, role, err := s.verifier.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if role == auth.RoleClient {
			writeError(w, http.StatusForbidden, "staff access required")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey{}, role)))
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"role":  result.User.Role,
	})
}

// handleRunEscalation is the authorized manual trigger. The dry_run field is
// parsed loosely; live runs require admin and an enabled automation.
func (s *Server) handleRunEscalation(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if r.Body != nil {
		// Absence of a body means a live run request; the role gate below
		// still applies.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	dryRun := escalation.ParseDryRun(body["dry_run"])

	role := roleFromContext(r.Context())
	if dryRun && !role.CanRunDry() {
		writeError(w, http.StatusForbidden, "dry runs require operator access")
		return
	}
	if !dryRun {
		if !role.CanRunLive() {
			writeError(w, http.StatusForbidden, "live runs require admin access")
			return
		}
		enabled, err := s.killSw.IsEnabled(r.Context(), settings.AutomationEscalation)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !enabled {
			writeError(w, http.StatusConflict, "escalation automation is disabled")
			return
		}
	}

	res := s.runner.Run(r.Context(), escalation.RunOptions{DryRun: dryRun})

	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.health.Health(r.Context(), settings.AutomationEscalation)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	if !roleFromContext(r.Context()).CanRunLive() {
		writeError(w, http.StatusForbidden, "kill switch requires admin access")
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.killSw.SetEnabled(r.Context(), settings.AutomationEscalation, req.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": req.Enabled})
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.clients.List(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.disputes.ListByClient(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cases)
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.disputes.GetByID(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		if errors.Is(err, dispute.ErrNotFound) {
			writeError(w, http.StatusNotFound, "case not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleMarkResponse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status           dispute.ResponseStatus `json:"status"`
		EscalateVerified bool                   `json:"escalate_verified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := s.disputes.MarkResponse(r.Context(), chi.URLParam(r, "caseID"), req.Status, req.EscalateVerified)
	if err != nil {
		if errors.Is(err, dispute.ErrNotFound) {
			writeError(w, http.StatusNotFound, "case not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
