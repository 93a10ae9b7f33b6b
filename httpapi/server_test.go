package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"disputeflow/auth"
	"disputeflow/escalation"
	"disputeflow/settings"
)

func newTestServer(t *testing.T, runner *fakeRunner, killSw *fakeKillSwitch) (*Server, string, string) {
	t.Helper()

	authSvc := auth.NewService(newMemAuthRepo(), "test-secret")
	ctx := context.Background()

	if _, err := authSvc.Register(ctx, auth.RegisterRequest{
		Email: "admin@example.com", Password: "strongpassword", FullName: "Ada Admin", Role: auth.RoleAdmin,
	}); err != nil {
		t.Fatalf("register admin: %v", err)
	}
	if _, err := authSvc.Register(ctx, auth.RegisterRequest{
		Email: "op@example.com", Password: "strongpassword", FullName: "Olya Operator", Role: auth.RoleOperator,
	}); err != nil {
		t.Fatalf("register operator: %v", err)
	}

	adminLogin, err := authSvc.Login(ctx, auth.LoginRequest{Email: "admin@example.com", Password: "strongpassword"})
	if err != nil {
		t.Fatalf("login admin: %v", err)
	}
	opLogin, err := authSvc.Login(ctx, auth.LoginRequest{Email: "op@example.com", Password: "strongpassword"})
	if err != nil {
		t.Fatalf("login operator: %v", err)
	}

	srv := New(authSvc, runner, &fakeHealth{}, killSw, nil, nil)
	return srv, adminLogin.Token, opLogin.Token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRunEndpoint_RequiresAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeRunner{}, &fakeKillSwitch{enabled: true})
	routes := srv.Routes()

	rr := doJSON(t, routes, http.MethodPost, "/admin/escalation/run", "", `{}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestRunEndpoint_LiveRequiresAdmin(t *testing.T) {
	runner := &fakeRunner{}
	srv, adminToken, opToken := newTestServer(t, runner, &fakeKillSwitch{enabled: true})
	routes := srv.Routes()

	rr := doJSON(t, routes, http.MethodPost, "/admin/escalation/run", opToken, `{}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("operator live run: expected 403 got %d", rr.Code)
	}
	if runner.calls != 0 {
		t.Fatal("runner must not be invoked for a rejected request")
	}

	rr = doJSON(t, routes, http.MethodPost, "/admin/escalation/run", adminToken, `{}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin live run: expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if runner.calls != 1 || runner.lastOpts.DryRun {
		t.Fatalf("expected one live run, got calls=%d dry=%v", runner.calls, runner.lastOpts.DryRun)
	}
}

func TestRunEndpoint_LooseDryRunParsing(t *testing.T) {
	runner := &fakeRunner{}
	srv, _, opToken := newTestServer(t, runner, &fakeKillSwitch{enabled: true})
	routes := srv.Routes()

	for _, body := range []string{`{"dry_run":"true"}`, `{"dry_run":"1"}`, `{"dry_run":"YES"}`, `{"dry_run":true}`} {
		rr := doJSON(t, routes, http.MethodPost, "/admin/escalation/run", opToken, body)
		if rr.Code != http.StatusOK {
			t.Fatalf("body %s: expected 200 got %d", body, rr.Code)
		}
		if !runner.lastOpts.DryRun {
			t.Fatalf("body %s: expected dry run", body)
		}
	}
}

func TestRunEndpoint_KillSwitchBlocksLive(t *testing.T) {
	runner := &fakeRunner{}
	srv, adminToken, _ := newTestServer(t, runner, &fakeKillSwitch{enabled: false})
	routes := srv.Routes()

	rr := doJSON(t, routes, http.MethodPost, "/admin/escalation/run", adminToken, `{}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rr.Code)
	}
	if runner.calls != 0 {
		t.Fatal("disabled automation must not run")
	}

	// Dry runs remain available while disabled.
	rr = doJSON(t, routes, http.MethodPost, "/admin/escalation/run", adminToken, `{"dry_run":"yes"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("dry run while disabled: expected 200 got %d", rr.Code)
	}
}

func TestRunEndpoint_SurfacesRunError(t *testing.T) {
	runner := &fakeRunner{result: escalation.RunResult{Success: false, Error: "escalation: run aborted: boom"}}
	srv, adminToken, _ := newTestServer(t, runner, &fakeKillSwitch{enabled: true})
	routes := srv.Routes()

	rr := doJSON(t, routes, http.MethodPost, "/admin/escalation/run", adminToken, `{}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}

	var res escalation.RunResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Error != "escalation: run aborted: boom" {
		t.Fatalf("error must be surfaced verbatim, got %q", res.Error)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, opToken := newTestServer(t, &fakeRunner{}, &fakeKillSwitch{enabled: true})
	routes := srv.Routes()

	rr := doJSON(t, routes, http.MethodGet, "/admin/escalation/health", opToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}

	var report settings.HealthReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Verdict != settings.VerdictHealthy {
		t.Fatalf("expected healthy got %s", report.Verdict)
	}
}

type fakeRunner struct {
	calls    int
	lastOpts escalation.RunOptions
	result   escalation.RunResult
}

func (f *fakeRunner) Run(ctx context.Context, opts escalation.RunOptions) escalation.RunResult {
	f.calls++
	f.lastOpts = opts
	if f.result.Success || f.result.Error != "" {
		res := f.result
		res.DryRun = opts.DryRun
		return res
	}
	return escalation.RunResult{Success: true, DryRun: opts.DryRun}
}

type fakeHealth struct{}

func (f *fakeHealth) Health(ctx context.Context, automation string) (settings.HealthReport, error) {
	return settings.HealthReport{Verdict: settings.VerdictHealthy, Enabled: true}, nil
}

type fakeKillSwitch struct {
	enabled bool
}

func (f *fakeKillSwitch) IsEnabled(ctx context.Context, automation string) (bool, error) {
	return f.enabled, nil
}

func (f *fakeKillSwitch) SetEnabled(ctx context.Context, automation string, enabled bool) error {
	f.enabled = enabled
	return nil
}

type memAuthRepo struct {
	byEmail map[string]auth.User
	byID    map[string]auth.User
	nextID  int
}

func newMemAuthRepo() *memAuthRepo {
	return &memAuthRepo{byEmail: map[string]auth.User{}, byID: map[string]auth.User{}, nextID: 1}
}

func (m *memAuthRepo) CreateUser(ctx context.Context, params auth.CreateUserParams) (auth.User, error) {
	if _, ok := m.byEmail[params.Email]; ok {
		return auth.User{}, auth.ErrDuplicateEmail
	}
	user := auth.User{
		ID:           "user-" + params.Email,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	m.nextID++
	m.byEmail[user.Email] = user
	m.byID[user.ID] = user
	return user, nil
}

func (m *memAuthRepo) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	user, ok := m.byEmail[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return user, nil
}

func (m *memAuthRepo) GetUserByID(ctx context.Context, userID string) (auth.User, error) {
	user, ok := m.byID[userID]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return user, nil
}
