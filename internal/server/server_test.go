package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"opsline/internal/config"
	"opsline/internal/db"
	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/identity"
	"opsline/internal/migrate"
)

type testServer struct {
	URL      string
	Engine   engine.Engine
	Identity identity.Service
	client   *http.Client
	close    func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	svc := identity.Service{
		Repo:       e.Repo,
		JWTSecret:  "test-secret",
		TokenTTL:   time.Hour,
		BcryptCost: 4,
	}
	handler, err := New(Config{Engine: e, Identity: svc, BasePath: "/api/v1"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:      "http://" + ln.Addr().String(),
		Engine:   e,
		Identity: svc,
		client:   &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

// seedUser creates an account through the engine and returns a bearer
// token for it, skipping the login round trip.
func (s *testServer) seedUser(t *testing.T, email, password string, roles ...domain.Role) (domain.User, string) {
	t.Helper()
	hash, err := s.Identity.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := s.Engine.CreateUser(context.Background(), engine.UserCreateOptions{
		Email:        email,
		PasswordHash: hash,
		FullName:     "User " + email,
		Roles:        roles,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := s.Identity.IssueToken(u.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return u, token
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestLoginAndMe(t *testing.T) {
	srv := newTestServer(t)
	srv.seedUser(t, "admin@acme.test", "hunter2longer", domain.RoleSuperAdmin)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/auth/login", map[string]any{
		"email":    "admin@acme.test",
		"password": "hunter2longer",
	}, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var login LoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatalf("expected token")
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/auth/me", nil, login.Token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me domain.Identity
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal identity: %v", err)
	}
	if !me.HasRole(domain.RoleSuperAdmin) {
		t.Fatalf("expected super_admin, got %v", me.Roles)
	}

	// wrong password reads as 401
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/auth/login", map[string]any{
		"email":    "admin@acme.test",
		"password": "wrong-password",
	}, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestsRefused(t *testing.T) {
	srv := newTestServer(t)
	// health stays public
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/tasks", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/tasks", nil, "garbage-token")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", res.StatusCode)
	}
}

func TestLeadPermissionEnforced(t *testing.T) {
	srv := newTestServer(t)
	_, devToken := srv.seedUser(t, "dev@acme.test", "hunter2longer", domain.RoleDeveloper)
	_, mktToken := srv.seedUser(t, "mkt@acme.test", "hunter2longer", domain.RoleMarketing)

	payload := map[string]any{"first_name": "Ada", "email": "ada@example.com"}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/leads", payload, devToken)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for developer, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/leads", payload, mktToken)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for marketing, got %d: %s", res.StatusCode, string(data))
	}
	var lead domain.Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		t.Fatalf("unmarshal lead: %v", err)
	}
	if lead.Number == "" {
		t.Fatalf("expected a lead number")
	}
	// marketing cannot convert without convert_lead
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/leads/"+itoa(lead.ID)+"/convert", map[string]any{}, mktToken)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected convert forbidden, got %d: %s", res.StatusCode, string(data))
	}
}

func TestTaskWorkflowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	_, mgrToken := srv.seedUser(t, "mgr@acme.test", "hunter2longer", domain.RoleManagement)
	dev, devToken := srv.seedUser(t, "dev@acme.test", "hunter2longer", domain.RoleDeveloper)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/tasks", map[string]any{
		"title":       "Ship feature",
		"assigned_to": dev.ID,
	}, mgrToken)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	// only the assignee runs the lifecycle
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/tasks/"+itoa(task.ID)+"/accept", map[string]any{}, mgrToken)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected manager accept forbidden, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/tasks/"+itoa(task.ID)+"/accept", map[string]any{}, devToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}
	var accepted domain.Task
	if err := json.Unmarshal(data, &accepted); err != nil {
		t.Fatalf("unmarshal accepted: %v", err)
	}
	if accepted.Status != domain.TaskInProgress || accepted.StartedAt == nil {
		t.Fatalf("expected accept to start the task, got status %s", accepted.Status)
	}
	// double accept reads as a conflict, not a 500
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/tasks/"+itoa(task.ID)+"/accept", map[string]any{}, devToken)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double accept, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/tasks/"+itoa(task.ID)+"/status", map[string]any{
		"status": "Completed",
	}, devToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var done domain.Task
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	if done.Status != domain.TaskCompleted {
		t.Fatalf("expected Completed, got %s", done.Status)
	}
}

func TestTaskListIsScoped(t *testing.T) {
	srv := newTestServer(t)
	_, mgrToken := srv.seedUser(t, "mgr@acme.test", "hunter2longer", domain.RoleManagement)
	dev, devToken := srv.seedUser(t, "dev@acme.test", "hunter2longer", domain.RoleDeveloper)
	other, _ := srv.seedUser(t, "other@acme.test", "hunter2longer", domain.RoleDeveloper)

	for _, assignee := range []int64{dev.ID, other.ID} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/tasks", map[string]any{
			"title":       "Work",
			"assigned_to": assignee,
		}, mgrToken)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create: %d %s", res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/tasks", nil, devToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected developer to see 1 task, got %d", len(tasks))
	}
	if tasks[0].AssignedTo == nil || *tasks[0].AssignedTo != dev.ID {
		t.Fatalf("expected own task only")
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv := newTestServer(t)
	_, token := srv.seedUser(t, "admin@acme.test", "hunter2longer", domain.RoleSuperAdmin)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/tasks/9999", nil, token)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q", envelope.Error.Code)
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
