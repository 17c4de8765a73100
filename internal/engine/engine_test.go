package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"opsline/internal/config"
	"opsline/internal/db"
	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/migrate"
	"opsline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	clock := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	return testEnv{Engine: eng, Ctx: context.Background(), clock: &clock}
}

func (env testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func (env testEnv) createUser(t *testing.T, email string, roles ...domain.Role) domain.User {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{
		Email:        email,
		PasswordHash: "$2a$10$fixturehash",
		FullName:     "User " + email,
		Roles:        roles,
		ActorID:      0,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func (env testEnv) createProject(t *testing.T, actorID int64) domain.Project {
	t.Helper()
	c, err := env.Engine.CreateClient(env.Ctx, engine.ClientCreateOptions{
		CompanyName:   "Acme Corp",
		ContactPerson: "Jane Doe",
		ActorID:       actorID,
	})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		ClientID:    c.ID,
		Name:        "Website revamp",
		TotalBudget: 10000,
		ActorID:     actorID,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func TestTaskAcceptRejectExclusive(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.createUser(t, "mgr@acme.test", domain.RoleManagement)
	dev := env.createUser(t, "dev@acme.test", domain.RoleDeveloper)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:      "Build login",
		AssignedTo: &dev.ID,
		ActorID:    mgr.ID,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	task, err = env.Engine.AcceptTask(env.Ctx, task.ID, dev.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if task.AcceptedAt == nil || task.StartedAt == nil {
		t.Fatalf("expected accepted_at and started_at set")
	}
	if task.Status != domain.TaskInProgress {
		t.Fatalf("expected acceptance to start the task, got %s", task.Status)
	}
	if _, err := env.Engine.RejectTask(env.Ctx, task.ID, dev.ID, "too busy"); err == nil {
		t.Fatalf("expected reject after accept to conflict")
	}
	if _, err := env.Engine.AcceptTask(env.Ctx, task.ID, dev.ID); err == nil {
		t.Fatalf("expected second accept to conflict")
	}
}

func TestTaskRejectCancels(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.createUser(t, "mgr@acme.test", domain.RoleManagement)
	dev := env.createUser(t, "dev@acme.test", domain.RoleDeveloper)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:      "Fix bug",
		AssignedTo: &dev.ID,
		ActorID:    mgr.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RejectTask(env.Ctx, task.ID, dev.ID, ""); err == nil {
		t.Fatalf("expected reason required")
	}
	task, err = env.Engine.RejectTask(env.Ctx, task.ID, dev.ID, "wrong skill set")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if task.Status != domain.TaskCancelled {
		t.Fatalf("expected rejection to cancel the task, got %s", task.Status)
	}
	if task.RejectionReason == nil || *task.RejectionReason != "wrong skill set" {
		t.Fatalf("expected rejection reason recorded")
	}
	if _, err := env.Engine.AcceptTask(env.Ctx, task.ID, dev.ID); err == nil {
		t.Fatalf("expected accept after reject to conflict")
	}
	if _, err := env.Engine.RejectTask(env.Ctx, task.ID, dev.ID, "again"); err == nil {
		t.Fatalf("expected second reject to conflict")
	}
}

func TestTaskReassignmentResetsAcceptance(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.createUser(t, "mgr@acme.test", domain.RoleManagement)
	dev := env.createUser(t, "dev@acme.test", domain.RoleDeveloper)
	other := env.createUser(t, "other@acme.test", domain.RoleDeveloper)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:      "Write docs",
		AssignedTo: &dev.ID,
		ActorID:    mgr.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AcceptTask(env.Ctx, task.ID, dev.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		TaskID:     task.ID,
		AssignedTo: &other.ID,
		ActorID:    mgr.ID,
	})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if task.AcceptedAt != nil {
		t.Fatalf("expected acceptance reset on reassignment")
	}
	if _, err := env.Engine.AcceptTask(env.Ctx, task.ID, other.ID); err != nil {
		t.Fatalf("new assignee accept: %v", err)
	}
}

func TestTaskTimeTracking(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.createUser(t, "mgr@acme.test", domain.RoleManagement)
	dev := env.createUser(t, "dev@acme.test", domain.RoleDeveloper)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:      "Implement export",
		AssignedTo: &dev.ID,
		ActorID:    mgr.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	// pausing before acceptance is refused
	if _, err := env.Engine.PauseTask(env.Ctx, task.ID, dev.ID, "not mine yet"); err == nil {
		t.Fatalf("expected pause before accept to conflict")
	}
	task, err = env.Engine.AcceptTask(env.Ctx, task.ID, dev.ID)
	if err != nil || task.Status != domain.TaskInProgress {
		t.Fatalf("accept: %v status=%s", err, task.Status)
	}
	env.advance(60 * time.Second)
	task, err = env.Engine.PauseTask(env.Ctx, task.ID, dev.ID, "waiting on review")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if task.Status != domain.TaskBlocked {
		t.Fatalf("expected paused task to be Blocked, got %s", task.Status)
	}
	if _, err := env.Engine.PauseTask(env.Ctx, task.ID, dev.ID, "again"); err == nil {
		t.Fatalf("expected double pause to conflict")
	}
	env.advance(30 * time.Second)
	task, err = env.Engine.ResumeTask(env.Ctx, task.ID, dev.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if task.Status != domain.TaskInProgress {
		t.Fatalf("expected resumed task to be In Progress, got %s", task.Status)
	}
	if task.TotalPausedDuration != 30 {
		t.Fatalf("expected 30s paused, got %d", task.TotalPausedDuration)
	}
	env.advance(60 * time.Second)
	task, err = env.Engine.SetTaskStatus(env.Ctx, task.ID, dev.ID, domain.TaskCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.CompletedDuration == nil || *task.CompletedDuration != 120 {
		t.Fatalf("expected 120s worked, got %v", task.CompletedDuration)
	}
	if task.CompletedAt == nil {
		t.Fatalf("expected completed_at set")
	}
}

func TestCompletePausedTaskRequiresResume(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.createUser(t, "mgr@acme.test", domain.RoleManagement)
	dev := env.createUser(t, "dev@acme.test", domain.RoleDeveloper)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:      "Migration",
		AssignedTo: &dev.ID,
		ActorID:    mgr.ID,
	})
	if _, err := env.Engine.AcceptTask(env.Ctx, task.ID, dev.ID); err != nil {
		t.Fatal(err)
	}
	env.advance(100 * time.Second)
	if _, err := env.Engine.PauseTask(env.Ctx, task.ID, dev.ID, "blocked"); err != nil {
		t.Fatal(err)
	}
	env.advance(40 * time.Second)
	// a paused task sits in Blocked, which only resumes
	if _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, dev.ID, domain.TaskCompleted); err == nil {
		t.Fatalf("expected completing a paused task to be refused")
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, dev.ID, domain.TaskCancelled); err == nil {
		t.Fatalf("expected cancelling a paused task to be refused")
	}
	if _, err := env.Engine.ResumeTask(env.Ctx, task.ID, dev.ID); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, dev.ID, domain.TaskCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.PausedAt != nil {
		t.Fatalf("expected no open pause")
	}
	if task.CompletedDuration == nil || *task.CompletedDuration != 100 {
		t.Fatalf("expected 100s worked, got %v", task.CompletedDuration)
	}
}

func TestTaskTransitionRules(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.createUser(t, "mgr@acme.test", domain.RoleManagement)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Rules", ActorID: mgr.ID})
	if err != nil {
		t.Fatal(err)
	}
	// To Do cannot jump straight to Completed
	if _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, mgr.ID, domain.TaskCompleted); err == nil {
		t.Fatalf("expected To Do -> Completed to be refused")
	}
	// same-status is a conflict
	if _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, mgr.ID, domain.TaskToDo); err == nil {
		t.Fatalf("expected same-status to conflict")
	}
	task, err = env.Engine.SetTaskStatus(env.Ctx, task.ID, mgr.ID, domain.TaskCancelled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// cancelled is terminal
	if _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, mgr.ID, domain.TaskInProgress); err == nil {
		t.Fatalf("expected cancelled task to refuse transitions")
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{TaskID: task.ID, ActorID: mgr.ID}); err == nil {
		t.Fatalf("expected cancelled task to refuse edits")
	}
}

func TestDeleteTaskInProgressRefused(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.createUser(t, "mgr@acme.test", domain.RoleManagement)
	dev := env.createUser(t, "dev@acme.test", domain.RoleDeveloper)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:      "Risky delete",
		AssignedTo: &dev.ID,
		ActorID:    mgr.ID,
	})
	if _, err := env.Engine.AcceptTask(env.Ctx, task.ID, dev.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, mgr.ID); err == nil {
		t.Fatalf("expected delete of in-progress task to conflict")
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, dev.ID, domain.TaskCancelled); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, mgr.ID); err != nil {
		t.Fatalf("delete cancelled task: %v", err)
	}
}

func TestLeadNumbering(t *testing.T) {
	env := newTestEnv(t)
	mkt := env.createUser(t, "mkt@acme.test", domain.RoleMarketing)
	first, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		FirstName: "Ada",
		Email:     "Ada@Example.com",
		ActorID:   mkt.ID,
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if first.Number != "LEAD-2025-001" {
		t.Fatalf("unexpected number %s", first.Number)
	}
	if first.Email != "ada@example.com" {
		t.Fatalf("expected lowercased email, got %s", first.Email)
	}
	second, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		FirstName: "Grace",
		Email:     "grace@example.com",
		ActorID:   mkt.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Number != "LEAD-2025-002" {
		t.Fatalf("unexpected number %s", second.Number)
	}
}

func TestLeadFunnelForwardOnly(t *testing.T) {
	env := newTestEnv(t)
	mkt := env.createUser(t, "mkt@acme.test", domain.RoleMarketing)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		FirstName: "Ada", Email: "ada@example.com", ActorID: mkt.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	lead, err = env.Engine.SetLeadStatus(env.Ctx, lead.ID, mkt.ID, domain.LeadQualified, "")
	if err != nil {
		t.Fatalf("forward skip to Qualified: %v", err)
	}
	// backwards is refused
	if _, err := env.Engine.SetLeadStatus(env.Ctx, lead.ID, mkt.ID, domain.LeadContacted, ""); err == nil {
		t.Fatalf("expected backward transition to conflict")
	}
	// Won only via conversion
	if _, err := env.Engine.SetLeadStatus(env.Ctx, lead.ID, mkt.ID, domain.LeadWon, ""); err == nil {
		t.Fatalf("expected Won via status change to be refused")
	}
	// Lost requires a reason
	if _, err := env.Engine.SetLeadStatus(env.Ctx, lead.ID, mkt.ID, domain.LeadLost, ""); err == nil {
		t.Fatalf("expected lost without reason to be refused")
	}
	lead, err = env.Engine.SetLeadStatus(env.Ctx, lead.ID, mkt.ID, domain.LeadLost, "no budget")
	if err != nil {
		t.Fatalf("mark lost: %v", err)
	}
	if lead.LostReason == nil || *lead.LostReason != "no budget" {
		t.Fatalf("expected lost reason recorded")
	}
	// terminal
	if _, err := env.Engine.SetLeadStatus(env.Ctx, lead.ID, mkt.ID, domain.LeadContacted, ""); err == nil {
		t.Fatalf("expected lost lead to refuse transitions")
	}
}

func TestLeadStatusChangeRecordsActivity(t *testing.T) {
	env := newTestEnv(t)
	mkt := env.createUser(t, "mkt@acme.test", domain.RoleMarketing)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		FirstName: "Ada", Email: "ada@example.com", ActorID: mkt.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetLeadStatus(env.Ctx, lead.ID, mkt.ID, domain.LeadContacted, ""); err != nil {
		t.Fatalf("contact: %v", err)
	}
	activities, err := env.Engine.Repo.ListLeadActivities(env.Ctx, lead.ID)
	if err != nil {
		t.Fatal(err)
	}
	var found *domain.LeadActivity
	for i := range activities {
		if activities[i].Type == "Status Change" {
			found = &activities[i]
		}
	}
	if found == nil {
		t.Fatalf("expected a Status Change activity, got %+v", activities)
	}
	if found.Description != "Status changed from New to Contacted" {
		t.Fatalf("unexpected activity description %q", found.Description)
	}
	if found.PerformedBy != mkt.ID {
		t.Fatalf("expected activity performed by %d, got %d", mkt.ID, found.PerformedBy)
	}
	// re-applying the current status is a quiet no-op
	same, err := env.Engine.SetLeadStatus(env.Ctx, lead.ID, mkt.ID, domain.LeadContacted, "")
	if err != nil {
		t.Fatalf("same-status: %v", err)
	}
	if same.Status != domain.LeadContacted {
		t.Fatalf("expected status unchanged, got %s", same.Status)
	}
	activities, err = env.Engine.Repo.ListLeadActivities(env.Ctx, lead.ID)
	if err != nil {
		t.Fatal(err)
	}
	changes := 0
	for _, a := range activities {
		if a.Type == "Status Change" {
			changes++
		}
	}
	if changes != 1 {
		t.Fatalf("expected exactly one Status Change activity, got %d", changes)
	}
}

func TestLeadSoftDelete(t *testing.T) {
	env := newTestEnv(t)
	mkt := env.createUser(t, "mkt@acme.test", domain.RoleMarketing)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		FirstName: "Ada", Email: "ada@example.com", ActorID: mkt.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	lead, err = env.Engine.DeleteLead(env.Ctx, lead.ID, mkt.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if lead.Status != domain.LeadLost || lead.LostReason == nil || *lead.LostReason != "Deleted" {
		t.Fatalf("expected soft delete to mark Lost/Deleted, got %s", lead.Status)
	}
	// still readable
	got, err := env.Engine.Repo.GetLead(env.Ctx, lead.ID)
	if err != nil {
		t.Fatalf("expected deleted lead to remain readable: %v", err)
	}
	if got.Number != lead.Number {
		t.Fatalf("number mismatch")
	}
	if _, err := env.Engine.DeleteLead(env.Ctx, lead.ID, mkt.ID); err == nil {
		t.Fatalf("expected second delete to conflict")
	}
}

func TestConvertLead(t *testing.T) {
	env := newTestEnv(t)
	mkt := env.createUser(t, "mkt@acme.test", domain.RoleMarketing)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       "ada@example.com",
		CompanyName: "Analytical Engines Ltd",
		ActorID:     mkt.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ConvertLead(env.Ctx, engine.LeadConvertOptions{
		LeadID:        lead.ID,
		CreateProject: true,
		ProjectName:   "Engine build",
		TotalBudget:   5000,
		ActorID:       mkt.ID,
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.Lead.Status != domain.LeadWon {
		t.Fatalf("expected Won, got %s", res.Lead.Status)
	}
	if res.Client.CompanyName != "Analytical Engines Ltd" {
		t.Fatalf("unexpected client company %s", res.Client.CompanyName)
	}
	if res.Lead.ConvertedToClientID == nil || *res.Lead.ConvertedToClientID != res.Client.ID {
		t.Fatalf("expected lead to reference new client")
	}
	if res.Project == nil || res.Project.Number != "PRJ-2025-001" {
		t.Fatalf("expected project PRJ-2025-001, got %+v", res.Project)
	}
	// second convert loses
	if _, err := env.Engine.ConvertLead(env.Ctx, engine.LeadConvertOptions{LeadID: lead.ID, ActorID: mkt.ID}); err == nil {
		t.Fatalf("expected double convert to conflict")
	}
	// converted lead cannot be deleted
	if _, err := env.Engine.DeleteLead(env.Ctx, lead.ID, mkt.ID); err == nil {
		t.Fatalf("expected delete of converted lead to conflict")
	}
}

func TestConvertLeadCompanyFallback(t *testing.T) {
	env := newTestEnv(t)
	mkt := env.createUser(t, "mkt@acme.test", domain.RoleMarketing)
	lead, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com", ActorID: mkt.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ConvertLead(env.Ctx, engine.LeadConvertOptions{LeadID: lead.ID, ActorID: mkt.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Client.CompanyName != "Grace Hopper" {
		t.Fatalf("expected name fallback, got %s", res.Client.CompanyName)
	}
	if res.Client.Tier != "Standard" {
		t.Fatalf("expected Standard tier default, got %s", res.Client.Tier)
	}
	if res.Project != nil {
		t.Fatalf("expected no project")
	}
}

func TestProjectNumbering(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.createUser(t, "mgr@acme.test", domain.RoleManagement)
	p := env.createProject(t, mgr.ID)
	if p.Number != "PRJ-2025-001" {
		t.Fatalf("unexpected number %s", p.Number)
	}
	second, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		ClientID: p.ClientID,
		Name:     "Second",
		ActorID:  mgr.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Number != "PRJ-2025-002" {
		t.Fatalf("unexpected number %s", second.Number)
	}
	// the creator is seeded as an active manager
	ok, err := env.Engine.Repo.IsActiveManager(env.Ctx, p.ID, mgr.ID)
	if err != nil || !ok {
		t.Fatalf("expected creator in manager set: ok=%v err=%v", ok, err)
	}
}

func TestManagerReactivation(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.createUser(t, "mgr@acme.test", domain.RoleManagement)
	other := env.createUser(t, "other@acme.test", domain.RoleManagement)
	p := env.createProject(t, mgr.ID)
	if err := env.Engine.AssignManager(env.Ctx, p.ID, other.ID, mgr.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := env.Engine.RemoveManager(env.Ctx, p.ID, other.ID, mgr.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ok, err := env.Engine.Repo.IsActiveManager(env.Ctx, p.ID, other.ID)
	if err != nil || ok {
		t.Fatalf("expected deactivated, ok=%v err=%v", ok, err)
	}
	// re-add reactivates the same assignment
	if err := env.Engine.AssignManager(env.Ctx, p.ID, other.ID, mgr.ID); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	ok, err = env.Engine.Repo.IsActiveManager(env.Ctx, p.ID, other.ID)
	if err != nil || !ok {
		t.Fatalf("expected reactivated, ok=%v err=%v", ok, err)
	}
	managers, err := env.Engine.Repo.ListManagers(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(managers) != 2 {
		t.Fatalf("expected 2 active managers, got %d", len(managers))
	}
}

func TestMarkPhasePaid(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.createUser(t, "mgr@acme.test", domain.RoleManagement)
	acct := env.createUser(t, "acct@acme.test", domain.RoleAccountant)
	p := env.createProject(t, mgr.ID)
	phase, err := env.Engine.CreatePhase(env.Ctx, engine.PhaseCreateOptions{
		ProjectID: p.ID,
		Name:      "Deposit",
		Amount:    2500,
		DueDate:   "2025-07-01",
		ActorID:   mgr.ID,
	})
	if err != nil {
		t.Fatalf("create phase: %v", err)
	}
	if phase.Percentage != 25 {
		t.Fatalf("expected percentage derived from budget, got %v", phase.Percentage)
	}
	txn, err := env.Engine.MarkPhasePaid(env.Ctx, engine.MarkPaidOptions{
		PhaseID: phase.ID,
		Method:  "Stripe online gateway",
		ActorID: acct.ID,
	})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if txn.Number != fmt.Sprintf("TXN-2025-%06d", phase.ID) {
		t.Fatalf("unexpected transaction number %s", txn.Number)
	}
	if txn.Method != "Online" {
		t.Fatalf("expected normalized method Online, got %s", txn.Method)
	}
	if txn.Amount != 2500 || txn.ClientID != p.ClientID || txn.VerifiedBy != acct.ID {
		t.Fatalf("unexpected transaction %+v", txn)
	}
	// settled phases are frozen
	if _, err := env.Engine.MarkPhasePaid(env.Ctx, engine.MarkPaidOptions{PhaseID: phase.ID, Method: "cash", ActorID: acct.ID}); err == nil {
		t.Fatalf("expected second settle to conflict")
	}
	name := "Renamed"
	if _, err := env.Engine.UpdatePhase(env.Ctx, engine.PhaseUpdateOptions{PhaseID: phase.ID, Name: &name, ActorID: mgr.ID}); err == nil {
		t.Fatalf("expected edit of paid phase to conflict")
	}
	if err := env.Engine.DeletePhase(env.Ctx, phase.ID, mgr.ID); err == nil {
		t.Fatalf("expected delete of paid phase to conflict")
	}
	summary, err := env.Engine.Repo.ProjectPaymentSummary(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalPaid != 2500 || summary.PaidCount != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestPhaseSequencePerProject(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.createUser(t, "mgr@acme.test", domain.RoleManagement)
	p := env.createProject(t, mgr.ID)
	other := env.createProject(t, mgr.ID)

	for i, want := range []int{1, 2, 3} {
		phase, err := env.Engine.CreatePhase(env.Ctx, engine.PhaseCreateOptions{
			ProjectID: p.ID,
			Name:      fmt.Sprintf("Milestone %d", i+1),
			Amount:    1000,
			DueDate:   "2025-07-01",
			ActorID:   mgr.ID,
		})
		if err != nil {
			t.Fatalf("create phase %d: %v", i+1, err)
		}
		if phase.Sequence != want {
			t.Fatalf("expected sequence %d, got %d", want, phase.Sequence)
		}
	}
	// each project counts on its own
	phase, err := env.Engine.CreatePhase(env.Ctx, engine.PhaseCreateOptions{
		ProjectID: other.ID,
		Name:      "Deposit",
		Amount:    500,
		DueDate:   "2025-07-01",
		ActorID:   mgr.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if phase.Sequence != 1 {
		t.Fatalf("expected fresh project to start at sequence 1, got %d", phase.Sequence)
	}
}

func TestPendingPaymentsBuckets(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.createUser(t, "mgr@acme.test", domain.RoleManagement)
	p := env.createProject(t, mgr.ID)

	// clock is fixed at 2025-06-01
	due := map[string]string{
		"Late":    "2025-05-20",
		"Today":   "2025-06-01",
		"Soon":    "2025-06-05",
		"Later":   "2025-07-01",
		"Settled": "2025-05-01",
	}
	ids := map[string]int64{}
	for name, date := range due {
		phase, err := env.Engine.CreatePhase(env.Ctx, engine.PhaseCreateOptions{
			ProjectID: p.ID,
			Name:      name,
			Amount:    1000,
			DueDate:   date,
			ActorID:   mgr.ID,
		})
		if err != nil {
			t.Fatalf("create phase %s: %v", name, err)
		}
		ids[name] = phase.ID
	}
	if _, err := env.Engine.MarkPhasePaid(env.Ctx, engine.MarkPaidOptions{PhaseID: ids["Settled"], Method: "cash", ActorID: mgr.ID}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	pending, err := env.Engine.PendingPayments(env.Ctx, repo.Predicate{})
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	want := []struct {
		bucket string
		got    []domain.PaymentPhase
		name   string
	}{
		{"overdue", pending.Overdue, "Late"},
		{"due today", pending.DueToday, "Today"},
		{"due soon", pending.DueSoon, "Soon"},
		{"upcoming", pending.Upcoming, "Later"},
	}
	for _, w := range want {
		if len(w.got) != 1 || w.got[0].Name != w.name {
			t.Fatalf("bucket %s: expected only %s, got %+v", w.bucket, w.name, w.got)
		}
	}

	stats, err := env.Engine.PaymentStats(env.Ctx, repo.Predicate{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalRevenue != 1000 || stats.PendingRevenue != 4000 {
		t.Fatalf("unexpected revenue %+v", stats)
	}
	if stats.OverdueCount != 1 || stats.OverdueAmount != 1000 {
		t.Fatalf("unexpected overdue %+v", stats)
	}
}

func TestNormalizePaymentMethod(t *testing.T) {
	cases := map[string]string{
		"Stripe online gateway": "Online",
		"Payment Gateway":       "Online",
		"ONLINE card":           "Online",
		"bank transfer":         "Offline/3rd Party",
		"cash":                  "Offline/3rd Party",
		"":                      "Offline/3rd Party",
	}
	for in, want := range cases {
		if got := engine.NormalizePaymentMethod(in); got != want {
			t.Errorf("NormalizePaymentMethod(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLastRoleRemovalRefused(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "admin@acme.test", domain.RoleSuperAdmin)
	u := env.createUser(t, "dev@acme.test", domain.RoleDeveloper)
	if err := env.Engine.RemoveUserRole(env.Ctx, u.ID, domain.RoleDeveloper, admin.ID); err == nil {
		t.Fatalf("expected last role removal to conflict")
	}
	if err := env.Engine.AssignUserRole(env.Ctx, u.ID, domain.RoleMarketing, admin.ID); err != nil {
		t.Fatalf("assign second role: %v", err)
	}
	// granting a held role is a no-op
	if err := env.Engine.AssignUserRole(env.Ctx, u.ID, domain.RoleMarketing, admin.ID); err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	if err := env.Engine.RemoveUserRole(env.Ctx, u.ID, domain.RoleDeveloper, admin.ID); err != nil {
		t.Fatalf("remove with two roles: %v", err)
	}
	roles, err := env.Engine.Repo.UserRoles(env.Ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 1 || roles[0] != domain.RoleMarketing {
		t.Fatalf("unexpected roles %v", roles)
	}
}

func TestDuplicateEmailRefused(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "dev@acme.test", domain.RoleDeveloper)
	_, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{
		Email:        "DEV@acme.test",
		PasswordHash: "$2a$10$fixturehash",
		FullName:     "Dup",
		Roles:        []domain.Role{domain.RoleDeveloper},
	})
	if err == nil {
		t.Fatalf("expected duplicate email to conflict")
	}
}

func TestActivityLogWritten(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.createUser(t, "mgr@acme.test", domain.RoleManagement)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Logged", ActorID: mgr.ID})
	if err != nil {
		t.Fatal(err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT count(*) FROM activity_logs WHERE entity_type='task' AND entity_id=?`, task.ID)
	if err != nil {
		t.Fatalf("query activity: %v", err)
	}
	defer rows.Close()
	var count int
	rows.Next()
	rows.Scan(&count)
	if count == 0 {
		t.Fatalf("expected activity rows for task creation")
	}
}
