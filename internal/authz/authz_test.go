package authz_test

import (
	"strings"
	"testing"

	"opsline/internal/authz"
	"opsline/internal/domain"
)

func ident(roles []domain.Role, perms ...domain.Permission) domain.Identity {
	return domain.Identity{UserID: 7, Roles: roles, Permissions: perms}
}

func TestSuperAdminAlwaysAllowed(t *testing.T) {
	id := ident([]domain.Role{domain.RoleSuperAdmin})
	resources := []authz.Resource{authz.ResourceProject, authz.ResourceTask, authz.ResourceLead, authz.ResourcePayment, authz.ResourceTeam, authz.ResourceUser}
	actions := []authz.Action{authz.ActionView, authz.ActionCreate, authz.ActionEdit, authz.ActionDelete, authz.ActionTransition, authz.ActionAssign, authz.ActionConvert, authz.ActionManage}
	for _, r := range resources {
		for _, a := range actions {
			if d := authz.Authorize(id, r, a, authz.ResourceContext{}); !d.Allowed {
				t.Errorf("super_admin denied %s %s: %s", a, r, d.Reason)
			}
		}
	}
}

func TestProjectView(t *testing.T) {
	cases := []struct {
		name string
		id   domain.Identity
		rc   authz.ResourceContext
		want bool
	}{
		{"view-all override", ident([]domain.Role{domain.RoleMarketing}, domain.PermViewAllProjects), authz.ResourceContext{}, true},
		{"manager", ident([]domain.Role{domain.RoleManagement}), authz.ResourceContext{IsManager: true}, true},
		{"team member", ident([]domain.Role{domain.RoleDeveloper}), authz.ResourceContext{IsTeamMember: true}, true},
		{"owning client", ident([]domain.Role{domain.RoleClient}), authz.ResourceContext{OwnsClient: true}, true},
		{"stranger", ident([]domain.Role{domain.RoleDeveloper}), authz.ResourceContext{}, false},
		{"other client", ident([]domain.Role{domain.RoleClient}), authz.ResourceContext{}, false},
	}
	for _, tc := range cases {
		d := authz.Authorize(tc.id, authz.ResourceProject, authz.ActionView, tc.rc)
		if d.Allowed != tc.want {
			t.Errorf("%s: got %v (%s), want %v", tc.name, d.Allowed, d.Reason, tc.want)
		}
	}
}

func TestProjectEdit(t *testing.T) {
	// edit needs the global permission or active management of this project
	if d := authz.Authorize(ident([]domain.Role{domain.RoleManagement}, domain.PermEditAllProjects), authz.ResourceProject, authz.ActionEdit, authz.ResourceContext{}); !d.Allowed {
		t.Errorf("edit_all_projects denied: %s", d.Reason)
	}
	if d := authz.Authorize(ident([]domain.Role{domain.RoleManagement}), authz.ResourceProject, authz.ActionEdit, authz.ResourceContext{IsManager: true}); !d.Allowed {
		t.Errorf("manager edit denied: %s", d.Reason)
	}
	if d := authz.Authorize(ident([]domain.Role{domain.RoleManagement}), authz.ResourceProject, authz.ActionEdit, authz.ResourceContext{}); d.Allowed {
		t.Errorf("non-manager edit allowed")
	}
	// a team member cannot edit the project record
	if d := authz.Authorize(ident([]domain.Role{domain.RoleDeveloper}), authz.ResourceProject, authz.ActionEdit, authz.ResourceContext{IsTeamMember: true}); d.Allowed {
		t.Errorf("team member edit allowed")
	}
}

func TestTaskTransitionAssigneeOnly(t *testing.T) {
	id := ident([]domain.Role{domain.RoleDeveloper})
	if d := authz.Authorize(id, authz.ResourceTask, authz.ActionTransition, authz.ResourceContext{IsAssignee: true}); !d.Allowed {
		t.Errorf("assignee transition denied: %s", d.Reason)
	}
	if d := authz.Authorize(id, authz.ResourceTask, authz.ActionTransition, authz.ResourceContext{}); d.Allowed {
		t.Errorf("non-assignee transition allowed")
	}
	// even the task's manager does not run another person's workflow
	mgr := ident([]domain.Role{domain.RoleManagement}, domain.PermEditTask)
	if d := authz.Authorize(mgr, authz.ResourceTask, authz.ActionTransition, authz.ResourceContext{IsManager: true}); d.Allowed {
		t.Errorf("manager transition allowed")
	}
}

func TestTaskEditAndDelete(t *testing.T) {
	mgr := ident([]domain.Role{domain.RoleManagement}, domain.PermEditTask, domain.PermDeleteTask)
	if d := authz.Authorize(mgr, authz.ResourceTask, authz.ActionEdit, authz.ResourceContext{IsManager: true}); !d.Allowed {
		t.Errorf("manager edit denied: %s", d.Reason)
	}
	if d := authz.Authorize(mgr, authz.ResourceTask, authz.ActionDelete, authz.ResourceContext{IsAssigner: true}); !d.Allowed {
		t.Errorf("assigner delete denied: %s", d.Reason)
	}
	// permission without standing on the record is not enough
	if d := authz.Authorize(mgr, authz.ResourceTask, authz.ActionDelete, authz.ResourceContext{}); d.Allowed {
		t.Errorf("delete without standing allowed")
	}
	// the assignee can edit their own task without edit_task
	dev := ident([]domain.Role{domain.RoleDeveloper})
	if d := authz.Authorize(dev, authz.ResourceTask, authz.ActionEdit, authz.ResourceContext{IsAssignee: true}); !d.Allowed {
		t.Errorf("assignee self-edit denied: %s", d.Reason)
	}
	if d := authz.Authorize(dev, authz.ResourceTask, authz.ActionDelete, authz.ResourceContext{IsAssignee: true}); d.Allowed {
		t.Errorf("assignee delete allowed")
	}
}

func TestLeadRules(t *testing.T) {
	mkt := ident([]domain.Role{domain.RoleMarketing}, domain.PermCreateLead, domain.PermEditLead, domain.PermAssignLead, domain.PermViewAllLeads)
	if d := authz.Authorize(mkt, authz.ResourceLead, authz.ActionCreate, authz.ResourceContext{}); !d.Allowed {
		t.Errorf("create denied: %s", d.Reason)
	}
	if d := authz.Authorize(mkt, authz.ResourceLead, authz.ActionEdit, authz.ResourceContext{}); !d.Allowed {
		t.Errorf("edit with view_all denied: %s", d.Reason)
	}
	if d := authz.Authorize(mkt, authz.ResourceLead, authz.ActionConvert, authz.ResourceContext{}); d.Allowed {
		t.Errorf("convert without convert_lead allowed")
	}
	// edit_lead alone needs standing on the record
	dev := ident([]domain.Role{domain.RoleDeveloper}, domain.PermEditLead)
	if d := authz.Authorize(dev, authz.ResourceLead, authz.ActionEdit, authz.ResourceContext{}); d.Allowed {
		t.Errorf("edit without standing allowed")
	}
	if d := authz.Authorize(dev, authz.ResourceLead, authz.ActionEdit, authz.ResourceContext{IsAssignee: true}); !d.Allowed {
		t.Errorf("assignee edit denied: %s", d.Reason)
	}
}

func TestPaymentRules(t *testing.T) {
	acct := ident([]domain.Role{domain.RoleAccountant}, domain.PermManagePayments)
	if d := authz.Authorize(acct, authz.ResourcePayment, authz.ActionView, authz.ResourceContext{}); !d.Allowed {
		t.Errorf("accountant view denied: %s", d.Reason)
	}
	if d := authz.Authorize(acct, authz.ResourcePayment, authz.ActionEdit, authz.ResourceContext{}); !d.Allowed {
		t.Errorf("manage_payments edit denied: %s", d.Reason)
	}
	dev := ident([]domain.Role{domain.RoleDeveloper})
	if d := authz.Authorize(dev, authz.ResourcePayment, authz.ActionEdit, authz.ResourceContext{IsTeamMember: true}); d.Allowed {
		t.Errorf("developer payment edit allowed")
	}
	// the owning client may view their own ledger but not settle it
	client := ident([]domain.Role{domain.RoleClient})
	if d := authz.Authorize(client, authz.ResourcePayment, authz.ActionView, authz.ResourceContext{OwnsClient: true}); !d.Allowed {
		t.Errorf("owning client view denied: %s", d.Reason)
	}
	if d := authz.Authorize(client, authz.ResourcePayment, authz.ActionEdit, authz.ResourceContext{OwnsClient: true}); d.Allowed {
		t.Errorf("client settle allowed")
	}
}

func TestDeniedDecisionCarriesReason(t *testing.T) {
	d := authz.Authorize(ident([]domain.Role{domain.RoleDeveloper}), authz.ResourceLead, authz.ActionDelete, authz.ResourceContext{})
	if d.Allowed {
		t.Fatalf("expected denial")
	}
	if strings.TrimSpace(d.Reason) == "" {
		t.Fatalf("expected a reason on denial")
	}
}

func TestScopePredicates(t *testing.T) {
	admin := ident([]domain.Role{domain.RoleSuperAdmin})
	if p := authz.ProjectScope(admin); p.Where != "" {
		t.Errorf("expected unbounded project scope for super_admin, got %q", p.Where)
	}
	viewer := ident([]domain.Role{domain.RoleMarketing}, domain.PermViewAllProjects)
	if p := authz.TaskScope(viewer); p.Where != "" {
		t.Errorf("expected unbounded task scope with view_all_projects, got %q", p.Where)
	}
	dev := ident([]domain.Role{domain.RoleDeveloper})
	if p := authz.TaskScope(dev); p.Where == "" {
		t.Errorf("expected bounded task scope for developer")
	}
	// a client sees no leads at all
	client := ident([]domain.Role{domain.RoleClient})
	if p := authz.LeadScope(client); p.Where != "1=0" {
		t.Errorf("expected empty lead scope for client, got %q", p.Where)
	}
	// no relevant role at all matches nothing
	nobody := domain.Identity{UserID: 9}
	if p := authz.ProjectScope(nobody); p.Where != "1=0" {
		t.Errorf("expected empty project scope, got %q", p.Where)
	}
	acct := ident([]domain.Role{domain.RoleAccountant})
	if p := authz.PaymentScope(acct); p.Where != "" {
		t.Errorf("expected unbounded payment scope for accountant, got %q", p.Where)
	}
}
