package authz

import (
	"opsline/internal/domain"
	"opsline/internal/repo"
)

// Scope predicates translate the same rules Authorize applies
// per-record into SQL fragments for list queries, so a listing never
// shows a record the per-record decision would deny.

const (
	managedProjects = `(SELECT project_id FROM project_managers WHERE manager_id=? AND is_active=1)`
	teamProjects    = `(SELECT project_id FROM project_team WHERE user_id=? AND is_active=1)`
	ownedClients    = `(SELECT id FROM clients WHERE user_id=?)`
	ownedProjects   = `(SELECT id FROM projects WHERE client_id IN ` + ownedClients + `)`
)

// matchNone excludes every row. Used when an identity has no scope at
// all for a resource kind, so listings come back empty rather than 403.
var matchNone = repo.Predicate{Where: "1=0"}

// ProjectScope returns the predicate limiting a project listing to
// what the identity may view.
func ProjectScope(id domain.Identity) repo.Predicate {
	if id.HasRole(domain.RoleSuperAdmin) || id.HasPermission(domain.PermViewAllProjects) {
		return repo.Predicate{}
	}
	switch {
	case id.HasRole(domain.RoleManagement):
		return repo.Predicate{Where: `id IN ` + managedProjects, Args: []any{id.UserID}}
	case id.HasRole(domain.RoleDeveloper) || id.HasRole(domain.RoleDesigner):
		return repo.Predicate{Where: `id IN ` + teamProjects, Args: []any{id.UserID}}
	case id.HasRole(domain.RoleClient):
		return repo.Predicate{Where: `client_id IN ` + ownedClients, Args: []any{id.UserID}}
	}
	return matchNone
}

// TaskScope limits a task listing to tasks on visible projects or
// tasks the identity assigned or was assigned.
func TaskScope(id domain.Identity) repo.Predicate {
	if id.HasRole(domain.RoleSuperAdmin) || id.HasPermission(domain.PermViewAllProjects) {
		return repo.Predicate{}
	}
	switch {
	case id.HasRole(domain.RoleManagement):
		return repo.Predicate{
			Where: `(project_id IN ` + managedProjects + ` OR assigned_to=? OR assigned_by=?)`,
			Args:  []any{id.UserID, id.UserID, id.UserID},
		}
	case id.HasRole(domain.RoleDeveloper) || id.HasRole(domain.RoleDesigner):
		return repo.Predicate{
			Where: `(assigned_to=? OR project_id IN ` + teamProjects + `)`,
			Args:  []any{id.UserID, id.UserID},
		}
	}
	return matchNone
}

// LeadScope limits a lead listing to leads assigned to or by the
// identity, unless it holds the view-all override.
func LeadScope(id domain.Identity) repo.Predicate {
	if id.HasRole(domain.RoleSuperAdmin) || id.HasPermission(domain.PermViewAllLeads) {
		return repo.Predicate{}
	}
	if id.HasRole(domain.RoleClient) {
		return matchNone
	}
	return repo.Predicate{Where: `(assigned_to=? OR assigned_by=?)`, Args: []any{id.UserID, id.UserID}}
}

// PaymentScope limits phase and transaction listings by project
// visibility. Accountants see everything.
func PaymentScope(id domain.Identity) repo.Predicate {
	if id.HasRole(domain.RoleSuperAdmin) || id.HasRole(domain.RoleAccountant) ||
		id.HasPermission(domain.PermManagePayments) || id.HasPermission(domain.PermViewAllProjects) {
		return repo.Predicate{}
	}
	switch {
	case id.HasRole(domain.RoleManagement):
		return repo.Predicate{Where: `project_id IN ` + managedProjects, Args: []any{id.UserID}}
	case id.HasRole(domain.RoleClient):
		return repo.Predicate{Where: `project_id IN ` + ownedProjects, Args: []any{id.UserID}}
	}
	return matchNone
}
