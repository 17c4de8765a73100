package authz

import (
	"fmt"

	"opsline/internal/domain"
)

// Resource is the kind of record an action targets.
type Resource string

const (
	ResourceProject Resource = "project"
	ResourceTask    Resource = "task"
	ResourceLead    Resource = "lead"
	ResourcePayment Resource = "payment"
	ResourceTeam    Resource = "team"
	ResourceUser    Resource = "user"
)

// Action is what the caller wants to do to the resource.
type Action string

const (
	ActionView       Action = "view"
	ActionCreate     Action = "create"
	ActionEdit       Action = "edit"
	ActionDelete     Action = "delete"
	ActionTransition Action = "transition"
	ActionAssign     Action = "assign"
	ActionConvert    Action = "convert"
	ActionManage     Action = "manage"
)

// ResourceContext carries the relationship facts between the caller
// and a concrete record. Callers load these before asking for a
// decision; the engine itself never touches the database.
type ResourceContext struct {
	// IsManager: caller is in the target project's active manager set.
	IsManager bool
	// IsTeamMember: caller is in the target project's active team set.
	IsTeamMember bool
	// IsAssignee: the record (task or lead) is assigned to the caller.
	IsAssignee bool
	// IsAssigner: the caller created the assignment.
	IsAssigner bool
	// OwnsClient: the record belongs to the client linked to the
	// caller's user account.
	OwnsClient bool
}

type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// viewOverride maps a resource to the permission that grants unscoped
// read access to every record of that kind.
var viewOverride = map[Resource]domain.Permission{
	ResourceProject: domain.PermViewAllProjects,
	ResourceTask:    domain.PermViewAllProjects,
	ResourcePayment: domain.PermViewAllProjects,
	ResourceLead:    domain.PermViewAllLeads,
}

// createPermission maps a resource to the permission required to
// create records of that kind.
var createPermission = map[Resource]domain.Permission{
	ResourceProject: domain.PermCreateProject,
	ResourceTask:    domain.PermCreateTask,
	ResourceLead:    domain.PermCreateLead,
	ResourcePayment: domain.PermManagePayments,
}

// Authorize decides whether the identity may perform the action on a
// resource described by rc. Decisions are pure: every fact needed is
// in the arguments.
func Authorize(id domain.Identity, res Resource, act Action, rc ResourceContext) Decision {
	if id.HasRole(domain.RoleSuperAdmin) {
		return allow()
	}

	switch act {
	case ActionCreate:
		if perm, ok := createPermission[res]; ok {
			if id.HasPermission(perm) {
				return allow()
			}
			return deny("permission %s required", perm)
		}
		return deny("cannot create %s", res)

	case ActionView:
		return authorizeView(id, res, rc)

	case ActionEdit, ActionDelete, ActionTransition, ActionAssign, ActionConvert, ActionManage:
		return authorizeWrite(id, res, act, rc)
	}
	return deny("unknown action %s", act)
}

func authorizeView(id domain.Identity, res Resource, rc ResourceContext) Decision {
	if perm, ok := viewOverride[res]; ok && id.HasPermission(perm) {
		return allow()
	}
	// Accountants see every payment regardless of project scope.
	if res == ResourcePayment && id.HasRole(domain.RoleAccountant) {
		return allow()
	}
	switch res {
	case ResourceProject, ResourceTask, ResourcePayment, ResourceTeam:
		if rc.IsManager || rc.IsTeamMember || rc.IsAssignee || rc.IsAssigner {
			return allow()
		}
		if rc.OwnsClient && (res == ResourceProject || res == ResourcePayment) {
			return allow()
		}
	case ResourceLead:
		if rc.IsAssignee || rc.IsAssigner {
			return allow()
		}
	case ResourceUser:
		if id.HasPermission(domain.PermManageTeam) {
			return allow()
		}
	}
	return deny("no access to this %s", res)
}

func authorizeWrite(id domain.Identity, res Resource, act Action, rc ResourceContext) Decision {
	switch res {
	case ResourceProject:
		if id.HasPermission(domain.PermEditAllProjects) {
			return allow()
		}
		if act == ActionManage {
			if id.HasPermission(domain.PermAssignProjectManagers) && rc.IsManager {
				return allow()
			}
			return deny("permission %s required", domain.PermAssignProjectManagers)
		}
		if rc.IsManager {
			return allow()
		}
		return deny("not a manager of this project")

	case ResourceTask:
		if act == ActionTransition {
			// Lifecycle moves belong to the assignee; managers may
			// cancel or reassign through edit instead.
			if rc.IsAssignee {
				return allow()
			}
			return deny("only the assignee can move this task")
		}
		if act == ActionDelete {
			if id.HasPermission(domain.PermDeleteTask) && (rc.IsManager || rc.IsAssigner) {
				return allow()
			}
			return deny("permission %s required", domain.PermDeleteTask)
		}
		if id.HasPermission(domain.PermEditTask) && (rc.IsManager || rc.IsAssigner) {
			return allow()
		}
		if rc.IsAssignee {
			return allow()
		}
		return deny("no write access to this task")

	case ResourceLead:
		switch act {
		case ActionConvert:
			if id.HasPermission(domain.PermConvertLead) {
				return allow()
			}
			return deny("permission %s required", domain.PermConvertLead)
		case ActionAssign:
			if id.HasPermission(domain.PermAssignLead) {
				return allow()
			}
			return deny("permission %s required", domain.PermAssignLead)
		case ActionDelete:
			if id.HasPermission(domain.PermDeleteLead) {
				return allow()
			}
			return deny("permission %s required", domain.PermDeleteLead)
		}
		if id.HasPermission(domain.PermEditLead) && (rc.IsAssignee || rc.IsAssigner || id.HasPermission(domain.PermViewAllLeads)) {
			return allow()
		}
		return deny("no write access to this lead")

	case ResourcePayment:
		if id.HasPermission(domain.PermManagePayments) {
			return allow()
		}
		return deny("permission %s required", domain.PermManagePayments)

	case ResourceTeam:
		if id.HasPermission(domain.PermManageTeam) && rc.IsManager {
			return allow()
		}
		if id.HasPermission(domain.PermManageTeam) && id.HasPermission(domain.PermEditAllProjects) {
			return allow()
		}
		return deny("permission %s required", domain.PermManageTeam)

	case ResourceUser:
		if id.HasPermission(domain.PermManageTeam) {
			return allow()
		}
		return deny("permission %s required", domain.PermManageTeam)
	}
	return deny("no write access to this %s", res)
}
