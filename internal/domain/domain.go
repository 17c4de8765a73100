package domain

// Role is a named bundle of permissions. Roles are flat: no role ever
// implies another role's rights.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleManagement Role = "management"
	RoleDeveloper  Role = "developer"
	RoleDesigner   Role = "ui_ux_designer"
	RoleMarketing  Role = "marketing"
	RoleAccountant Role = "accountant"
	RoleClient     Role = "client"
)

// Permission is an atomic named capability granted through roles.
type Permission string

const (
	PermViewAllProjects       Permission = "view_all_projects"
	PermEditAllProjects       Permission = "edit_all_projects"
	PermViewAllLeads          Permission = "view_all_leads"
	PermCreateProject         Permission = "create_project"
	PermCreateTask            Permission = "create_task"
	PermEditTask              Permission = "edit_task"
	PermDeleteTask            Permission = "delete_task"
	PermCreateLead            Permission = "create_lead"
	PermEditLead              Permission = "edit_lead"
	PermDeleteLead            Permission = "delete_lead"
	PermConvertLead           Permission = "convert_lead"
	PermAssignLead            Permission = "assign_lead"
	PermManagePayments        Permission = "manage_payments"
	PermAssignProjectManagers Permission = "assign_project_managers"
	PermManageTeam            Permission = "manage_team"
)

type TaskStatus string

const (
	TaskToDo       TaskStatus = "To Do"
	TaskInProgress TaskStatus = "In Progress"
	TaskBlocked    TaskStatus = "Blocked"
	TaskInReview   TaskStatus = "In Review"
	TaskCompleted  TaskStatus = "Completed"
	TaskCancelled  TaskStatus = "Cancelled"
)

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

type LeadStatus string

const (
	LeadNew         LeadStatus = "New"
	LeadContacted   LeadStatus = "Contacted"
	LeadQualified   LeadStatus = "Qualified"
	LeadProposal    LeadStatus = "Proposal"
	LeadNegotiation LeadStatus = "Negotiation"
	LeadWon         LeadStatus = "Won"
	LeadLost        LeadStatus = "Lost"
)

type PhaseStatus string

const (
	PhasePending PhaseStatus = "Pending"
	PhasePaid    PhaseStatus = "Paid"
)

// Identity is a resolved principal: the user plus the roles and the
// flattened permission set granted through them. It is assembled fresh
// from the database at resolution time, never cached inside a token.
type Identity struct {
	UserID      int64        `json:"user_id"`
	Email       string       `json:"email"`
	FullName    string       `json:"full_name"`
	Roles       []Role       `json:"roles"`
	Permissions []Permission `json:"permissions"`
}

// HasRole reports whether the identity holds the given role.
func (id Identity) HasRole(r Role) bool {
	for _, have := range id.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// HasPermission reports whether the identity's flattened permission set
// contains the given permission.
func (id Identity) HasPermission(p Permission) bool {
	for _, have := range id.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

type User struct {
	ID                 int64   `json:"id"`
	Email              string  `json:"email"`
	PasswordHash       string  `json:"-"`
	FullName           string  `json:"full_name"`
	Phone              string  `json:"phone,omitempty"`
	IsActive           bool    `json:"is_active"`
	MustChangePassword bool    `json:"must_change_password"`
	LastLogin          *string `json:"last_login,omitempty" format:"date-time"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	Roles              []Role  `json:"roles,omitempty"`
}

type RoleRecord struct {
	ID          int64  `json:"id"`
	Name        Role   `json:"role_name"`
	DisplayName string `json:"role_display_name"`
}

type PermissionRecord struct {
	ID     int64      `json:"id"`
	Name   Permission `json:"permission_name"`
	Module string     `json:"module"`
}

type Client struct {
	ID            int64  `json:"id"`
	CompanyName   string `json:"company_name"`
	ContactPerson string `json:"contact_person"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Website       string `json:"website,omitempty"`
	UserID        *int64 `json:"user_id,omitempty"`
	Tier          string `json:"client_tier"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          int64    `json:"id"`
	Number      string   `json:"project_number"`
	ClientID    int64    `json:"client_id"`
	Name        string   `json:"project_name"`
	Type        string   `json:"project_type,omitempty"`
	Description string   `json:"project_description,omitempty"`
	TotalBudget float64  `json:"total_budget"`
	Currency    string   `json:"currency"`
	StartDate   *string  `json:"start_date,omitempty" format:"date"`
	ExpectedEnd *string  `json:"expected_end_date,omitempty" format:"date"`
	Status      string   `json:"status"`
	Priority    Priority `json:"priority"`
	CreatedBy   int64    `json:"created_by"`
	ManagedBy   int64    `json:"managed_by"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

// ManagerAssignment is one row of a project's manager-assignment set.
// It is independent of Project.ManagedBy: authorization consults this
// set, never the denormalized single-owner field.
type ManagerAssignment struct {
	ID         int64  `json:"id"`
	ProjectID  int64  `json:"project_id"`
	ManagerID  int64  `json:"manager_id"`
	AssignedBy int64  `json:"assigned_by"`
	AssignedAt string `json:"assigned_at" format:"date-time"`
	IsActive   bool   `json:"is_active"`
}

type TeamMember struct {
	ID            int64    `json:"id"`
	ProjectID     int64    `json:"project_id"`
	UserID        int64    `json:"user_id"`
	RoleInProject string   `json:"role_in_project"`
	AllocatedHrs  *float64 `json:"allocated_hours,omitempty"`
	JoinedDate    string   `json:"joined_date" format:"date-time"`
	AssignedBy    int64    `json:"assigned_by"`
	IsActive      bool     `json:"is_active"`
}

type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ProjectID   *int64     `json:"project_id,omitempty"`
	AssignedTo  *int64     `json:"assigned_to,omitempty"`
	AssignedBy  int64      `json:"assigned_by"`
	Priority    Priority   `json:"priority"`
	Status      TaskStatus `json:"status"`
	DueDate     *string    `json:"due_date,omitempty" format:"date"`

	// Acceptance workflow. AcceptedAt and RejectedAt are mutually
	// exclusive and each is set at most once.
	AcceptedAt      *string `json:"accepted_at,omitempty" format:"date-time"`
	RejectedAt      *string `json:"rejected_at,omitempty" format:"date-time"`
	RejectionReason *string `json:"rejection_reason,omitempty"`

	// Time tracking, all wall clock. Durations are whole seconds.
	StartedAt           *string `json:"started_at,omitempty" format:"date-time"`
	PausedAt            *string `json:"paused_at,omitempty" format:"date-time"`
	PauseReason         *string `json:"pause_reason,omitempty"`
	TotalPausedDuration int64   `json:"total_paused_duration"`
	CompletedDuration   *int64  `json:"completed_duration,omitempty"`
	CompletedAt         *string `json:"completed_at,omitempty" format:"date-time"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type TaskComment struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	UserID    int64  `json:"user_id"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Lead struct {
	ID                  int64      `json:"id"`
	Number              string     `json:"lead_number"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name,omitempty"`
	Email               string     `json:"email"`
	Phone               string     `json:"phone,omitempty"`
	CompanyName         string     `json:"company_name,omitempty"`
	Status              LeadStatus `json:"status"`
	Priority            Priority   `json:"priority"`
	EstimatedValue      *float64   `json:"estimated_value,omitempty"`
	Currency            string     `json:"currency"`
	SourceID            *int64     `json:"source_id,omitempty"`
	AssignedTo          *int64     `json:"assigned_to,omitempty"`
	AssignedBy          *int64     `json:"assigned_by,omitempty"`
	ConvertedToClientID *int64     `json:"converted_to_client_id,omitempty"`
	ConvertedAt         *string    `json:"converted_at,omitempty" format:"date-time"`
	ConversionNotes     *string    `json:"conversion_notes,omitempty"`
	LostReason          *string    `json:"lost_reason,omitempty"`
	LostAt              *string    `json:"lost_at,omitempty" format:"date-time"`
	CreatedAt           string     `json:"created_at" format:"date-time"`
	UpdatedAt           string     `json:"updated_at" format:"date-time"`
}

type LeadActivity struct {
	ID          int64  `json:"id"`
	LeadID      int64  `json:"lead_id"`
	Type        string `json:"activity_type"`
	Subject     string `json:"subject"`
	Description string `json:"description,omitempty"`
	PerformedBy int64  `json:"performed_by"`
	PerformedAt string `json:"performed_at" format:"date-time"`
}

type LeadNote struct {
	ID          int64  `json:"id"`
	LeadID      int64  `json:"lead_id"`
	Note        string `json:"note"`
	IsImportant bool   `json:"is_important"`
	CreatedBy   int64  `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type PaymentPhase struct {
	ID          int64       `json:"id"`
	ProjectID   int64       `json:"project_id"`
	Name        string      `json:"phase_name"`
	Sequence    int         `json:"phase_sequence"`
	Amount      float64     `json:"phase_amount"`
	Percentage  float64     `json:"phase_percentage"`
	DueDate     string      `json:"due_date" format:"date"`
	Description string      `json:"description,omitempty"`
	Status      PhaseStatus `json:"status"`
	CreatedAt   string      `json:"created_at" format:"date-time"`
}

// PaymentTransaction is an immutable settlement record. Exactly one is
// created when a phase transitions to Paid; none is ever updated or
// deleted afterwards.
type PaymentTransaction struct {
	ID              int64   `json:"id"`
	Number          string  `json:"transaction_number"`
	ProjectID       int64   `json:"project_id"`
	PhaseID         int64   `json:"payment_phase_id"`
	ClientID        int64   `json:"client_id"`
	Amount          float64 `json:"amount"`
	Method          string  `json:"payment_method"`
	MethodDetail    string  `json:"method_detail,omitempty"`
	ReferenceNumber string  `json:"payment_reference_number,omitempty"`
	Notes           string  `json:"verification_notes,omitempty"`
	VerifiedBy      int64   `json:"verified_by"`
	PaymentDate     string  `json:"payment_date" format:"date-time"`
	Status          string  `json:"payment_status"`
}

type ActivityLog struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	Action      string `json:"action"`
	EntityType  string `json:"entity_type"`
	EntityID    int64  `json:"entity_id"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}
