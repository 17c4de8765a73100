package engine

import (
	"context"
	"database/sql"
	"fmt"

	"opsline/internal/domain"
)

// nextProjectNumber mints PRJ-YYYY-NNN inside the insert transaction.
func (e Engine) nextProjectNumber(ctx context.Context, tx *sql.Tx) (string, error) {
	year := e.now().UTC().Year()
	max, err := e.Repo.MaxProjectSuffixTx(ctx, tx, year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PRJ-%d-%03d", year, max+1), nil
}

type ClientCreateOptions struct {
	CompanyName   string
	ContactPerson string
	Email         string
	Phone         string
	Website       string
	UserID        *int64
	Tier          string
	ActorID       int64
}

func (e Engine) CreateClient(ctx context.Context, opts ClientCreateOptions) (domain.Client, error) {
	if opts.CompanyName == "" {
		return domain.Client{}, validationf("company name is required")
	}
	if opts.ContactPerson == "" {
		return domain.Client{}, validationf("contact person is required")
	}
	if opts.Tier == "" {
		opts.Tier = "Standard"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Client{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	c := domain.Client{
		CompanyName:   opts.CompanyName,
		ContactPerson: opts.ContactPerson,
		Email:         opts.Email,
		Phone:         opts.Phone,
		Website:       opts.Website,
		UserID:        opts.UserID,
		Tier:          opts.Tier,
		Status:        "Active",
		CreatedAt:     now,
	}
	id, err := e.Repo.InsertClientTx(ctx, tx, c, now)
	if err != nil {
		return domain.Client{}, fmt.Errorf("insert client: %w", err)
	}
	c.ID = id
	if err := e.Events.Append(ctx, tx, opts.ActorID, "client.created", "client", id, c.CompanyName); err != nil {
		return domain.Client{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

type ProjectCreateOptions struct {
	ClientID    int64
	Name        string
	Type        string
	Description string
	TotalBudget float64
	Currency    string
	StartDate   *string
	ExpectedEnd *string
	Priority    domain.Priority
	ActorID     int64
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.Name == "" {
		return domain.Project{}, validationf("project name is required")
	}
	if opts.ClientID == 0 {
		return domain.Project{}, validationf("client is required")
	}
	if opts.TotalBudget < 0 {
		return domain.Project{}, validationf("total budget cannot be negative")
	}
	if _, err := e.Repo.GetClient(ctx, opts.ClientID); err != nil {
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	p, err := e.createProjectTx(ctx, tx, opts, now)
	if err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, opts.ActorID, "project.created", "project", p.ID, p.Number); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// createProjectTx inserts a project inside an existing transaction and
// seeds the creator into the active manager set. Lead conversion reuses
// it so a converted lead's project lands in the same transaction.
func (e Engine) createProjectTx(ctx context.Context, tx *sql.Tx, opts ProjectCreateOptions, now string) (domain.Project, error) {
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if err := ensurePriority(opts.Priority); err != nil {
		return domain.Project{}, err
	}
	if opts.Currency == "" {
		opts.Currency = e.defaultCurrency()
	}
	number, err := e.nextProjectNumber(ctx, tx)
	if err != nil {
		return domain.Project{}, fmt.Errorf("next project number: %w", err)
	}
	p := domain.Project{
		Number:      number,
		ClientID:    opts.ClientID,
		Name:        opts.Name,
		Type:        opts.Type,
		Description: opts.Description,
		TotalBudget: opts.TotalBudget,
		Currency:    opts.Currency,
		StartDate:   opts.StartDate,
		ExpectedEnd: opts.ExpectedEnd,
		Status:      "Active",
		Priority:    opts.Priority,
		CreatedBy:   opts.ActorID,
		ManagedBy:   opts.ActorID,
		CreatedAt:   now,
	}
	id, err := e.Repo.InsertProjectTx(ctx, tx, p, now)
	if err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	p.ID = id
	if err := e.Repo.UpsertManagerTx(ctx, tx, id, opts.ActorID, opts.ActorID, now); err != nil {
		return domain.Project{}, fmt.Errorf("seed manager: %w", err)
	}
	return p, nil
}

type ProjectUpdateOptions struct {
	ProjectID   int64
	Name        *string
	Description *string
	Status      *string
	TotalBudget *float64
	ActorID     int64
}

func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	if opts.Status != nil {
		switch *opts.Status {
		case "Active", "On Hold", "Completed", "Cancelled":
		default:
			return domain.Project{}, validationf("unknown project status %q", *opts.Status)
		}
	}
	if opts.TotalBudget != nil && *opts.TotalBudget < 0 {
		return domain.Project{}, validationf("total budget cannot be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.UpdateProject(ctx, tx, opts.ProjectID, opts.Name, opts.Description, opts.Status, opts.TotalBudget); err != nil {
		return domain.Project{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, opts.ActorID, "project.updated", "project", p.ID, p.Number); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// AssignManager adds a user to the project's active manager set,
// reactivating a previous assignment if one exists.
func (e Engine) AssignManager(ctx context.Context, projectID, managerID, actorID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectTx(ctx, tx, projectID); err != nil {
		return err
	}
	u, err := e.Repo.GetUserTx(ctx, tx, managerID)
	if err != nil {
		return err
	}
	if !u.IsActive {
		return validationf("cannot assign inactive user %d as manager", u.ID)
	}
	now := e.nowRFC3339()
	if err := e.Repo.UpsertManagerTx(ctx, tx, projectID, managerID, actorID, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, actorID, "project.manager_assigned", "project", projectID, u.FullName); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveManager deactivates the assignment rather than deleting it, so
// history survives and a later re-add reactivates the same row.
func (e Engine) RemoveManager(ctx context.Context, projectID, managerID, actorID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeactivateManagerTx(ctx, tx, projectID, managerID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, actorID, "project.manager_removed", "project", projectID, fmt.Sprintf("manager %d", managerID)); err != nil {
		return err
	}
	return tx.Commit()
}

type TeamAssignOptions struct {
	ProjectID     int64
	UserID        int64
	RoleInProject string
	AllocatedHrs  *float64
	ActorID       int64
}

func (e Engine) AssignTeamMember(ctx context.Context, opts TeamAssignOptions) error {
	if opts.RoleInProject == "" {
		return validationf("role in project is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID); err != nil {
		return err
	}
	u, err := e.Repo.GetUserTx(ctx, tx, opts.UserID)
	if err != nil {
		return err
	}
	if !u.IsActive {
		return validationf("cannot add inactive user %d to the team", u.ID)
	}
	now := e.nowRFC3339()
	m := domain.TeamMember{
		ProjectID:     opts.ProjectID,
		UserID:        opts.UserID,
		RoleInProject: opts.RoleInProject,
		AllocatedHrs:  opts.AllocatedHrs,
		AssignedBy:    opts.ActorID,
	}
	if err := e.Repo.UpsertTeamMemberTx(ctx, tx, m, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, opts.ActorID, "project.team_assigned", "project", opts.ProjectID, u.FullName); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RemoveTeamMember(ctx context.Context, projectID, userID, actorID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeactivateTeamMemberTx(ctx, tx, projectID, userID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, actorID, "project.team_removed", "project", projectID, fmt.Sprintf("user %d", userID)); err != nil {
		return err
	}
	return tx.Commit()
}
