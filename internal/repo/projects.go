package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"opsline/internal/domain"
)

func (r Repo) InsertClientTx(ctx context.Context, tx *sql.Tx, c domain.Client, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO clients(company_name,contact_person,email,phone,website,user_id,client_tier,status,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.CompanyName, c.ContactPerson, nullable(c.Email), nullable(c.Phone), nullable(c.Website), nullableInt64Ptr(c.UserID), c.Tier, c.Status, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetClient(ctx context.Context, id int64) (domain.Client, error) {
	var c domain.Client
	var userID sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT id,company_name,contact_person,COALESCE(email,''),COALESCE(phone,''),COALESCE(website,''),user_id,client_tier,status,created_at FROM clients WHERE id=?`, id).
		Scan(&c.ID, &c.CompanyName, &c.ContactPerson, &c.Email, &c.Phone, &c.Website, &userID, &c.Tier, &c.Status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	c.UserID = int64Ptr(userID)
	return c, err
}

// ClientIDForUser resolves the client record linked to a user account,
// ErrNotFound when the user has none.
func (r Repo) ClientIDForUser(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM clients WHERE user_id=?`, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return id, err
}

func (r Repo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,company_name,contact_person,COALESCE(email,''),COALESCE(phone,''),COALESCE(website,''),user_id,client_tier,status,created_at FROM clients ORDER BY company_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		var userID sql.NullInt64
		if err := rows.Scan(&c.ID, &c.CompanyName, &c.ContactPerson, &c.Email, &c.Phone, &c.Website, &userID, &c.Tier, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.UserID = int64Ptr(userID)
		res = append(res, c)
	}
	return res, rows.Err()
}

// MaxProjectSuffixTx returns the highest sequence suffix already used
// in project numbers for the given year. Called inside the insert
// transaction so two concurrent creates cannot mint the same number.
func (r Repo) MaxProjectSuffixTx(ctx context.Context, tx *sql.Tx, year int) (int, error) {
	prefix := fmt.Sprintf("PRJ-%d-", year)
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(CAST(SUBSTR(project_number, ?) AS INTEGER)) FROM projects WHERE project_number LIKE ?`,
		len(prefix)+1, prefix+"%").Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

const projectCols = `id,project_number,client_id,project_name,COALESCE(project_type,''),COALESCE(project_description,''),total_budget,currency,start_date,expected_end_date,status,priority,created_by,managed_by,created_at`

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var start, end sql.NullString
	err := row.Scan(&p.ID, &p.Number, &p.ClientID, &p.Name, &p.Type, &p.Description, &p.TotalBudget, &p.Currency,
		&start, &end, &p.Status, &p.Priority, &p.CreatedBy, &p.ManagedBy, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.StartDate = strPtr(start)
	p.ExpectedEnd = strPtr(end)
	return p, err
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO projects(project_number,client_id,project_name,project_type,project_description,total_budget,currency,start_date,expected_end_date,status,priority,created_by,managed_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.Number, p.ClientID, p.Name, nullable(p.Type), nullable(p.Description), p.TotalBudget, p.Currency,
		nullableStringPtr(p.StartDate), nullableStringPtr(p.ExpectedEnd), p.Status, p.Priority, p.CreatedBy, p.ManagedBy, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
}

type ProjectFilters struct {
	Status   string
	ClientID int64
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters, scope Predicate) ([]domain.Project, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ClientID != 0 {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if scope.Where != "" {
		clauses = append(clauses, scope.Where)
		args = append(args, scope.Args...)
	}
	q := `SELECT ` + projectCols + ` FROM projects`
	if len(clauses) > 0 {
		q += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var start, end sql.NullString
		if err := rows.Scan(&p.ID, &p.Number, &p.ClientID, &p.Name, &p.Type, &p.Description, &p.TotalBudget, &p.Currency,
			&start, &end, &p.Status, &p.Priority, &p.CreatedBy, &p.ManagedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.StartDate = strPtr(start)
		p.ExpectedEnd = strPtr(end)
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, id int64, name, description, status *string, budget *float64) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "project_name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "project_description=?")
		args = append(args, nullable(*description))
	}
	if status != nil {
		fields = append(fields, "status=?")
		args = append(args, *status)
	}
	if budget != nil {
		fields = append(fields, "total_budget=?")
		args = append(args, *budget)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertManagerTx adds a manager to a project's assignment set. A
// previously deactivated row is reactivated instead of duplicated.
func (r Repo) UpsertManagerTx(ctx context.Context, tx *sql.Tx, projectID, managerID, assignedBy int64, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_managers(project_id,manager_id,assigned_by,assigned_at,is_active) VALUES (?,?,?,?,1)
ON CONFLICT(project_id,manager_id) DO UPDATE SET is_active=1, assigned_by=excluded.assigned_by, assigned_at=excluded.assigned_at`,
		projectID, managerID, assignedBy, now)
	return err
}

func (r Repo) DeactivateManagerTx(ctx context.Context, tx *sql.Tx, projectID, managerID int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE project_managers SET is_active=0 WHERE project_id=? AND manager_id=? AND is_active=1`, projectID, managerID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListManagers(ctx context.Context, projectID int64) ([]domain.ManagerAssignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,manager_id,assigned_by,assigned_at,is_active FROM project_managers WHERE project_id=? AND is_active=1 ORDER BY assigned_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ManagerAssignment
	for rows.Next() {
		var m domain.ManagerAssignment
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.ManagerID, &m.AssignedBy, &m.AssignedAt, &m.IsActive); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// IsActiveManager reports whether the user is in the project's active
// manager set.
func (r Repo) IsActiveManager(ctx context.Context, projectID, userID int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_managers WHERE project_id=? AND manager_id=? AND is_active=1`, projectID, userID).Scan(&n)
	return n > 0, err
}

func (r Repo) UpsertTeamMemberTx(ctx context.Context, tx *sql.Tx, m domain.TeamMember, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_team(project_id,user_id,role_in_project,allocated_hours,joined_date,assigned_by,is_active) VALUES (?,?,?,?,?,?,1)
ON CONFLICT(project_id,user_id) DO UPDATE SET is_active=1, role_in_project=excluded.role_in_project, allocated_hours=excluded.allocated_hours, assigned_by=excluded.assigned_by`,
		m.ProjectID, m.UserID, m.RoleInProject, nullableFloat64Ptr(m.AllocatedHrs), now, m.AssignedBy)
	return err
}

func (r Repo) DeactivateTeamMemberTx(ctx context.Context, tx *sql.Tx, projectID, userID int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE project_team SET is_active=0 WHERE project_id=? AND user_id=? AND is_active=1`, projectID, userID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTeam(ctx context.Context, projectID int64) ([]domain.TeamMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,user_id,role_in_project,allocated_hours,joined_date,assigned_by,is_active FROM project_team WHERE project_id=? AND is_active=1 ORDER BY joined_date`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TeamMember
	for rows.Next() {
		var m domain.TeamMember
		var hrs sql.NullFloat64
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.RoleInProject, &hrs, &m.JoinedDate, &m.AssignedBy, &m.IsActive); err != nil {
			return nil, err
		}
		m.AllocatedHrs = float64Ptr(hrs)
		res = append(res, m)
	}
	return res, rows.Err()
}

// IsActiveTeamMember reports whether the user is in the project's
// active team set.
func (r Repo) IsActiveTeamMember(ctx context.Context, projectID, userID int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_team WHERE project_id=? AND user_id=? AND is_active=1`, projectID, userID).Scan(&n)
	return n > 0, err
}

func (r Repo) CountProjectsByStatus(ctx context.Context, scope Predicate) (map[string]int, error) {
	q := `SELECT status, COUNT(*) FROM projects`
	var args []any
	if scope.Where != "" {
		q += ` WHERE ` + scope.Where
		args = scope.Args
	}
	q += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
