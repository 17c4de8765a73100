package repo

import (
	"context"
	"database/sql"
	"strings"

	"opsline/internal/domain"
)

const taskCols = `id,title,COALESCE(description,''),project_id,assigned_to,assigned_by,priority,status,due_date,
accepted_at,rejected_at,rejection_reason,started_at,paused_at,pause_reason,total_paused_duration,completed_duration,completed_at,
created_at,updated_at`

type taskRow interface {
	Scan(dest ...any) error
}

func scanTask(row taskRow) (domain.Task, error) {
	var t domain.Task
	var projectID, assignedTo sql.NullInt64
	var due, acceptedAt, rejectedAt, rejectionReason, startedAt, pausedAt, pauseReason, completedAt sql.NullString
	var completedDur sql.NullInt64
	err := row.Scan(&t.ID, &t.Title, &t.Description, &projectID, &assignedTo, &t.AssignedBy, &t.Priority, &t.Status, &due,
		&acceptedAt, &rejectedAt, &rejectionReason, &startedAt, &pausedAt, &pauseReason, &t.TotalPausedDuration, &completedDur, &completedAt,
		&t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.ProjectID = int64Ptr(projectID)
	t.AssignedTo = int64Ptr(assignedTo)
	t.DueDate = strPtr(due)
	t.AcceptedAt = strPtr(acceptedAt)
	t.RejectedAt = strPtr(rejectedAt)
	t.RejectionReason = strPtr(rejectionReason)
	t.StartedAt = strPtr(startedAt)
	t.PausedAt = strPtr(pausedAt)
	t.PauseReason = strPtr(pauseReason)
	t.CompletedDuration = int64Ptr(completedDur)
	t.CompletedAt = strPtr(completedAt)
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(title,description,project_id,assigned_to,assigned_by,priority,status,due_date,total_paused_duration,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.Title, nullable(t.Description), nullableInt64Ptr(t.ProjectID), nullableInt64Ptr(t.AssignedTo), t.AssignedBy,
		t.Priority, t.Status, nullableStringPtr(t.DueDate), t.TotalPausedDuration, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateTaskTx writes the full mutable row back. Lifecycle transitions
// re-read the row inside the transaction first, so a full write is safe.
func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, project_id=?, assigned_to=?, priority=?, status=?, due_date=?,
accepted_at=?, rejected_at=?, rejection_reason=?, started_at=?, paused_at=?, pause_reason=?, total_paused_duration=?, completed_duration=?, completed_at=?, updated_at=?
WHERE id=?`,
		t.Title, nullable(t.Description), nullableInt64Ptr(t.ProjectID), nullableInt64Ptr(t.AssignedTo), t.Priority, t.Status, nullableStringPtr(t.DueDate),
		nullableStringPtr(t.AcceptedAt), nullableStringPtr(t.RejectedAt), nullableStringPtr(t.RejectionReason),
		nullableStringPtr(t.StartedAt), nullableStringPtr(t.PausedAt), nullableStringPtr(t.PauseReason),
		t.TotalPausedDuration, nullableInt64Ptr(t.CompletedDuration), nullableStringPtr(t.CompletedAt), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
}

func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_comments WHERE task_id=?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	Status     domain.TaskStatus
	Priority   domain.Priority
	ProjectID  int64
	AssignedTo int64
	Search     string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters, scope Predicate) ([]domain.Task, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.ProjectID != 0 {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.AssignedTo != 0 {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Search != "" {
		clauses = append(clauses, "(title LIKE ? OR description LIKE ?)")
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}
	if scope.Where != "" {
		clauses = append(clauses, scope.Where)
		args = append(args, scope.Args...)
	}
	q := `SELECT ` + taskCols + ` FROM tasks`
	if len(clauses) > 0 {
		q += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context, scope Predicate) (map[domain.TaskStatus]int, error) {
	q := `SELECT status, COUNT(*) FROM tasks`
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
	counts := map[domain.TaskStatus]int{}
	for rows.Next() {
		var status domain.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r Repo) InsertTaskCommentTx(ctx context.Context, tx *sql.Tx, c domain.TaskComment, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO task_comments(task_id,user_id,comment,created_at) VALUES (?,?,?,?)`,
		c.TaskID, c.UserID, c.Comment, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListTaskComments(ctx context.Context, taskID int64) ([]domain.TaskComment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,user_id,comment,created_at FROM task_comments WHERE task_id=? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskComment
	for rows.Next() {
		var c domain.TaskComment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Comment, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
