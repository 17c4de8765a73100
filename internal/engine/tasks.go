package engine

import (
	"context"
	"fmt"
	"time"

	"opsline/internal/domain"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title       string
	Description string
	ProjectID   *int64
	AssignedTo  *int64
	Priority    domain.Priority
	DueDate     *string
	ActorID     int64
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, validationf("title is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if err := ensurePriority(opts.Priority); err != nil {
		return domain.Task{}, err
	}
	if opts.ProjectID != nil {
		if _, err := e.Repo.GetProject(ctx, *opts.ProjectID); err != nil {
			return domain.Task{}, err
		}
	}
	if opts.AssignedTo != nil {
		u, err := e.Repo.GetUser(ctx, *opts.AssignedTo)
		if err != nil {
			return domain.Task{}, err
		}
		if !u.IsActive {
			return domain.Task{}, validationf("cannot assign task to inactive user %d", u.ID)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	t := domain.Task{
		Title:       opts.Title,
		Description: opts.Description,
		ProjectID:   opts.ProjectID,
		AssignedTo:  opts.AssignedTo,
		AssignedBy:  opts.ActorID,
		Priority:    opts.Priority,
		Status:      domain.TaskToDo,
		DueDate:     opts.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := e.Repo.InsertTaskTx(ctx, tx, t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	t.ID = id
	if err := e.Events.Append(ctx, tx, opts.ActorID, "task.created", "task", id, t.Title); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions carries optional field updates; nil means keep.
type TaskUpdateOptions struct {
	TaskID      int64
	Title       *string
	Description *string
	AssignedTo  *int64
	Priority    *domain.Priority
	DueDate     *string
	ActorID     int64
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status == domain.TaskCompleted || t.Status == domain.TaskCancelled {
		return domain.Task{}, conflictf("task %d is %s and can no longer be edited", t.ID, t.Status)
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return domain.Task{}, validationf("title cannot be empty")
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.AssignedTo != nil {
		u, err := e.Repo.GetUserTx(ctx, tx, *opts.AssignedTo)
		if err != nil {
			return domain.Task{}, err
		}
		if !u.IsActive {
			return domain.Task{}, validationf("cannot assign task to inactive user %d", u.ID)
		}
		// Reassignment restarts the acceptance workflow.
		if t.AssignedTo == nil || *t.AssignedTo != *opts.AssignedTo {
			t.AssignedTo = opts.AssignedTo
			t.AcceptedAt = nil
			t.RejectedAt = nil
			t.RejectionReason = nil
		}
	}
	if opts.Priority != nil {
		if err := ensurePriority(*opts.Priority); err != nil {
			return domain.Task{}, err
		}
		t.Priority = *opts.Priority
	}
	if opts.DueDate != nil {
		t.DueDate = opts.DueDate
	}
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, opts.ActorID, "task.updated", "task", t.ID, t.Title); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// AcceptTask records the assignee taking the task on and starts the
// timer in the same step. Acceptance and rejection are mutually
// exclusive and each can happen at most once; the row is re-read
// inside the transaction so two concurrent calls resolve with a
// single winner.
func (e Engine) AcceptTask(ctx context.Context, taskID, actorID int64) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.AssignedTo == nil || *t.AssignedTo != actorID {
		return domain.Task{}, conflictf("task %d is not assigned to user %d", taskID, actorID)
	}
	if t.AcceptedAt != nil {
		return domain.Task{}, conflictf("task %d already accepted", taskID)
	}
	if t.RejectedAt != nil {
		return domain.Task{}, conflictf("task %d was rejected and cannot be accepted", taskID)
	}
	now := e.nowRFC3339()
	t.AcceptedAt = &now
	t.StartedAt = &now
	t.Status = domain.TaskInProgress
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, actorID, "task.accepted", "task", t.ID, t.Title); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// RejectTask records the assignee declining the task. A reason is
// required and the task is cancelled.
func (e Engine) RejectTask(ctx context.Context, taskID, actorID int64, reason string) (domain.Task, error) {
	if reason == "" {
		return domain.Task{}, validationf("rejection reason is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.AssignedTo == nil || *t.AssignedTo != actorID {
		return domain.Task{}, conflictf("task %d is not assigned to user %d", taskID, actorID)
	}
	if t.AcceptedAt != nil {
		return domain.Task{}, conflictf("task %d was accepted and cannot be rejected", taskID)
	}
	if t.RejectedAt != nil {
		return domain.Task{}, conflictf("task %d already rejected", taskID)
	}
	now := e.nowRFC3339()
	t.RejectedAt = &now
	t.RejectionReason = &reason
	t.Status = domain.TaskCancelled
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, actorID, "task.rejected", "task", t.ID, reason); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// PauseTask suspends time tracking with a reason. Only one pause can
// be open at a time.
func (e Engine) PauseTask(ctx context.Context, taskID, actorID int64, reason string) (domain.Task, error) {
	if reason == "" {
		return domain.Task{}, validationf("pause reason is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.AssignedTo == nil || *t.AssignedTo != actorID {
		return domain.Task{}, conflictf("task %d is not assigned to user %d", taskID, actorID)
	}
	if t.AcceptedAt == nil {
		return domain.Task{}, conflictf("task %d must be accepted before it can be paused", taskID)
	}
	if t.Status != domain.TaskInProgress {
		return domain.Task{}, conflictf("task %d is %s, only in-progress tasks can be paused", taskID, t.Status)
	}
	if t.PausedAt != nil {
		return domain.Task{}, conflictf("task %d is already paused", taskID)
	}
	now := e.nowRFC3339()
	t.PausedAt = &now
	t.PauseReason = &reason
	t.Status = domain.TaskBlocked
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, actorID, "task.paused", "task", t.ID, reason); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ResumeTask closes the open pause and folds its length into the
// accumulated paused duration.
func (e Engine) ResumeTask(ctx context.Context, taskID, actorID int64) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.AssignedTo == nil || *t.AssignedTo != actorID {
		return domain.Task{}, conflictf("task %d is not assigned to user %d", taskID, actorID)
	}
	if t.PausedAt == nil {
		return domain.Task{}, conflictf("task %d is not paused", taskID)
	}
	paused, err := pausedSeconds(*t.PausedAt, e.now())
	if err != nil {
		return domain.Task{}, err
	}
	now := e.nowRFC3339()
	t.TotalPausedDuration += paused
	t.PausedAt = nil
	t.PauseReason = nil
	t.Status = domain.TaskInProgress
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, actorID, "task.resumed", "task", t.ID, t.Title); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// SetTaskStatus moves a task along the lifecycle graph. Completing a
// task closes any open pause and fixes the worked duration as wall
// clock since start minus accumulated pauses.
func (e Engine) SetTaskStatus(ctx context.Context, taskID, actorID int64, status domain.TaskStatus) (domain.Task, error) {
	if err := ensureTaskStatus(status); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureTaskTransition(t.Status, status); err != nil {
		return domain.Task{}, err
	}
	now := e.nowRFC3339()
	if status == domain.TaskCompleted {
		t.CompletedAt = &now
		if t.StartedAt != nil {
			dur, err := workedSeconds(*t.StartedAt, e.now(), t.TotalPausedDuration)
			if err != nil {
				return domain.Task{}, err
			}
			t.CompletedDuration = &dur
		}
	}
	t.Status = status
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, actorID, "task.status_changed", "task", t.ID, string(status)); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, taskID, actorID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if t.Status == domain.TaskInProgress {
		return conflictf("task %d is in progress and cannot be deleted", taskID)
	}
	if err := e.Repo.DeleteTaskTx(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, actorID, "task.deleted", "task", taskID, t.Title); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) AddTaskComment(ctx context.Context, taskID, actorID int64, comment string) (domain.TaskComment, error) {
	if comment == "" {
		return domain.TaskComment{}, validationf("comment is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskComment{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetTaskTx(ctx, tx, taskID); err != nil {
		return domain.TaskComment{}, err
	}
	now := e.nowRFC3339()
	c := domain.TaskComment{TaskID: taskID, UserID: actorID, Comment: comment, CreatedAt: now}
	id, err := e.Repo.InsertTaskCommentTx(ctx, tx, c, now)
	if err != nil {
		return domain.TaskComment{}, err
	}
	c.ID = id
	if err := e.Events.Append(ctx, tx, actorID, "task.commented", "task", taskID, comment); err != nil {
		return domain.TaskComment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskComment{}, err
	}
	return c, nil
}

func ensureTaskStatus(s domain.TaskStatus) error {
	switch s {
	case domain.TaskToDo, domain.TaskInProgress, domain.TaskBlocked, domain.TaskInReview, domain.TaskCompleted, domain.TaskCancelled:
		return nil
	}
	return validationf("unknown task status %q", s)
}

func ensurePriority(p domain.Priority) error {
	switch p {
	case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent:
		return nil
	}
	return validationf("unknown priority %q", p)
}

func ensureTaskTransition(oldStatus, newStatus domain.TaskStatus) error {
	if oldStatus == newStatus {
		return ConflictError{Msg: fmt.Sprintf("task is already %s", oldStatus)}
	}
	allowed := map[domain.TaskStatus][]domain.TaskStatus{
		domain.TaskToDo:       {domain.TaskInProgress, domain.TaskCancelled},
		domain.TaskInProgress: {domain.TaskBlocked, domain.TaskInReview, domain.TaskCompleted, domain.TaskCancelled},
		domain.TaskBlocked:    {domain.TaskInProgress},
		domain.TaskInReview:   {domain.TaskInProgress, domain.TaskCompleted, domain.TaskCancelled},
	}
	for _, s := range allowed[oldStatus] {
		if s == newStatus {
			return nil
		}
	}
	return ConflictError{Msg: fmt.Sprintf("invalid task transition %s -> %s", oldStatus, newStatus)}
}

func pausedSeconds(pausedAt string, now time.Time) (int64, error) {
	start, err := time.Parse(time.RFC3339, pausedAt)
	if err != nil {
		return 0, fmt.Errorf("parse paused_at: %w", err)
	}
	secs := int64(now.UTC().Sub(start).Seconds())
	if secs < 0 {
		secs = 0
	}
	return secs, nil
}

func workedSeconds(startedAt string, now time.Time, totalPaused int64) (int64, error) {
	start, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return 0, fmt.Errorf("parse started_at: %w", err)
	}
	secs := int64(now.UTC().Sub(start).Seconds()) - totalPaused
	if secs < 0 {
		secs = 0
	}
	return secs, nil
}
