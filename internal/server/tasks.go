package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"opsline/internal/authz"
	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/repo"
)

type taskPath struct {
	TaskID int64 `path:"task_id"`
}

// loadTaskForAction fetches the task and runs the authorization check
// shared by every task endpoint.
func loadTaskForAction(ctx context.Context, e engine.Engine, act authz.Action, taskID int64) (domain.Task, domain.Identity, huma.StatusError) {
	id, authErr := requireIdentity(ctx)
	if authErr != nil {
		return domain.Task{}, domain.Identity{}, authErr
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, domain.Identity{}, handleError(err)
	}
	rc, err := taskResourceContext(ctx, e, id, t)
	if err != nil {
		return domain.Task{}, domain.Identity{}, handleError(err)
	}
	if d := authz.Authorize(id, authz.ResourceTask, act, rc); !d.Allowed {
		return domain.Task{}, domain.Identity{}, forbidden(d)
	}
	return t, id, nil
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Title       string          `json:"title" minLength:"1"`
			Description string          `json:"description,omitempty"`
			ProjectID   *int64          `json:"project_id,omitempty"`
			AssignedTo  *int64          `json:"assigned_to,omitempty"`
			Priority    domain.Priority `json:"priority,omitempty"`
			DueDate     *string         `json:"due_date,omitempty" format:"date"`
		} `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if d := authz.Authorize(id, authz.ResourceTask, authz.ActionCreate, authz.ResourceContext{}); !d.Allowed {
			return nil, forbidden(d)
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			ProjectID:   input.Body.ProjectID,
			AssignedTo:  input.Body.AssignedTo,
			Priority:    input.Body.Priority,
			DueDate:     input.Body.DueDate,
			ActorID:     id.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks visible to the caller",
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status"`
		Priority   string `query:"priority"`
		ProjectID  int64  `query:"project_id"`
		AssignedTo int64  `query:"assigned_to"`
		Search     string `query:"search"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			Status:     domain.TaskStatus(input.Status),
			Priority:   domain.Priority(input.Priority),
			ProjectID:  input.ProjectID,
			AssignedTo: input.AssignedTo,
			Search:     input.Search,
		}, authz.TaskScope(id))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/mine",
		Summary:     "List tasks assigned to the caller",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			Status:     domain.TaskStatus(input.Status),
			AssignedTo: id.UserID,
		}, repo.Predicate{})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, _, statusErr := loadTaskForAction(ctx, e, authz.ActionView, input.TaskID)
		if statusErr != nil {
			return nil, statusErr
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task fields",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		taskPath
		Body struct {
			Title       *string          `json:"title,omitempty"`
			Description *string          `json:"description,omitempty"`
			AssignedTo  *int64           `json:"assigned_to,omitempty"`
			Priority    *domain.Priority `json:"priority,omitempty"`
			DueDate     *string          `json:"due_date,omitempty" format:"date"`
		} `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		_, id, statusErr := loadTaskForAction(ctx, e, authz.ActionEdit, input.TaskID)
		if statusErr != nil {
			return nil, statusErr
		}
		t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
			TaskID:      input.TaskID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			AssignedTo:  input.Body.AssignedTo,
			Priority:    input.Body.Priority,
			DueDate:     input.Body.DueDate,
			ActorID:     id.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		_, id, statusErr := loadTaskForAction(ctx, e, authz.ActionDelete, input.TaskID)
		if statusErr != nil {
			return nil, statusErr
		}
		if err := e.DeleteTask(ctx, input.TaskID, id.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "deleted"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/accept",
		Summary:     "Accept an assigned task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		_, id, statusErr := loadTaskForAction(ctx, e, authz.ActionTransition, input.TaskID)
		if statusErr != nil {
			return nil, statusErr
		}
		t, err := e.AcceptTask(ctx, input.TaskID, id.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/reject",
		Summary:     "Reject an assigned task",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		taskPath
		Body struct {
			Reason string `json:"reason" minLength:"1"`
		} `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		_, id, statusErr := loadTaskForAction(ctx, e, authz.ActionTransition, input.TaskID)
		if statusErr != nil {
			return nil, statusErr
		}
		t, err := e.RejectTask(ctx, input.TaskID, id.UserID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pause-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/pause",
		Summary:     "Pause an in-progress task",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		taskPath
		Body struct {
			Reason string `json:"reason" minLength:"1"`
		} `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		_, id, statusErr := loadTaskForAction(ctx, e, authz.ActionTransition, input.TaskID)
		if statusErr != nil {
			return nil, statusErr
		}
		t, err := e.PauseTask(ctx, input.TaskID, id.UserID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/resume",
		Summary:     "Resume a paused task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		_, id, statusErr := loadTaskForAction(ctx, e, authz.ActionTransition, input.TaskID)
		if statusErr != nil {
			return nil, statusErr
		}
		t, err := e.ResumeTask(ctx, input.TaskID, id.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Move task along the lifecycle",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		taskPath
		Body struct {
			Status domain.TaskStatus `json:"status" minLength:"1"`
		} `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		_, id, statusErr := loadTaskForAction(ctx, e, authz.ActionTransition, input.TaskID)
		if statusErr != nil {
			return nil, statusErr
		}
		t, err := e.SetTaskStatus(ctx, input.TaskID, id.UserID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-comments",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/comments",
		Summary:     "List task comments",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []domain.TaskComment `json:"body"`
	}, error) {
		_, _, statusErr := loadTaskForAction(ctx, e, authz.ActionView, input.TaskID)
		if statusErr != nil {
			return nil, statusErr
		}
		items, err := e.Repo.ListTaskComments(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TaskComment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-task-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/comments",
		Summary:       "Comment on a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		taskPath
		Body struct {
			Comment string `json:"comment" minLength:"1"`
		} `json:"body"`
	}) (*struct {
		Body domain.TaskComment `json:"body"`
	}, error) {
		_, id, statusErr := loadTaskForAction(ctx, e, authz.ActionView, input.TaskID)
		if statusErr != nil {
			return nil, statusErr
		}
		c, err := e.AddTaskComment(ctx, input.TaskID, id.UserID, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskComment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-stats",
		Method:      http.MethodGet,
		Path:        "/tasks/stats",
		Summary:     "Task counts by status within the caller's scope",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[domain.TaskStatus]int `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountTasksByStatus(ctx, authz.TaskScope(id))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[domain.TaskStatus]int `json:"body"`
		}{Body: counts}, nil
	})
}
