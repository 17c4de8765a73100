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

type projectPath struct {
	ProjectID int64 `path:"project_id"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Create client",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			CompanyName   string `json:"company_name" minLength:"1"`
			ContactPerson string `json:"contact_person" minLength:"1"`
			Email         string `json:"email,omitempty"`
			Phone         string `json:"phone,omitempty"`
			Website       string `json:"website,omitempty"`
			UserID        *int64 `json:"user_id,omitempty"`
			Tier          string `json:"client_tier,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if d := authz.Authorize(id, authz.ResourceProject, authz.ActionCreate, authz.ResourceContext{}); !d.Allowed {
			return nil, forbidden(d)
		}
		c, err := e.CreateClient(ctx, engine.ClientCreateOptions{
			CompanyName:   input.Body.CompanyName,
			ContactPerson: input.Body.ContactPerson,
			Email:         input.Body.Email,
			Phone:         input.Body.Phone,
			Website:       input.Body.Website,
			UserID:        input.Body.UserID,
			Tier:          input.Body.Tier,
			ActorID:       id.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Client `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if d := authz.Authorize(id, authz.ResourceProject, authz.ActionCreate, authz.ResourceContext{}); !d.Allowed {
			return nil, forbidden(d)
		}
		items, err := e.Repo.ListClients(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Client `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ClientID    int64           `json:"client_id"`
			Name        string          `json:"project_name" minLength:"1"`
			Type        string          `json:"project_type,omitempty"`
			Description string          `json:"project_description,omitempty"`
			TotalBudget float64         `json:"total_budget,omitempty"`
			Currency    string          `json:"currency,omitempty"`
			StartDate   *string         `json:"start_date,omitempty" format:"date"`
			ExpectedEnd *string         `json:"expected_end_date,omitempty" format:"date"`
			Priority    domain.Priority `json:"priority,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if d := authz.Authorize(id, authz.ResourceProject, authz.ActionCreate, authz.ResourceContext{}); !d.Allowed {
			return nil, forbidden(d)
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ClientID:    input.Body.ClientID,
			Name:        input.Body.Name,
			Type:        input.Body.Type,
			Description: input.Body.Description,
			TotalBudget: input.Body.TotalBudget,
			Currency:    input.Body.Currency,
			StartDate:   input.Body.StartDate,
			ExpectedEnd: input.Body.ExpectedEnd,
			Priority:    input.Body.Priority,
			ActorID:     id.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects visible to the caller",
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		ClientID int64  `query:"client_id"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{Status: input.Status, ClientID: input.ClientID}, authz.ProjectScope(id))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := parseID("project_id", input.ProjectID); err != nil {
			return nil, err
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		rc, err := projectResourceContext(ctx, e, id, p)
		if err != nil {
			return nil, handleError(err)
		}
		if d := authz.Authorize(id, authz.ResourceProject, authz.ActionView, rc); !d.Allowed {
			return nil, forbidden(d)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		projectPath
		Body struct {
			Name        *string  `json:"project_name,omitempty"`
			Description *string  `json:"project_description,omitempty"`
			Status      *string  `json:"status,omitempty"`
			TotalBudget *float64 `json:"total_budget,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		rc, err := projectResourceContext(ctx, e, id, p)
		if err != nil {
			return nil, handleError(err)
		}
		if d := authz.Authorize(id, authz.ResourceProject, authz.ActionEdit, rc); !d.Allowed {
			return nil, forbidden(d)
		}
		updated, err := e.UpdateProject(ctx, engine.ProjectUpdateOptions{
			ProjectID:   input.ProjectID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			TotalBudget: input.Body.TotalBudget,
			ActorID:     id.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-managers",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/managers",
		Summary:     "List active manager assignments",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.ManagerAssignment `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		rc, err := projectResourceContext(ctx, e, id, p)
		if err != nil {
			return nil, handleError(err)
		}
		if d := authz.Authorize(id, authz.ResourceProject, authz.ActionView, rc); !d.Allowed {
			return nil, forbidden(d)
		}
		items, err := e.Repo.ListManagers(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ManagerAssignment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "assign-project-manager",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/managers",
		Summary:       "Assign a manager",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		projectPath
		Body struct {
			ManagerID int64 `json:"manager_id"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		rc, err := projectResourceContext(ctx, e, id, p)
		if err != nil {
			return nil, handleError(err)
		}
		if d := authz.Authorize(id, authz.ResourceProject, authz.ActionManage, rc); !d.Allowed {
			return nil, forbidden(d)
		}
		if err := e.AssignManager(ctx, input.ProjectID, input.Body.ManagerID, id.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "assigned"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-project-manager",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/managers/{manager_id}",
		Summary:     "Remove a manager",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		projectPath
		ManagerID int64 `path:"manager_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		rc, err := projectResourceContext(ctx, e, id, p)
		if err != nil {
			return nil, handleError(err)
		}
		if d := authz.Authorize(id, authz.ResourceProject, authz.ActionManage, rc); !d.Allowed {
			return nil, forbidden(d)
		}
		if err := e.RemoveManager(ctx, input.ProjectID, input.ManagerID, id.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "removed"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-team",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/team",
		Summary:     "List active team members",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.TeamMember `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		rc, err := projectResourceContext(ctx, e, id, p)
		if err != nil {
			return nil, handleError(err)
		}
		if d := authz.Authorize(id, authz.ResourceProject, authz.ActionView, rc); !d.Allowed {
			return nil, forbidden(d)
		}
		items, err := e.Repo.ListTeam(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TeamMember `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "assign-project-team-member",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/team",
		Summary:       "Add a team member",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		projectPath
		Body struct {
			UserID        int64    `json:"user_id"`
			RoleInProject string   `json:"role_in_project" minLength:"1"`
			AllocatedHrs  *float64 `json:"allocated_hours,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		rc, err := projectResourceContext(ctx, e, id, p)
		if err != nil {
			return nil, handleError(err)
		}
		if d := authz.Authorize(id, authz.ResourceTeam, authz.ActionManage, rc); !d.Allowed {
			return nil, forbidden(d)
		}
		err = e.AssignTeamMember(ctx, engine.TeamAssignOptions{
			ProjectID:     input.ProjectID,
			UserID:        input.Body.UserID,
			RoleInProject: input.Body.RoleInProject,
			AllocatedHrs:  input.Body.AllocatedHrs,
			ActorID:       id.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "assigned"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-project-team-member",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/team/{user_id}",
		Summary:     "Remove a team member",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		projectPath
		UserID int64 `path:"user_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		rc, err := projectResourceContext(ctx, e, id, p)
		if err != nil {
			return nil, handleError(err)
		}
		if d := authz.Authorize(id, authz.ResourceTeam, authz.ActionManage, rc); !d.Allowed {
			return nil, forbidden(d)
		}
		if err := e.RemoveTeamMember(ctx, input.ProjectID, input.UserID, id.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "removed"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-stats",
		Method:      http.MethodGet,
		Path:        "/projects/stats",
		Summary:     "Project counts by status within the caller's scope",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountProjectsByStatus(ctx, authz.ProjectScope(id))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: counts}, nil
	})
}
