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

type leadPath struct {
	LeadID int64 `path:"lead_id"`
}

func loadLeadForAction(ctx context.Context, e engine.Engine, act authz.Action, leadID int64) (domain.Lead, domain.Identity, huma.StatusError) {
	id, authErr := requireIdentity(ctx)
	if authErr != nil {
		return domain.Lead{}, domain.Identity{}, authErr
	}
	l, err := e.Repo.GetLead(ctx, leadID)
	if err != nil {
		return domain.Lead{}, domain.Identity{}, handleError(err)
	}
	if d := authz.Authorize(id, authz.ResourceLead, act, leadResourceContext(id, l)); !d.Allowed {
		return domain.Lead{}, domain.Identity{}, forbidden(d)
	}
	return l, id, nil
}

func registerLeads(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-lead",
		Method:        http.MethodPost,
		Path:          "/leads",
		Summary:       "Create lead",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			FirstName      string          `json:"first_name" minLength:"1"`
			LastName       string          `json:"last_name,omitempty"`
			Email          string          `json:"email" format:"email"`
			Phone          string          `json:"phone,omitempty"`
			CompanyName    string          `json:"company_name,omitempty"`
			Priority       domain.Priority `json:"priority,omitempty"`
			EstimatedValue *float64        `json:"estimated_value,omitempty"`
			Currency       string          `json:"currency,omitempty"`
			SourceID       *int64          `json:"source_id,omitempty"`
			AssignedTo     *int64          `json:"assigned_to,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if d := authz.Authorize(id, authz.ResourceLead, authz.ActionCreate, authz.ResourceContext{}); !d.Allowed {
			return nil, forbidden(d)
		}
		l, err := e.CreateLead(ctx, engine.LeadCreateOptions{
			FirstName:      input.Body.FirstName,
			LastName:       input.Body.LastName,
			Email:          input.Body.Email,
			Phone:          input.Body.Phone,
			CompanyName:    input.Body.CompanyName,
			Priority:       input.Body.Priority,
			EstimatedValue: input.Body.EstimatedValue,
			Currency:       input.Body.Currency,
			SourceID:       input.Body.SourceID,
			AssignedTo:     input.Body.AssignedTo,
			ActorID:        id.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-leads",
		Method:      http.MethodGet,
		Path:        "/leads",
		Summary:     "List leads visible to the caller",
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status"`
		Priority   string `query:"priority"`
		AssignedTo int64  `query:"assigned_to"`
		Search     string `query:"search"`
		Converted  *bool  `query:"converted"`
	}) (*struct {
		Body []domain.Lead `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListLeads(ctx, repo.LeadFilters{
			Status:     domain.LeadStatus(input.Status),
			Priority:   domain.Priority(input.Priority),
			AssignedTo: input.AssignedTo,
			Search:     input.Search,
			Converted:  input.Converted,
		}, authz.LeadScope(id))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Lead `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-lead",
		Method:      http.MethodGet,
		Path:        "/leads/{lead_id}",
		Summary:     "Get lead",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *leadPath) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		l, _, statusErr := loadLeadForAction(ctx, e, authz.ActionView, input.LeadID)
		if statusErr != nil {
			return nil, statusErr
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-lead",
		Method:      http.MethodPatch,
		Path:        "/leads/{lead_id}",
		Summary:     "Update lead fields",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		leadPath
		Body struct {
			FirstName      *string          `json:"first_name,omitempty"`
			LastName       *string          `json:"last_name,omitempty"`
			Email          *string          `json:"email,omitempty"`
			Phone          *string          `json:"phone,omitempty"`
			CompanyName    *string          `json:"company_name,omitempty"`
			Priority       *domain.Priority `json:"priority,omitempty"`
			EstimatedValue *float64         `json:"estimated_value,omitempty"`
			Currency       *string          `json:"currency,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		_, id, statusErr := loadLeadForAction(ctx, e, authz.ActionEdit, input.LeadID)
		if statusErr != nil {
			return nil, statusErr
		}
		l, err := e.UpdateLead(ctx, engine.LeadUpdateOptions{
			LeadID:         input.LeadID,
			FirstName:      input.Body.FirstName,
			LastName:       input.Body.LastName,
			Email:          input.Body.Email,
			Phone:          input.Body.Phone,
			CompanyName:    input.Body.CompanyName,
			Priority:       input.Body.Priority,
			EstimatedValue: input.Body.EstimatedValue,
			Currency:       input.Body.Currency,
			ActorID:        id.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-lead",
		Method:      http.MethodDelete,
		Path:        "/leads/{lead_id}",
		Summary:     "Soft delete a lead",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *leadPath) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		_, id, statusErr := loadLeadForAction(ctx, e, authz.ActionDelete, input.LeadID)
		if statusErr != nil {
			return nil, statusErr
		}
		l, err := e.DeleteLead(ctx, input.LeadID, id.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-lead-status",
		Method:      http.MethodPost,
		Path:        "/leads/{lead_id}/status",
		Summary:     "Move lead along the pipeline",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		leadPath
		Body struct {
			Status     domain.LeadStatus `json:"status" minLength:"1"`
			LostReason string            `json:"lost_reason,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		_, id, statusErr := loadLeadForAction(ctx, e, authz.ActionEdit, input.LeadID)
		if statusErr != nil {
			return nil, statusErr
		}
		l, err := e.SetLeadStatus(ctx, input.LeadID, id.UserID, input.Body.Status, input.Body.LostReason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-lead",
		Method:      http.MethodPost,
		Path:        "/leads/{lead_id}/assign",
		Summary:     "Assign lead to a user",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		leadPath
		Body struct {
			AssignedTo int64 `json:"assigned_to"`
		} `json:"body"`
	}) (*struct {
		Body domain.Lead `json:"body"`
	}, error) {
		_, id, statusErr := loadLeadForAction(ctx, e, authz.ActionAssign, input.LeadID)
		if statusErr != nil {
			return nil, statusErr
		}
		l, err := e.AssignLead(ctx, input.LeadID, input.Body.AssignedTo, id.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Lead `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "convert-lead",
		Method:      http.MethodPost,
		Path:        "/leads/{lead_id}/convert",
		Summary:     "Convert lead to a client, optionally with a first project",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		leadPath
		Body struct {
			ClientTier      string  `json:"client_tier,omitempty"`
			ConversionNotes string  `json:"conversion_notes,omitempty"`
			CreateProject   bool    `json:"create_project,omitempty"`
			ProjectName     string  `json:"project_name,omitempty"`
			ProjectType     string  `json:"project_type,omitempty"`
			TotalBudget     float64 `json:"total_budget,omitempty"`
			Currency        string  `json:"currency,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body engine.ConversionResult `json:"body"`
	}, error) {
		_, id, statusErr := loadLeadForAction(ctx, e, authz.ActionConvert, input.LeadID)
		if statusErr != nil {
			return nil, statusErr
		}
		res, err := e.ConvertLead(ctx, engine.LeadConvertOptions{
			LeadID:          input.LeadID,
			ClientTier:      input.Body.ClientTier,
			ConversionNotes: input.Body.ConversionNotes,
			CreateProject:   input.Body.CreateProject,
			ProjectName:     input.Body.ProjectName,
			ProjectType:     input.Body.ProjectType,
			TotalBudget:     input.Body.TotalBudget,
			Currency:        input.Body.Currency,
			ActorID:         id.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ConversionResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-lead-activities",
		Method:      http.MethodGet,
		Path:        "/leads/{lead_id}/activities",
		Summary:     "List lead activities",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *leadPath) (*struct {
		Body []domain.LeadActivity `json:"body"`
	}, error) {
		_, _, statusErr := loadLeadForAction(ctx, e, authz.ActionView, input.LeadID)
		if statusErr != nil {
			return nil, statusErr
		}
		items, err := e.Repo.ListLeadActivities(ctx, input.LeadID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.LeadActivity `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-lead-activity",
		Method:        http.MethodPost,
		Path:          "/leads/{lead_id}/activities",
		Summary:       "Record a lead activity",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		leadPath
		Body struct {
			Type        string `json:"activity_type" minLength:"1"`
			Subject     string `json:"subject" minLength:"1"`
			Description string `json:"description,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.LeadActivity `json:"body"`
	}, error) {
		_, id, statusErr := loadLeadForAction(ctx, e, authz.ActionEdit, input.LeadID)
		if statusErr != nil {
			return nil, statusErr
		}
		a, err := e.AddLeadActivity(ctx, input.LeadID, id.UserID, input.Body.Type, input.Body.Subject, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.LeadActivity `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-lead-notes",
		Method:      http.MethodGet,
		Path:        "/leads/{lead_id}/notes",
		Summary:     "List lead notes",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *leadPath) (*struct {
		Body []domain.LeadNote `json:"body"`
	}, error) {
		_, _, statusErr := loadLeadForAction(ctx, e, authz.ActionView, input.LeadID)
		if statusErr != nil {
			return nil, statusErr
		}
		items, err := e.Repo.ListLeadNotes(ctx, input.LeadID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.LeadNote `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-lead-note",
		Method:        http.MethodPost,
		Path:          "/leads/{lead_id}/notes",
		Summary:       "Attach a note to a lead",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		leadPath
		Body struct {
			Note        string `json:"note" minLength:"1"`
			IsImportant bool   `json:"is_important,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.LeadNote `json:"body"`
	}, error) {
		_, id, statusErr := loadLeadForAction(ctx, e, authz.ActionEdit, input.LeadID)
		if statusErr != nil {
			return nil, statusErr
		}
		n, err := e.AddLeadNote(ctx, input.LeadID, id.UserID, input.Body.Note, input.Body.IsImportant)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.LeadNote `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lead-stats",
		Method:      http.MethodGet,
		Path:        "/leads/stats",
		Summary:     "Funnel summary within the caller's scope",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body repo.LeadStats `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := e.Repo.LeadStats(ctx, authz.LeadScope(id))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.LeadStats `json:"body"`
		}{Body: stats}, nil
	})
}
