package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"opsline/internal/authz"
	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/identity"
)

type userPath struct {
	UserID int64 `path:"user_id"`
}

func requireUserAdmin(ctx context.Context, act authz.Action) (domain.Identity, huma.StatusError) {
	id, authErr := requireIdentity(ctx)
	if authErr != nil {
		return domain.Identity{}, authErr
	}
	if d := authz.Authorize(id, authz.ResourceUser, act, authz.ResourceContext{}); !d.Allowed {
		return domain.Identity{}, forbidden(d)
	}
	return id, nil
}

func registerTeam(api huma.API, e engine.Engine, svc identity.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List user accounts",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActiveOnly bool `query:"active_only"`
	}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		if _, statusErr := requireUserAdmin(ctx, authz.ActionView); statusErr != nil {
			return nil, statusErr
		}
		users, err := e.Repo.ListUsers(ctx, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: users}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create a user account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Email    string   `json:"email" format:"email"`
			Password string   `json:"password" minLength:"8"`
			FullName string   `json:"full_name" minLength:"1"`
			Phone    string   `json:"phone,omitempty"`
			Roles    []string `json:"roles" minItems:"1"`
		} `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		id, statusErr := requireUserAdmin(ctx, authz.ActionManage)
		if statusErr != nil {
			return nil, statusErr
		}
		hash, err := svc.HashPassword(input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		roles := make([]domain.Role, 0, len(input.Body.Roles))
		for _, r := range input.Body.Roles {
			roles = append(roles, domain.Role(r))
		}
		u, err := e.CreateUser(ctx, engine.UserCreateOptions{
			Email:              input.Body.Email,
			PasswordHash:       hash,
			FullName:           input.Body.FullName,
			Phone:              input.Body.Phone,
			Roles:              roles,
			MustChangePassword: true,
			ActorID:            id.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}",
		Summary:     "Get a user account",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *userPath) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if _, statusErr := requireUserAdmin(ctx, authz.ActionView); statusErr != nil {
			return nil, statusErr
		}
		u, err := e.Repo.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPatch,
		Path:        "/users/{user_id}",
		Summary:     "Update a user account",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		userPath
		Body struct {
			FullName *string `json:"full_name,omitempty"`
			Phone    *string `json:"phone,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		id, statusErr := requireUserAdmin(ctx, authz.ActionManage)
		if statusErr != nil {
			return nil, statusErr
		}
		u, err := e.UpdateUser(ctx, input.UserID, input.Body.FullName, input.Body.Phone, id.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-user-role",
		Method:      http.MethodPost,
		Path:        "/users/{user_id}/roles",
		Summary:     "Grant a role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		userPath
		Body struct {
			Role string `json:"role" minLength:"1"`
		} `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		id, statusErr := requireUserAdmin(ctx, authz.ActionManage)
		if statusErr != nil {
			return nil, statusErr
		}
		if err := e.AssignUserRole(ctx, input.UserID, domain.Role(input.Body.Role), id.UserID); err != nil {
			return nil, handleError(err)
		}
		u, err := e.Repo.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-user-role",
		Method:      http.MethodDelete,
		Path:        "/users/{user_id}/roles/{role}",
		Summary:     "Revoke a role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		userPath
		Role string `path:"role"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		id, statusErr := requireUserAdmin(ctx, authz.ActionManage)
		if statusErr != nil {
			return nil, statusErr
		}
		if err := e.RemoveUserRole(ctx, input.UserID, domain.Role(input.Role), id.UserID); err != nil {
			return nil, handleError(err)
		}
		u, err := e.Repo.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-active",
		Method:      http.MethodPost,
		Path:        "/users/{user_id}/active",
		Summary:     "Activate or deactivate an account",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		userPath
		Body struct {
			Active bool `json:"active"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		id, statusErr := requireUserAdmin(ctx, authz.ActionManage)
		if statusErr != nil {
			return nil, statusErr
		}
		if err := e.SetUserActive(ctx, input.UserID, input.Body.Active, id.UserID); err != nil {
			return nil, handleError(err)
		}
		status := "deactivated"
		if input.Body.Active {
			status = "activated"
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": status}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-user-password",
		Method:      http.MethodPost,
		Path:        "/users/{user_id}/reset-password",
		Summary:     "Reset a password, forcing a change on next login",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		userPath
		Body struct {
			Password string `json:"password" minLength:"8"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		id, statusErr := requireUserAdmin(ctx, authz.ActionManage)
		if statusErr != nil {
			return nil, statusErr
		}
		hash, err := svc.HashPassword(input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.SetUserPassword(ctx, input.UserID, hash, true, id.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "password reset"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "List roles",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct{}) (*struct {
		Body []domain.RoleRecord `json:"body"`
	}, error) {
		if _, statusErr := requireUserAdmin(ctx, authz.ActionView); statusErr != nil {
			return nil, statusErr
		}
		roles, err := e.Repo.ListRoles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.RoleRecord `json:"body"`
		}{Body: roles}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-permissions",
		Method:      http.MethodGet,
		Path:        "/permissions",
		Summary:     "List permissions",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct{}) (*struct {
		Body []domain.PermissionRecord `json:"body"`
	}, error) {
		if _, statusErr := requireUserAdmin(ctx, authz.ActionView); statusErr != nil {
			return nil, statusErr
		}
		perms, err := e.Repo.ListPermissions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PermissionRecord `json:"body"`
		}{Body: perms}, nil
	})
}
