package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/identity"
)

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"1"`
}

type LoginResponse struct {
	Token    string          `json:"token"`
	Identity domain.Identity `json:"identity"`
}

func registerAuth(api huma.API, e engine.Engine, svc identity.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Log in with email and password",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		if input.Body.Email == "" || input.Body.Password == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "email and password are required", nil)
		}
		id, token, err := svc.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: token, Identity: id}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/auth/me",
		Summary:     "Current identity with roles and permissions",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Identity `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body domain.Identity `json:"body"`
		}{Body: id}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-password",
		Method:      http.MethodPost,
		Path:        "/auth/change-password",
		Summary:     "Change own password",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body struct {
			CurrentPassword string `json:"current_password" minLength:"1"`
			NewPassword     string `json:"new_password" minLength:"8"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUser(ctx, id.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		if !svc.CheckPassword(u.PasswordHash, input.Body.CurrentPassword) {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "current password is incorrect", nil)
		}
		hash, err := svc.HashPassword(input.Body.NewPassword)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.SetUserPassword(ctx, id.UserID, hash, false, id.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "password changed"}}, nil
	})
}
