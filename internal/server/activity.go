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

func registerActivity(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/activity",
		Summary:     "Audit trail of recorded actions",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		EntityType string `query:"entity_type"`
		EntityID   int64  `query:"entity_id"`
		UserID     int64  `query:"user_id"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.ActivityLog `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if d := authz.Authorize(id, authz.ResourceUser, authz.ActionView, authz.ResourceContext{}); !d.Allowed {
			return nil, forbidden(d)
		}
		items, err := e.Repo.ListActivity(ctx, repo.ActivityFilters{
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			UserID:     input.UserID,
		}, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ActivityLog `json:"body"`
		}{Body: items}, nil
	})
}
