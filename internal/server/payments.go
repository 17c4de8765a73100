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

type phasePath struct {
	PhaseID int64 `path:"phase_id"`
}

func loadPhaseForAction(ctx context.Context, e engine.Engine, act authz.Action, phaseID int64) (domain.PaymentPhase, domain.Identity, huma.StatusError) {
	id, authErr := requireIdentity(ctx)
	if authErr != nil {
		return domain.PaymentPhase{}, domain.Identity{}, authErr
	}
	p, err := e.Repo.GetPhase(ctx, phaseID)
	if err != nil {
		return domain.PaymentPhase{}, domain.Identity{}, handleError(err)
	}
	rc, err := paymentResourceContext(ctx, e, id, p.ProjectID)
	if err != nil {
		return domain.PaymentPhase{}, domain.Identity{}, handleError(err)
	}
	if d := authz.Authorize(id, authz.ResourcePayment, act, rc); !d.Allowed {
		return domain.PaymentPhase{}, domain.Identity{}, forbidden(d)
	}
	return p, id, nil
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-payment-phase",
		Method:        http.MethodPost,
		Path:          "/payments/phases",
		Summary:       "Create payment phase",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ProjectID   int64   `json:"project_id"`
			Name        string  `json:"phase_name" minLength:"1"`
			Amount      float64 `json:"phase_amount"`
			Percentage  float64 `json:"phase_percentage,omitempty"`
			DueDate     string  `json:"due_date" format:"date"`
			Description string  `json:"description,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.PaymentPhase `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if d := authz.Authorize(id, authz.ResourcePayment, authz.ActionCreate, authz.ResourceContext{}); !d.Allowed {
			return nil, forbidden(d)
		}
		p, err := e.CreatePhase(ctx, engine.PhaseCreateOptions{
			ProjectID:   input.Body.ProjectID,
			Name:        input.Body.Name,
			Amount:      input.Body.Amount,
			Percentage:  input.Body.Percentage,
			DueDate:     input.Body.DueDate,
			Description: input.Body.Description,
			ActorID:     id.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PaymentPhase `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payment-phases",
		Method:      http.MethodGet,
		Path:        "/payments/phases",
		Summary:     "List payment phases visible to the caller",
	}, func(ctx context.Context, input *struct {
		ProjectID int64  `query:"project_id"`
		Status    string `query:"status"`
	}) (*struct {
		Body []domain.PaymentPhase `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListPhases(ctx, repo.PhaseFilters{
			ProjectID: input.ProjectID,
			Status:    domain.PhaseStatus(input.Status),
		}, authz.PaymentScope(id))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PaymentPhase `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-payment-phase",
		Method:      http.MethodGet,
		Path:        "/payments/phases/{phase_id}",
		Summary:     "Get payment phase",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *phasePath) (*struct {
		Body domain.PaymentPhase `json:"body"`
	}, error) {
		p, _, statusErr := loadPhaseForAction(ctx, e, authz.ActionView, input.PhaseID)
		if statusErr != nil {
			return nil, statusErr
		}
		return &struct {
			Body domain.PaymentPhase `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-payment-phase",
		Method:      http.MethodPatch,
		Path:        "/payments/phases/{phase_id}",
		Summary:     "Update a pending phase",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		phasePath
		Body struct {
			Name        *string  `json:"phase_name,omitempty"`
			Sequence    *int     `json:"phase_sequence,omitempty"`
			Amount      *float64 `json:"phase_amount,omitempty"`
			DueDate     *string  `json:"due_date,omitempty" format:"date"`
			Description *string  `json:"description,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.PaymentPhase `json:"body"`
	}, error) {
		_, id, statusErr := loadPhaseForAction(ctx, e, authz.ActionEdit, input.PhaseID)
		if statusErr != nil {
			return nil, statusErr
		}
		p, err := e.UpdatePhase(ctx, engine.PhaseUpdateOptions{
			PhaseID:     input.PhaseID,
			Name:        input.Body.Name,
			Sequence:    input.Body.Sequence,
			Amount:      input.Body.Amount,
			DueDate:     input.Body.DueDate,
			Description: input.Body.Description,
			ActorID:     id.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PaymentPhase `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-payment-phase",
		Method:      http.MethodDelete,
		Path:        "/payments/phases/{phase_id}",
		Summary:     "Delete a pending phase",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *phasePath) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		_, id, statusErr := loadPhaseForAction(ctx, e, authz.ActionDelete, input.PhaseID)
		if statusErr != nil {
			return nil, statusErr
		}
		if err := e.DeletePhase(ctx, input.PhaseID, id.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "deleted"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-phase-paid",
		Method:      http.MethodPost,
		Path:        "/payments/phases/{phase_id}/pay",
		Summary:     "Settle a phase and record the transaction",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		phasePath
		Body struct {
			Amount          float64 `json:"amount_paid,omitempty" minimum:"0"`
			Method          string  `json:"payment_method" minLength:"1"`
			MethodDetail    string  `json:"method_detail,omitempty"`
			ReferenceNumber string  `json:"payment_reference_number,omitempty"`
			Notes           string  `json:"verification_notes,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.PaymentTransaction `json:"body"`
	}, error) {
		_, id, statusErr := loadPhaseForAction(ctx, e, authz.ActionEdit, input.PhaseID)
		if statusErr != nil {
			return nil, statusErr
		}
		txn, err := e.MarkPhasePaid(ctx, engine.MarkPaidOptions{
			PhaseID:         input.PhaseID,
			Amount:          input.Body.Amount,
			Method:          input.Body.Method,
			MethodDetail:    input.Body.MethodDetail,
			ReferenceNumber: input.Body.ReferenceNumber,
			Notes:           input.Body.Notes,
			ActorID:         id.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PaymentTransaction `json:"body"`
		}{Body: txn}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payment-transactions",
		Method:      http.MethodGet,
		Path:        "/payments/transactions",
		Summary:     "List settled transactions visible to the caller",
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `query:"project_id"`
	}) (*struct {
		Body []domain.PaymentTransaction `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTransactions(ctx, input.ProjectID, authz.PaymentScope(id))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PaymentTransaction `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pending-payments",
		Method:      http.MethodGet,
		Path:        "/payments/pending",
		Summary:     "Pending phases grouped by urgency",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.PendingPayments `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pending, err := e.PendingPayments(ctx, authz.PaymentScope(id))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.PendingPayments `json:"body"`
		}{Body: pending}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "payment-stats",
		Method:      http.MethodGet,
		Path:        "/payments/stats",
		Summary:     "Revenue totals within the caller's scope",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body repo.PaymentStats `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := e.PaymentStats(ctx, authz.PaymentScope(id))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.PaymentStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-payment-summary",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/payments/summary",
		Summary:     "Ledger summary for a project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body repo.PaymentSummary `json:"body"`
	}, error) {
		id, authErr := requireIdentity(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rc, err := paymentResourceContext(ctx, e, id, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if d := authz.Authorize(id, authz.ResourcePayment, authz.ActionView, rc); !d.Allowed {
			return nil, forbidden(d)
		}
		s, err := e.Repo.ProjectPaymentSummary(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.PaymentSummary `json:"body"`
		}{Body: s}, nil
	})
}
