package engine

import (
	"context"
	"fmt"
	"strings"

	"opsline/internal/domain"
	"opsline/internal/repo"
)

// NormalizePaymentMethod folds free-form method strings into the two
// ledger buckets. Anything mentioning an online channel or gateway is
// "Online"; the rest settles as "Offline/3rd Party".
func NormalizePaymentMethod(method string) string {
	m := strings.ToLower(method)
	if strings.Contains(m, "online") || strings.Contains(m, "gateway") {
		return "Online"
	}
	return "Offline/3rd Party"
}

type PhaseCreateOptions struct {
	ProjectID   int64
	Name        string
	Amount      float64
	Percentage  float64
	DueDate     string
	Description string
	ActorID     int64
}

// CreatePhase appends a phase to the project's schedule. The sequence
// is assigned inside the insert transaction as max(existing)+1, so two
// concurrent creates cannot take the same slot.
func (e Engine) CreatePhase(ctx context.Context, opts PhaseCreateOptions) (domain.PaymentPhase, error) {
	if opts.Name == "" {
		return domain.PaymentPhase{}, validationf("phase name is required")
	}
	if opts.Amount <= 0 {
		return domain.PaymentPhase{}, validationf("phase amount must be positive")
	}
	if opts.DueDate == "" {
		return domain.PaymentPhase{}, validationf("due date is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PaymentPhase{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.PaymentPhase{}, err
	}
	maxSeq, err := e.Repo.MaxPhaseSequenceTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.PaymentPhase{}, fmt.Errorf("next phase sequence: %w", err)
	}
	pct := opts.Percentage
	if pct == 0 && p.TotalBudget > 0 {
		pct = opts.Amount / p.TotalBudget * 100
	}
	now := e.nowRFC3339()
	phase := domain.PaymentPhase{
		ProjectID:   opts.ProjectID,
		Name:        opts.Name,
		Sequence:    maxSeq + 1,
		Amount:      opts.Amount,
		Percentage:  pct,
		DueDate:     opts.DueDate,
		Description: opts.Description,
		Status:      domain.PhasePending,
		CreatedAt:   now,
	}
	id, err := e.Repo.InsertPhaseTx(ctx, tx, phase, now)
	if err != nil {
		return domain.PaymentPhase{}, fmt.Errorf("insert phase: %w", err)
	}
	phase.ID = id
	if err := e.Events.Append(ctx, tx, opts.ActorID, "payment.phase_created", "payment_phase", id, phase.Name); err != nil {
		return domain.PaymentPhase{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PaymentPhase{}, err
	}
	return phase, nil
}

type PhaseUpdateOptions struct {
	PhaseID     int64
	Name        *string
	Sequence    *int
	Amount      *float64
	DueDate     *string
	Description *string
	ActorID     int64
}

// UpdatePhase edits a pending phase. Paid phases are frozen: the
// settled transaction refers to the amount as it was paid.
func (e Engine) UpdatePhase(ctx context.Context, opts PhaseUpdateOptions) (domain.PaymentPhase, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PaymentPhase{}, err
	}
	defer tx.Rollback()

	phase, err := e.Repo.GetPhaseTx(ctx, tx, opts.PhaseID)
	if err != nil {
		return domain.PaymentPhase{}, err
	}
	if phase.Status == domain.PhasePaid {
		return domain.PaymentPhase{}, conflictf("phase %d is paid and can no longer be edited", phase.ID)
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return domain.PaymentPhase{}, validationf("phase name cannot be empty")
		}
		phase.Name = *opts.Name
	}
	if opts.Sequence != nil {
		phase.Sequence = *opts.Sequence
	}
	if opts.Amount != nil {
		if *opts.Amount <= 0 {
			return domain.PaymentPhase{}, validationf("phase amount must be positive")
		}
		phase.Amount = *opts.Amount
		p, err := e.Repo.GetProjectTx(ctx, tx, phase.ProjectID)
		if err != nil {
			return domain.PaymentPhase{}, err
		}
		if p.TotalBudget > 0 {
			phase.Percentage = phase.Amount / p.TotalBudget * 100
		}
	}
	if opts.DueDate != nil {
		phase.DueDate = *opts.DueDate
	}
	if opts.Description != nil {
		phase.Description = *opts.Description
	}
	if err := e.Repo.UpdatePhaseTx(ctx, tx, phase); err != nil {
		return domain.PaymentPhase{}, err
	}
	if err := e.Events.Append(ctx, tx, opts.ActorID, "payment.phase_updated", "payment_phase", phase.ID, phase.Name); err != nil {
		return domain.PaymentPhase{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PaymentPhase{}, err
	}
	return phase, nil
}

// DeletePhase removes a pending phase. Paid phases cannot be deleted;
// the ledger keeps every settled entry.
func (e Engine) DeletePhase(ctx context.Context, phaseID, actorID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	phase, err := e.Repo.GetPhaseTx(ctx, tx, phaseID)
	if err != nil {
		return err
	}
	if phase.Status == domain.PhasePaid {
		return conflictf("phase %d is paid and cannot be deleted", phaseID)
	}
	if err := e.Repo.DeletePhaseTx(ctx, tx, phaseID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, actorID, "payment.phase_deleted", "payment_phase", phaseID, phase.Name); err != nil {
		return err
	}
	return tx.Commit()
}

// PendingPayments buckets unpaid phases by urgency against the engine
// clock. Due dates compare as ISO date strings.
type PendingPayments struct {
	Overdue  []domain.PaymentPhase `json:"overdue"`
	DueToday []domain.PaymentPhase `json:"due_today"`
	DueSoon  []domain.PaymentPhase `json:"due_soon"`
	Upcoming []domain.PaymentPhase `json:"upcoming"`
}

func (e Engine) PendingPayments(ctx context.Context, scope repo.Predicate) (PendingPayments, error) {
	phases, err := e.Repo.ListPhases(ctx, repo.PhaseFilters{Status: domain.PhasePending}, scope)
	if err != nil {
		return PendingPayments{}, err
	}
	today := e.now().UTC().Format("2006-01-02")
	soon := e.now().UTC().AddDate(0, 0, 7).Format("2006-01-02")
	var out PendingPayments
	for _, p := range phases {
		due := p.DueDate
		if len(due) > 10 {
			due = due[:10]
		}
		switch {
		case due < today:
			out.Overdue = append(out.Overdue, p)
		case due == today:
			out.DueToday = append(out.DueToday, p)
		case due <= soon:
			out.DueSoon = append(out.DueSoon, p)
		default:
			out.Upcoming = append(out.Upcoming, p)
		}
	}
	return out, nil
}

// PaymentStats aggregates the ledger within the caller's scope.
func (e Engine) PaymentStats(ctx context.Context, scope repo.Predicate) (repo.PaymentStats, error) {
	return e.Repo.PaymentStats(ctx, e.now().UTC().Format("2006-01-02"), scope)
}

type MarkPaidOptions struct {
	PhaseID int64
	// Amount paid; zero means the full phase amount.
	Amount          float64
	Method          string
	MethodDetail    string
	ReferenceNumber string
	Notes           string
	ActorID         int64
}

// MarkPhasePaid settles a phase: it flips Pending to Paid and writes
// exactly one immutable transaction, numbered off the phase id so the
// number is stable under retries. The row is re-read inside the
// transaction, so a concurrent settle loses with a conflict.
func (e Engine) MarkPhasePaid(ctx context.Context, opts MarkPaidOptions) (domain.PaymentTransaction, error) {
	if opts.Method == "" {
		return domain.PaymentTransaction{}, validationf("payment method is required")
	}
	if opts.Amount < 0 {
		return domain.PaymentTransaction{}, validationf("amount paid cannot be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	defer tx.Rollback()

	phase, err := e.Repo.GetPhaseTx(ctx, tx, opts.PhaseID)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	if phase.Status == domain.PhasePaid {
		return domain.PaymentTransaction{}, conflictf("phase %d is already paid", phase.ID)
	}
	project, err := e.Repo.GetProjectTx(ctx, tx, phase.ProjectID)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}

	now := e.nowRFC3339()
	phase.Status = domain.PhasePaid
	if err := e.Repo.UpdatePhaseTx(ctx, tx, phase); err != nil {
		return domain.PaymentTransaction{}, err
	}
	amount := opts.Amount
	if amount == 0 {
		amount = phase.Amount
	}
	txn := domain.PaymentTransaction{
		Number:          fmt.Sprintf("TXN-%d-%06d", e.now().UTC().Year(), phase.ID),
		ProjectID:       phase.ProjectID,
		PhaseID:         phase.ID,
		ClientID:        project.ClientID,
		Amount:          amount,
		Method:          NormalizePaymentMethod(opts.Method),
		MethodDetail:    opts.MethodDetail,
		ReferenceNumber: opts.ReferenceNumber,
		Notes:           opts.Notes,
		VerifiedBy:      opts.ActorID,
		PaymentDate:     now,
		Status:          "Verified",
	}
	id, err := e.Repo.InsertTransactionTx(ctx, tx, txn)
	if err != nil {
		return domain.PaymentTransaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	txn.ID = id
	if err := e.Events.Append(ctx, tx, opts.ActorID, "payment.settled", "payment_phase", phase.ID, txn.Number); err != nil {
		return domain.PaymentTransaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PaymentTransaction{}, err
	}
	return txn, nil
}
