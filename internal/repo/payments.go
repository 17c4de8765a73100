package repo

import (
	"context"
	"database/sql"
	"strings"

	"opsline/internal/domain"
)

const phaseCols = `id,project_id,phase_name,phase_sequence,phase_amount,phase_percentage,due_date,COALESCE(description,''),status,created_at`

type phaseRow interface {
	Scan(dest ...any) error
}

func scanPhase(row phaseRow) (domain.PaymentPhase, error) {
	var p domain.PaymentPhase
	err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Sequence, &p.Amount, &p.Percentage, &p.DueDate, &p.Description, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) MaxPhaseSequenceTx(ctx context.Context, tx *sql.Tx, projectID int64) (int, error) {
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(phase_sequence) FROM payment_phases WHERE project_id=?`, projectID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

func (r Repo) InsertPhaseTx(ctx context.Context, tx *sql.Tx, p domain.PaymentPhase, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO payment_phases(project_id,phase_name,phase_sequence,phase_amount,phase_percentage,due_date,description,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ProjectID, p.Name, p.Sequence, p.Amount, p.Percentage, p.DueDate, nullable(p.Description), p.Status, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetPhase(ctx context.Context, id int64) (domain.PaymentPhase, error) {
	return scanPhase(r.DB.QueryRowContext(ctx, `SELECT `+phaseCols+` FROM payment_phases WHERE id=?`, id))
}

func (r Repo) GetPhaseTx(ctx context.Context, tx *sql.Tx, id int64) (domain.PaymentPhase, error) {
	return scanPhase(tx.QueryRowContext(ctx, `SELECT `+phaseCols+` FROM payment_phases WHERE id=?`, id))
}

func (r Repo) UpdatePhaseTx(ctx context.Context, tx *sql.Tx, p domain.PaymentPhase) error {
	res, err := tx.ExecContext(ctx, `UPDATE payment_phases SET phase_name=?, phase_sequence=?, phase_amount=?, phase_percentage=?, due_date=?, description=?, status=? WHERE id=?`,
		p.Name, p.Sequence, p.Amount, p.Percentage, p.DueDate, nullable(p.Description), p.Status, p.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeletePhaseTx(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM payment_phases WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type PhaseFilters struct {
	ProjectID int64
	Status    domain.PhaseStatus
}

func (r Repo) ListPhases(ctx context.Context, f PhaseFilters, scope Predicate) ([]domain.PaymentPhase, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ProjectID != 0 {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if scope.Where != "" {
		clauses = append(clauses, scope.Where)
		args = append(args, scope.Args...)
	}
	q := `SELECT ` + phaseCols + ` FROM payment_phases`
	if len(clauses) > 0 {
		q += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	q += ` ORDER BY project_id, phase_sequence, id`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PaymentPhase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

const txnCols = `id,transaction_number,project_id,payment_phase_id,client_id,amount,payment_method,COALESCE(method_detail,''),COALESCE(payment_reference_number,''),COALESCE(verification_notes,''),verified_by,payment_date,payment_status`

func (r Repo) InsertTransactionTx(ctx context.Context, tx *sql.Tx, t domain.PaymentTransaction) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO payment_transactions(transaction_number,project_id,payment_phase_id,client_id,amount,payment_method,method_detail,payment_reference_number,verification_notes,verified_by,payment_date,payment_status)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.Number, t.ProjectID, t.PhaseID, t.ClientID, t.Amount, t.Method, nullable(t.MethodDetail), nullable(t.ReferenceNumber), nullable(t.Notes), t.VerifiedBy, t.PaymentDate, t.Status)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetTransactionByPhase(ctx context.Context, phaseID int64) (domain.PaymentTransaction, error) {
	var t domain.PaymentTransaction
	err := r.DB.QueryRowContext(ctx, `SELECT `+txnCols+` FROM payment_transactions WHERE payment_phase_id=?`, phaseID).
		Scan(&t.ID, &t.Number, &t.ProjectID, &t.PhaseID, &t.ClientID, &t.Amount, &t.Method, &t.MethodDetail, &t.ReferenceNumber, &t.Notes, &t.VerifiedBy, &t.PaymentDate, &t.Status)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTransactions(ctx context.Context, projectID int64, scope Predicate) ([]domain.PaymentTransaction, error) {
	var (
		clauses []string
		args    []any
	)
	if projectID != 0 {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if scope.Where != "" {
		clauses = append(clauses, scope.Where)
		args = append(args, scope.Args...)
	}
	q := `SELECT ` + txnCols + ` FROM payment_transactions`
	if len(clauses) > 0 {
		q += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	q += ` ORDER BY payment_date DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PaymentTransaction
	for rows.Next() {
		var t domain.PaymentTransaction
		if err := rows.Scan(&t.ID, &t.Number, &t.ProjectID, &t.PhaseID, &t.ClientID, &t.Amount, &t.Method, &t.MethodDetail, &t.ReferenceNumber, &t.Notes, &t.VerifiedBy, &t.PaymentDate, &t.Status); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// PaymentSummary aggregates a project's ledger: total budget allocated
// to phases, the paid portion, and the pending remainder.
type PaymentSummary struct {
	ProjectID    int64   `json:"project_id"`
	TotalPhased  float64 `json:"total_phased"`
	TotalPaid    float64 `json:"total_paid"`
	TotalPending float64 `json:"total_pending"`
	PhaseCount   int     `json:"phase_count"`
	PaidCount    int     `json:"paid_count"`
}

// PaymentStats aggregates revenue across every phase the scope allows:
// settled revenue, outstanding revenue, and how much of the outstanding
// part is past its due date.
type PaymentStats struct {
	TotalRevenue   float64 `json:"total_revenue"`
	PendingRevenue float64 `json:"pending_revenue"`
	OverdueCount   int     `json:"overdue_count"`
	OverdueAmount  float64 `json:"overdue_amount"`
}

func (r Repo) PaymentStats(ctx context.Context, today string, scope Predicate) (PaymentStats, error) {
	q := `SELECT
COALESCE(SUM(CASE WHEN status='Paid' THEN phase_amount ELSE 0 END),0),
COALESCE(SUM(CASE WHEN status='Pending' THEN phase_amount ELSE 0 END),0),
COALESCE(SUM(CASE WHEN status='Pending' AND due_date < ? THEN 1 ELSE 0 END),0),
COALESCE(SUM(CASE WHEN status='Pending' AND due_date < ? THEN phase_amount ELSE 0 END),0)
FROM payment_phases`
	args := []any{today, today}
	if scope.Where != "" {
		q += ` WHERE ` + scope.Where
		args = append(args, scope.Args...)
	}
	var s PaymentStats
	err := r.DB.QueryRowContext(ctx, q, args...).
		Scan(&s.TotalRevenue, &s.PendingRevenue, &s.OverdueCount, &s.OverdueAmount)
	return s, err
}

func (r Repo) ProjectPaymentSummary(ctx context.Context, projectID int64) (PaymentSummary, error) {
	s := PaymentSummary{ProjectID: projectID}
	err := r.DB.QueryRowContext(ctx, `SELECT
COALESCE(SUM(phase_amount),0),
COALESCE(SUM(CASE WHEN status='Paid' THEN phase_amount ELSE 0 END),0),
COALESCE(SUM(CASE WHEN status='Pending' THEN phase_amount ELSE 0 END),0),
COUNT(*),
COALESCE(SUM(CASE WHEN status='Paid' THEN 1 ELSE 0 END),0)
FROM payment_phases WHERE project_id=?`, projectID).
		Scan(&s.TotalPhased, &s.TotalPaid, &s.TotalPending, &s.PhaseCount, &s.PaidCount)
	return s, err
}
