package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"opsline/internal/domain"
)

const leadCols = `id,lead_number,first_name,COALESCE(last_name,''),email,COALESCE(phone,''),COALESCE(company_name,''),status,priority,
estimated_value,currency,source_id,assigned_to,assigned_by,converted_to_client_id,converted_at,conversion_notes,lost_reason,lost_at,
created_at,updated_at`

type leadRow interface {
	Scan(dest ...any) error
}

func scanLead(row leadRow) (domain.Lead, error) {
	var l domain.Lead
	var estValue sql.NullFloat64
	var sourceID, assignedTo, assignedBy, clientID sql.NullInt64
	var convertedAt, conversionNotes, lostReason, lostAt sql.NullString
	err := row.Scan(&l.ID, &l.Number, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.CompanyName, &l.Status, &l.Priority,
		&estValue, &l.Currency, &sourceID, &assignedTo, &assignedBy, &clientID, &convertedAt, &conversionNotes, &lostReason, &lostAt,
		&l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.EstimatedValue = float64Ptr(estValue)
	l.SourceID = int64Ptr(sourceID)
	l.AssignedTo = int64Ptr(assignedTo)
	l.AssignedBy = int64Ptr(assignedBy)
	l.ConvertedToClientID = int64Ptr(clientID)
	l.ConvertedAt = strPtr(convertedAt)
	l.ConversionNotes = strPtr(conversionNotes)
	l.LostReason = strPtr(lostReason)
	l.LostAt = strPtr(lostAt)
	return l, nil
}

// MaxLeadSuffixTx returns the highest sequence suffix already used in
// lead numbers for the given year. Called inside the insert transaction
// so two concurrent creates cannot mint the same number.
func (r Repo) MaxLeadSuffixTx(ctx context.Context, tx *sql.Tx, year int) (int, error) {
	prefix := fmt.Sprintf("LEAD-%d-", year)
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(CAST(SUBSTR(lead_number, ?) AS INTEGER)) FROM leads WHERE lead_number LIKE ?`,
		len(prefix)+1, prefix+"%").Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

func (r Repo) InsertLeadTx(ctx context.Context, tx *sql.Tx, l domain.Lead) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO leads(lead_number,first_name,last_name,email,phone,company_name,status,priority,estimated_value,currency,source_id,assigned_to,assigned_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.Number, l.FirstName, nullable(l.LastName), l.Email, nullable(l.Phone), nullable(l.CompanyName), l.Status, l.Priority,
		nullableFloat64Ptr(l.EstimatedValue), l.Currency, nullableInt64Ptr(l.SourceID), nullableInt64Ptr(l.AssignedTo), nullableInt64Ptr(l.AssignedBy),
		l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateLeadTx writes the full mutable row back, same re-read-then-write
// discipline as tasks.
func (r Repo) UpdateLeadTx(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	res, err := tx.ExecContext(ctx, `UPDATE leads SET first_name=?, last_name=?, email=?, phone=?, company_name=?, status=?, priority=?,
estimated_value=?, currency=?, source_id=?, assigned_to=?, assigned_by=?, converted_to_client_id=?, converted_at=?, conversion_notes=?, lost_reason=?, lost_at=?, updated_at=?
WHERE id=?`,
		l.FirstName, nullable(l.LastName), l.Email, nullable(l.Phone), nullable(l.CompanyName), l.Status, l.Priority,
		nullableFloat64Ptr(l.EstimatedValue), l.Currency, nullableInt64Ptr(l.SourceID), nullableInt64Ptr(l.AssignedTo), nullableInt64Ptr(l.AssignedBy),
		nullableInt64Ptr(l.ConvertedToClientID), nullableStringPtr(l.ConvertedAt), nullableStringPtr(l.ConversionNotes),
		nullableStringPtr(l.LostReason), nullableStringPtr(l.LostAt), l.UpdatedAt, l.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetLead(ctx context.Context, id int64) (domain.Lead, error) {
	return scanLead(r.DB.QueryRowContext(ctx, `SELECT `+leadCols+` FROM leads WHERE id=?`, id))
}

func (r Repo) GetLeadTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Lead, error) {
	return scanLead(tx.QueryRowContext(ctx, `SELECT `+leadCols+` FROM leads WHERE id=?`, id))
}

type LeadFilters struct {
	Status     domain.LeadStatus
	Priority   domain.Priority
	AssignedTo int64
	Search     string
	Converted  *bool
}

func (r Repo) ListLeads(ctx context.Context, f LeadFilters, scope Predicate) ([]domain.Lead, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.AssignedTo != 0 {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Search != "" {
		clauses = append(clauses, "(first_name LIKE ? OR last_name LIKE ? OR email LIKE ? OR company_name LIKE ?)")
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if f.Converted != nil {
		if *f.Converted {
			clauses = append(clauses, "converted_at IS NOT NULL")
		} else {
			clauses = append(clauses, "converted_at IS NULL")
		}
	}
	if scope.Where != "" {
		clauses = append(clauses, scope.Where)
		args = append(args, scope.Args...)
	}
	q := `SELECT ` + leadCols + ` FROM leads`
	if len(clauses) > 0 {
		q += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) CountLeadsByStatus(ctx context.Context, scope Predicate) (map[domain.LeadStatus]int, error) {
	q := `SELECT status, COUNT(*) FROM leads`
	var args []any
	if scope.Where != "" {
		q += ` WHERE ` + scope.Where
		args = scope.Args
	}
	q += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[domain.LeadStatus]int{}
	for rows.Next() {
		var status domain.LeadStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// LeadStats summarizes the funnel within a scope: per-status counts,
// the value of won leads, and how much of the funnel converted.
type LeadStats struct {
	StatusCounts   map[domain.LeadStatus]int `json:"status_counts"`
	Total          int                       `json:"total"`
	Converted      int                       `json:"converted"`
	WonValue       float64                   `json:"won_value"`
	ConversionRate float64                   `json:"conversion_rate"`
}

func (r Repo) LeadStats(ctx context.Context, scope Predicate) (LeadStats, error) {
	counts, err := r.CountLeadsByStatus(ctx, scope)
	if err != nil {
		return LeadStats{}, err
	}
	s := LeadStats{StatusCounts: counts}
	q := `SELECT COUNT(*),
COALESCE(SUM(CASE WHEN converted_at IS NOT NULL THEN 1 ELSE 0 END),0),
COALESCE(SUM(CASE WHEN status='Won' THEN COALESCE(estimated_value,0) ELSE 0 END),0)
FROM leads`
	var args []any
	if scope.Where != "" {
		q += ` WHERE ` + scope.Where
		args = scope.Args
	}
	if err := r.DB.QueryRowContext(ctx, q, args...).Scan(&s.Total, &s.Converted, &s.WonValue); err != nil {
		return LeadStats{}, err
	}
	if s.Total > 0 {
		s.ConversionRate = float64(s.Converted) / float64(s.Total) * 100
	}
	return s, nil
}

func (r Repo) InsertLeadActivityTx(ctx context.Context, tx *sql.Tx, a domain.LeadActivity) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO lead_activities(lead_id,activity_type,subject,description,performed_by,performed_at) VALUES (?,?,?,?,?,?)`,
		a.LeadID, a.Type, a.Subject, nullable(a.Description), a.PerformedBy, a.PerformedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListLeadActivities(ctx context.Context, leadID int64) ([]domain.LeadActivity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,lead_id,activity_type,subject,COALESCE(description,''),performed_by,performed_at FROM lead_activities WHERE lead_id=? ORDER BY performed_at DESC, id DESC`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeadActivity
	for rows.Next() {
		var a domain.LeadActivity
		if err := rows.Scan(&a.ID, &a.LeadID, &a.Type, &a.Subject, &a.Description, &a.PerformedBy, &a.PerformedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertLeadNoteTx(ctx context.Context, tx *sql.Tx, n domain.LeadNote, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO lead_notes(lead_id,note,is_important,created_by,created_at) VALUES (?,?,?,?,?)`,
		n.LeadID, n.Note, n.IsImportant, n.CreatedBy, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListLeadNotes(ctx context.Context, leadID int64) ([]domain.LeadNote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,lead_id,note,is_important,created_by,created_at FROM lead_notes WHERE lead_id=? ORDER BY created_at DESC, id DESC`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeadNote
	for rows.Next() {
		var n domain.LeadNote
		if err := rows.Scan(&n.ID, &n.LeadID, &n.Note, &n.IsImportant, &n.CreatedBy, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
