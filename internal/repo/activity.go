package repo

import (
	"context"
	"strings"

	"opsline/internal/domain"
)

type ActivityFilters struct {
	EntityType string
	EntityID   int64
	UserID     int64
}

func (r Repo) ListActivity(ctx context.Context, f ActivityFilters, limit int) ([]domain.ActivityLog, error) {
	var (
		clauses []string
		args    []any
	)
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != 0 {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.UserID != 0 {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	q := `SELECT id,user_id,action,entity_type,entity_id,description,created_at FROM activity_logs`
	if len(clauses) > 0 {
		q += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	q += ` ORDER BY id DESC`
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q += ` LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityLog
	for rows.Next() {
		var a domain.ActivityLog
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &a.EntityType, &a.EntityID, &a.Description, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
