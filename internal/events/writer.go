package events

import (
	"context"
	"database/sql"
	"time"
)

// Writer appends rows to the activity log. Every state change goes
// through it inside the same transaction as the change itself.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, userID int64, action, entityType string, entityID int64, description string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO activity_logs(user_id,action,entity_type,entity_id,description,created_at) VALUES (?,?,?,?,?,?)`,
		userID, action, entityType, entityID, description, ts)
	return err
}
