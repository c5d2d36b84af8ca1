package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// RecordAdminAction appends an audit row for a state-changing admin action.
// It runs against whatever transaction the action itself runs in, so the
// audit trail and the change commit or roll back together.
func RecordAdminAction(ctx context.Context, q execer, actorID, action, targetType string, targetID int64, details interface{}) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO admin_logs (actor_id, action, target_type, target_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		actorID, action, targetType, targetID, payload)
	if err != nil {
		return fmt.Errorf("record admin action: %w", err)
	}

	return nil
}
