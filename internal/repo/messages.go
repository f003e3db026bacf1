package repo

import (
	"context"
	"fmt"
)

// InsertMessage stores a message record. The external message ID is the
// idempotency key: a duplicate insert is reported via the bool, not an error,
// so at-least-once webhook delivery never produces double replies.
func (r *PostgresRepository) InsertMessage(ctx context.Context, msg MessageRecord) (bool, error) {
	const q = `
INSERT INTO messages (external_id, user_id, direction, kind, content, media_url, delivery_status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (external_id) DO NOTHING;`

	ct, err := r.pool.Exec(ctx, q,
		msg.ExternalID,
		msg.UserID,
		string(msg.Direction),
		string(msg.Kind),
		msg.Content,
		msg.MediaURL,
		string(msg.DeliveryStatus),
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ListRecentMessages returns the latest messages exchanged with the user,
// most recent first. Callers reverse for chronological display.
func (r *PostgresRepository) ListRecentMessages(ctx context.Context, userID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT external_id, direction, kind, content, media_url, delivery_status, created_at
FROM messages
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;`

	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		var msg MessageRecord
		var direction, kind, status string
		if err := rows.Scan(&msg.ExternalID, &direction, &kind, &msg.Content, &msg.MediaURL, &status, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		msg.UserID = userID
		msg.Direction = Direction(direction)
		msg.Kind = MessageKind(kind)
		msg.DeliveryStatus = DeliveryStatus(status)
		records = append(records, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}
	return records, nil
}

// UpdateMessageStatus applies a forward-only delivery-status transition to an
// outgoing message. Unknown IDs, incoming messages and backwards or duplicate
// transitions are reported as not-applied, never as errors.
func (r *PostgresRepository) UpdateMessageStatus(ctx context.Context, externalID string, status DeliveryStatus) (bool, error) {
	if StatusRank(status) < 0 {
		return false, fmt.Errorf("unknown delivery status: %s", status)
	}
	const q = `
UPDATE messages
SET delivery_status = $2,
    updated_at = NOW()
WHERE external_id = $1
  AND direction = 'outgoing'
  AND CASE delivery_status
        WHEN 'received' THEN 0
        WHEN 'sent' THEN 1
        WHEN 'delivered' THEN 2
        WHEN 'read' THEN 3
        WHEN 'failed' THEN 4
      END
    < CASE $2
        WHEN 'received' THEN 0
        WHEN 'sent' THEN 1
        WHEN 'delivered' THEN 2
        WHEN 'read' THEN 3
        WHEN 'failed' THEN 4
      END;`

	ct, err := r.pool.Exec(ctx, q, externalID, string(status))
	if err != nil {
		return false, fmt.Errorf("update message status: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
