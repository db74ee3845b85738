// Package queue is the at-least-once outbound message channel between the
// dispatch core and elastic-agent plugins. Posts are fire-and-forget; every
// message carries a time-to-live after which it expires undelivered rather
// than arriving late.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outbox stores outbound messages in the outbound_messages table.
type Outbox struct {
	db  *sql.DB
	now func() time.Time
}

func NewOutbox(db *sql.DB) *Outbox {
	return &Outbox{db: db, now: time.Now}
}

// Post enqueues a message for the plugin. A non-positive ttl produces a
// message that is already expired; it is recorded but never delivered.
func (o *Outbox) Post(ctx context.Context, topic Topic, pluginID string, payload any, ttl time.Duration) (string, error) {
	if pluginID == "" {
		return "", fmt.Errorf("plugin id is empty")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	id := uuid.NewString()
	now := o.now().UTC()
	_, err = o.db.ExecContext(ctx, `
INSERT INTO outbound_messages(id, topic, plugin_id, payload, status, attempt, created_at, expires_at)
VALUES(?, ?, ?, ?, ?, 0, ?, ?);
`, id, topic, pluginID, string(body), StatusPending,
		now.Format(time.RFC3339Nano), now.Add(ttl).Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("post %s message: %w", topic, err)
	}
	return id, nil
}

// Dequeue claims the oldest pending, unexpired message and increments its
// attempt counter. Messages for the given plugin ids are passed over, so a
// caller that saw a plugin fail can keep draining the others. Overdue messages
// encountered on the way are marked expired. Returns (nil, nil) when nothing
// is deliverable.
func (o *Outbox) Dequeue(ctx context.Context, skipPlugins ...string) (*Message, error) {
	now := o.now().UTC()
	nowS := now.Format(time.RFC3339Nano)

	if _, err := o.db.ExecContext(ctx, `
UPDATE outbound_messages SET status = ? WHERE status = ? AND expires_at <= ?;
`, StatusExpired, StatusPending, nowS); err != nil {
		return nil, fmt.Errorf("expire overdue messages: %w", err)
	}

	where := "status = ?"
	args := []any{StatusPending}
	if len(skipPlugins) > 0 {
		where += " AND plugin_id NOT IN (?" + strings.Repeat(",?", len(skipPlugins)-1) + ")"
		for _, id := range skipPlugins {
			args = append(args, id)
		}
	}

	row := o.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id FROM outbound_messages
  WHERE `+where+`
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE outbound_messages
SET attempt = attempt + 1
WHERE id IN (SELECT id FROM next)
RETURNING id, topic, plugin_id, payload, status, attempt, created_at, expires_at, delivered_at, last_error;
`, args...)

	var (
		m            Message
		topicS       string
		statusS      string
		payload      string
		createdAtS   string
		expiresAtS   string
		deliveredAtS sql.NullString
		lastError    sql.NullString
	)
	err := row.Scan(&m.ID, &topicS, &m.PluginID, &payload, &statusS, &m.Attempt, &createdAtS, &expiresAtS, &deliveredAtS, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue message: %w", err)
	}

	m.Topic = Topic(topicS)
	m.Status = Status(statusS)
	m.Payload = json.RawMessage(payload)
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		m.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, expiresAtS); err == nil {
		m.ExpiresAt = t
	}
	if lastError.Valid {
		m.LastError = &lastError.String
	}
	return &m, nil
}

// MarkDelivered records a successful delivery.
func (o *Outbox) MarkDelivered(ctx context.Context, id string) error {
	now := o.now().UTC().Format(time.RFC3339Nano)
	if _, err := o.db.ExecContext(ctx, `
UPDATE outbound_messages SET status = ?, delivered_at = ? WHERE id = ?;
`, StatusDelivered, now, id); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. The message stays pending and will be
// retried until it expires.
func (o *Outbox) MarkFailed(ctx context.Context, id string, deliveryErr error) error {
	msg := deliveryErr.Error()
	if _, err := o.db.ExecContext(ctx, `
UPDATE outbound_messages SET last_error = ? WHERE id = ?;
`, msg, id); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// PendingCount returns the number of undelivered, unexpired messages.
func (o *Outbox) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM outbound_messages WHERE status = ? AND expires_at > ?;
`, StatusPending, o.now().UTC().Format(time.RFC3339Nano)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending messages: %w", err)
	}
	return n, nil
}
