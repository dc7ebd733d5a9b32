// Package notification owns the durable notification queue: one
// notification row per event, one delivery row per channel, delivered by
// a background worker with exponential backoff.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/authz"
	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Notification type codes used across the services.
const (
	TypeEmailVerification = "email_verification"
	TypePasswordReset     = "password_reset"
	TypeLevelUp           = "level_up"
	TypeBadgeAwarded      = "badge_awarded"
	TypeTaskAssigned      = "task_assigned"
	TypeTaskReviewed      = "task_reviewed"
	TypeInvitation        = "invitation"
)

// Notification is the stored in-app record; deliveries fan out from it.
type Notification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	GroupID   *string         `json:"group_id,omitempty"`
	TypeCode  string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	IsRead    bool            `json:"is_read"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues notifications and serves the in-app inbox.
type Queue struct {
	store  *store.Store
	dict   *dictionary.Resolver
	logger *slog.Logger
}

// NewQueue wires the notification queue.
func NewQueue(st *store.Store, dict *dictionary.Resolver, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: st, dict: dict, logger: logger.With("component", "notification")}
}

// EnqueueInput describes one notification and its target channels.
type EnqueueInput struct {
	UserID   string
	GroupID  *string
	TypeCode string
	Payload  map[string]any
	Channels []string // dictionary channel codes; defaults to IN_APP
}

// Enqueue inserts the notification and one pending delivery per channel
// inside the caller's unit of work, so domain writes and their
// notifications commit together.
func (q *Queue) Enqueue(ctx context.Context, uow *store.UnitOfWork, in EnqueueInput) error {
	if len(in.Channels) == 0 {
		in.Channels = []string{dictionary.ChannelInApp}
	}
	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return fmt.Errorf("notification: marshal payload: %w", err)
	}

	now := time.Now().UTC()
	notificationID := uuid.NewString()
	_, err = uow.Exec(ctx, `
		INSERT INTO notifications (id, user_id, group_id, type_code, payload,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		notificationID, in.UserID, in.GroupID, in.TypeCode, payload, now)
	if err != nil {
		return fmt.Errorf("notification: insert: %w", err)
	}

	for _, channel := range in.Channels {
		channelID, err := q.dict.ID(ctx, dictionary.KindNotificationChannel, channel)
		if err != nil {
			return err
		}
		_, err = uow.Exec(ctx, `
			INSERT INTO notification_deliveries (id, notification_id, channel_id,
				status, attempts, next_attempt_at, created_at, updated_at)
			VALUES ($1, $2, $3, 'pending', 0, $4, $4, $4)`,
			uuid.NewString(), notificationID, channelID, now)
		if err != nil {
			return fmt.Errorf("notification: insert delivery: %w", err)
		}
	}
	return nil
}

// Notify implements the gamification notifier contract.
func (q *Queue) Notify(ctx context.Context, uow *store.UnitOfWork, userID string, groupID *string, typeCode string, payload map[string]any) error {
	return q.Enqueue(ctx, uow, EnqueueInput{
		UserID:   userID,
		GroupID:  groupID,
		TypeCode: typeCode,
		Payload:  payload,
	})
}

// EnqueueVerification implements the identity notifier contract: the
// verification link goes out by email, with an in-app copy.
func (q *Queue) EnqueueVerification(ctx context.Context, uow *store.UnitOfWork, userID, email, token string) error {
	return q.Enqueue(ctx, uow, EnqueueInput{
		UserID:   userID,
		TypeCode: TypeEmailVerification,
		Payload:  map[string]any{"email": email, "token": token},
		Channels: []string{dictionary.ChannelEmail, dictionary.ChannelInApp},
	})
}

// EnqueuePasswordReset implements the identity notifier contract.
func (q *Queue) EnqueuePasswordReset(ctx context.Context, uow *store.UnitOfWork, userID, email, token string) error {
	return q.Enqueue(ctx, uow, EnqueueInput{
		UserID:   userID,
		TypeCode: TypePasswordReset,
		Payload:  map[string]any{"email": email, "token": token},
		Channels: []string{dictionary.ChannelEmail},
	})
}

// List returns one page of the user's in-app notifications, newest first.
// Users read only their own inbox.
func (q *Queue) List(ctx context.Context, actor authz.Actor, userID string, unreadOnly bool, page store.Page) (store.Paginated[Notification], error) {
	var empty store.Paginated[Notification]
	if actor.UserID != userID && !actor.IsSuperadmin() {
		return empty, apperr.Forbidden("notifications.read", "error.denied")
	}
	page = page.Normalize()

	filter := ""
	if unreadOnly {
		filter = " AND NOT is_read"
	}
	var total int
	if err := q.store.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1`+filter, userID).Scan(&total); err != nil {
		return empty, fmt.Errorf("notification: count: %w", err)
	}

	rows, err := q.store.Pool().Query(ctx, `
		SELECT id, user_id, group_id, type_code, payload, is_read, created_at
		FROM notifications
		WHERE user_id = $1`+filter+`
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, page.Limit(), page.Offset())
	if err != nil {
		return empty, fmt.Errorf("notification: list: %w", err)
	}
	defer rows.Close()

	var items []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.GroupID, &n.TypeCode,
			&n.Payload, &n.IsRead, &n.CreatedAt); err != nil {
			return empty, fmt.Errorf("notification: scan: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return empty, fmt.Errorf("notification: rows: %w", err)
	}
	return store.NewPaginated(items, total, page), nil
}

// MarkRead flags one of the user's notifications as read. Idempotent.
func (q *Queue) MarkRead(ctx context.Context, actor authz.Actor, notificationID string) error {
	tag, err := q.store.Pool().Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, updated_at = $3
		WHERE id = $1 AND user_id = $2`,
		notificationID, actor.UserID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("notification: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
