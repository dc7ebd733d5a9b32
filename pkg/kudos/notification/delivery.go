package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Retry policy: exponential backoff from 30s doubling to a 1h cap, six
// attempts total, then the delivery is parked as failed.
const (
	backoffBase = 30 * time.Second
	backoffCap  = time.Hour
	maxAttempts = 6
)

// backoffAfter returns the delay before the next attempt, given how many
// attempts have already been made.
func backoffAfter(attempts int) time.Duration {
	d := backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

// Delivery is one channel-specific send of a notification.
type Delivery struct {
	ID             string
	NotificationID string
	ChannelID      string
	ChannelCode    string
	Status         string
	Attempts       int
	NextAttemptAt  *time.Time
}

// Sender pushes a rendered notification out on one channel. The in-app
// channel needs no sender; the stored row is the delivery.
type Sender interface {
	Channel() string
	Send(ctx context.Context, n Notification, content *Rendered) (receipt string, err error)
}

// Dispatcher drains due deliveries. Runs as a scheduler job; competing
// instances coordinate through FOR UPDATE SKIP LOCKED.
type Dispatcher struct {
	queue   *Queue
	senders map[string]Sender
	logger  *slog.Logger

	db    store.Querier
	claim func(ctx context.Context, now time.Time, batchSize int) ([]Delivery, error)
}

// NewDispatcher wires the dispatcher with the available channel senders.
func NewDispatcher(q *Queue, senders ...Sender) *Dispatcher {
	byChannel := make(map[string]Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	d := &Dispatcher{
		queue:   q,
		senders: byChannel,
		logger:  q.logger,
		db:      q.store.Pool(),
	}
	d.claim = d.claimDue
	return d
}

// DispatchDue claims up to batchSize due deliveries, then sends them with
// no transaction open: the claim commits first, the provider call runs on
// its own, and each outcome is one atomic UPDATE. A slow or hung provider
// therefore never holds database locks. Returns the number handled.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	due, err := d.claim(ctx, now, batchSize)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, dl := range due {
		if err := d.deliver(ctx, dl, now); err != nil {
			d.logger.Error("delivery errored", "delivery_id", dl.ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// claimDue locks a batch of due deliveries and advances each one before
// any send happens: attempts counts the try about to be made and
// next_attempt_at already points at the retry slot, so a crash mid-send
// surfaces as a later retry instead of a stuck row.
func (d *Dispatcher) claimDue(ctx context.Context, now time.Time, batchSize int) ([]Delivery, error) {
	var due []Delivery
	err := d.queue.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		rows, err := uow.Query(ctx, `
			SELECT d.id, d.notification_id, d.channel_id, ch.code, d.status,
			       d.attempts, d.next_attempt_at
			FROM notification_deliveries d
			JOIN dictionaries ch ON ch.id = d.channel_id
			WHERE d.status = 'pending' AND d.next_attempt_at <= $1
			ORDER BY d.next_attempt_at
			LIMIT $2
			FOR UPDATE OF d SKIP LOCKED`, now, batchSize)
		if err != nil {
			return fmt.Errorf("notification: claim deliveries: %w", err)
		}
		for rows.Next() {
			var dl Delivery
			if err := rows.Scan(&dl.ID, &dl.NotificationID, &dl.ChannelID,
				&dl.ChannelCode, &dl.Status, &dl.Attempts, &dl.NextAttemptAt); err != nil {
				rows.Close()
				return fmt.Errorf("notification: scan delivery: %w", err)
			}
			due = append(due, dl)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("notification: delivery rows: %w", err)
		}

		for i := range due {
			due[i].Attempts++
			next := now.Add(backoffAfter(due[i].Attempts))
			if _, err := uow.Exec(ctx, `
				UPDATE notification_deliveries
				SET attempts = $2, next_attempt_at = $3, updated_at = $4
				WHERE id = $1`, due[i].ID, due[i].Attempts, next, now); err != nil {
				return fmt.Errorf("notification: advance delivery: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

func (d *Dispatcher) deliver(ctx context.Context, dl Delivery, now time.Time) error {
	// In-app deliveries are complete once the notification row exists.
	if dl.ChannelCode == dictionary.ChannelInApp {
		return d.recordSent(ctx, dl.ID, "", now)
	}

	n, err := d.loadNotification(ctx, dl.NotificationID)
	if err != nil {
		return err
	}
	var payload map[string]any
	if len(n.Payload) > 0 {
		if err := json.Unmarshal(n.Payload, &payload); err != nil {
			return d.recordFailure(ctx, dl, "bad payload: "+err.Error(), now)
		}
	}
	content, err := renderTemplate(ctx, d.db, n.TypeCode, dl.ChannelID,
		defaultLanguage, n.GroupID, payload)
	if err != nil {
		return err
	}

	sender, ok := d.senders[dl.ChannelCode]
	if !ok {
		return d.recordFailure(ctx, dl, "no sender for channel "+dl.ChannelCode, now)
	}
	receipt, err := sender.Send(ctx, *n, content)
	if err != nil {
		return d.recordFailure(ctx, dl, err.Error(), now)
	}
	return d.recordSent(ctx, dl.ID, receipt, now)
}

func (d *Dispatcher) loadNotification(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	err := d.db.QueryRow(ctx, `
		SELECT id, user_id, group_id, type_code, payload, is_read, created_at
		FROM notifications WHERE id = $1`, id).
		Scan(&n.ID, &n.UserID, &n.GroupID, &n.TypeCode, &n.Payload, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("notification: load: %w", err)
	}
	return &n, nil
}

func (d *Dispatcher) recordSent(ctx context.Context, deliveryID, receipt string, now time.Time) error {
	var receiptCol *string
	if receipt != "" {
		receiptCol = &receipt
	}
	_, err := d.db.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'sent', provider_receipt = $2, next_attempt_at = NULL,
		    last_error = NULL, updated_at = $3
		WHERE id = $1`, deliveryID, receiptCol, now)
	if err != nil {
		return fmt.Errorf("notification: mark sent: %w", err)
	}
	return nil
}

// recordFailure stores the error. The retry slot was written at claim
// time, so a retriable failure only needs the reason; the delivery parks
// as failed once attempts are exhausted.
func (d *Dispatcher) recordFailure(ctx context.Context, dl Delivery, reason string, now time.Time) error {
	if dl.Attempts >= maxAttempts {
		_, err := d.db.Exec(ctx, `
			UPDATE notification_deliveries
			SET status = 'failed', last_error = $2, next_attempt_at = NULL, updated_at = $3
			WHERE id = $1`, dl.ID, reason, now)
		if err != nil {
			return fmt.Errorf("notification: mark failed: %w", err)
		}
		d.logger.Warn("delivery dead", "delivery_id", dl.ID, "error", reason)
		return nil
	}
	_, err := d.db.Exec(ctx, `
		UPDATE notification_deliveries SET last_error = $2, updated_at = $3
		WHERE id = $1`, dl.ID, reason, now)
	if err != nil {
		return fmt.Errorf("notification: schedule retry: %w", err)
	}
	return nil
}

// LogSender writes deliveries to the log instead of an external provider.
// Stands in for channels with no configured integration.
type LogSender struct {
	ChannelCode string
	Queue       *Queue
}

func (s LogSender) Channel() string { return s.ChannelCode }

func (s LogSender) Send(_ context.Context, n Notification, content *Rendered) (string, error) {
	subject := ""
	if content != nil {
		subject = content.Subject
	}
	s.Queue.logger.Info("delivery (log sender)", "channel", s.ChannelCode,
		"notification_id", n.ID, "user_id", n.UserID, "type", n.TypeCode,
		"subject", subject)
	return "log:" + n.ID, nil
}
