// Package dictionary resolves stable string codes to persisted dictionary
// ids. Lookups go through an in-process read-through cache; the cache is
// safe for concurrent use and invalidated explicitly on mutation.
package dictionary

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Dictionary kinds.
const (
	KindRole                = "role"
	KindUserType            = "user_type"
	KindTaskStatus          = "task_status"
	KindTaskType            = "task_type"
	KindInvitationStatus    = "invitation_status"
	KindTransactionType     = "transaction_type"
	KindNotificationChannel = "notification_channel"
	KindGroupType           = "group_type"
	KindBonusType           = "bonus_type"
)

// Stable codes, referenced from code and persisted data. Case preserved.
const (
	RoleSuperadmin = "superadmin"
	RoleGroupAdmin = "group_admin"
	RoleGroupUser  = "group_user"

	UserTypeSuperadmin = "superadmin"
	UserTypeAdmin      = "admin"
	UserTypeUser       = "user"
	UserTypeBot        = "bot"

	TaskNew           = "task_new"
	TaskInProgress    = "task_in_progress"
	TaskPendingReview = "task_pending_review"
	TaskCompleted     = "task_completed"
	TaskRejected      = "task_rejected"
	TaskCancelled     = "task_cancelled"
	TaskBlocked       = "task_blocked"

	InvitePending   = "invite_pending"
	InviteAccepted  = "invite_accepted"
	InviteRejected  = "invite_rejected"
	InviteExpired   = "invite_expired"
	InviteCancelled = "invite_cancelled"

	TxTaskReward             = "TASK_REWARD"
	TxTaskPenalty            = "TASK_PENALTY"
	TxRewardPurchase         = "REWARD_PURCHASE"
	TxManualCredit           = "MANUAL_CREDIT"
	TxManualDebit            = "MANUAL_DEBIT"
	TxStreakBonus            = "STREAK_BONUS"
	TxInitialBalance         = "INITIAL_BALANCE"
	TxSystemAdjustmentCredit = "SYSTEM_ADJUSTMENT_CREDIT"
	TxSystemAdjustmentDebit  = "SYSTEM_ADJUSTMENT_DEBIT"

	ChannelInApp    = "IN_APP"
	ChannelEmail    = "EMAIL"
	ChannelSMS      = "SMS"
	ChannelPushFCM  = "PUSH_FCM"
	ChannelPushAPNS = "PUSH_APNS"
	ChannelTelegram = "TELEGRAM_BOT"
	ChannelSlack    = "SLACK"
)

// seedCodes lists every code inserted by Seed, per kind.
var seedCodes = map[string][]string{
	KindRole:     {RoleSuperadmin, RoleGroupAdmin, RoleGroupUser},
	KindUserType: {UserTypeSuperadmin, UserTypeAdmin, UserTypeUser, UserTypeBot},
	KindTaskStatus: {
		TaskNew, TaskInProgress, TaskPendingReview,
		TaskCompleted, TaskRejected, TaskCancelled, TaskBlocked,
	},
	KindTaskType: {"chore", "event", "penalty"},
	KindInvitationStatus: {
		InvitePending, InviteAccepted, InviteRejected, InviteExpired, InviteCancelled,
	},
	KindTransactionType: {
		TxTaskReward, TxTaskPenalty, TxRewardPurchase, TxManualCredit,
		TxManualDebit, TxStreakBonus, TxInitialBalance,
		TxSystemAdjustmentCredit, TxSystemAdjustmentDebit,
	},
	KindNotificationChannel: {
		ChannelInApp, ChannelEmail, ChannelSMS, ChannelPushFCM,
		ChannelPushAPNS, ChannelTelegram, ChannelSlack,
	},
	KindGroupType: {"family", "department", "organization"},
	KindBonusType: {"points"},
}

const cacheTTL = 10 * time.Minute

type cacheEntry struct {
	byCode map[string]string // code → id
	byID   map[string]string // id → code
	loaded time.Time
}

// Resolver is the read-through cache over the dictionaries table.
type Resolver struct {
	db     store.Querier
	logger *slog.Logger

	mu    sync.RWMutex
	kinds map[string]*cacheEntry
}

// NewResolver builds a Resolver reading through db (normally the pool).
func NewResolver(db store.Querier, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		db:     db,
		logger: logger.With("component", "dictionary"),
		kinds:  make(map[string]*cacheEntry),
	}
}

// ID resolves (kind, code) to the persisted dictionary id.
func (r *Resolver) ID(ctx context.Context, kind, code string) (string, error) {
	entry, err := r.load(ctx, kind)
	if err != nil {
		return "", err
	}
	id, ok := entry.byCode[code]
	if !ok {
		return "", apperr.ErrNotFound.WithMeta("dictionary", kind+"/"+code)
	}
	return id, nil
}

// Code resolves a dictionary id back to its stable code.
func (r *Resolver) Code(ctx context.Context, kind, id string) (string, error) {
	entry, err := r.load(ctx, kind)
	if err != nil {
		return "", err
	}
	code, ok := entry.byID[id]
	if !ok {
		return "", apperr.ErrNotFound.WithMeta("dictionary_id", id)
	}
	return code, nil
}

// Invalidate drops the whole cache. Call after any dictionary mutation.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.kinds = make(map[string]*cacheEntry)
	r.mu.Unlock()
}

func (r *Resolver) load(ctx context.Context, kind string) (*cacheEntry, error) {
	r.mu.RLock()
	entry, ok := r.kinds[kind]
	r.mu.RUnlock()
	if ok && time.Since(entry.loaded) < cacheTTL {
		return entry, nil
	}

	rows, err := r.db.Query(ctx, `SELECT id, code FROM dictionaries WHERE kind = $1`, kind)
	if err != nil {
		return nil, fmt.Errorf("dictionary: load %s: %w", kind, err)
	}
	defer rows.Close()

	fresh := &cacheEntry{
		byCode: make(map[string]string),
		byID:   make(map[string]string),
		loaded: time.Now(),
	}
	for rows.Next() {
		var id, code string
		if err := rows.Scan(&id, &code); err != nil {
			return nil, fmt.Errorf("dictionary: scan: %w", err)
		}
		fresh.byCode[code] = id
		fresh.byID[id] = code
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dictionary: rows: %w", err)
	}

	r.mu.Lock()
	r.kinds[kind] = fresh
	r.mu.Unlock()
	return fresh, nil
}

// Seed inserts every stable code idempotently: missing codes are added,
// existing rows are left untouched.
func Seed(ctx context.Context, q store.Querier, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now().UTC()
	inserted := 0
	for kind, codes := range seedCodes {
		for _, code := range codes {
			tag, err := q.Exec(ctx, `
				INSERT INTO dictionaries (id, kind, code, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $4)
				ON CONFLICT (kind, code) DO NOTHING`,
				uuid.NewString(), kind, code, now)
			if err != nil {
				return fmt.Errorf("dictionary: seed %s/%s: %w", kind, code, err)
			}
			inserted += int(tag.RowsAffected())
		}
	}
	logger.Info("dictionaries seeded", "inserted", inserted)
	return nil
}

// Lookup is a convenience for code→id lookup with a not-found override,
// used when a missing code means bad input rather than a missing resource.
func (r *Resolver) Lookup(ctx context.Context, kind, code string) (string, error) {
	id, err := r.ID(ctx, kind, code)
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return "", apperr.Validation("error.validation").WithMeta("unknown_code", code)
		}
		return "", err
	}
	return id, nil
}
