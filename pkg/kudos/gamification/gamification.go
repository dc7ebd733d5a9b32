// Package gamification layers levels, badges and rating snapshots on top
// of the ledger and the task lifecycle. It reacts to committed completion
// events; it never participates in the originating unit of work.
package gamification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/authz"
	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/store"
	"github.com/kudos-app/kudos/pkg/kudos/task"
)

// Score types a level ladder can rank on.
const (
	ScoreLifetimeBonus  = "lifetime_bonus"
	ScoreCurrentBalance = "current_balance"
	ScoreTasksCompleted = "tasks_completed"
)

// Level is one rung of a group's ladder.
type Level struct {
	ID        string          `json:"id"`
	GroupID   string          `json:"group_id"`
	Number    int             `json:"number"`
	Name      string          `json:"name"`
	Threshold decimal.Decimal `json:"threshold"`
	ScoreType string          `json:"score_type"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Notifier lets gamification enqueue notifications inside its own unit of
// work without importing the notification package.
type Notifier interface {
	Notify(ctx context.Context, uow *store.UnitOfWork, userID string, groupID *string, typeCode string, payload map[string]any) error
}

// Service owns levels, badges and ratings.
type Service struct {
	store    *store.Store
	dict     *dictionary.Resolver
	authz    *authz.Resolver
	notifier Notifier
	logger   *slog.Logger
}

// NewService wires the gamification service. notifier may be nil.
func NewService(st *store.Store, dict *dictionary.Resolver, az *authz.Resolver, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, dict: dict, authz: az, notifier: notifier,
		logger: logger.With("component", "gamification")}
}

// LevelInput carries level definition fields.
type LevelInput struct {
	Number    int             `validate:"required,min=1"`
	Name      string          `validate:"required,min=1,max=200"`
	Threshold decimal.Decimal `validate:"required"`
	ScoreType string          `validate:"omitempty,oneof=lifetime_bonus current_balance tasks_completed"`
}

// CreateLevel defines a level in the group's ladder.
func (s *Service) CreateLevel(ctx context.Context, actor authz.Actor, groupID string, in LevelInput) (*Level, error) {
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "level.create", Scope: authz.ScopeGroupAdmin},
		authz.Target{GroupID: groupID}); err != nil {
		return nil, err
	}
	if in.ScoreType == "" {
		in.ScoreType = ScoreLifetimeBonus
	}
	now := time.Now().UTC()
	l := &Level{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Number:    in.Number,
		Name:      in.Name,
		Threshold: in.Threshold,
		ScoreType: in.ScoreType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		_, err := uow.Exec(ctx, `
			INSERT INTO levels (id, group_id, number, name, threshold, score_type,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
			l.ID, l.GroupID, l.Number, l.Name, l.Threshold, l.ScoreType, now)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.Conflict("duplicate_level", "error.validation").Wrap(err)
			}
			return fmt.Errorf("gamification: insert level: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// CurrentLevel returns the user's current level in the group, or nil when
// no level has been reached yet.
func (s *Service) CurrentLevel(ctx context.Context, actor authz.Actor, groupID, userID string) (*Level, error) {
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "level.read", Scope: authz.ScopeSelf},
		authz.Target{GroupID: groupID, OwnerUserID: userID}); err != nil {
		return nil, err
	}
	var l Level
	var threshold string
	err := s.store.Pool().QueryRow(ctx, `
		SELECT l.id, l.group_id, l.number, l.name, l.threshold::text, l.score_type,
		       l.created_at, l.updated_at
		FROM user_levels ul
		JOIN levels l ON l.id = ul.level_id
		WHERE ul.user_id = $1 AND ul.group_id = $2 AND ul.is_current`,
		userID, groupID).
		Scan(&l.ID, &l.GroupID, &l.Number, &l.Name, &threshold, &l.ScoreType,
			&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("gamification: current level: %w", err)
	}
	if l.Threshold, err = decimal.NewFromString(threshold); err != nil {
		return nil, fmt.Errorf("gamification: parse threshold: %w", err)
	}
	return &l, nil
}

// TaskCompleted implements task.Publisher. Recomputes the user's level
// and evaluates badges after a completion commits. Failures are logged,
// never propagated; the completion already stands.
func (s *Service) TaskCompleted(ctx context.Context, ev task.CompletionEvent) {
	if ev.UserID == "" {
		return
	}
	if err := s.RecomputeLevel(ctx, ev.GroupID, ev.UserID); err != nil {
		s.logger.Error("level recompute failed", "user_id", ev.UserID,
			"group_id", ev.GroupID, "error", err)
	}
	if err := s.EvaluateBadges(ctx, ev.GroupID, ev.UserID); err != nil {
		s.logger.Error("badge evaluation failed", "user_id", ev.UserID,
			"group_id", ev.GroupID, "error", err)
	}
}

// RecomputeLevel resolves the highest level whose threshold the user's
// score meets and flips the is_current marker in one unit of work. A
// level drop is applied the same way; history rows are kept.
func (s *Service) RecomputeLevel(ctx context.Context, groupID, userID string) error {
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		rows, err := uow.Query(ctx, `
			SELECT id, number, name, threshold::text, score_type
			FROM levels WHERE group_id = $1
			ORDER BY number DESC`, groupID)
		if err != nil {
			return fmt.Errorf("gamification: load levels: %w", err)
		}
		type rung struct {
			id        string
			number    int
			name      string
			threshold decimal.Decimal
			scoreType string
		}
		var ladder []rung
		for rows.Next() {
			var r rung
			var threshold string
			if err := rows.Scan(&r.id, &r.number, &r.name, &threshold, &r.scoreType); err != nil {
				rows.Close()
				return fmt.Errorf("gamification: scan level: %w", err)
			}
			if r.threshold, err = decimal.NewFromString(threshold); err != nil {
				rows.Close()
				return fmt.Errorf("gamification: parse threshold: %w", err)
			}
			ladder = append(ladder, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("gamification: level rows: %w", err)
		}
		if len(ladder) == 0 {
			return nil
		}

		// Scores are cached per type so mixed ladders compute each once.
		scores := map[string]decimal.Decimal{}
		var reached *rung
		for i := range ladder {
			r := &ladder[i]
			score, ok := scores[r.scoreType]
			if !ok {
				if score, err = s.score(ctx, uow, groupID, userID, r.scoreType); err != nil {
					return err
				}
				scores[r.scoreType] = score
			}
			if score.GreaterThanOrEqual(r.threshold) {
				reached = r
				break
			}
		}
		if reached == nil {
			return nil
		}

		var currentLevelID string
		err = uow.QueryRow(ctx, `
			SELECT level_id FROM user_levels
			WHERE user_id = $1 AND group_id = $2 AND is_current
			FOR UPDATE`, userID, groupID).Scan(&currentLevelID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("gamification: current level row: %w", err)
		}
		if currentLevelID == reached.id {
			return nil
		}

		now := time.Now().UTC()
		if _, err := uow.Exec(ctx, `
			UPDATE user_levels SET is_current = FALSE, updated_at = $3
			WHERE user_id = $1 AND group_id = $2 AND is_current`,
			userID, groupID, now); err != nil {
			return fmt.Errorf("gamification: clear current level: %w", err)
		}
		if _, err := uow.Exec(ctx, `
			INSERT INTO user_levels (id, user_id, group_id, level_id, is_current,
				reached_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, TRUE, $5, $5, $5)`,
			uuid.NewString(), userID, groupID, reached.id, now); err != nil {
			return fmt.Errorf("gamification: insert user level: %w", err)
		}

		s.logger.Info("level changed", "user_id", userID, "group_id", groupID,
			"level", reached.number)
		if s.notifier != nil {
			return s.notifier.Notify(ctx, uow, userID, &groupID, "level_up", map[string]any{
				"level_number": reached.number,
				"level_name":   reached.name,
			})
		}
		return nil
	})
}

// score computes one score type for the user in the group.
func (s *Service) score(ctx context.Context, q store.Querier, groupID, userID, scoreType string) (decimal.Decimal, error) {
	switch scoreType {
	case ScoreCurrentBalance:
		var balance *string
		err := q.QueryRow(ctx, `
			SELECT SUM(balance)::text FROM accounts
			WHERE group_id = $1 AND user_id = $2`, groupID, userID).Scan(&balance)
		if err != nil {
			return decimal.Zero, fmt.Errorf("gamification: balance score: %w", err)
		}
		return parseNullDecimal(balance)
	case ScoreTasksCompleted:
		completedID, err := s.dict.ID(ctx, dictionary.KindTaskStatus, dictionary.TaskCompleted)
		if err != nil {
			return decimal.Zero, err
		}
		var n int64
		err = q.QueryRow(ctx, `
			SELECT COUNT(*) FROM task_completions c
			JOIN tasks t ON t.id = c.task_id
			WHERE t.group_id = $1 AND c.user_id = $2 AND c.status_id = $3`,
			groupID, userID, completedID).Scan(&n)
		if err != nil {
			return decimal.Zero, fmt.Errorf("gamification: completed score: %w", err)
		}
		return decimal.NewFromInt(n), nil
	default: // lifetime bonus: sum of credits, debits ignored
		var sum *string
		err := q.QueryRow(ctx, `
			SELECT SUM(tx.amount)::text
			FROM transactions tx
			JOIN accounts a ON a.id = tx.account_id
			WHERE a.group_id = $1 AND a.user_id = $2 AND tx.amount > 0`,
			groupID, userID).Scan(&sum)
		if err != nil {
			return decimal.Zero, fmt.Errorf("gamification: lifetime score: %w", err)
		}
		return parseNullDecimal(sum)
	}
}

func parseNullDecimal(s *string) (decimal.Decimal, error) {
	if s == nil {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("gamification: parse decimal: %w", err)
	}
	return d, nil
}
