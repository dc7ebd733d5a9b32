package gamification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Badge condition types. condition_details carries the numbers.
const (
	CondTasksCompleted = "tasks_completed" // {"count": N}
	CondBalanceReached = "balance_reached" // {"amount": "N"}
	CondStreakReached  = "streak_reached"  // {"task_id": "...", "length": N}
)

// Badge is an awardable achievement definition. A nil GroupID makes it
// global.
type Badge struct {
	ID               string          `json:"id"`
	GroupID          *string         `json:"group_id,omitempty"`
	Name             string          `json:"name"`
	ConditionType    string          `json:"condition_type"`
	ConditionDetails json.RawMessage `json:"condition_details"`
	IsRepeatable     bool            `json:"is_repeatable"`
	IsEnabled        bool            `json:"is_enabled"`
}

type badgeCondition struct {
	Count         int    `json:"count"`
	Amount        string `json:"amount"`
	TaskID        string `json:"task_id"`
	Length        int    `json:"length"`
	CooldownHours int    `json:"cooldown_hours"`
}

// EvaluateBadges checks every enabled badge visible to the group against
// the user's record and awards what newly matches. Non-repeatable badges
// award once; repeatable ones honor an optional cooldown.
func (s *Service) EvaluateBadges(ctx context.Context, groupID, userID string) error {
	rows, err := s.store.Pool().Query(ctx, `
		SELECT id, group_id, name, condition_type_code, condition_details, is_repeatable
		FROM badges
		WHERE is_enabled AND (group_id IS NULL OR group_id = $1)`, groupID)
	if err != nil {
		return fmt.Errorf("gamification: load badges: %w", err)
	}
	var badges []Badge
	for rows.Next() {
		var b Badge
		if err := rows.Scan(&b.ID, &b.GroupID, &b.Name, &b.ConditionType,
			&b.ConditionDetails, &b.IsRepeatable); err != nil {
			rows.Close()
			return fmt.Errorf("gamification: scan badge: %w", err)
		}
		badges = append(badges, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("gamification: badge rows: %w", err)
	}

	for _, b := range badges {
		if err := s.evaluateBadge(ctx, b, groupID, userID); err != nil {
			s.logger.Error("badge check failed", "badge_id", b.ID,
				"user_id", userID, "error", err)
		}
	}
	return nil
}

func (s *Service) evaluateBadge(ctx context.Context, b Badge, groupID, userID string) error {
	var cond badgeCondition
	if err := json.Unmarshal(b.ConditionDetails, &cond); err != nil {
		return fmt.Errorf("gamification: badge %s condition: %w", b.ID, err)
	}

	met, err := s.conditionMet(ctx, b.ConditionType, cond, groupID, userID)
	if err != nil || !met {
		return err
	}

	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		var lastAwarded *time.Time
		err := uow.QueryRow(ctx, `
			SELECT MAX(awarded_at) FROM achievements
			WHERE user_id = $1 AND badge_id = $2`, userID, b.ID).Scan(&lastAwarded)
		if err != nil {
			return fmt.Errorf("gamification: last award: %w", err)
		}
		if lastAwarded != nil {
			if !b.IsRepeatable {
				return nil
			}
			if cond.CooldownHours > 0 &&
				time.Since(*lastAwarded) < time.Duration(cond.CooldownHours)*time.Hour {
				return nil
			}
		}

		now := time.Now().UTC()
		_, err = uow.Exec(ctx, `
			INSERT INTO achievements (id, user_id, badge_id, group_id, awarded_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $5)`,
			uuid.NewString(), userID, b.ID, b.GroupID, now)
		if err != nil {
			return fmt.Errorf("gamification: insert achievement: %w", err)
		}
		s.logger.Info("badge awarded", "badge_id", b.ID, "user_id", userID)
		if s.notifier != nil {
			return s.notifier.Notify(ctx, uow, userID, b.GroupID, "badge_awarded", map[string]any{
				"badge_id":   b.ID,
				"badge_name": b.Name,
			})
		}
		return nil
	})
}

func (s *Service) conditionMet(ctx context.Context, condType string, cond badgeCondition, groupID, userID string) (bool, error) {
	switch condType {
	case CondTasksCompleted:
		score, err := s.score(ctx, s.store.Pool(), groupID, userID, ScoreTasksCompleted)
		if err != nil {
			return false, err
		}
		return score.GreaterThanOrEqual(decimal.NewFromInt(int64(cond.Count))), nil

	case CondBalanceReached:
		want, err := decimal.NewFromString(cond.Amount)
		if err != nil {
			return false, fmt.Errorf("gamification: badge amount: %w", err)
		}
		score, err := s.score(ctx, s.store.Pool(), groupID, userID, ScoreCurrentBalance)
		if err != nil {
			return false, err
		}
		return score.GreaterThanOrEqual(want), nil

	case CondStreakReached:
		completedID, err := s.dict.ID(ctx, dictionary.KindTaskStatus, dictionary.TaskCompleted)
		if err != nil {
			return false, err
		}
		rows, err := s.store.Pool().Query(ctx, `
			SELECT status_id FROM task_completions
			WHERE task_id = $1 AND user_id = $2
			ORDER BY created_at DESC`, cond.TaskID, userID)
		if err != nil {
			return false, fmt.Errorf("gamification: streak history: %w", err)
		}
		defer rows.Close()
		streak := 0
		for rows.Next() {
			var statusID string
			if err := rows.Scan(&statusID); err != nil {
				return false, fmt.Errorf("gamification: scan streak: %w", err)
			}
			if statusID != completedID {
				break
			}
			streak++
		}
		if err := rows.Err(); err != nil {
			return false, fmt.Errorf("gamification: streak rows: %w", err)
		}
		return streak >= cond.Length, nil

	default:
		s.logger.Warn("unknown badge condition", "condition_type", condType)
		return false, nil
	}
}

// Achievement is one awarded badge instance.
type Achievement struct {
	ID        string    `json:"id"`
	BadgeID   string    `json:"badge_id"`
	BadgeName string    `json:"badge_name"`
	GroupID   *string   `json:"group_id,omitempty"`
	AwardedAt time.Time `json:"awarded_at"`
}

// ListAchievements returns the user's achievements, newest first.
func (s *Service) ListAchievements(ctx context.Context, userID string) ([]Achievement, error) {
	rows, err := s.store.Pool().Query(ctx, `
		SELECT a.id, a.badge_id, b.name, a.group_id, a.awarded_at
		FROM achievements a
		JOIN badges b ON b.id = a.badge_id
		WHERE a.user_id = $1
		ORDER BY a.awarded_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("gamification: list achievements: %w", err)
	}
	defer rows.Close()
	var items []Achievement
	for rows.Next() {
		var a Achievement
		if err := rows.Scan(&a.ID, &a.BadgeID, &a.BadgeName, &a.GroupID, &a.AwardedAt); err != nil {
			return nil, fmt.Errorf("gamification: scan achievement: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gamification: achievement rows: %w", err)
	}
	return items, nil
}
