package gamification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kudos-app/kudos/pkg/kudos/authz"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Rating snapshot types.
const (
	RatingLifetimeBonus  = ScoreLifetimeBonus
	RatingTasksCompleted = ScoreTasksCompleted
)

// RatingEntry is one row of a leaderboard snapshot.
type RatingEntry struct {
	UserID       string          `json:"user_id"`
	Score        decimal.Decimal `json:"score"`
	SnapshotDate time.Time       `json:"snapshot_date"`
}

// SnapshotRatings writes dated leaderboard snapshots for every active
// member of every group. Re-running on the same date refreshes the score
// instead of duplicating rows. Scheduler job, runs under the system bot.
func (s *Service) SnapshotRatings(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.store.Pool().Query(ctx, `
		SELECT m.group_id, m.user_id FROM group_memberships m
		JOIN groups g ON g.id = m.group_id
		WHERE m.is_active AND NOT g.is_deleted
		ORDER BY m.group_id, m.user_id`)
	if err != nil {
		return 0, fmt.Errorf("gamification: active members: %w", err)
	}
	type member struct{ groupID, userID string }
	var members []member
	for rows.Next() {
		var m member
		if err := rows.Scan(&m.groupID, &m.userID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("gamification: scan member: %w", err)
		}
		members = append(members, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("gamification: member rows: %w", err)
	}

	date := now.UTC().Truncate(24 * time.Hour)
	written := 0
	for _, m := range members {
		for _, ratingType := range []string{RatingLifetimeBonus, RatingTasksCompleted} {
			score, err := s.score(ctx, s.store.Pool(), m.groupID, m.userID, ratingType)
			if err != nil {
				s.logger.Error("rating score failed", "group_id", m.groupID,
					"user_id", m.userID, "error", err)
				continue
			}
			_, err = s.store.Pool().Exec(ctx, `
				INSERT INTO ratings (id, user_id, group_id, rating_type_code,
					score, snapshot_date, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (user_id, group_id, rating_type_code, snapshot_date)
				DO UPDATE SET score = EXCLUDED.score`,
				uuid.NewString(), m.userID, m.groupID, ratingType, score, date, now.UTC())
			if err != nil {
				s.logger.Error("rating snapshot failed", "group_id", m.groupID,
					"user_id", m.userID, "error", err)
				continue
			}
			written++
		}
	}
	return written, nil
}

// Leaderboard returns the latest snapshot for the group and rating type,
// highest score first.
func (s *Service) Leaderboard(ctx context.Context, actor authz.Actor, groupID, ratingType string, page store.Page) (store.Paginated[RatingEntry], error) {
	var empty store.Paginated[RatingEntry]
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "rating.read", Scope: authz.ScopeMember},
		authz.Target{GroupID: groupID}); err != nil {
		return empty, err
	}
	page = page.Normalize()

	var latest *time.Time
	err := s.store.Pool().QueryRow(ctx, `
		SELECT MAX(snapshot_date) FROM ratings
		WHERE group_id = $1 AND rating_type_code = $2`,
		groupID, ratingType).Scan(&latest)
	if err != nil {
		return empty, fmt.Errorf("gamification: latest snapshot: %w", err)
	}
	if latest == nil {
		return store.NewPaginated([]RatingEntry{}, 0, page), nil
	}

	var total int
	if err := s.store.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM ratings
		WHERE group_id = $1 AND rating_type_code = $2 AND snapshot_date = $3`,
		groupID, ratingType, *latest).Scan(&total); err != nil {
		return empty, fmt.Errorf("gamification: count ratings: %w", err)
	}

	rows, err := s.store.Pool().Query(ctx, `
		SELECT user_id, score::text, snapshot_date FROM ratings
		WHERE group_id = $1 AND rating_type_code = $2 AND snapshot_date = $3
		ORDER BY score DESC, user_id
		LIMIT $4 OFFSET $5`,
		groupID, ratingType, *latest, page.Limit(), page.Offset())
	if err != nil {
		return empty, fmt.Errorf("gamification: leaderboard: %w", err)
	}
	defer rows.Close()

	var items []RatingEntry
	for rows.Next() {
		var e RatingEntry
		var score string
		if err := rows.Scan(&e.UserID, &score, &e.SnapshotDate); err != nil {
			return empty, fmt.Errorf("gamification: scan rating: %w", err)
		}
		if e.Score, err = decimal.NewFromString(score); err != nil {
			return empty, fmt.Errorf("gamification: parse score: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return empty, fmt.Errorf("gamification: rating rows: %w", err)
	}
	return store.NewPaginated(items, total, page), nil
}
