// Package task implements the task lifecycle: creation, assignment,
// dependencies, the completion state machine, recurrence, and settlement
// into the bonus ledger.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Task is the primary unit of work. Its type code decides whether it
// behaves as a chore, an event, or a penalty; one row type covers all.
type Task struct {
	ID                      string           `json:"id"`
	GroupID                 string           `json:"group_id"`
	TaskTypeID              string           `json:"-"`
	TaskTypeCode            string           `json:"task_type"`
	CreatedBy               string           `json:"created_by"`
	ParentTaskID            *string          `json:"parent_task_id,omitempty"`
	TeamID                  *string          `json:"team_id,omitempty"`
	Title                   string           `json:"title"`
	Description             *string          `json:"description,omitempty"`
	StatusID                string           `json:"-"`
	StatusCode              string           `json:"status"`
	BonusPoints             decimal.Decimal  `json:"bonus_points"`
	PenaltyPoints           decimal.Decimal  `json:"penalty_points"`
	DueDate                 *time.Time       `json:"due_date,omitempty"`
	IsRecurring             bool             `json:"is_recurring"`
	RecurringInterval       *int64           `json:"recurring_interval,omitempty"` // seconds
	MaxOccurrences          *int             `json:"max_occurrences,omitempty"`
	OccurrenceCount         int              `json:"occurrence_count"`
	IsMandatory             bool             `json:"is_mandatory"`
	AllowMultipleAssignees  bool             `json:"allow_multiple_assignees"`
	FirstCompletesGetsBonus bool             `json:"first_completes_gets_bonus"`
	StreakTaskID            *string          `json:"streak_task_id,omitempty"`
	StreakThreshold         *int             `json:"streak_threshold,omitempty"`
	StreakBonusPoints       *decimal.Decimal `json:"streak_bonus_points,omitempty"`
	Notes                   *string          `json:"notes,omitempty"`
	IsDeleted               bool             `json:"-"`
	CreatedAt               time.Time        `json:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at"`
}

// Assignee is the sum type over (user, team); exactly one side is set.
type Assignee struct {
	UserID *string `json:"user_id,omitempty"`
	TeamID *string `json:"team_id,omitempty"`
}

// Valid reports whether exactly one side is set.
func (a Assignee) Valid() bool {
	return (a.UserID != nil) != (a.TeamID != nil)
}

// Assignment links a task to an assignee.
type Assignment struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	Assignee   Assignee  `json:"assignee"`
	AssignedBy string    `json:"assigned_by"`
	StatusID   *string   `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Completion is one execution attempt; the state-machine carrier.
type Completion struct {
	ID                   string           `json:"id"`
	TaskID               string           `json:"task_id"`
	Assignee             Assignee         `json:"assignee"`
	StatusID             string           `json:"-"`
	StatusCode           string           `json:"status"`
	StartedAt            time.Time        `json:"started_at"`
	SubmittedForReviewAt *time.Time       `json:"submitted_for_review_at,omitempty"`
	ReviewedAt           *time.Time       `json:"reviewed_at,omitempty"`
	ReviewedBy           *string          `json:"reviewed_by,omitempty"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
	ReviewNotes          *string          `json:"review_notes,omitempty"`
	AwardedBonus         *decimal.Decimal `json:"awarded_bonus,omitempty"`
	AppliedPenalty       *decimal.Decimal `json:"applied_penalty,omitempty"`
	Attachments          []byte           `json:"-"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Dependency links dependent → prerequisite, finish-to-start.
type Dependency struct {
	ID                 string    `json:"id"`
	DependentTaskID    string    `json:"dependent_task_id"`
	PrerequisiteTaskID string    `json:"prerequisite_task_id"`
	DependencyType     string    `json:"dependency_type"`
	CreatedAt          time.Time `json:"created_at"`
}

// Review is a rating and/or comment on a task, unique per (task, user).
type Review struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	Rating    *int      `json:"rating,omitempty"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const taskColumns = `id, group_id, task_type_id, created_by, parent_task_id, team_id,
	title, description, status_id, bonus_points::text, penalty_points::text,
	due_date, is_recurring, recurring_interval, max_occurrences, occurrence_count,
	is_mandatory, allow_multiple_assignees, first_completes_gets_bonus,
	streak_task_id, streak_threshold, streak_bonus_points::text, notes,
	is_deleted, created_at, updated_at`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var bonus, penalty string
	var streakBonus *string
	err := row.Scan(&t.ID, &t.GroupID, &t.TaskTypeID, &t.CreatedBy, &t.ParentTaskID,
		&t.TeamID, &t.Title, &t.Description, &t.StatusID, &bonus, &penalty,
		&t.DueDate, &t.IsRecurring, &t.RecurringInterval, &t.MaxOccurrences,
		&t.OccurrenceCount, &t.IsMandatory, &t.AllowMultipleAssignees,
		&t.FirstCompletesGetsBonus, &t.StreakTaskID, &t.StreakThreshold,
		&streakBonus, &t.Notes, &t.IsDeleted, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("task: scan: %w", err)
	}
	if t.BonusPoints, err = decimal.NewFromString(bonus); err != nil {
		return nil, fmt.Errorf("task: parse bonus: %w", err)
	}
	if t.PenaltyPoints, err = decimal.NewFromString(penalty); err != nil {
		return nil, fmt.Errorf("task: parse penalty: %w", err)
	}
	if streakBonus != nil {
		d, err := decimal.NewFromString(*streakBonus)
		if err != nil {
			return nil, fmt.Errorf("task: parse streak bonus: %w", err)
		}
		t.StreakBonusPoints = &d
	}
	return &t, nil
}

// GetTask loads a task, excluding soft-deleted rows.
func GetTask(ctx context.Context, q store.Querier, id string) (*Task, error) {
	return scanTask(q.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND NOT is_deleted`, id))
}

const completionColumns = `id, task_id, user_id, team_id, status_id, started_at,
	submitted_for_review_at, reviewed_at, reviewed_by, completed_at, review_notes,
	awarded_bonus::text, applied_penalty::text, attachments, created_at, updated_at`

func scanCompletion(row pgx.Row) (*Completion, error) {
	var c Completion
	var awarded, penalty *string
	err := row.Scan(&c.ID, &c.TaskID, &c.Assignee.UserID, &c.Assignee.TeamID,
		&c.StatusID, &c.StartedAt, &c.SubmittedForReviewAt, &c.ReviewedAt,
		&c.ReviewedBy, &c.CompletedAt, &c.ReviewNotes, &awarded, &penalty,
		&c.Attachments, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("task: scan completion: %w", err)
	}
	if awarded != nil {
		d, err := decimal.NewFromString(*awarded)
		if err != nil {
			return nil, fmt.Errorf("task: parse awarded: %w", err)
		}
		c.AwardedBonus = &d
	}
	if penalty != nil {
		d, err := decimal.NewFromString(*penalty)
		if err != nil {
			return nil, fmt.Errorf("task: parse penalty: %w", err)
		}
		c.AppliedPenalty = &d
	}
	return &c, nil
}

// GetCompletion loads a completion row.
func GetCompletion(ctx context.Context, q store.Querier, id string) (*Completion, error) {
	return scanCompletion(q.QueryRow(ctx,
		`SELECT `+completionColumns+` FROM task_completions WHERE id = $1`, id))
}

// getCompletionForUpdate locks a completion row for a state transition.
func getCompletionForUpdate(ctx context.Context, uow *store.UnitOfWork, id string) (*Completion, error) {
	return scanCompletion(uow.QueryRow(ctx,
		`SELECT `+completionColumns+` FROM task_completions WHERE id = $1 FOR UPDATE`, id))
}
