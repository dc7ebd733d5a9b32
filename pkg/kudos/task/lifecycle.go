package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/authz"
	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/group"
	"github.com/kudos-app/kudos/pkg/kudos/ledger"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Completion state machine:
//
//	in_progress    → pending_review, cancelled
//	pending_review → completed, rejected, cancelled
//
// completed, rejected and cancelled are terminal; a rejected task is
// restarted by opening a fresh completion.
var completionTransitions = map[string][]string{
	dictionary.TaskInProgress:    {dictionary.TaskPendingReview, dictionary.TaskCancelled},
	dictionary.TaskPendingReview: {dictionary.TaskCompleted, dictionary.TaskRejected, dictionary.TaskCancelled},
}

func transitionAllowed(from, to string) bool {
	for _, next := range completionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Start opens a completion for the actor. The actor must hold a direct
// assignment or belong to an assigned team, and every prerequisite must
// have a completed completion; otherwise the task is parked in
// task_blocked until the prerequisites clear.
func (s *Service) Start(ctx context.Context, actor authz.Actor, taskID string) (*Completion, error) {
	t, err := GetTask(ctx, s.store.Pool(), taskID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "task.start", Scope: authz.ScopeMember},
		authz.Target{GroupID: t.GroupID}); err != nil {
		return nil, err
	}
	if t.StatusCode, err = s.dict.Code(ctx, dictionary.KindTaskStatus, t.StatusID); err != nil {
		return nil, err
	}
	switch t.StatusCode {
	case dictionary.TaskCompleted, dictionary.TaskCancelled:
		return nil, apperr.BusinessRule("invalid_transition", "error.invalid_transition").
			WithMeta("status", t.StatusCode)
	}

	now := time.Now().UTC()
	var c *Completion
	err = s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		assignee, err := s.actorAssignee(ctx, uow, t, actor.UserID)
		if err != nil {
			return err
		}

		ok, err := s.prerequisitesSatisfied(ctx, uow, taskID)
		if err != nil {
			return err
		}
		if !ok {
			if err := s.setTaskStatus(ctx, uow, taskID, dictionary.TaskBlocked); err != nil {
				return err
			}
			return apperr.BusinessRule("prerequisites_incomplete", "error.prerequisites_incomplete")
		}

		open, err := s.hasOpenCompletion(ctx, uow, taskID, assignee)
		if err != nil {
			return err
		}
		if open {
			return apperr.Conflict("completion_in_flight", "error.invalid_transition")
		}
		if !t.AllowMultipleAssignees {
			done, err := s.hasCompletedCompletion(ctx, uow, taskID)
			if err != nil {
				return err
			}
			if done {
				return apperr.BusinessRule("already_completed", "error.invalid_transition")
			}
		}

		statusID, err := s.dict.ID(ctx, dictionary.KindTaskStatus, dictionary.TaskInProgress)
		if err != nil {
			return err
		}
		c = &Completion{
			ID:         uuid.NewString(),
			TaskID:     taskID,
			Assignee:   assignee,
			StatusID:   statusID,
			StatusCode: dictionary.TaskInProgress,
			StartedAt:  now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		_, err = uow.Exec(ctx, `
			INSERT INTO task_completions (id, task_id, user_id, team_id, status_id,
				started_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6, $6)`,
			c.ID, c.TaskID, assignee.UserID, assignee.TeamID, c.StatusID, now)
		if err != nil {
			return fmt.Errorf("task: insert completion: %w", err)
		}
		return s.setTaskStatus(ctx, uow, taskID, dictionary.TaskInProgress)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("completion started", "task_id", taskID, "completion_id", c.ID)
	return c, nil
}

// actorAssignee resolves which assignment the actor works under: a direct
// user assignment wins over team membership in an assigned team.
func (s *Service) actorAssignee(ctx context.Context, q store.Querier, t *Task, userID string) (Assignee, error) {
	var direct int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM task_assignments WHERE task_id = $1 AND user_id = $2`,
		t.ID, userID).Scan(&direct)
	if err != nil {
		return Assignee{}, fmt.Errorf("task: direct assignment: %w", err)
	}
	if direct > 0 {
		return Assignee{UserID: &userID}, nil
	}

	var teamID string
	err = q.QueryRow(ctx, `
		SELECT a.team_id FROM task_assignments a
		JOIN team_memberships tm ON tm.team_id = a.team_id
		WHERE a.task_id = $1 AND tm.user_id = $2
		LIMIT 1`, t.ID, userID).Scan(&teamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignee{}, apperr.Forbidden("not_assigned", "error.denied")
		}
		return Assignee{}, fmt.Errorf("task: team assignment: %w", err)
	}
	return Assignee{TeamID: &teamID}, nil
}

func (s *Service) hasOpenCompletion(ctx context.Context, q store.Querier, taskID string, assignee Assignee) (bool, error) {
	inProgressID, err := s.dict.ID(ctx, dictionary.KindTaskStatus, dictionary.TaskInProgress)
	if err != nil {
		return false, err
	}
	pendingID, err := s.dict.ID(ctx, dictionary.KindTaskStatus, dictionary.TaskPendingReview)
	if err != nil {
		return false, err
	}
	var n int
	err = q.QueryRow(ctx, `
		SELECT COUNT(*) FROM task_completions
		WHERE task_id = $1 AND status_id IN ($2, $3)
		  AND user_id IS NOT DISTINCT FROM $4
		  AND team_id IS NOT DISTINCT FROM $5`,
		taskID, inProgressID, pendingID, assignee.UserID, assignee.TeamID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("task: open completion check: %w", err)
	}
	return n > 0, nil
}

func (s *Service) hasCompletedCompletion(ctx context.Context, q store.Querier, taskID string) (bool, error) {
	completedID, err := s.dict.ID(ctx, dictionary.KindTaskStatus, dictionary.TaskCompleted)
	if err != nil {
		return false, err
	}
	var n int
	err = q.QueryRow(ctx,
		`SELECT COUNT(*) FROM task_completions WHERE task_id = $1 AND status_id = $2`,
		taskID, completedID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("task: completed check: %w", err)
	}
	return n > 0, nil
}

// Submit moves the actor's completion to pending_review, attaching any
// submitted evidence as raw JSON.
func (s *Service) Submit(ctx context.Context, actor authz.Actor, completionID string, attachments []byte) (*Completion, error) {
	var c *Completion
	err := s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		var err error
		c, err = getCompletionForUpdate(ctx, uow, completionID)
		if err != nil {
			return err
		}
		if err := s.requireOwner(ctx, uow, c, actor); err != nil {
			return err
		}
		return s.transition(ctx, uow, c, dictionary.TaskPendingReview, func(now time.Time) (string, []any) {
			c.SubmittedForReviewAt = &now
			c.Attachments = attachments
			return `UPDATE task_completions
				SET status_id = $2, submitted_for_review_at = $3, attachments = $4, updated_at = $3
				WHERE id = $1`, []any{completionID, c.StatusID, now, attachments}
		}, dictionary.TaskPendingReview)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// requireOwner checks the actor owns the completion: the assigned user,
// or a member of the assigned team.
func (s *Service) requireOwner(ctx context.Context, q store.Querier, c *Completion, actor authz.Actor) error {
	if c.Assignee.UserID != nil {
		if *c.Assignee.UserID == actor.UserID {
			return nil
		}
		return apperr.Forbidden("not_owner", "error.denied")
	}
	member, err := group.IsTeamMember(ctx, q, *c.Assignee.TeamID, actor.UserID)
	if err != nil {
		return err
	}
	if !member {
		return apperr.Forbidden("not_owner", "error.denied")
	}
	return nil
}

// transition applies a completion state change plus the mirrored task
// status, after validating the edge.
func (s *Service) transition(ctx context.Context, uow *store.UnitOfWork, c *Completion,
	to string, build func(now time.Time) (string, []any), taskStatus string) error {

	from, err := s.dict.Code(ctx, dictionary.KindTaskStatus, c.StatusID)
	if err != nil {
		return err
	}
	if !transitionAllowed(from, to) {
		return apperr.BusinessRule("invalid_transition", "error.invalid_transition").
			WithMeta("from", from).WithMeta("to", to)
	}
	toID, err := s.dict.ID(ctx, dictionary.KindTaskStatus, to)
	if err != nil {
		return err
	}
	c.StatusID = toID
	c.StatusCode = to

	now := time.Now().UTC()
	query, args := build(now)
	c.UpdatedAt = now
	if _, err := uow.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("task: transition %s->%s: %w", from, to, err)
	}
	if taskStatus != "" {
		return s.setTaskStatus(ctx, uow, c.TaskID, taskStatus)
	}
	return nil
}

func (s *Service) setTaskStatus(ctx context.Context, uow *store.UnitOfWork, taskID, code string) error {
	id, err := s.dict.ID(ctx, dictionary.KindTaskStatus, code)
	if err != nil {
		return err
	}
	_, err = uow.Exec(ctx,
		`UPDATE tasks SET status_id = $2, updated_at = $3 WHERE id = $1`,
		taskID, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("task: set status: %w", err)
	}
	return nil
}

// Approve completes a pending completion and settles the reward in the
// same unit of work. Reviewers cannot approve their own work.
func (s *Service) Approve(ctx context.Context, actor authz.Actor, completionID string, notes *string) (*Completion, error) {
	var (
		c  *Completion
		ev CompletionEvent
	)
	err := s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		var err error
		c, err = getCompletionForUpdate(ctx, uow, completionID)
		if err != nil {
			return err
		}
		t, err := GetTask(ctx, uow, c.TaskID)
		if err != nil {
			return err
		}
		if err := s.authz.Can(ctx, actor, authz.Action{Name: "task.approve", Scope: authz.ScopeGroupAdmin},
			authz.Target{GroupID: t.GroupID}); err != nil {
			return err
		}
		if c.Assignee.UserID != nil && *c.Assignee.UserID == actor.UserID && !actor.IsSuperadmin() {
			return apperr.Forbidden("self_review", "error.denied")
		}

		bonus := t.BonusPoints
		if t.FirstCompletesGetsBonus {
			done, err := s.hasCompletedCompletion(ctx, uow, t.ID)
			if err != nil {
				return err
			}
			if done {
				bonus = decimal.Zero
			}
		}

		err = s.transition(ctx, uow, c, dictionary.TaskCompleted, func(now time.Time) (string, []any) {
			c.ReviewedAt = &now
			c.ReviewedBy = &actor.UserID
			c.CompletedAt = &now
			c.ReviewNotes = notes
			c.AwardedBonus = &bonus
			return `UPDATE task_completions
				SET status_id = $2, reviewed_at = $3, reviewed_by = $4,
				    completed_at = $3, review_notes = $5, awarded_bonus = $6,
				    updated_at = $3
				WHERE id = $1`, []any{completionID, c.StatusID, now, actor.UserID, notes, bonus}
		}, "")
		if err != nil {
			return err
		}

		settings, err := group.GetSettings(ctx, uow, t.GroupID)
		if err != nil {
			return err
		}
		recipients, err := s.completionUsers(ctx, uow, c)
		if err != nil {
			return err
		}
		if bonus.IsPositive() {
			for _, userID := range recipients {
				_, err := ledger.Apply(ctx, uow, s.dict, ledger.ApplyInput{
					GroupID:     t.GroupID,
					UserID:      userID,
					BonusTypeID: settings.BonusTypeID,
					Amount:      bonus,
					TypeCode:    dictionary.TxTaskReward,
					SourceType:  "task_completion",
					SourceID:    c.ID,
					Description: t.Title,
					MaxDebt:     settings.MaxDebtAllowed,
				})
				if err != nil {
					return err
				}
			}
		}
		if c.Assignee.UserID != nil {
			if err := s.settleStreak(ctx, uow, t, *c.Assignee.UserID, settings); err != nil {
				return err
			}
		}
		if err := s.advanceTask(ctx, uow, t); err != nil {
			return err
		}

		userID := ""
		if c.Assignee.UserID != nil {
			userID = *c.Assignee.UserID
		}
		ev = CompletionEvent{
			TaskID:       t.ID,
			CompletionID: c.ID,
			GroupID:      t.GroupID,
			UserID:       userID,
			StatusCode:   dictionary.TaskCompleted,
			Bonus:        bonus,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.events.TaskCompleted(ctx, ev)
	s.logger.Info("completion approved", "completion_id", completionID)
	return c, nil
}

// completionUsers expands a completion's assignee into the user ids that
// receive settlement: the user itself, or every member of the team.
func (s *Service) completionUsers(ctx context.Context, q store.Querier, c *Completion) ([]string, error) {
	if c.Assignee.UserID != nil {
		return []string{*c.Assignee.UserID}, nil
	}
	rows, err := q.Query(ctx,
		`SELECT user_id FROM team_memberships WHERE team_id = $1 ORDER BY user_id`,
		*c.Assignee.TeamID)
	if err != nil {
		return nil, fmt.Errorf("task: team members: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("task: scan team member: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task: team member rows: %w", err)
	}
	return ids, nil
}

// settleStreak awards the streak bonus when the user's run of completed
// completions of the streak task reaches a multiple of the threshold. A
// rejected or cancelled completion breaks the run.
func (s *Service) settleStreak(ctx context.Context, uow *store.UnitOfWork, t *Task, userID string, settings *group.Settings) error {
	if t.StreakTaskID == nil || t.StreakThreshold == nil || t.StreakBonusPoints == nil {
		return nil
	}
	completedID, err := s.dict.ID(ctx, dictionary.KindTaskStatus, dictionary.TaskCompleted)
	if err != nil {
		return err
	}
	rows, err := uow.Query(ctx, `
		SELECT status_id FROM task_completions
		WHERE task_id = $1 AND user_id = $2
		ORDER BY created_at DESC`, *t.StreakTaskID, userID)
	if err != nil {
		return fmt.Errorf("task: streak history: %w", err)
	}
	defer rows.Close()

	streak := 0
	for rows.Next() {
		var statusID string
		if err := rows.Scan(&statusID); err != nil {
			return fmt.Errorf("task: scan streak row: %w", err)
		}
		if statusID != completedID {
			break
		}
		streak++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("task: streak rows: %w", err)
	}
	if streak == 0 || streak%*t.StreakThreshold != 0 {
		return nil
	}

	_, err = ledger.Apply(ctx, uow, s.dict, ledger.ApplyInput{
		GroupID:     t.GroupID,
		UserID:      userID,
		BonusTypeID: settings.BonusTypeID,
		Amount:      *t.StreakBonusPoints,
		TypeCode:    dictionary.TxStreakBonus,
		SourceType:  "task",
		SourceID:    t.ID,
		Description: t.Title,
		MaxDebt:     settings.MaxDebtAllowed,
	})
	if err != nil {
		return err
	}
	s.logger.Info("streak bonus awarded", "task_id", t.ID, "user_id", userID, "streak", streak)
	return nil
}

// advanceTask moves the task row after an approval: recurring tasks with
// occurrences left roll forward to a fresh task_new occurrence, everything
// else lands in task_completed.
func (s *Service) advanceTask(ctx context.Context, uow *store.UnitOfWork, t *Task) error {
	next := t.OccurrenceCount + 1
	recurs := t.IsRecurring && t.RecurringInterval != nil &&
		(t.MaxOccurrences == nil || next < *t.MaxOccurrences)
	if !recurs {
		if err := s.setTaskStatus(ctx, uow, t.ID, dictionary.TaskCompleted); err != nil {
			return err
		}
		_, err := uow.Exec(ctx,
			`UPDATE tasks SET occurrence_count = $2, updated_at = $3 WHERE id = $1`,
			t.ID, next, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("task: bump occurrence: %w", err)
		}
		return nil
	}

	newID, err := s.dict.ID(ctx, dictionary.KindTaskStatus, dictionary.TaskNew)
	if err != nil {
		return err
	}
	var nextDue *time.Time
	if t.DueDate != nil {
		d := t.DueDate.Add(time.Duration(*t.RecurringInterval) * time.Second)
		nextDue = &d
	}
	_, err = uow.Exec(ctx, `
		UPDATE tasks
		SET status_id = $2, occurrence_count = $3, due_date = $4, updated_at = $5
		WHERE id = $1`,
		t.ID, newID, next, nextDue, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("task: advance occurrence: %w", err)
	}
	return nil
}

// Reject sends a pending completion back with mandatory reviewer notes.
// Rejection never applies a penalty; penalties belong to missed mandatory
// deadlines.
func (s *Service) Reject(ctx context.Context, actor authz.Actor, completionID, notes string) (*Completion, error) {
	if notes == "" {
		return nil, apperr.Validation("error.review_notes_required").WithMeta("field", "review_notes")
	}
	var c *Completion
	err := s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		var err error
		c, err = getCompletionForUpdate(ctx, uow, completionID)
		if err != nil {
			return err
		}
		t, err := GetTask(ctx, uow, c.TaskID)
		if err != nil {
			return err
		}
		if err := s.authz.Can(ctx, actor, authz.Action{Name: "task.reject", Scope: authz.ScopeGroupAdmin},
			authz.Target{GroupID: t.GroupID}); err != nil {
			return err
		}
		return s.transition(ctx, uow, c, dictionary.TaskRejected, func(now time.Time) (string, []any) {
			c.ReviewedAt = &now
			c.ReviewedBy = &actor.UserID
			c.ReviewNotes = &notes
			return `UPDATE task_completions
				SET status_id = $2, reviewed_at = $3, reviewed_by = $4,
				    review_notes = $5, updated_at = $3
				WHERE id = $1`, []any{completionID, c.StatusID, now, actor.UserID, notes}
		}, dictionary.TaskRejected)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("completion rejected", "completion_id", completionID)
	return c, nil
}

// Cancel abandons an open completion. The owner may cancel their own
// work; group admins may cancel anyone's. The task returns to task_new so
// it can be picked up again.
func (s *Service) Cancel(ctx context.Context, actor authz.Actor, completionID string, notes *string) (*Completion, error) {
	var c *Completion
	err := s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		var err error
		c, err = getCompletionForUpdate(ctx, uow, completionID)
		if err != nil {
			return err
		}
		t, err := GetTask(ctx, uow, c.TaskID)
		if err != nil {
			return err
		}
		if err := s.requireOwner(ctx, uow, c, actor); err != nil {
			if err := s.authz.Can(ctx, actor, authz.Action{Name: "task.cancel", Scope: authz.ScopeGroupAdmin},
				authz.Target{GroupID: t.GroupID}); err != nil {
				return err
			}
		}
		return s.transition(ctx, uow, c, dictionary.TaskCancelled, func(now time.Time) (string, []any) {
			c.ReviewNotes = notes
			return `UPDATE task_completions
				SET status_id = $2, review_notes = $3, updated_at = $4
				WHERE id = $1`, []any{completionID, c.StatusID, notes, now}
		}, dictionary.TaskNew)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SweepDeadlines penalizes overdue mandatory tasks. Each assigned user
// (direct or via team) is debited the task's penalty points, clamped to
// the group debt limit. Non-recurring tasks land in task_cancelled so the
// sweep never fires twice; recurring ones roll to the next occurrence.
// Runs as a scheduler job under the system bot.
func (s *Service) SweepDeadlines(ctx context.Context, now time.Time) (int, error) {
	terminalStatuses := []string{dictionary.TaskCompleted, dictionary.TaskCancelled}
	var terminalIDs []string
	for _, code := range terminalStatuses {
		id, err := s.dict.ID(ctx, dictionary.KindTaskStatus, code)
		if err != nil {
			return 0, err
		}
		terminalIDs = append(terminalIDs, id)
	}

	rows, err := s.store.Pool().Query(ctx, `
		SELECT id FROM tasks
		WHERE is_mandatory AND NOT is_deleted
		  AND due_date IS NOT NULL AND due_date < $1
		  AND status_id != ALL($2)
		ORDER BY due_date`, now, terminalIDs)
	if err != nil {
		return 0, fmt.Errorf("task: overdue query: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("task: scan overdue: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("task: overdue rows: %w", err)
	}

	swept := 0
	for _, id := range ids {
		if err := s.penalizeOverdue(ctx, id, now); err != nil {
			s.logger.Error("deadline sweep failed", "task_id", id, "error", err)
			continue
		}
		swept++
	}
	return swept, nil
}

// penalizeOverdue settles one overdue task in its own unit of work so a
// failure on one task does not roll back the whole sweep.
func (s *Service) penalizeOverdue(ctx context.Context, taskID string, now time.Time) error {
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		t, err := GetTask(ctx, uow, taskID)
		if err != nil {
			return err
		}
		settings, err := group.GetSettings(ctx, uow, t.GroupID)
		if err != nil {
			return err
		}
		users, err := s.assignedUsers(ctx, uow, taskID)
		if err != nil {
			return err
		}
		if t.PenaltyPoints.IsPositive() {
			for _, userID := range users {
				_, err := ledger.Apply(ctx, uow, s.dict, ledger.ApplyInput{
					GroupID:     t.GroupID,
					UserID:      userID,
					BonusTypeID: settings.BonusTypeID,
					Amount:      t.PenaltyPoints.Neg(),
					TypeCode:    dictionary.TxTaskPenalty,
					SourceType:  "task",
					SourceID:    t.ID,
					Description: t.Title,
					MaxDebt:     settings.MaxDebtAllowed,
					ClampToDebt: true,
				})
				if err != nil {
					return err
				}
			}
		}
		if t.IsRecurring && t.RecurringInterval != nil {
			return s.advanceTask(ctx, uow, t)
		}
		return s.setTaskStatus(ctx, uow, taskID, dictionary.TaskCancelled)
	})
}

// assignedUsers collects every user the task is assigned to, directly or
// through an assigned team, deduplicated.
func (s *Service) assignedUsers(ctx context.Context, q store.Querier, taskID string) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT DISTINCT u.user_id FROM (
			SELECT user_id FROM task_assignments
			WHERE task_id = $1 AND user_id IS NOT NULL
			UNION
			SELECT tm.user_id FROM task_assignments a
			JOIN team_memberships tm ON tm.team_id = a.team_id
			WHERE a.task_id = $1 AND a.team_id IS NOT NULL
		) u
		ORDER BY u.user_id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("task: assigned users: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("task: scan assigned user: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task: assigned user rows: %w", err)
	}
	return ids, nil
}
