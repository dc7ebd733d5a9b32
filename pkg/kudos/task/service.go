package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/authz"
	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/group"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// CompletionEvent is published after a completion transition commits.
// Gamification consumes it outside the originating unit of work.
type CompletionEvent struct {
	TaskID       string
	CompletionID string
	GroupID      string
	UserID       string // empty for team completions
	StatusCode   string
	Bonus        decimal.Decimal
}

// Publisher receives committed completion events.
type Publisher interface {
	TaskCompleted(ctx context.Context, ev CompletionEvent)
}

// NopPublisher drops events.
type NopPublisher struct{}

func (NopPublisher) TaskCompleted(context.Context, CompletionEvent) {}

// Service implements task operations.
type Service struct {
	store  *store.Store
	dict   *dictionary.Resolver
	authz  *authz.Resolver
	events Publisher
	logger *slog.Logger
}

// NewService wires the task service.
func NewService(st *store.Store, dict *dictionary.Resolver, az *authz.Resolver, events Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = NopPublisher{}
	}
	return &Service{store: st, dict: dict, authz: az, events: events,
		logger: logger.With("component", "task")}
}

// CreateInput carries task creation fields.
type CreateInput struct {
	GroupID                 string           `json:"-" validate:"required,uuid"`
	TaskTypeCode            string           `json:"task_type" validate:"required"`
	Title                   string           `json:"title" validate:"required,min=1,max=300"`
	Description             *string          `json:"description"`
	ParentTaskID            *string          `json:"parent_task_id" validate:"omitempty,uuid"`
	TeamID                  *string          `json:"team_id" validate:"omitempty,uuid"`
	BonusPoints             decimal.Decimal  `json:"bonus_points"`
	PenaltyPoints           decimal.Decimal  `json:"penalty_points"`
	DueDate                 *time.Time       `json:"due_date"`
	IsRecurring             bool             `json:"is_recurring"`
	RecurringInterval       *int64           `json:"recurring_interval" validate:"omitempty,min=60"`
	MaxOccurrences          *int             `json:"max_occurrences" validate:"omitempty,min=1"`
	IsMandatory             bool             `json:"is_mandatory"`
	AllowMultipleAssignees  bool             `json:"allow_multiple_assignees"`
	FirstCompletesGetsBonus bool             `json:"first_completes_gets_bonus"`
	StreakTaskID            *string          `json:"streak_task_id" validate:"omitempty,uuid"`
	StreakThreshold         *int             `json:"streak_threshold" validate:"omitempty,min=2"`
	StreakBonusPoints       *decimal.Decimal `json:"streak_bonus_points"`
	Notes                   *string          `json:"notes"`
}

// Create validates and inserts a task in state task_new. Requires
// group-admin (or superadmin).
func (s *Service) Create(ctx context.Context, actor authz.Actor, in CreateInput) (*Task, error) {
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "task.create", Scope: authz.ScopeGroupAdmin},
		authz.Target{GroupID: in.GroupID}); err != nil {
		return nil, err
	}
	typeID, err := s.dict.Lookup(ctx, dictionary.KindTaskType, in.TaskTypeCode)
	if err != nil {
		return nil, err
	}
	newStatusID, err := s.dict.ID(ctx, dictionary.KindTaskStatus, dictionary.TaskNew)
	if err != nil {
		return nil, err
	}

	// Recurrence fields must be consistent: the flag and the interval go
	// together.
	if in.IsRecurring != (in.RecurringInterval != nil) {
		return nil, apperr.Validation("error.validation").WithMeta("field", "recurring_interval")
	}
	// Streak fields are all-or-none.
	streakSet := 0
	if in.StreakTaskID != nil {
		streakSet++
	}
	if in.StreakThreshold != nil {
		streakSet++
	}
	if in.StreakBonusPoints != nil {
		streakSet++
	}
	if streakSet != 0 && streakSet != 3 {
		return nil, apperr.Validation("error.validation").WithMeta("field", "streak")
	}

	now := time.Now().UTC()
	t := &Task{
		ID:                      uuid.NewString(),
		GroupID:                 in.GroupID,
		TaskTypeID:              typeID,
		TaskTypeCode:            in.TaskTypeCode,
		CreatedBy:               actor.UserID,
		ParentTaskID:            in.ParentTaskID,
		TeamID:                  in.TeamID,
		Title:                   in.Title,
		Description:             in.Description,
		StatusID:                newStatusID,
		StatusCode:              dictionary.TaskNew,
		BonusPoints:             in.BonusPoints,
		PenaltyPoints:           in.PenaltyPoints,
		DueDate:                 in.DueDate,
		IsRecurring:             in.IsRecurring,
		RecurringInterval:       in.RecurringInterval,
		MaxOccurrences:          in.MaxOccurrences,
		IsMandatory:             in.IsMandatory,
		AllowMultipleAssignees:  in.AllowMultipleAssignees,
		FirstCompletesGetsBonus: in.FirstCompletesGetsBonus,
		StreakTaskID:            in.StreakTaskID,
		StreakThreshold:         in.StreakThreshold,
		StreakBonusPoints:       in.StreakBonusPoints,
		Notes:                   in.Notes,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	err = s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		if t.ParentTaskID != nil {
			parent, err := GetTask(ctx, uow, *t.ParentTaskID)
			if err != nil {
				return err
			}
			if parent.GroupID != t.GroupID {
				return apperr.Validation("error.validation").WithMeta("field", "parent_task_id")
			}
		}
		if t.TeamID != nil {
			team, err := group.GetTeam(ctx, uow, *t.TeamID)
			if err != nil {
				return err
			}
			if team.GroupID != t.GroupID {
				return apperr.Validation("error.validation").WithMeta("field", "team_id")
			}
		}
		if t.StreakTaskID != nil {
			ref, err := GetTask(ctx, uow, *t.StreakTaskID)
			if err != nil {
				return err
			}
			if ref.GroupID != t.GroupID {
				return apperr.Validation("error.validation").WithMeta("field", "streak_task_id")
			}
		}
		return insertTask(ctx, uow, t)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("task created", "task_id", t.ID, "group_id", t.GroupID)
	return t, nil
}

func insertTask(ctx context.Context, uow *store.UnitOfWork, t *Task) error {
	_, err := uow.Exec(ctx, `
		INSERT INTO tasks (id, group_id, task_type_id, created_by, parent_task_id,
			team_id, title, description, status_id, bonus_points, penalty_points,
			due_date, is_recurring, recurring_interval, max_occurrences,
			occurrence_count, is_mandatory, allow_multiple_assignees,
			first_completes_gets_bonus, streak_task_id, streak_threshold,
			streak_bonus_points, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $24)`,
		t.ID, t.GroupID, t.TaskTypeID, t.CreatedBy, t.ParentTaskID, t.TeamID,
		t.Title, t.Description, t.StatusID, t.BonusPoints, t.PenaltyPoints,
		t.DueDate, t.IsRecurring, t.RecurringInterval, t.MaxOccurrences,
		t.OccurrenceCount, t.IsMandatory, t.AllowMultipleAssignees,
		t.FirstCompletesGetsBonus, t.StreakTaskID, t.StreakThreshold,
		t.StreakBonusPoints, t.Notes, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("task: insert: %w", err)
	}
	return nil
}

// Get returns a task visible to the actor.
func (s *Service) Get(ctx context.Context, actor authz.Actor, taskID string) (*Task, error) {
	t, err := GetTask(ctx, s.store.Pool(), taskID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "task.read", Scope: authz.ScopeMember},
		authz.Target{GroupID: t.GroupID}); err != nil {
		return nil, apperr.ErrNotFound
	}
	if t.StatusCode, err = s.dict.Code(ctx, dictionary.KindTaskStatus, t.StatusID); err != nil {
		return nil, err
	}
	if t.TaskTypeCode, err = s.dict.Code(ctx, dictionary.KindTaskType, t.TaskTypeID); err != nil {
		return nil, err
	}
	return t, nil
}

// Assign links an assignee (user XOR team) to the task. User assignees
// must be active members of the task's group; team assignees must belong
// to it.
func (s *Service) Assign(ctx context.Context, actor authz.Actor, taskID string, assignee Assignee) (*Assignment, error) {
	if !assignee.Valid() {
		return nil, apperr.Validation("error.validation").WithMeta("field", "assignee")
	}
	t, err := GetTask(ctx, s.store.Pool(), taskID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "task.assign", Scope: authz.ScopeGroupAdmin},
		authz.Target{GroupID: t.GroupID}); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &Assignment{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		Assignee:   assignee,
		AssignedBy: actor.UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		if assignee.UserID != nil {
			m, err := group.GetMembership(ctx, uow, t.GroupID, *assignee.UserID)
			if err != nil || !m.IsActive {
				return apperr.Validation("error.validation").WithMeta("field", "user_id")
			}
		} else {
			team, err := group.GetTeam(ctx, uow, *assignee.TeamID)
			if err != nil {
				return err
			}
			if team.GroupID != t.GroupID {
				return apperr.Validation("error.validation").WithMeta("field", "team_id")
			}
		}

		var existing int
		err := uow.QueryRow(ctx, `
			SELECT COUNT(*) FROM task_assignments
			WHERE task_id = $1
			  AND (user_id IS NOT DISTINCT FROM $2 AND team_id IS NOT DISTINCT FROM $3)`,
			taskID, assignee.UserID, assignee.TeamID).Scan(&existing)
		if err != nil {
			return fmt.Errorf("task: duplicate assignment check: %w", err)
		}
		if existing > 0 {
			return apperr.Conflict("duplicate_assignment", "error.validation")
		}

		if assignee.UserID != nil && !t.AllowMultipleAssignees {
			var users int
			err := uow.QueryRow(ctx, `
				SELECT COUNT(*) FROM task_assignments
				WHERE task_id = $1 AND user_id IS NOT NULL`, taskID).Scan(&users)
			if err != nil {
				return fmt.Errorf("task: assignee count: %w", err)
			}
			if users > 0 {
				return apperr.BusinessRule("single_assignee", "error.validation")
			}
		}

		_, err = uow.Exec(ctx, `
			INSERT INTO task_assignments (id, task_id, user_id, team_id,
				assigned_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			a.ID, a.TaskID, assignee.UserID, assignee.TeamID, a.AssignedBy, now)
		if err != nil {
			return fmt.Errorf("task: insert assignment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// AddDependency inserts a finish-to-start edge after rejecting
// self-edges and cycles. The reachability check runs from the
// prerequisite looking for a path back to the dependent.
func (s *Service) AddDependency(ctx context.Context, actor authz.Actor, dependentID, prerequisiteID string) (*Dependency, error) {
	if dependentID == prerequisiteID {
		return nil, apperr.BusinessRule("dependency_cycle", "error.dependency_cycle")
	}
	t, err := GetTask(ctx, s.store.Pool(), dependentID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "task.dependency.add", Scope: authz.ScopeGroupAdmin},
		authz.Target{GroupID: t.GroupID}); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d := &Dependency{
		ID:                 uuid.NewString(),
		DependentTaskID:    dependentID,
		PrerequisiteTaskID: prerequisiteID,
		DependencyType:     "finish_to_start",
		CreatedAt:          now,
	}
	err = s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		pre, err := GetTask(ctx, uow, prerequisiteID)
		if err != nil {
			return err
		}
		if pre.GroupID != t.GroupID {
			return apperr.Validation("error.validation").WithMeta("field", "prerequisite_task_id")
		}

		cyclic, err := reachable(ctx, uow, prerequisiteID, dependentID)
		if err != nil {
			return err
		}
		if cyclic {
			return apperr.BusinessRule("dependency_cycle", "error.dependency_cycle")
		}

		_, err = uow.Exec(ctx, `
			INSERT INTO task_dependencies (id, dependent_task_id,
				prerequisite_task_id, dependency_type, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)`,
			d.ID, d.DependentTaskID, d.PrerequisiteTaskID, d.DependencyType, now)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.Conflict("duplicate_dependency", "error.validation").Wrap(err)
			}
			return fmt.Errorf("task: insert dependency: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// reachable walks dependency edges breadth-first from startID and
// reports whether wantID is reachable.
func reachable(ctx context.Context, q store.Querier, startID, wantID string) (bool, error) {
	seen := map[string]bool{startID: true}
	frontier := []string{startID}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		rows, err := q.Query(ctx, `
			SELECT prerequisite_task_id FROM task_dependencies
			WHERE dependent_task_id = $1`, current)
		if err != nil {
			return false, fmt.Errorf("task: walk dependencies: %w", err)
		}
		var next []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return false, fmt.Errorf("task: scan dependency: %w", err)
			}
			next = append(next, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return false, fmt.Errorf("task: dependency rows: %w", err)
		}

		for _, id := range next {
			if id == wantID {
				return true, nil
			}
			if !seen[id] {
				seen[id] = true
				frontier = append(frontier, id)
			}
		}
	}
	return false, nil
}

// prerequisitesSatisfied reports whether every prerequisite of the task
// has at least one completed completion (finish-to-start).
func (s *Service) prerequisitesSatisfied(ctx context.Context, q store.Querier, taskID string) (bool, error) {
	completedID, err := s.dict.ID(ctx, dictionary.KindTaskStatus, dictionary.TaskCompleted)
	if err != nil {
		return false, err
	}
	var unsatisfied int
	err = q.QueryRow(ctx, `
		SELECT COUNT(*) FROM task_dependencies d
		WHERE d.dependent_task_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM task_completions c
			WHERE c.task_id = d.prerequisite_task_id AND c.status_id = $2
		  )`, taskID, completedID).Scan(&unsatisfied)
	if err != nil {
		return false, fmt.Errorf("task: prerequisite check: %w", err)
	}
	return unsatisfied == 0, nil
}

// SubmitReview upserts the actor's review of a task (rating 1..5 and/or
// comment; at least one required).
func (s *Service) SubmitReview(ctx context.Context, actor authz.Actor, taskID string, rating *int, comment *string) (*Review, error) {
	if rating == nil && (comment == nil || *comment == "") {
		return nil, apperr.Validation("error.validation").WithMeta("field", "review")
	}
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, apperr.Validation("error.validation").WithMeta("field", "rating")
	}
	t, err := GetTask(ctx, s.store.Pool(), taskID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "task.review", Scope: authz.ScopeMember},
		authz.Target{GroupID: t.GroupID}); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r := &Review{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		UserID:    actor.UserID,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		_, err := uow.Exec(ctx, `
			INSERT INTO task_reviews (id, task_id, user_id, rating, comment,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (task_id, user_id)
			DO UPDATE SET rating = EXCLUDED.rating, comment = EXCLUDED.comment,
				updated_at = EXCLUDED.updated_at`,
			r.ID, r.TaskID, r.UserID, r.Rating, r.Comment, now)
		if err != nil {
			return fmt.Errorf("task: upsert review: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListByGroup returns one page of a group's tasks, newest first.
func (s *Service) ListByGroup(ctx context.Context, actor authz.Actor, groupID string, page store.Page) (store.Paginated[Task], error) {
	var empty store.Paginated[Task]
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "task.list", Scope: authz.ScopeMember},
		authz.Target{GroupID: groupID}); err != nil {
		return empty, err
	}
	page = page.Normalize()

	var total int
	if err := s.store.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE group_id = $1 AND NOT is_deleted`,
		groupID).Scan(&total); err != nil {
		return empty, fmt.Errorf("task: count: %w", err)
	}

	rows, err := s.store.Pool().Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE group_id = $1 AND NOT is_deleted
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		groupID, page.Limit(), page.Offset())
	if err != nil {
		return empty, fmt.Errorf("task: list: %w", err)
	}
	defer rows.Close()

	var items []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return empty, err
		}
		if t.StatusCode, err = s.dict.Code(ctx, dictionary.KindTaskStatus, t.StatusID); err != nil {
			return empty, err
		}
		if t.TaskTypeCode, err = s.dict.Code(ctx, dictionary.KindTaskType, t.TaskTypeID); err != nil {
			return empty, err
		}
		items = append(items, *t)
	}
	if err := rows.Err(); err != nil {
		return empty, fmt.Errorf("task: list rows: %w", err)
	}
	return store.NewPaginated(items, total, page), nil
}
