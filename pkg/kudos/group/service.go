package group

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/authz"
	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Service implements group and membership operations.
type Service struct {
	store  *store.Store
	dict   *dictionary.Resolver
	authz  *authz.Resolver
	logger *slog.Logger
}

// NewService wires the group service.
func NewService(st *store.Store, dict *dictionary.Resolver, az *authz.Resolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, dict: dict, authz: az, logger: logger.With("component", "group")}
}

// CreateInput carries group creation fields.
type CreateInput struct {
	Name          string  `json:"name" validate:"required,min=1,max=200"`
	GroupTypeCode string  `json:"group_type" validate:"omitempty"`
	ParentGroupID *string `json:"parent_group_id" validate:"omitempty,uuid"`
	Notes         *string `json:"notes"`
}

// Create inserts the group, its singleton settings row with defaults, and
// the creator's admin membership in one unit of work.
func (s *Service) Create(ctx context.Context, actor authz.Actor, in CreateInput) (*Group, error) {
	now := time.Now().UTC()
	g := &Group{
		ID:        uuid.NewString(),
		Name:      in.Name,
		CreatedBy: actor.UserID,
		Notes:     in.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.GroupTypeCode != "" {
		typeID, err := s.dict.Lookup(ctx, dictionary.KindGroupType, in.GroupTypeCode)
		if err != nil {
			return nil, err
		}
		g.GroupTypeID = &typeID
		g.GroupTypeCode = in.GroupTypeCode
	}
	if in.ParentGroupID != nil {
		// Parent must exist; hierarchy cycles are impossible on create
		// since the new group has no children yet.
		if _, err := GetGroup(ctx, s.store.Pool(), *in.ParentGroupID); err != nil {
			return nil, err
		}
		g.ParentGroupID = in.ParentGroupID
	}

	adminRoleID, err := s.dict.ID(ctx, dictionary.KindRole, dictionary.RoleGroupAdmin)
	if err != nil {
		return nil, err
	}
	bonusTypeID, err := s.dict.ID(ctx, dictionary.KindBonusType, "points")
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		if _, err := uow.Exec(ctx, `
			INSERT INTO groups (id, name, group_type_id, parent_group_id,
				created_by, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
			g.ID, g.Name, g.GroupTypeID, g.ParentGroupID, g.CreatedBy, g.Notes, now); err != nil {
			return fmt.Errorf("group: insert: %w", err)
		}
		if _, err := uow.Exec(ctx, `
			INSERT INTO group_settings (id, group_id, bonus_type_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)`,
			uuid.NewString(), g.ID, bonusTypeID, now); err != nil {
			return fmt.Errorf("group: insert settings: %w", err)
		}
		if _, err := uow.Exec(ctx, `
			INSERT INTO group_memberships (id, group_id, user_id, role_id,
				is_active, joined_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, TRUE, $5, $5, $5)`,
			uuid.NewString(), g.ID, actor.UserID, adminRoleID, now); err != nil {
			return fmt.Errorf("group: insert creator membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("group created", "group_id", g.ID, "created_by", actor.UserID)
	return g, nil
}

// Get returns a group visible to the actor (any active member).
func (s *Service) Get(ctx context.Context, actor authz.Actor, groupID string) (*Group, error) {
	g, err := GetGroup(ctx, s.store.Pool(), groupID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "group.read", Scope: authz.ScopeMember},
		authz.Target{GroupID: groupID}); err != nil {
		// Deny reads as not-found so hidden groups do not leak.
		return nil, apperr.ErrNotFound
	}
	return g, nil
}

// UpdateParent re-parents a group. The hierarchy is a DAG: the new parent
// must not be reachable from the group being moved.
func (s *Service) UpdateParent(ctx context.Context, actor authz.Actor, groupID string, parentID *string) error {
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "group.update", Scope: authz.ScopeGroupAdmin},
		authz.Target{GroupID: groupID}); err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		if parentID != nil {
			if *parentID == groupID {
				return apperr.Validation("error.validation").WithMeta("field", "parent_group_id")
			}
			reachable, err := parentReachable(ctx, uow, *parentID, groupID)
			if err != nil {
				return err
			}
			if reachable {
				return apperr.BusinessRule("group_cycle", "error.validation")
			}
		}
		_, err := uow.Exec(ctx,
			`UPDATE groups SET parent_group_id = $2, updated_at = $3 WHERE id = $1 AND NOT is_deleted`,
			groupID, parentID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("group: update parent: %w", err)
		}
		return nil
	})
}

// parentReachable walks the parent chain from startID looking for wantID.
func parentReachable(ctx context.Context, q store.Querier, startID, wantID string) (bool, error) {
	seen := map[string]bool{}
	current := &startID
	for current != nil && !seen[*current] {
		if *current == wantID {
			return true, nil
		}
		seen[*current] = true
		var next *string
		err := q.QueryRow(ctx,
			`SELECT parent_group_id FROM groups WHERE id = $1`, *current).Scan(&next)
		if err != nil {
			return false, fmt.Errorf("group: walk parents: %w", err)
		}
		current = next
	}
	return false, nil
}

// Delete soft-deletes a group. Child entities stay stored for audit but
// become unreachable through public queries.
func (s *Service) Delete(ctx context.Context, actor authz.Actor, groupID string) error {
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "group.delete", Scope: authz.ScopeGroupAdmin},
		authz.Target{GroupID: groupID}); err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		return store.SoftDelete(ctx, uow, "groups", groupID)
	})
}

// AddMemberInput carries membership fields.
type AddMemberInput struct {
	UserID   string `json:"user_id" validate:"required,uuid"`
	RoleCode string `json:"role" validate:"required"`
}

// AddMember is idempotent: an existing active membership with the same
// role is returned unchanged; an inactive one is reactivated with the new
// role and a fresh joined_at; otherwise a new row is inserted.
func (s *Service) AddMember(ctx context.Context, actor authz.Actor, groupID string, in AddMemberInput) (*Membership, error) {
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "member.add", Scope: authz.ScopeGroupAdmin},
		authz.Target{GroupID: groupID}); err != nil {
		return nil, err
	}
	roleID, err := s.dict.Lookup(ctx, dictionary.KindRole, in.RoleCode)
	if err != nil {
		return nil, err
	}

	var result *Membership
	err = s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		existing, err := GetMembership(ctx, uow, groupID, in.UserID)
		switch {
		case err == nil && existing.IsActive && existing.RoleID == roleID:
			result = existing
			return nil
		case err == nil:
			// Demotions must not remove the last admin.
			if err := s.guardLastAdmin(ctx, uow, existing, roleID); err != nil {
				return err
			}
			now := time.Now().UTC()
			joined := existing.JoinedAt
			if !existing.IsActive {
				joined = now
			}
			_, err := uow.Exec(ctx, `
				UPDATE group_memberships
				SET role_id = $2, is_active = TRUE, joined_at = $3, updated_at = $4
				WHERE id = $1`,
				existing.ID, roleID, joined, now)
			if err != nil {
				return fmt.Errorf("group: reactivate membership: %w", err)
			}
			existing.RoleID = roleID
			existing.IsActive = true
			existing.JoinedAt = joined
			result = existing
			return nil
		case apperr.Is(err, apperr.ErrNotFound):
			now := time.Now().UTC()
			m := &Membership{
				ID: uuid.NewString(), GroupID: groupID, UserID: in.UserID,
				RoleID: roleID, RoleCode: in.RoleCode, IsActive: true,
				JoinedAt: now, CreatedAt: now, UpdatedAt: now,
			}
			_, err := uow.Exec(ctx, `
				INSERT INTO group_memberships (id, group_id, user_id, role_id,
					is_active, joined_at, created_at, updated_at)
				VALUES ($1, $2, $3, $4, TRUE, $5, $5, $5)`,
				m.ID, m.GroupID, m.UserID, m.RoleID, now)
			if err != nil {
				if store.IsUniqueViolation(err) {
					return apperr.Conflict("duplicate_membership", "error.duplicate_member").Wrap(err)
				}
				return fmt.Errorf("group: insert membership: %w", err)
			}
			result = m
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	if result.RoleCode == "" {
		code, err := s.dict.Code(ctx, dictionary.KindRole, result.RoleID)
		if err != nil {
			return nil, err
		}
		result.RoleCode = code
	}
	return result, nil
}

// guardLastAdmin rejects a role change that would leave the group without
// an active admin.
func (s *Service) guardLastAdmin(ctx context.Context, uow *store.UnitOfWork, existing *Membership, newRoleID string) error {
	adminRoleID, err := s.dict.ID(ctx, dictionary.KindRole, dictionary.RoleGroupAdmin)
	if err != nil {
		return err
	}
	if existing.RoleID != adminRoleID || newRoleID == adminRoleID || !existing.IsActive {
		return nil
	}
	n, err := authz.CountActiveAdmins(ctx, uow, s.dict, existing.GroupID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return authz.ErrLastAdmin()
	}
	return nil
}

// RemoveMember deactivates a membership. The last active admin cannot be
// removed, not even by themselves.
func (s *Service) RemoveMember(ctx context.Context, actor authz.Actor, groupID, userID string) error {
	// Self-removal is allowed for non-admins; everyone else needs
	// group-admin rights.
	if actor.UserID != userID {
		if err := s.authz.Can(ctx, actor, authz.Action{Name: "member.remove", Scope: authz.ScopeGroupAdmin},
			authz.Target{GroupID: groupID}); err != nil {
			return err
		}
	}
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		m, err := GetMembership(ctx, uow, groupID, userID)
		if err != nil {
			return err
		}
		if !m.IsActive {
			return nil
		}
		adminRoleID, err := s.dict.ID(ctx, dictionary.KindRole, dictionary.RoleGroupAdmin)
		if err != nil {
			return err
		}
		if m.RoleID == adminRoleID {
			n, err := authz.CountActiveAdmins(ctx, uow, s.dict, groupID)
			if err != nil {
				return err
			}
			if n <= 1 {
				return authz.ErrLastAdmin()
			}
		}
		_, err = uow.Exec(ctx, `
			UPDATE group_memberships SET is_active = FALSE, updated_at = $2 WHERE id = $1`,
			m.ID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("group: deactivate membership: %w", err)
		}
		return nil
	})
}

// ListMembers returns one page of active memberships.
func (s *Service) ListMembers(ctx context.Context, actor authz.Actor, groupID string, page store.Page) (store.Paginated[Membership], error) {
	var empty store.Paginated[Membership]
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "member.list", Scope: authz.ScopeMember},
		authz.Target{GroupID: groupID}); err != nil {
		return empty, err
	}
	page = page.Normalize()

	var total int
	if err := s.store.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM group_memberships WHERE group_id = $1 AND is_active`,
		groupID).Scan(&total); err != nil {
		return empty, fmt.Errorf("group: count members: %w", err)
	}

	rows, err := s.store.Pool().Query(ctx, `
		SELECT id, group_id, user_id, role_id, is_active, status_id,
		       joined_at, created_at, updated_at
		FROM group_memberships
		WHERE group_id = $1 AND is_active
		ORDER BY joined_at
		LIMIT $2 OFFSET $3`,
		groupID, page.Limit(), page.Offset())
	if err != nil {
		return empty, fmt.Errorf("group: list members: %w", err)
	}
	defer rows.Close()

	var items []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &m.RoleID, &m.IsActive,
			&m.StatusID, &m.JoinedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return empty, fmt.Errorf("group: scan member: %w", err)
		}
		code, err := s.dict.Code(ctx, dictionary.KindRole, m.RoleID)
		if err != nil {
			return empty, err
		}
		m.RoleCode = code
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return empty, fmt.Errorf("group: list members rows: %w", err)
	}
	return store.NewPaginated(items, total, page), nil
}
