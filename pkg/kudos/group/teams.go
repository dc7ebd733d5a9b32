package group

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/authz"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// TeamInput carries team creation and update fields.
type TeamInput struct {
	Name         string  `json:"name" validate:"required,min=1,max=200"`
	LeaderUserID *string `json:"leader_user_id" validate:"omitempty,uuid"`
	MaxMembers   *int    `json:"max_members" validate:"omitempty,min=1"`
	Notes        *string `json:"notes"`
}

// CreateTeam inserts a team into the group. The leader, when set, must be
// an active group member and becomes a team member automatically.
func (s *Service) CreateTeam(ctx context.Context, actor authz.Actor, groupID string, in TeamInput) (*Team, error) {
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "team.create", Scope: authz.ScopeGroupAdmin},
		authz.Target{GroupID: groupID}); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := &Team{
		ID:           uuid.NewString(),
		GroupID:      groupID,
		Name:         in.Name,
		LeaderUserID: in.LeaderUserID,
		MaxMembers:   in.MaxMembers,
		Notes:        in.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		if t.LeaderUserID != nil {
			m, err := GetMembership(ctx, uow, groupID, *t.LeaderUserID)
			if err != nil || !m.IsActive {
				return apperr.Validation("error.validation").WithMeta("field", "leader_user_id")
			}
		}
		_, err := uow.Exec(ctx, `
			INSERT INTO teams (id, group_id, name, leader_user_id, max_members,
				notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
			t.ID, t.GroupID, t.Name, t.LeaderUserID, t.MaxMembers, t.Notes, now)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.Conflict("duplicate_team_name", "error.validation").Wrap(err)
			}
			return fmt.Errorf("group: insert team: %w", err)
		}
		if t.LeaderUserID != nil {
			if err := insertTeamMember(ctx, uow, t.ID, *t.LeaderUserID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("team created", "team_id", t.ID, "group_id", groupID)
	return t, nil
}

func insertTeamMember(ctx context.Context, uow *store.UnitOfWork, teamID, userID string) error {
	now := time.Now().UTC()
	_, err := uow.Exec(ctx, `
		INSERT INTO team_memberships (id, team_id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (team_id, user_id) DO NOTHING`,
		uuid.NewString(), teamID, userID, now)
	if err != nil {
		return fmt.Errorf("group: insert team member: %w", err)
	}
	return nil
}

// AddTeamMember adds an active group member to the team, honoring the
// max-members cap. Team leaders may manage their own team.
func (s *Service) AddTeamMember(ctx context.Context, actor authz.Actor, teamID, userID string) error {
	t, err := GetTeam(ctx, s.store.Pool(), teamID)
	if err != nil {
		return err
	}
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "team.member.add", Scope: authz.ScopeTeamLeader},
		authz.Target{GroupID: t.GroupID, TeamID: teamID}); err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		m, err := GetMembership(ctx, uow, t.GroupID, userID)
		if err != nil || !m.IsActive {
			return apperr.Validation("error.validation").WithMeta("field", "user_id")
		}
		if t.MaxMembers != nil {
			var n int
			if err := uow.QueryRow(ctx,
				`SELECT COUNT(*) FROM team_memberships WHERE team_id = $1`, teamID).Scan(&n); err != nil {
				return fmt.Errorf("group: count team members: %w", err)
			}
			if n >= *t.MaxMembers {
				return apperr.BusinessRule("team_full", "error.validation")
			}
		}
		return insertTeamMember(ctx, uow, teamID, userID)
	})
}

// RemoveTeamMember removes a user from the team. The leader cannot be
// removed through the generic path; reassign or dissolve first.
func (s *Service) RemoveTeamMember(ctx context.Context, actor authz.Actor, teamID, userID string) error {
	t, err := GetTeam(ctx, s.store.Pool(), teamID)
	if err != nil {
		return err
	}
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "team.member.remove", Scope: authz.ScopeTeamLeader},
		authz.Target{GroupID: t.GroupID, TeamID: teamID}); err != nil {
		return err
	}
	if t.LeaderUserID != nil && *t.LeaderUserID == userID {
		return authz.ErrTeamLeaderRequired()
	}
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		_, err := uow.Exec(ctx,
			`DELETE FROM team_memberships WHERE team_id = $1 AND user_id = $2`,
			teamID, userID)
		if err != nil {
			return fmt.Errorf("group: remove team member: %w", err)
		}
		return nil
	})
}

// SetTeamLeader reassigns leadership. The new leader must already be a
// team member.
func (s *Service) SetTeamLeader(ctx context.Context, actor authz.Actor, teamID string, leaderUserID *string) error {
	t, err := GetTeam(ctx, s.store.Pool(), teamID)
	if err != nil {
		return err
	}
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "team.leader.set", Scope: authz.ScopeGroupAdmin},
		authz.Target{GroupID: t.GroupID, TeamID: teamID}); err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		if leaderUserID != nil {
			member, err := IsTeamMember(ctx, uow, teamID, *leaderUserID)
			if err != nil {
				return err
			}
			if !member {
				return apperr.Validation("error.validation").WithMeta("field", "leader_user_id")
			}
		}
		_, err := uow.Exec(ctx,
			`UPDATE teams SET leader_user_id = $2, updated_at = $3 WHERE id = $1 AND NOT is_deleted`,
			teamID, leaderUserID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("group: set team leader: %w", err)
		}
		return nil
	})
}

// DissolveTeam soft-deletes a team and clears its memberships.
func (s *Service) DissolveTeam(ctx context.Context, actor authz.Actor, teamID string) error {
	t, err := GetTeam(ctx, s.store.Pool(), teamID)
	if err != nil {
		return err
	}
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "team.dissolve", Scope: authz.ScopeGroupAdmin},
		authz.Target{GroupID: t.GroupID, TeamID: teamID}); err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		if _, err := uow.Exec(ctx,
			`DELETE FROM team_memberships WHERE team_id = $1`, teamID); err != nil {
			return fmt.Errorf("group: clear team members: %w", err)
		}
		return store.SoftDelete(ctx, uow, "teams", teamID)
	})
}
