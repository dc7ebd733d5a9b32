// Package authz decides whether an actor may perform an action on a
// target. The ladder is evaluated in order: system/bot gate, superadmin,
// object owner, group role, team leadership. The first rung that applies
// decides.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Scope tags the minimum authority an action requires.
type Scope int

const (
	// ScopeSystem: only the internal shadow bot (scheduler-invoked work).
	ScopeSystem Scope = iota
	// ScopeSelf: the object owner, or a group admin of the target group.
	ScopeSelf
	// ScopeMember: any active membership in the target group.
	ScopeMember
	// ScopeGroupAdmin: an active admin-role membership in the target group.
	ScopeGroupAdmin
	// ScopeTeamLeader: the target team's leader or a group admin.
	ScopeTeamLeader
)

// Action names an operation and its required scope.
type Action struct {
	Name  string
	Scope Scope
}

// Target identifies what the action touches. Zero fields mean the
// dimension does not apply.
type Target struct {
	GroupID     string
	TeamID      string
	OwnerUserID string
}

// Actor is the authenticated principal.
type Actor struct {
	UserID       string
	UserTypeCode string
}

// IsSuperadmin reports the global superadmin flag.
func (a Actor) IsSuperadmin() bool {
	return a.UserTypeCode == dictionary.UserTypeSuperadmin
}

// IsBot reports whether the actor is an internal bot user.
func (a Actor) IsBot() bool {
	return a.UserTypeCode == dictionary.UserTypeBot
}

// Resolver evaluates the permission ladder against stored memberships.
type Resolver struct {
	db     store.Querier
	dict   *dictionary.Resolver
	logger *slog.Logger
}

// NewResolver wires the resolver. db is normally the pool; authorization
// reads need no unit of work.
func NewResolver(db store.Querier, dict *dictionary.Resolver, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{db: db, dict: dict, logger: logger.With("component", "authz")}
}

// Can returns nil when the actor may perform the action, or a typed
// denial otherwise.
func (r *Resolver) Can(ctx context.Context, actor Actor, action Action, target Target) error {
	// 1. System-only operations are closed to everyone but the bot.
	if action.Scope == ScopeSystem {
		if actor.IsBot() {
			return nil
		}
		return apperr.Forbidden("system_only", "error.denied")
	}

	// 2. Superadmin bypasses every remaining rung.
	if actor.IsSuperadmin() {
		return nil
	}

	// 3. Object owner / self-service.
	if action.Scope == ScopeSelf && target.OwnerUserID != "" && target.OwnerUserID == actor.UserID {
		return nil
	}

	// 4. Group role.
	if target.GroupID != "" {
		roleCode, active, err := r.membershipRole(ctx, actor.UserID, target.GroupID)
		if err != nil {
			return err
		}
		switch action.Scope {
		case ScopeMember:
			if active {
				return nil
			}
		case ScopeSelf, ScopeGroupAdmin, ScopeTeamLeader:
			if active && roleCode == dictionary.RoleGroupAdmin {
				return nil
			}
		}
	}

	// 5. Team leadership grants admin-equivalent rights within the team.
	if action.Scope == ScopeTeamLeader && target.TeamID != "" {
		leader, err := r.isTeamLeader(ctx, actor.UserID, target.TeamID)
		if err != nil {
			return err
		}
		if leader {
			return nil
		}
	}

	return apperr.Forbidden(action.Name, "error.denied")
}

// membershipRole returns the actor's role code in the group and whether
// the membership is active. A missing membership yields an empty role
// with no error.
func (r *Resolver) membershipRole(ctx context.Context, userID, groupID string) (string, bool, error) {
	var roleID string
	var active bool
	err := r.db.QueryRow(ctx, `
		SELECT role_id, is_active FROM group_memberships
		WHERE user_id = $1 AND group_id = $2`,
		userID, groupID).Scan(&roleID, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("authz: membership: %w", err)
	}
	code, err := r.dict.Code(ctx, dictionary.KindRole, roleID)
	if err != nil {
		return "", false, err
	}
	return code, active, nil
}

func (r *Resolver) isTeamLeader(ctx context.Context, userID, teamID string) (bool, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM teams
		WHERE id = $1 AND leader_user_id = $2 AND NOT is_deleted`,
		teamID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("authz: team leader: %w", err)
	}
	return n > 0, nil
}

// CountActiveAdmins counts active admin memberships of a group. Used by
// the last-admin invariant; runs on the caller's querier so it sees
// uncommitted writes inside a unit of work.
func CountActiveAdmins(ctx context.Context, q store.Querier, dict *dictionary.Resolver, groupID string) (int, error) {
	adminRoleID, err := dict.ID(ctx, dictionary.KindRole, dictionary.RoleGroupAdmin)
	if err != nil {
		return 0, err
	}
	var n int
	err = q.QueryRow(ctx, `
		SELECT COUNT(*) FROM group_memberships
		WHERE group_id = $1 AND role_id = $2 AND is_active`,
		groupID, adminRoleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("authz: count admins: %w", err)
	}
	return n, nil
}

// ErrLastAdmin is the dedicated last-admin denial.
func ErrLastAdmin() *apperr.Error {
	return apperr.Forbidden("last_admin", "error.last_admin")
}

// ErrTeamLeaderRequired is returned when a generic removal would leave a
// team without its leader.
func ErrTeamLeaderRequired() *apperr.Error {
	return apperr.Forbidden("team_leader_required", "error.team_leader")
}
