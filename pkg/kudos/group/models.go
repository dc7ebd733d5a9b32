// Package group manages groups, their singleton settings, memberships,
// invitations, and teams.
package group

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

// Group is the unit of scoping for tasks, accounts, teams, and settings.
type Group struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	GroupTypeID   *string    `json:"-"`
	GroupTypeCode string     `json:"group_type,omitempty"`
	ParentGroupID *string    `json:"parent_group_id,omitempty"`
	CreatedBy     string     `json:"created_by"`
	Notes         *string    `json:"notes,omitempty"`
	IsDeleted     bool       `json:"-"`
	DeletedAt     *time.Time `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Settings is the 1:1 settings row; it lives and dies with its group.
type Settings struct {
	ID                 string           `json:"id"`
	GroupID            string           `json:"group_id"`
	BonusTypeID        *string          `json:"-"`
	CurrencyName       string           `json:"currency_name"`
	AllowDecimalBonus  bool             `json:"allow_decimal_bonus"`
	MaxDebtAllowed     *decimal.Decimal `json:"max_debt_allowed,omitempty"`
	AllowTaskProposals bool             `json:"allow_task_proposals"`
	RequireTaskReview  bool             `json:"require_task_review"`
	EnableFeed         bool             `json:"enable_feed"`
	NotifyOnTask       bool             `json:"notify_on_task"`
	Visibility         string           `json:"visibility"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Membership grants a user authority within a group.
type Membership struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"-"`
	RoleCode  string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	StatusID  *string   `json:"-"`
	JoinedAt  time.Time `json:"joined_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Invitation is an offer to join a group with a given role.
type Invitation struct {
	ID            string    `json:"id"`
	GroupID       string    `json:"group_id"`
	InvitedBy     string    `json:"invited_by"`
	RoleID        string    `json:"-"`
	RoleCode      string    `json:"role"`
	InviteeEmail  *string   `json:"invitee_email,omitempty"`
	InviteeUserID *string   `json:"invitee_user_id,omitempty"`
	Code          string    `json:"code"`
	StatusID      string    `json:"-"`
	StatusCode    string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	MaxUses       int       `json:"max_uses"`
	CurrentUses   int       `json:"current_uses"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Team is a named subset of a group's members.
type Team struct {
	ID           string     `json:"id"`
	GroupID      string     `json:"group_id"`
	Name         string     `json:"name"`
	LeaderUserID *string    `json:"leader_user_id,omitempty"`
	MaxMembers   *int       `json:"max_members,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	IsDeleted    bool       `json:"-"`
	DeletedAt    *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TeamMembership links one user into one team.
type TeamMembership struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	UserID    string    `json:"user_id"`
	RoleID    *string   `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ── Repository helpers ──

// GetGroup loads a group, excluding soft-deleted rows.
func GetGroup(ctx context.Context, q store.Querier, id string) (*Group, error) {
	var g Group
	err := q.QueryRow(ctx, `
		SELECT id, name, group_type_id, parent_group_id, created_by, notes,
		       is_deleted, deleted_at, created_at, updated_at
		FROM groups WHERE id = $1 AND NOT is_deleted`, id).
		Scan(&g.ID, &g.Name, &g.GroupTypeID, &g.ParentGroupID, &g.CreatedBy,
			&g.Notes, &g.IsDeleted, &g.DeletedAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("group: get: %w", err)
	}
	return &g, nil
}

// GetSettings loads the singleton settings row for a group. Balance
// fields come back as text so decimal parsing stays explicit.
func GetSettings(ctx context.Context, q store.Querier, groupID string) (*Settings, error) {
	var s Settings
	var maxDebt *string
	err := q.QueryRow(ctx, `
		SELECT id, group_id, bonus_type_id, currency_name, allow_decimal_bonus,
		       max_debt_allowed::text, allow_task_proposals, require_task_review,
		       enable_feed, notify_on_task, visibility, created_at, updated_at
		FROM group_settings WHERE group_id = $1`, groupID).
		Scan(&s.ID, &s.GroupID, &s.BonusTypeID, &s.CurrencyName, &s.AllowDecimalBonus,
			&maxDebt, &s.AllowTaskProposals, &s.RequireTaskReview,
			&s.EnableFeed, &s.NotifyOnTask, &s.Visibility, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("group: get settings: %w", err)
	}
	if maxDebt != nil {
		d, err := decimal.NewFromString(*maxDebt)
		if err != nil {
			return nil, fmt.Errorf("group: parse max_debt: %w", err)
		}
		s.MaxDebtAllowed = &d
	}
	return &s, nil
}

// GetMembership loads the membership of a user in a group, active or not.
func GetMembership(ctx context.Context, q store.Querier, groupID, userID string) (*Membership, error) {
	var m Membership
	err := q.QueryRow(ctx, `
		SELECT id, group_id, user_id, role_id, is_active, status_id,
		       joined_at, created_at, updated_at
		FROM group_memberships WHERE group_id = $1 AND user_id = $2`,
		groupID, userID).
		Scan(&m.ID, &m.GroupID, &m.UserID, &m.RoleID, &m.IsActive, &m.StatusID,
			&m.JoinedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("group: get membership: %w", err)
	}
	return &m, nil
}

// GetTeam loads a team, excluding soft-deleted rows.
func GetTeam(ctx context.Context, q store.Querier, id string) (*Team, error) {
	var t Team
	err := q.QueryRow(ctx, `
		SELECT id, group_id, name, leader_user_id, max_members, notes,
		       is_deleted, deleted_at, created_at, updated_at
		FROM teams WHERE id = $1 AND NOT is_deleted`, id).
		Scan(&t.ID, &t.GroupID, &t.Name, &t.LeaderUserID, &t.MaxMembers, &t.Notes,
			&t.IsDeleted, &t.DeletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("group: get team: %w", err)
	}
	return &t, nil
}

// IsTeamMember reports whether the user belongs to the team.
func IsTeamMember(ctx context.Context, q store.Querier, teamID, userID string) (bool, error) {
	var n int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM team_memberships WHERE team_id = $1 AND user_id = $2`,
		teamID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("group: team member check: %w", err)
	}
	return n > 0, nil
}
