package group

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/authz"
	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/identity"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

const inviteCodeBytes = 24

// newInviteCode returns a URL-safe random invitation code.
func newInviteCode() (string, error) {
	raw := make([]byte, inviteCodeBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("group: invite code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// InviteInput carries invitation creation fields.
type InviteInput struct {
	RoleCode      string  `json:"role" validate:"required"`
	InviteeEmail  *string `json:"invitee_email" validate:"omitempty,email"`
	InviteeUserID *string `json:"invitee_user_id" validate:"omitempty,uuid"`
	ExpiresInH    int     `json:"expires_in_hours" validate:"omitempty,min=1,max=720"`
	MaxUses       int     `json:"max_uses" validate:"omitempty,min=1"`
}

// Invite creates an invitation. A targeted invitee (email or user id) may
// have only one active pending invitation per group.
func (s *Service) Invite(ctx context.Context, actor authz.Actor, groupID string, in InviteInput) (*Invitation, error) {
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "invite.create", Scope: authz.ScopeGroupAdmin},
		authz.Target{GroupID: groupID}); err != nil {
		return nil, err
	}
	roleID, err := s.dict.Lookup(ctx, dictionary.KindRole, in.RoleCode)
	if err != nil {
		return nil, err
	}
	pendingID, err := s.dict.ID(ctx, dictionary.KindInvitationStatus, dictionary.InvitePending)
	if err != nil {
		return nil, err
	}
	code, err := newInviteCode()
	if err != nil {
		return nil, err
	}

	if in.ExpiresInH <= 0 {
		in.ExpiresInH = 72
	}
	if in.MaxUses <= 0 {
		in.MaxUses = 1
	}
	now := time.Now().UTC()
	inv := &Invitation{
		ID:            uuid.NewString(),
		GroupID:       groupID,
		InvitedBy:     actor.UserID,
		RoleID:        roleID,
		RoleCode:      in.RoleCode,
		InviteeEmail:  in.InviteeEmail,
		InviteeUserID: in.InviteeUserID,
		Code:          code,
		StatusID:      pendingID,
		StatusCode:    dictionary.InvitePending,
		ExpiresAt:     now.Add(time.Duration(in.ExpiresInH) * time.Hour),
		MaxUses:       in.MaxUses,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if inv.InviteeEmail != nil {
		norm := identity.NormalizeEmail(*inv.InviteeEmail)
		inv.InviteeEmail = &norm
	}

	err = s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		if inv.InviteeEmail != nil || inv.InviteeUserID != nil {
			var n int
			err := uow.QueryRow(ctx, `
				SELECT COUNT(*) FROM group_invitations
				WHERE group_id = $1 AND status_id = $2
				  AND (($3::text IS NOT NULL AND invitee_email = $3)
				    OR ($4::uuid IS NOT NULL AND invitee_user_id = $4))`,
				groupID, pendingID, inv.InviteeEmail, inv.InviteeUserID).Scan(&n)
			if err != nil {
				return fmt.Errorf("group: pending invite check: %w", err)
			}
			if n > 0 {
				return apperr.Conflict("duplicate_invitation", "error.duplicate_invite")
			}
		}
		_, err := uow.Exec(ctx, `
			INSERT INTO group_invitations (id, group_id, invited_by, role_id,
				invitee_email, invitee_user_id, code, status_id, expires_at,
				max_uses, current_uses, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $11)`,
			inv.ID, inv.GroupID, inv.InvitedBy, inv.RoleID, inv.InviteeEmail,
			inv.InviteeUserID, inv.Code, inv.StatusID, inv.ExpiresAt, inv.MaxUses, now)
		if err != nil {
			return fmt.Errorf("group: insert invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("invitation created", "invitation_id", inv.ID, "group_id", groupID)
	return inv, nil
}

// Accept validates the invitation code and joins the actor to the group
// in a single unit of work. Targeted invitations must match the actor.
func (s *Service) Accept(ctx context.Context, actor authz.Actor, code string) (*Membership, error) {
	pendingID, err := s.dict.ID(ctx, dictionary.KindInvitationStatus, dictionary.InvitePending)
	if err != nil {
		return nil, err
	}
	acceptedID, err := s.dict.ID(ctx, dictionary.KindInvitationStatus, dictionary.InviteAccepted)
	if err != nil {
		return nil, err
	}
	expiredID, err := s.dict.ID(ctx, dictionary.KindInvitationStatus, dictionary.InviteExpired)
	if err != nil {
		return nil, err
	}

	var result *Membership
	err = s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		var inv Invitation
		err := uow.QueryRow(ctx, `
			SELECT id, group_id, invited_by, role_id, invitee_email,
			       invitee_user_id, code, status_id, expires_at, max_uses,
			       current_uses, created_at, updated_at
			FROM group_invitations WHERE code = $1
			FOR UPDATE`, code).
			Scan(&inv.ID, &inv.GroupID, &inv.InvitedBy, &inv.RoleID, &inv.InviteeEmail,
				&inv.InviteeUserID, &inv.Code, &inv.StatusID, &inv.ExpiresAt,
				&inv.MaxUses, &inv.CurrentUses, &inv.CreatedAt, &inv.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.ErrNotFound
			}
			return fmt.Errorf("group: load invitation: %w", err)
		}

		switch inv.StatusID {
		case pendingID:
		case acceptedID:
			return apperr.BusinessRule("already_accepted", "error.already_accepted")
		case expiredID:
			return apperr.BusinessRule("invitation_expired", "error.invitation_expired")
		default:
			return apperr.BusinessRule("invitation_unavailable", "error.validation")
		}
		now := time.Now().UTC()
		if now.After(inv.ExpiresAt) {
			// Returning the error rolls this unit of work back, so the row
			// is not flipped here; the ExpireStale sweep persists the status.
			return apperr.BusinessRule("invitation_expired", "error.invitation_expired")
		}

		// Targeted invitations are only valid for the named invitee.
		if inv.InviteeUserID != nil && *inv.InviteeUserID != actor.UserID {
			return apperr.Forbidden("invite.mismatch", "error.denied")
		}
		if inv.InviteeEmail != nil {
			u, err := identity.GetUser(ctx, uow, actor.UserID)
			if err != nil {
				return err
			}
			if u.Email != *inv.InviteeEmail {
				return apperr.Forbidden("invite.mismatch", "error.denied")
			}
		}

		m, err := upsertMembership(ctx, uow, inv.GroupID, actor.UserID, inv.RoleID)
		if err != nil {
			return err
		}
		result = m

		inv.CurrentUses++
		statusID := inv.StatusID
		if inv.CurrentUses >= inv.MaxUses {
			statusID = acceptedID
		}
		_, err = uow.Exec(ctx, `
			UPDATE group_invitations SET current_uses = $2, status_id = $3, updated_at = $4
			WHERE id = $1`,
			inv.ID, inv.CurrentUses, statusID, now)
		if err != nil {
			return fmt.Errorf("group: update invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// upsertMembership inserts a membership or reactivates an inactive one.
func upsertMembership(ctx context.Context, uow *store.UnitOfWork, groupID, userID, roleID string) (*Membership, error) {
	now := time.Now().UTC()
	existing, err := GetMembership(ctx, uow, groupID, userID)
	switch {
	case err == nil && existing.IsActive:
		return existing, nil
	case err == nil:
		_, err := uow.Exec(ctx, `
			UPDATE group_memberships
			SET role_id = $2, is_active = TRUE, joined_at = $3, updated_at = $3
			WHERE id = $1`,
			existing.ID, roleID, now)
		if err != nil {
			return nil, fmt.Errorf("group: reactivate membership: %w", err)
		}
		existing.RoleID = roleID
		existing.IsActive = true
		existing.JoinedAt = now
		return existing, nil
	case apperr.Is(err, apperr.ErrNotFound):
		m := &Membership{
			ID: uuid.NewString(), GroupID: groupID, UserID: userID,
			RoleID: roleID, IsActive: true, JoinedAt: now,
			CreatedAt: now, UpdatedAt: now,
		}
		_, err := uow.Exec(ctx, `
			INSERT INTO group_memberships (id, group_id, user_id, role_id,
				is_active, joined_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, TRUE, $5, $5, $5)`,
			m.ID, m.GroupID, m.UserID, m.RoleID, now)
		if err != nil {
			return nil, fmt.Errorf("group: insert membership: %w", err)
		}
		return m, nil
	default:
		return nil, err
	}
}

// Decline transitions a pending invitation to rejected. Only the targeted
// invitee may decline a targeted invitation.
func (s *Service) Decline(ctx context.Context, actor authz.Actor, code string) error {
	pendingID, err := s.dict.ID(ctx, dictionary.KindInvitationStatus, dictionary.InvitePending)
	if err != nil {
		return err
	}
	rejectedID, err := s.dict.ID(ctx, dictionary.KindInvitationStatus, dictionary.InviteRejected)
	if err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		tag, err := uow.Exec(ctx, `
			UPDATE group_invitations SET status_id = $2, updated_at = $3
			WHERE code = $1 AND status_id = $4
			  AND (invitee_user_id IS NULL OR invitee_user_id = $5)`,
			code, rejectedID, time.Now().UTC(), pendingID, actor.UserID)
		if err != nil {
			return fmt.Errorf("group: decline invitation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.ErrNotFound
		}
		return nil
	})
}

// Revoke cancels a pending invitation.
func (s *Service) Revoke(ctx context.Context, actor authz.Actor, invitationID string) error {
	var groupID string
	err := s.store.Pool().QueryRow(ctx,
		`SELECT group_id FROM group_invitations WHERE id = $1`, invitationID).Scan(&groupID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("group: load invitation: %w", err)
	}
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "invite.revoke", Scope: authz.ScopeGroupAdmin},
		authz.Target{GroupID: groupID}); err != nil {
		return err
	}
	pendingID, err := s.dict.ID(ctx, dictionary.KindInvitationStatus, dictionary.InvitePending)
	if err != nil {
		return err
	}
	cancelledID, err := s.dict.ID(ctx, dictionary.KindInvitationStatus, dictionary.InviteCancelled)
	if err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		tag, err := uow.Exec(ctx, `
			UPDATE group_invitations SET status_id = $2, updated_at = $3
			WHERE id = $1 AND status_id = $4`,
			invitationID, cancelledID, time.Now().UTC(), pendingID)
		if err != nil {
			return fmt.Errorf("group: revoke invitation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.BusinessRule("invitation_unavailable", "error.validation")
		}
		return nil
	})
}

// ExpireStale transitions every pending invitation past its expiry to
// expired. Invoked by the scheduler's sweep; returns the affected count.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	pendingID, err := s.dict.ID(ctx, dictionary.KindInvitationStatus, dictionary.InvitePending)
	if err != nil {
		return 0, err
	}
	expiredID, err := s.dict.ID(ctx, dictionary.KindInvitationStatus, dictionary.InviteExpired)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		tag, err := uow.Exec(ctx, `
			UPDATE group_invitations SET status_id = $2, updated_at = $3
			WHERE status_id = $1 AND expires_at <= $3`,
			pendingID, expiredID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("group: expire invitations: %w", err)
		}
		n = int(tag.RowsAffected())
		return nil
	})
	return n, err
}
