package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// System usernames seeded at bootstrap. "shadow" is the internal bot that
// scheduler-driven operations act as; "odin" and "root" are superadmins.
const (
	SystemUserOdin   = "odin"
	SystemUserShadow = "shadow"
	SystemUserRoot   = "root"
)

// Notifier enqueues a notification inside the caller's unit of work.
type Notifier interface {
	EnqueueVerification(ctx context.Context, uow *store.UnitOfWork, userID, email, token string) error
	EnqueuePasswordReset(ctx context.Context, uow *store.UnitOfWork, userID, email, token string) error
}

// OneTimeTokens issues single-use JWTs for email flows.
type OneTimeTokens interface {
	IssueEmailVerification(email string) (string, error)
	IssuePasswordReset(email string) (string, error)
	ConsumeEmailVerification(ctx context.Context, token string) (email string, err error)
	ConsumePasswordReset(ctx context.Context, token string) (email string, err error)
}

// Service implements user lifecycle operations.
type Service struct {
	store      *store.Store
	dict       *dictionary.Resolver
	tokens     OneTimeTokens
	notifier   Notifier
	bcryptCost int
	logger     *slog.Logger
}

// NewService wires the identity service.
func NewService(st *store.Store, dict *dictionary.Resolver, tokens OneTimeTokens, notifier Notifier, bcryptCost int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		store:      st,
		dict:       dict,
		tokens:     tokens,
		notifier:   notifier,
		bcryptCost: bcryptCost,
		logger:     logger.With("component", "identity"),
	}
}

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=8"`
	Username *string `json:"username" validate:"omitempty,min=3,max=64"`
}

// Register creates an inactive, unverified user and enqueues the
// verification email. The insert and the notification share one unit of
// work so a failed enqueue leaves no half-registered user behind.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("identity: hash password: %w", err)
	}
	typeID, err := s.dict.ID(ctx, dictionary.KindUserType, dictionary.UserTypeUser)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:           uuid.NewString(),
		Email:        NormalizeEmail(in.Email),
		Username:     in.Username,
		PasswordHash: string(hash),
		UserTypeID:   typeID,
		UserTypeCode: dictionary.UserTypeUser,
		CreatedAt:    time.Now().UTC(),
	}
	u.UpdatedAt = u.CreatedAt

	verifyToken, err := s.tokens.IssueEmailVerification(u.Email)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		if err := InsertUser(ctx, uow, u); err != nil {
			return err
		}
		return s.notifier.EnqueueVerification(ctx, uow, u.ID, u.Email, verifyToken)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user_id", u.ID)
	return u, nil
}

// VerifyEmail consumes a verification token and activates the user.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	email, err := s.tokens.ConsumeEmailVerification(ctx, token)
	if err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		u, err := GetUserByEmail(ctx, uow, email)
		if err != nil {
			return err
		}
		u.IsVerified = true
		u.IsActive = true
		return UpdateUser(ctx, uow, u)
	})
}

// Authenticate checks the password for a user identified by email.
// Inactive or soft-deleted users are rejected even with a valid password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := GetUserByEmail(ctx, s.store.Pool(), email)
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrBadCredential
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.ErrBadCredential
	}
	if !u.IsActive {
		return nil, apperr.ErrInactiveUser
	}
	if err := s.fillTypeCode(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Get loads a user and resolves its type code.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := GetUser(ctx, s.store.Pool(), id)
	if err != nil {
		return nil, err
	}
	if err := s.fillTypeCode(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// RequestPasswordReset issues and mails a reset token. A missing account
// is reported as success to avoid account enumeration.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := GetUserByEmail(ctx, s.store.Pool(), email)
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	token, err := s.tokens.IssuePasswordReset(u.Email)
	if err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		return s.notifier.EnqueuePasswordReset(ctx, uow, u.ID, u.Email, token)
	})
}

// ResetPassword consumes a reset token and replaces the password hash.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < 8 {
		return apperr.Validation("error.validation").WithMeta("field", "password")
	}
	email, err := s.tokens.ConsumePasswordReset(ctx, token)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("identity: hash password: %w", err)
	}
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		u, err := GetUserByEmail(ctx, uow, email)
		if err != nil {
			return err
		}
		u.PasswordHash = string(hash)
		return UpdateUser(ctx, uow, u)
	})
}

// Deactivate soft-deletes a user. Memberships and tokens are cut off by
// the services owning them; the row itself is retained for audit.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		u, err := GetUser(ctx, uow, id)
		if err != nil {
			return err
		}
		u.IsActive = false
		if err := UpdateUser(ctx, uow, u); err != nil {
			return err
		}
		return store.SoftDelete(ctx, uow, "users", id)
	})
}

func (s *Service) fillTypeCode(ctx context.Context, u *User) error {
	code, err := s.dict.Code(ctx, dictionary.KindUserType, u.UserTypeID)
	if err != nil {
		return err
	}
	u.UserTypeCode = code
	return nil
}

// SeedSystemUsers inserts odin, shadow, and root idempotently. Passwords
// are random; system users never log in with credentials.
func SeedSystemUsers(ctx context.Context, st *store.Store, dict *dictionary.Resolver, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	superID, err := dict.ID(ctx, dictionary.KindUserType, dictionary.UserTypeSuperadmin)
	if err != nil {
		return err
	}
	botID, err := dict.ID(ctx, dictionary.KindUserType, dictionary.UserTypeBot)
	if err != nil {
		return err
	}

	seed := []struct {
		username string
		typeID   string
	}{
		{SystemUserOdin, superID},
		{SystemUserShadow, botID},
		{SystemUserRoot, superID},
	}
	return st.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		now := time.Now().UTC()
		for _, su := range seed {
			username := su.username
			_, err := uow.Exec(ctx, `
				INSERT INTO users (id, email, username, password_hash, user_type_id,
					is_verified, is_active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, TRUE, TRUE, $6, $6)
				ON CONFLICT (email) DO NOTHING`,
				uuid.NewString(), username+"@system.local", username,
				"!", su.typeID, now)
			if err != nil {
				return fmt.Errorf("identity: seed %s: %w", username, err)
			}
		}
		logger.Info("system users seeded")
		return nil
	})
}

// EnsureSuperuser creates a verified superadmin with the given
// credentials, or resets the password of an existing account with that
// email and promotes it. Intended for the bootstrap command.
func EnsureSuperuser(ctx context.Context, st *store.Store, dict *dictionary.Resolver, email, password string, bcryptCost int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	if len(password) < 8 {
		return apperr.Validation("error.validation").WithMeta("field", "password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("identity: hash password: %w", err)
	}
	superID, err := dict.ID(ctx, dictionary.KindUserType, dictionary.UserTypeSuperadmin)
	if err != nil {
		return err
	}
	return st.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		now := time.Now().UTC()
		_, err := uow.Exec(ctx, `
			INSERT INTO users (id, email, password_hash, user_type_id,
				is_verified, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, TRUE, TRUE, $5, $5)
			ON CONFLICT (email) DO UPDATE
			SET password_hash = EXCLUDED.password_hash,
			    user_type_id  = EXCLUDED.user_type_id,
			    is_verified   = TRUE,
			    is_active     = TRUE,
			    is_deleted    = FALSE,
			    deleted_at    = NULL,
			    updated_at    = EXCLUDED.updated_at`,
			uuid.NewString(), NormalizeEmail(email), string(hash), superID, now)
		if err != nil {
			return fmt.Errorf("identity: ensure superuser: %w", err)
		}
		logger.Info("superuser ensured", "email", NormalizeEmail(email))
		return nil
	})
}

// GetSystemUser loads a seeded system user by its well-known username.
func GetSystemUser(ctx context.Context, q store.Querier, username string) (*User, error) {
	return GetUserByUsername(ctx, q, username)
}
