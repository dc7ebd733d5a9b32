// Package token issues and validates the four token kinds: short-lived
// access JWTs, long-lived refresh tokens in jti.secret wire form, and
// single-use email-verification and password-reset JWTs.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/config"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// One-time token types carried in the "type" claim.
const (
	typeEmailVerification = "email_verification"
	typePasswordReset     = "password_reset"

	scopeAccess = "access_token"

	refreshSecretBytes = 32
)

// Service implements the token lifecycle.
type Service struct {
	store     *store.Store
	cfg       *config.Config
	method    jwt.SigningMethod
	key       []byte
	blacklist Blacklist
	logger    *slog.Logger
	now       func() time.Time

	// revokeChain commits the theft response on its own transaction, so
	// a rollback of the caller's unit of work cannot undo it.
	revokeChain func(ctx context.Context, userID string) error
}

// NewService wires the token service. The signing key is read once and
// never changes afterwards.
func NewService(st *store.Store, cfg *config.Config, blacklist Blacklist, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	method := jwt.GetSigningMethod(cfg.JWTAlgorithm)
	if method == nil {
		return nil, fmt.Errorf("token: unknown JWT algorithm %q", cfg.JWTAlgorithm)
	}
	svc := &Service{
		store:     st,
		cfg:       cfg,
		method:    method,
		key:       []byte(cfg.JWTSecretKey),
		blacklist: blacklist,
		logger:    logger.With("component", "token"),
		now:       time.Now,
	}
	svc.revokeChain = func(ctx context.Context, userID string) error {
		return st.WithinTx(ctx, func(uow *store.UnitOfWork) error {
			return svc.RevokeAll(ctx, uow, userID)
		})
	}
	return svc, nil
}

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	UserType string `json:"user_type"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// IssueAccess signs a stateless access JWT for the user.
func (s *Service) IssueAccess(userID, userTypeCode string) (string, error) {
	now := s.now().UTC()
	claims := AccessClaims{
		UserType: userTypeCode,
		Scope:    scopeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.cfg.JWTIssuer,
			Audience:  jwt.ClaimStrings{s.cfg.JWTAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL())),
		},
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("token: sign access: %w", err)
	}
	return signed, nil
}

// ValidateAccess parses and verifies an access JWT.
func (s *Service) ValidateAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc,
		jwt.WithIssuer(s.cfg.JWTIssuer),
		jwt.WithAudience(s.cfg.JWTAudience),
		jwt.WithValidMethods([]string{s.method.Alg()}),
	)
	if err != nil {
		if strings.Contains(err.Error(), jwt.ErrTokenExpired.Error()) {
			return nil, apperr.ErrExpiredToken.Wrap(err)
		}
		return nil, apperr.ErrInvalidToken.Wrap(err)
	}
	if !parsed.Valid || claims.Scope != scopeAccess {
		return nil, apperr.ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) keyFunc(t *jwt.Token) (any, error) {
	return s.key, nil
}

// ── Refresh tokens ──

// RefreshToken mirrors one refresh_tokens row. The id doubles as the
// wire jti; only the hash of the secret is stored.
type RefreshToken struct {
	ID           string
	UserID       string
	HashedSecret string
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	LastUsedAt   *time.Time
	UserAgent    *string
	IP           *string
	CreatedAt    time.Time
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// IssueRefresh mints a refresh token, persisting only the secret hash.
// Wire form: "<jti>.<urlsafe-base64-secret>".
func (s *Service) IssueRefresh(ctx context.Context, q store.Querier, userID, userAgent, ip string) (string, error) {
	raw := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("token: entropy: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	jti := uuid.NewString()
	now := s.now().UTC()

	_, err := q.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, hashed_secret, expires_at,
			user_agent, ip, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		jti, userID, hashSecret(secret), now.Add(s.cfg.RefreshTokenTTL()),
		nullable(userAgent), nullable(ip), now)
	if err != nil {
		return "", fmt.Errorf("token: insert refresh: %w", err)
	}
	return jti + "." + secret, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ValidateRefresh runs the full validation algorithm. A hash mismatch on
// an existing jti is treated as theft: every refresh token of the owning
// user is revoked before the call fails.
//
// The hash check runs against an unlocked read so the theft response can
// commit on its own transaction via revokeChain; the caller's unit of
// work rolls back on error and must not be able to undo the revocation.
// Only after the secret checks out is the row locked and its mutable
// state re-read for the rest of the algorithm.
func (s *Service) ValidateRefresh(ctx context.Context, q store.Querier, wire string) (userID, jti string, err error) {
	jti, secret, ok := splitWire(wire)
	if !ok {
		return "", "", apperr.ErrInvalidToken
	}

	var rt RefreshToken
	err = q.QueryRow(ctx,
		`SELECT id, user_id, hashed_secret FROM refresh_tokens WHERE id = $1`, jti).
		Scan(&rt.ID, &rt.UserID, &rt.HashedSecret)
	if err != nil {
		return "", "", apperr.ErrInvalidToken.Wrap(err)
	}

	if subtle.ConstantTimeCompare([]byte(hashSecret(secret)), []byte(rt.HashedSecret)) != 1 {
		// Wrong secret for a real jti: assume the chain is compromised.
		if revokeErr := s.revokeChain(ctx, rt.UserID); revokeErr != nil {
			return "", "", revokeErr
		}
		s.logger.Warn("refresh secret mismatch, chain revoked", "user_id", rt.UserID)
		return "", "", apperr.ErrInvalidToken
	}

	var active, deleted bool
	err = q.QueryRow(ctx, `
		SELECT rt.expires_at, rt.revoked_at, u.is_active, u.is_deleted
		FROM refresh_tokens rt
		JOIN users u ON u.id = rt.user_id
		WHERE rt.id = $1
		FOR UPDATE OF rt`, jti).
		Scan(&rt.ExpiresAt, &rt.RevokedAt, &active, &deleted)
	if err != nil {
		return "", "", apperr.ErrInvalidToken.Wrap(err)
	}
	if rt.RevokedAt != nil {
		return "", "", apperr.ErrInvalidToken
	}
	now := s.now().UTC()
	if now.After(rt.ExpiresAt) {
		// Expired rows are reaped by CleanupExpired; no write here.
		return "", "", apperr.ErrExpiredToken
	}
	if !active || deleted {
		return "", "", apperr.ErrInactiveUser
	}

	_, err = q.Exec(ctx,
		`UPDATE refresh_tokens SET last_used_at = $2, updated_at = $2 WHERE id = $1`,
		rt.ID, now)
	if err != nil {
		return "", "", fmt.Errorf("token: touch refresh: %w", err)
	}
	return rt.UserID, rt.ID, nil
}

func splitWire(wire string) (jti, secret string, ok bool) {
	jti, secret, found := strings.Cut(wire, ".")
	if !found || secret == "" {
		return "", "", false
	}
	if _, err := uuid.Parse(jti); err != nil {
		return "", "", false
	}
	return jti, secret, true
}

// Revoke marks a single refresh token revoked.
func (s *Service) Revoke(ctx context.Context, q store.Querier, jti string) error {
	_, err := q.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2, updated_at = $2
		WHERE id = $1 AND revoked_at IS NULL`,
		jti, s.now().UTC())
	if err != nil {
		return fmt.Errorf("token: revoke: %w", err)
	}
	return nil
}

// RevokeAll revokes every live refresh token of a user.
func (s *Service) RevokeAll(ctx context.Context, q store.Querier, userID string) error {
	_, err := q.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2, updated_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("token: revoke all: %w", err)
	}
	return nil
}

// RevokeAllExcept revokes every live refresh token of a user but the one
// identified by keepJTI (the caller's current session).
func (s *Service) RevokeAllExcept(ctx context.Context, q store.Querier, userID, keepJTI string) error {
	_, err := q.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2, updated_at = $2
		WHERE user_id = $1 AND id <> $3 AND revoked_at IS NULL`,
		userID, s.now().UTC(), keepJTI)
	if err != nil {
		return fmt.Errorf("token: revoke all except: %w", err)
	}
	return nil
}

// Rotate validates the presented refresh token, revokes it, and issues a
// fresh one, all inside the caller's unit of work. Rotation past commit
// is not cancellable; before commit, rollback undoes everything except a
// theft revocation, which commits independently.
func (s *Service) Rotate(ctx context.Context, q store.Querier, wire, userAgent, ip string) (userID, newWire string, err error) {
	userID, jti, err := s.ValidateRefresh(ctx, q, wire)
	if err != nil {
		return "", "", err
	}
	if err := s.Revoke(ctx, q, jti); err != nil {
		return "", "", err
	}
	newWire, err = s.IssueRefresh(ctx, q, userID, userAgent, ip)
	if err != nil {
		return "", "", err
	}
	return userID, newWire, nil
}

// CleanupExpired removes refresh tokens past a grace period and expired
// blacklist rows. Invoked by the scheduler's cleanup job.
func (s *Service) CleanupExpired(ctx context.Context, grace time.Duration) error {
	cutoff := s.now().UTC().Add(-grace)
	return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		if _, err := uow.Exec(ctx,
			`DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff); err != nil {
			return fmt.Errorf("token: cleanup refresh: %w", err)
		}
		if _, err := uow.Exec(ctx,
			`DELETE FROM used_one_time_tokens WHERE expires_at < $1`, s.now().UTC()); err != nil {
			return fmt.Errorf("token: cleanup blacklist: %w", err)
		}
		return nil
	})
}
