package token

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
)

// oneTimeClaims are the claims of a single-use token. Subject is the
// email address the flow targets.
type oneTimeClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

func (s *Service) issueOneTime(email, tokenType string, ttl time.Duration) (string, error) {
	now := s.now().UTC()
	claims := oneTimeClaims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ID:        uuid.NewString(),
			Issuer:    s.cfg.JWTIssuer,
			Audience:  jwt.ClaimStrings{s.cfg.JWTAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.key)
	if err != nil {
		return "", apperr.Internal(err)
	}
	return signed, nil
}

// consumeOneTime validates a single-use token and burns it: the jti is
// appended to the blacklist so a second use fails.
func (s *Service) consumeOneTime(ctx context.Context, tokenString, wantType string) (string, error) {
	claims := &oneTimeClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc,
		jwt.WithIssuer(s.cfg.JWTIssuer),
		jwt.WithAudience(s.cfg.JWTAudience),
		jwt.WithValidMethods([]string{s.method.Alg()}),
	)
	if err != nil {
		if strings.Contains(err.Error(), jwt.ErrTokenExpired.Error()) {
			return "", apperr.ErrExpiredToken.Wrap(err)
		}
		return "", apperr.ErrInvalidToken.Wrap(err)
	}
	if !parsed.Valid || claims.Type != wantType || claims.Subject == "" {
		return "", apperr.ErrInvalidToken
	}

	// The burn is a single atomic claim; a concurrent second use loses.
	first, err := s.blacklist.Burn(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
	if err != nil {
		return "", err
	}
	if !first {
		return "", apperr.ErrInvalidToken
	}
	return claims.Subject, nil
}

// IssueEmailVerification mints a verification token for the email.
func (s *Service) IssueEmailVerification(email string) (string, error) {
	return s.issueOneTime(email, typeEmailVerification, s.cfg.EmailVerificationTTL())
}

// IssuePasswordReset mints a password-reset token for the email.
func (s *Service) IssuePasswordReset(email string) (string, error) {
	return s.issueOneTime(email, typePasswordReset, s.cfg.PasswordResetTTL())
}

// ConsumeEmailVerification validates and burns a verification token.
func (s *Service) ConsumeEmailVerification(ctx context.Context, token string) (string, error) {
	return s.consumeOneTime(ctx, token, typeEmailVerification)
}

// ConsumePasswordReset validates and burns a password-reset token.
func (s *Service) ConsumePasswordReset(ctx context.Context, token string) (string, error) {
	return s.consumeOneTime(ctx, token, typePasswordReset)
}
