package token

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/config"
)

func testConfig() *config.Config {
	return &config.Config{
		JWTSecretKey:                    "test-secret-key-for-unit-tests",
		JWTAlgorithm:                    "HS256",
		JWTIssuer:                       "kudos",
		JWTAudience:                     "kudos",
		AccessTokenExpireMinutes:        15,
		RefreshTokenExpireDays:          30,
		EmailVerificationTokenExpireHrs: 24,
		PasswordResetTokenExpireMin:     30,
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(nil, testConfig(), NewMemoryBlacklist(), logger)
	require.NoError(t, err)
	return svc
}

func TestNewService_UnknownAlgorithm(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.JWTAlgorithm = "XX999"
	_, err := NewService(nil, cfg, NewMemoryBlacklist(), nil)
	require.Error(t, err)
}

func TestAccessToken_RoundTrip(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	signed, err := svc.IssueAccess("user-1", "user")
	require.NoError(t, err)

	claims, err := svc.ValidateAccess(signed)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "user", claims.UserType)
	require.Equal(t, "access_token", claims.Scope)
}

func TestAccessToken_Garbage(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	_, err := svc.ValidateAccess("not.a.jwt")
	require.True(t, apperr.Is(err, apperr.ErrInvalidToken), "got %v", err)
}

func TestAccessToken_WrongKey(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	other := testConfig()
	other.JWTSecretKey = "a-completely-different-secret"
	otherSvc, err := NewService(nil, other, NewMemoryBlacklist(), nil)
	require.NoError(t, err)

	signed, err := otherSvc.IssueAccess("user-1", "user")
	require.NoError(t, err)

	_, err = svc.ValidateAccess(signed)
	require.True(t, apperr.Is(err, apperr.ErrInvalidToken), "got %v", err)
}

func TestAccessToken_Expired(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	// Issue in the past so the token is already expired.
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	signed, err := svc.IssueAccess("user-1", "user")
	require.NoError(t, err)
	svc.now = time.Now

	_, err = svc.ValidateAccess(signed)
	require.True(t, apperr.Is(err, apperr.ErrExpiredToken), "got %v", err)
}

func TestOneTimeToken_SingleUse(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	signed, err := svc.IssueEmailVerification("user@example.com")
	require.NoError(t, err)

	email, err := svc.ConsumeEmailVerification(ctx, signed)
	require.NoError(t, err)
	require.Equal(t, "user@example.com", email)

	// Second consume must fail: the jti is blacklisted.
	_, err = svc.ConsumeEmailVerification(ctx, signed)
	require.True(t, apperr.Is(err, apperr.ErrInvalidToken), "got %v", err)
}

func TestOneTimeToken_TypeMismatch(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	reset, err := svc.IssuePasswordReset("user@example.com")
	require.NoError(t, err)

	// A reset token must not pass as a verification token, and the
	// failed attempt must not burn it.
	_, err = svc.ConsumeEmailVerification(ctx, reset)
	require.True(t, apperr.Is(err, apperr.ErrInvalidToken), "got %v", err)

	email, err := svc.ConsumePasswordReset(ctx, reset)
	require.NoError(t, err)
	require.Equal(t, "user@example.com", email)
}

func TestOneTimeToken_Expired(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	svc.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	signed, err := svc.IssueEmailVerification("user@example.com")
	require.NoError(t, err)
	svc.now = time.Now

	_, err = svc.ConsumeEmailVerification(context.Background(), signed)
	require.True(t, apperr.Is(err, apperr.ErrExpiredToken), "got %v", err)
}

func TestSplitWire(t *testing.T) {
	t.Parallel()

	valid := uuid.NewString()
	cases := []struct {
		name string
		wire string
		ok   bool
	}{
		{"valid", valid + ".c2VjcmV0", true},
		{"no separator", valid, false},
		{"empty secret", valid + ".", false},
		{"jti not a uuid", "nope.c2VjcmV0", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			jti, secret, ok := splitWire(tc.wire)
			require.Equal(t, tc.ok, ok)
			if ok {
				require.Equal(t, valid, jti)
				require.NotEmpty(t, secret)
			}
		})
	}
}

func TestHashSecret_Deterministic(t *testing.T) {
	t.Parallel()

	a := hashSecret("secret")
	b := hashSecret("secret")
	require.Equal(t, a, b)
	require.NotEqual(t, a, hashSecret("other"))
	require.Len(t, a, 64) // hex-encoded sha256
}

// staticRow answers one QueryRow with canned column values; nil stands
// for a NULL nullable column.
type staticRow struct {
	vals []any
	err  error
}

func (r staticRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = r.vals[i].(string)
		case *bool:
			*v = r.vals[i].(bool)
		case *time.Time:
			*v = r.vals[i].(time.Time)
		case **time.Time:
			if r.vals[i] == nil {
				*v = nil
			} else {
				ts := r.vals[i].(time.Time)
				*v = &ts
			}
		}
	}
	return nil
}

// fakeQuerier serves queued rows in order and records every Exec.
type fakeQuerier struct {
	rows  []staticRow
	execs []string
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	q.execs = append(q.execs, sql)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (q *fakeQuerier) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected Query")
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if len(q.rows) == 0 {
		return staticRow{err: pgx.ErrNoRows}
	}
	row := q.rows[0]
	q.rows = q.rows[1:]
	return row
}

func TestValidateRefresh_HappyPath(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	jti := uuid.NewString()
	secret := "c2VjcmV0"
	db := &fakeQuerier{rows: []staticRow{
		{vals: []any{jti, "user-1", hashSecret(secret)}},
		{vals: []any{time.Now().Add(time.Hour).UTC(), nil, true, false}},
	}}

	userID, gotJTI, err := svc.ValidateRefresh(context.Background(), db, jti+"."+secret)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)
	require.Equal(t, jti, gotJTI)
	require.Len(t, db.execs, 1)
	require.Contains(t, db.execs[0], "last_used_at")
}

func TestValidateRefresh_MismatchRevokesChainOutsideCallerTx(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	jti := uuid.NewString()
	db := &fakeQuerier{rows: []staticRow{
		{vals: []any{jti, "user-1", hashSecret("the-real-secret")}},
	}}
	var revoked []string
	svc.revokeChain = func(_ context.Context, userID string) error {
		revoked = append(revoked, userID)
		return nil
	}

	_, _, err := svc.ValidateRefresh(context.Background(), db, jti+".stolen-guess")
	require.True(t, apperr.Is(err, apperr.ErrInvalidToken), "got %v", err)
	require.Equal(t, []string{"user-1"}, revoked)
	// The revocation must not ride on the caller's querier: the caller
	// rolls back on error, which would undo it.
	require.Empty(t, db.execs)
}

func TestValidateRefresh_ExpiredLeavesRowUntouched(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	jti := uuid.NewString()
	secret := "c2VjcmV0"
	db := &fakeQuerier{rows: []staticRow{
		{vals: []any{jti, "user-1", hashSecret(secret)}},
		{vals: []any{time.Now().Add(-time.Hour).UTC(), nil, true, false}},
	}}
	svc.revokeChain = func(context.Context, string) error {
		t.Fatal("chain revoked on plain expiry")
		return nil
	}

	_, _, err := svc.ValidateRefresh(context.Background(), db, jti+"."+secret)
	require.True(t, apperr.Is(err, apperr.ErrExpiredToken), "got %v", err)
	// Expired rows are left to CleanupExpired; a write here would be
	// rolled back with the caller's transaction anyway.
	require.Empty(t, db.execs)
}

func TestValidateRefresh_RevokedRejected(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	jti := uuid.NewString()
	secret := "c2VjcmV0"
	revokedAt := time.Now().Add(-time.Minute).UTC()
	db := &fakeQuerier{rows: []staticRow{
		{vals: []any{jti, "user-1", hashSecret(secret)}},
		{vals: []any{time.Now().Add(time.Hour).UTC(), revokedAt, true, false}},
	}}

	_, _, err := svc.ValidateRefresh(context.Background(), db, jti+"."+secret)
	require.True(t, apperr.Is(err, apperr.ErrInvalidToken), "got %v", err)
	require.Empty(t, db.execs)
}

func TestValidateRefresh_InactiveUser(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	jti := uuid.NewString()
	secret := "c2VjcmV0"
	db := &fakeQuerier{rows: []staticRow{
		{vals: []any{jti, "user-1", hashSecret(secret)}},
		{vals: []any{time.Now().Add(time.Hour).UTC(), nil, false, false}},
	}}

	_, _, err := svc.ValidateRefresh(context.Background(), db, jti+"."+secret)
	require.True(t, apperr.Is(err, apperr.ErrInactiveUser), "got %v", err)
	require.Empty(t, db.execs)
}
