package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrap_KeepsCodeAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := ErrInvalidToken.Wrap(cause)

	require.Equal(t, ErrInvalidToken.Code, err.Code)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "boom")

	// The sentinel itself must stay untouched.
	require.Nil(t, ErrInvalidToken.Unwrap())
}

func TestAs_ThroughChain(t *testing.T) {
	t.Parallel()

	inner := BusinessRule("last_admin", "error.last_admin")
	wrapped := fmt.Errorf("removing member: %w", inner)

	e, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, "business_rule.last_admin", e.Code)
	require.Equal(t, KindBusinessRule, e.Kind)

	_, ok = As(errors.New("plain"))
	require.False(t, ok)
}

func TestIs_MatchesByCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("ctx: %w", ErrNotFound.Wrap(errors.New("no rows")))
	require.True(t, Is(err, ErrNotFound))
	require.False(t, Is(err, ErrInvalidToken))
	require.False(t, Is(nil, ErrNotFound))
}

func TestWithMeta_CopiesNotMutates(t *testing.T) {
	t.Parallel()

	base := Validation("error.validation")
	withField := base.WithMeta("field", "email")

	require.Nil(t, base.Meta)
	require.Equal(t, "email", withField.Meta["field"])

	// Stacking keeps earlier keys.
	both := withField.WithMeta("rule", "required")
	require.Equal(t, "email", both.Meta["field"])
	require.Equal(t, "required", both.Meta["rule"])
}

func TestForbidden_SubCode(t *testing.T) {
	t.Parallel()

	err := Forbidden("task.approve", "error.denied")
	require.Equal(t, "authz.denied", err.Code)
	require.Equal(t, KindForbidden, err.Kind)
	require.Equal(t, "task.approve", err.Meta["sub_code"])
}

func TestInternal_HidesDetail(t *testing.T) {
	t.Parallel()

	err := Internal(errors.New("pq: connection refused"))
	require.Equal(t, KindInternal, err.Kind)
	require.Equal(t, "error.internal", err.Detail)
}
