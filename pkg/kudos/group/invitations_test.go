package group

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewInviteCode(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := newInviteCode()
		require.NoError(t, err)
		require.NotEmpty(t, code)

		// URL-safe: no padding, no characters needing escaping.
		require.False(t, strings.ContainsAny(code, "+/="), "code %q not url-safe", code)
		require.False(t, seen[code], "duplicate code %q", code)
		seen[code] = true
	}
}
