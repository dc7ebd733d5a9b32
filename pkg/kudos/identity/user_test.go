package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"User@Example.COM", "user@example.com"},
		{"  padded@example.com  ", "padded@example.com"},
		{"already@ok.ua", "already@ok.ua"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeEmail(tc.in))
	}
}
