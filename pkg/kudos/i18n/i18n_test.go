package i18n

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNegotiate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header string
		want   language.Tag
	}{
		{"empty defaults to ukrainian", "", language.Ukrainian},
		{"plain english", "en", language.English},
		{"regional english", "en-US,en;q=0.9", language.English},
		{"ukrainian", "uk-UA", language.Ukrainian},
		{"unsupported falls back", "de-DE", language.Ukrainian},
		{"garbage falls back", ";;;not-a-header", language.Ukrainian},
		{"quality ordering wins", "uk;q=0.5, en;q=0.9", language.English},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Negotiate(tc.header))
		})
	}
}

func TestT_KnownKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "resource not found", T(language.English, "error.not_found"))
	require.Equal(t, "ресурс не знайдено", T(language.Ukrainian, "error.not_found"))
}

func TestT_UnknownKeyReturnedVerbatim(t *testing.T) {
	t.Parallel()

	require.Equal(t, "error.no_such_key", T(language.English, "error.no_such_key"))
	require.Equal(t, "error.no_such_key", T(language.Ukrainian, "error.no_such_key"))
}

// Every key present in one table must be present in the other, so no
// language silently degrades to raw keys.
func TestTables_Symmetric(t *testing.T) {
	t.Parallel()

	for key := range en {
		if _, ok := uk[key]; !ok {
			t.Errorf("key %q missing from ukrainian table", key)
		}
	}
	for key := range uk {
		if _, ok := en[key]; !ok {
			t.Errorf("key %q missing from english table", key)
		}
	}
}
