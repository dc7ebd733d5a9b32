package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   Page
		want Page
	}{
		{"zero value", Page{}, Page{Number: 1, Size: 20}},
		{"negative page", Page{Number: -3, Size: 10}, Page{Number: 1, Size: 10}},
		{"size over cap", Page{Number: 2, Size: 500}, Page{Number: 2, Size: 100}},
		{"already valid", Page{Number: 4, Size: 50}, Page{Number: 4, Size: 50}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.in.Normalize())
		})
	}
}

func TestPageOffset(t *testing.T) {
	t.Parallel()

	p := Page{Number: 3, Size: 20}
	require.Equal(t, 20, p.Limit())
	require.Equal(t, 40, p.Offset())
}

func TestNewPaginated(t *testing.T) {
	t.Parallel()

	out := NewPaginated([]int{1, 2, 3}, 45, Page{Number: 2, Size: 20})
	require.Equal(t, 45, out.Total)
	require.Equal(t, 2, out.Page)
	require.Equal(t, 20, out.Size)
	require.Equal(t, 3, out.Pages)

	// Exact multiple does not round up.
	out = NewPaginated([]int{}, 40, Page{Number: 1, Size: 20})
	require.Equal(t, 2, out.Pages)
}

func TestNewPaginated_NilItems(t *testing.T) {
	t.Parallel()

	out := NewPaginated[string](nil, 0, Page{})
	require.NotNil(t, out.Items, "items must encode as [] not null")
	require.Empty(t, out.Items)
	require.Equal(t, 0, out.Pages)
}
