package gamification

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseNullDecimal(t *testing.T) {
	t.Parallel()

	d, err := parseNullDecimal(nil)
	require.NoError(t, err)
	require.True(t, d.IsZero())

	s := "42.50"
	d, err = parseNullDecimal(&s)
	require.NoError(t, err)
	require.True(t, d.Equal(decimal.RequireFromString("42.5")))

	bad := "not-a-number"
	_, err = parseNullDecimal(&bad)
	require.Error(t, err)
}

func TestBadgeCondition_Unmarshal(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"count": 10, "amount": "250.00", "cooldown_hours": 24}`)
	var cond badgeCondition
	require.NoError(t, json.Unmarshal(raw, &cond))
	require.Equal(t, 10, cond.Count)
	require.Equal(t, "250.00", cond.Amount)
	require.Equal(t, 24, cond.CooldownHours)

	// Unknown condition fields are tolerated; badges are operator data.
	raw = []byte(`{"count": 3, "future_field": true}`)
	cond = badgeCondition{}
	require.NoError(t, json.Unmarshal(raw, &cond))
	require.Equal(t, 3, cond.Count)
}
