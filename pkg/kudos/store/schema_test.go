package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchema_SingleCurrentLevelEnforced(t *testing.T) {
	t.Parallel()

	// One current level per user and group is backed by the database, not
	// only by the recompute flow flipping the old row first.
	require.Contains(t, schema,
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_user_levels_current ON user_levels(user_id, group_id) WHERE is_current;")
}
