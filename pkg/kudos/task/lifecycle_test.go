package task

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
)

func TestTransitionAllowed(t *testing.T) {
	t.Parallel()

	allowed := [][2]string{
		{dictionary.TaskInProgress, dictionary.TaskPendingReview},
		{dictionary.TaskInProgress, dictionary.TaskCancelled},
		{dictionary.TaskPendingReview, dictionary.TaskCompleted},
		{dictionary.TaskPendingReview, dictionary.TaskRejected},
		{dictionary.TaskPendingReview, dictionary.TaskCancelled},
	}
	for _, tr := range allowed {
		require.True(t, transitionAllowed(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]string{
		{dictionary.TaskInProgress, dictionary.TaskCompleted}, // must pass review first
		{dictionary.TaskInProgress, dictionary.TaskRejected},
		{dictionary.TaskCompleted, dictionary.TaskInProgress}, // terminal
		{dictionary.TaskCompleted, dictionary.TaskCancelled},
		{dictionary.TaskRejected, dictionary.TaskPendingReview},
		{dictionary.TaskCancelled, dictionary.TaskInProgress},
		{dictionary.TaskPendingReview, dictionary.TaskInProgress}, // no going back
	}
	for _, tr := range denied {
		require.False(t, transitionAllowed(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	t.Parallel()

	for _, terminal := range []string{
		dictionary.TaskCompleted,
		dictionary.TaskRejected,
		dictionary.TaskCancelled,
	} {
		require.Empty(t, completionTransitions[terminal], "%s must be terminal", terminal)
	}
}
