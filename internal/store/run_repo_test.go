package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunStatusValid(t *testing.T) {
	require.True(t, RunRunning.Valid())
	require.True(t, RunDone.Valid())
	require.False(t, RunStatus("success").Valid())
	require.False(t, RunStatus("").Valid())
}
