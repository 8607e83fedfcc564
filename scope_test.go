package driftline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewScope_BuildsAndCloses(t *testing.T) {
	s, err := NewScope(WithScopeTTL(time.Minute), WithScopeSize(100, 1<<10))
	require.NoError(t, err)
	require.NotNil(t, s.inner)
	s.Close()
}
