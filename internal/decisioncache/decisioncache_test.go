package decisioncache

import (
	"context"
	"testing"
	"time"

	"github.com/driftline-labs/driftline-go/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctxFor(distinctID string, props map[string]any) domain.EvaluationContext {
	return domain.EvaluationContext{DistinctID: distinctID, PersonProperties: props}
}

func TestScope_MissThenHit(t *testing.T) {
	s, err := New(Config{TTL: time.Minute})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	ec := ctxFor("user-1", map[string]any{"plan": "pro"})

	_, ok := s.Get(ctx, ec)
	assert.False(t, ok)

	decisions := map[string]domain.FlagDecision{"flag-a": {Key: "flag-a", Enabled: true}}
	s.Set(ctx, ec, decisions)

	got, ok := s.Get(ctx, ec)
	require.True(t, ok)
	assert.True(t, got["flag-a"].Enabled)
}

func TestScope_OrderInsensitivePropertyHash(t *testing.T) {
	s, err := New(Config{TTL: time.Minute})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	a := ctxFor("user-1", map[string]any{"plan": "pro", "region": "us"})
	b := ctxFor("user-1", map[string]any{"region": "us", "plan": "pro"})

	s.Set(ctx, a, map[string]domain.FlagDecision{"flag-a": {Key: "flag-a", Enabled: true}})

	got, ok := s.Get(ctx, b)
	require.True(t, ok)
	assert.True(t, got["flag-a"].Enabled)
}

func TestScope_DifferentIdentitiesMiss(t *testing.T) {
	s, err := New(Config{TTL: time.Minute})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	s.Set(ctx, ctxFor("user-1", nil), map[string]domain.FlagDecision{"flag-a": {Key: "flag-a"}})

	_, ok := s.Get(ctx, ctxFor("user-2", nil))
	assert.False(t, ok)
}

func TestScope_GroupsParticipateInHash(t *testing.T) {
	s, err := New(Config{TTL: time.Minute})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	withGroup := domain.EvaluationContext{DistinctID: "user-1", Groups: map[string]string{"organization": "acme"}}
	withoutGroup := domain.EvaluationContext{DistinctID: "user-1"}

	s.Set(ctx, withGroup, map[string]domain.FlagDecision{"flag-a": {Key: "flag-a", Enabled: true}})

	_, ok := s.Get(ctx, withoutGroup)
	assert.False(t, ok)

	got, ok := s.Get(ctx, withGroup)
	require.True(t, ok)
	assert.True(t, got["flag-a"].Enabled)
}
