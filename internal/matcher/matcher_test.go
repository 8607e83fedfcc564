package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline-labs/driftline-go/internal/domain"
)

func fixedNow() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestMatcher_Exact(t *testing.T) {
	m := New(nil, fixedNow)
	ctx := domain.EvaluationContext{PersonProperties: map[string]any{"tier": "premium"}}

	res, err := m.Match(domain.PropertyFilter{Key: "tier", Operator: domain.OperatorExact, Value: "premium"}, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Match, res)

	res, err = m.Match(domain.PropertyFilter{Key: "tier", Operator: domain.OperatorExact, Value: "free"}, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, NoMatch, res)
}

func TestMatcher_IsSetIsNotSet(t *testing.T) {
	m := New(nil, fixedNow)
	ctx := domain.EvaluationContext{PersonProperties: map[string]any{"tier": "premium"}}

	res, _ := m.Match(domain.PropertyFilter{Key: "tier", Operator: domain.OperatorIsSet}, ctx, nil)
	assert.Equal(t, Match, res)

	res, _ = m.Match(domain.PropertyFilter{Key: "missing", Operator: domain.OperatorIsNotSet}, ctx, nil)
	assert.Equal(t, Match, res)

	res, _ = m.Match(domain.PropertyFilter{Key: "missing", Operator: domain.OperatorIsSet}, ctx, nil)
	assert.Equal(t, NoMatch, res)
}

func TestMatcher_MissingPropertyInconclusive(t *testing.T) {
	m := New(nil, fixedNow)
	ctx := domain.EvaluationContext{}

	res, err := m.Match(domain.PropertyFilter{Key: "age", Operator: domain.OperatorGT, Value: 18}, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Inconclusive, res)
}

func TestMatcher_IsNotMissingPropertyMatches(t *testing.T) {
	m := New(nil, fixedNow)
	ctx := domain.EvaluationContext{}

	res, _ := m.Match(domain.PropertyFilter{Key: "plan", Operator: domain.OperatorIsNot, Value: "free"}, ctx, nil)
	assert.Equal(t, Match, res)
}

func TestMatcher_NumericCompare(t *testing.T) {
	m := New(nil, fixedNow)
	ctx := domain.EvaluationContext{PersonProperties: map[string]any{"age": 25}}

	res, _ := m.Match(domain.PropertyFilter{Key: "age", Operator: domain.OperatorGT, Value: 18}, ctx, nil)
	assert.Equal(t, Match, res)

	res, _ = m.Match(domain.PropertyFilter{Key: "age", Operator: domain.OperatorLT, Value: 18}, ctx, nil)
	assert.Equal(t, NoMatch, res)
}

func TestMatcher_MixedTypeCompareFallsBackToLexicographic(t *testing.T) {
	m := New(nil, fixedNow)
	ctx := domain.EvaluationContext{PersonProperties: map[string]any{"version": "v10"}}

	// "v10" vs "v9": neither parses fully as a float as a whole string
	// comparison target, so this falls back to string compare ("v10" < "v9").
	res, _ := m.Match(domain.PropertyFilter{Key: "version", Operator: domain.OperatorLT, Value: "v9"}, ctx, nil)
	assert.Equal(t, Match, res)
}

func TestMatcher_IContains(t *testing.T) {
	m := New(nil, fixedNow)
	ctx := domain.EvaluationContext{PersonProperties: map[string]any{"email": "User@Example.com"}}

	res, _ := m.Match(domain.PropertyFilter{Key: "email", Operator: domain.OperatorIContains, Value: "example"}, ctx, nil)
	assert.Equal(t, Match, res)

	res, _ = m.Match(domain.PropertyFilter{Key: "email", Operator: domain.OperatorNotIContains, Value: "example"}, ctx, nil)
	assert.Equal(t, NoMatch, res)
}

func TestMatcher_Regex(t *testing.T) {
	m := New(nil, fixedNow)
	ctx := domain.EvaluationContext{PersonProperties: map[string]any{"email": "user@example.com"}}

	res, err := m.Match(domain.PropertyFilter{Key: "email", Operator: domain.OperatorRegex, Value: `.*@example\.com$`}, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Match, res)

	res, err = m.Match(domain.PropertyFilter{Key: "email", Operator: domain.OperatorNotRegex, Value: `.*@other\.com$`}, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Match, res)
}

func TestMatcher_RegexBadPatternInconclusive(t *testing.T) {
	m := New(nil, fixedNow)
	ctx := domain.EvaluationContext{PersonProperties: map[string]any{"email": "user@example.com"}}

	res, err := m.Match(domain.PropertyFilter{Key: "email", Operator: domain.OperatorRegex, Value: `(unclosed`}, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Inconclusive, res)
}

func TestMatcher_In(t *testing.T) {
	m := New(nil, fixedNow)
	ctx := domain.EvaluationContext{PersonProperties: map[string]any{"country": "BR"}}

	res, _ := m.Match(domain.PropertyFilter{Key: "country", Operator: domain.OperatorIn, Value: []any{"US", "BR", "UK"}}, ctx, nil)
	assert.Equal(t, Match, res)

	res, _ = m.Match(domain.PropertyFilter{Key: "country", Operator: domain.OperatorIn, Value: []any{"US", "UK"}}, ctx, nil)
	assert.Equal(t, NoMatch, res)
}

func TestMatcher_Negation(t *testing.T) {
	m := New(nil, fixedNow)
	ctx := domain.EvaluationContext{PersonProperties: map[string]any{"tier": "premium"}}

	res, _ := m.Match(domain.PropertyFilter{Key: "tier", Operator: domain.OperatorExact, Value: "premium", Negation: true}, ctx, nil)
	assert.Equal(t, NoMatch, res)
}

func TestMatcher_RelativeDate(t *testing.T) {
	m := New(nil, fixedNow)
	ctx := domain.EvaluationContext{PersonProperties: map[string]any{"signed_up_at": "2025-01-01T00:00:00Z"}}

	res, err := m.Match(domain.PropertyFilter{Key: "signed_up_at", Operator: domain.OperatorIsDateBefore, Value: "-30d"}, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Match, res)
}

func TestMatcher_GroupProperty(t *testing.T) {
	idx := 0
	m := New(nil, fixedNow)
	ctx := domain.EvaluationContext{GroupProperties: map[string]map[string]any{"company": {"plan": "enterprise"}}}

	res, _ := m.Match(domain.PropertyFilter{Key: "plan", Operator: domain.OperatorExact, Value: "enterprise", GroupTypeIndex: &idx}, ctx, map[int]string{0: "company"})
	assert.Equal(t, Match, res)
}

func TestMatcher_FlagEvaluatesTo(t *testing.T) {
	calls := 0
	m := New(func(flagKey string, chain []string) (Result, error) {
		calls++
		assert.Equal(t, "other-flag", flagKey)
		return Match, nil
	}, fixedNow)

	res, err := m.Match(domain.PropertyFilter{Operator: domain.OperatorFlagEvaluatesTo, Value: "other-flag"}, domain.EvaluationContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, Match, res)
	assert.Equal(t, 1, calls)
}

func TestMatcher_FlagEvaluatesToCycle(t *testing.T) {
	m := New(func(flagKey string, chain []string) (Result, error) {
		t.Fatal("should not be called for a cyclic chain")
		return NoMatch, nil
	}, fixedNow)

	filter := domain.PropertyFilter{
		Operator:        domain.OperatorFlagEvaluatesTo,
		Value:           "self",
		DependencyChain: []string{"self"},
	}
	res, err := m.Match(filter, domain.EvaluationContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, Inconclusive, res)
}
