// Package matcher evaluates a single domain.PropertyFilter against an
// evaluation context, the way the local evaluator's condition groups
// require one match per property before a group can be considered.
package matcher

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/driftline-labs/driftline-go/internal/domain"
)

// Result is the three-valued outcome of matching one filter: a definite
// match, a definite non-match, or "can't tell locally" when the filter
// needs information this process doesn't have (an unresolved cohort
// dependency, a flag_evaluates_to cycle, or a compare against a missing
// property that the operator can't treat as absence).
type Result int

const (
	NoMatch Result = iota
	Match
	Inconclusive
)

func (r Result) String() string {
	switch r {
	case Match:
		return "match"
	case NoMatch:
		return "no_match"
	default:
		return "inconclusive"
	}
}

// FlagEvaluator is the callback the matcher uses to resolve
// flag_evaluates_to filters without importing the evaluator package
// (which itself imports matcher).
type FlagEvaluator func(flagKey string, chain []string) (Result, error)

// Matcher evaluates property filters. It owns a bounded cache of compiled
// regular expressions so that a hot bad pattern is only compiled once.
type Matcher struct {
	regexCache *lru.Cache[string, *cachedRegex]
	evalFlag   FlagEvaluator
	now        func() time.Time
}

type cachedRegex struct {
	compiled *regexProgram
	err      error
}

// New builds a Matcher. evalFlag may be nil if flag_evaluates_to filters
// are never expected; now defaults to time.Now.
func New(evalFlag FlagEvaluator, now func() time.Time) *Matcher {
	cache, err := lru.New[string, *cachedRegex](256)
	if err != nil {
		// lru.New only errors on a non-positive size, which never happens
		// with the literal above.
		panic(err)
	}
	if now == nil {
		now = time.Now
	}
	return &Matcher{regexCache: cache, evalFlag: evalFlag, now: now}
}

// Match evaluates a single filter against the given evaluation context.
func (m *Matcher) Match(filter domain.PropertyFilter, ctx domain.EvaluationContext, groupTypeByIndex map[int]string) (Result, error) {
	if filter.Operator == domain.OperatorFlagEvaluatesTo {
		return m.matchFlagEvaluatesTo(filter)
	}

	value, present := ctx.Attribute(filter.Key, filter.GroupTypeIndex, groupTypeByIndex)

	result, err := m.matchOperator(filter, value, present)
	if err != nil {
		return Inconclusive, err
	}

	if filter.Negation && result != Inconclusive {
		if result == Match {
			return NoMatch, nil
		}
		return Match, nil
	}
	return result, nil
}

func (m *Matcher) matchFlagEvaluatesTo(filter domain.PropertyFilter) (Result, error) {
	if m.evalFlag == nil {
		return Inconclusive, nil
	}
	flagKey, _ := filter.Value.(string)
	for _, seen := range filter.DependencyChain {
		if seen == flagKey {
			return Inconclusive, nil // cycle
		}
	}
	return m.evalFlag(flagKey, append(filter.DependencyChain, flagKey))
}

func (m *Matcher) matchOperator(filter domain.PropertyFilter, value any, present bool) (Result, error) {
	switch filter.Operator {
	case domain.OperatorIsSet:
		return boolResult(present), nil
	case domain.OperatorIsNotSet:
		return boolResult(!present), nil
	}

	if !present {
		if filter.Operator == domain.OperatorIsNot {
			return Match, nil
		}
		return Inconclusive, nil
	}

	switch filter.Operator {
	case domain.OperatorExact:
		return boolResult(equalValues(value, filter.Value)), nil
	case domain.OperatorIsNot:
		return boolResult(!equalValues(value, filter.Value)), nil
	case domain.OperatorIn:
		return boolResult(valueIn(value, filter.Value)), nil
	case domain.OperatorGT, domain.OperatorGTE, domain.OperatorLT, domain.OperatorLTE:
		return m.matchCompare(filter.Operator, value, filter.Value)
	case domain.OperatorIContains:
		return boolResult(containsFold(toString(value), toString(filter.Value))), nil
	case domain.OperatorNotIContains:
		return boolResult(!containsFold(toString(value), toString(filter.Value))), nil
	case domain.OperatorRegex:
		return m.matchRegex(toString(value), toString(filter.Value))
	case domain.OperatorNotRegex:
		res, err := m.matchRegex(toString(value), toString(filter.Value))
		if err != nil || res == Inconclusive {
			return res, err
		}
		if res == Match {
			return NoMatch, nil
		}
		return Match, nil
	case domain.OperatorIsDateBefore:
		return m.matchDate(value, filter.Value, true)
	case domain.OperatorIsDateAfter:
		return m.matchDate(value, filter.Value, false)
	default:
		return Inconclusive, fmt.Errorf("unsupported operator: %s", filter.Operator)
	}
}

func boolResult(b bool) Result {
	if b {
		return Match
	}
	return NoMatch
}

func equalValues(a, b any) bool {
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func valueIn(value, list any) bool {
	switch l := list.(type) {
	case []any:
		for _, item := range l {
			if equalValues(value, item) {
				return true
			}
		}
	case []string:
		for _, item := range l {
			if equalValues(value, item) {
				return true
			}
		}
	}
	return false
}

func (m *Matcher) matchCompare(op domain.Operator, a, b any) (Result, error) {
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)

	var cmp int
	if aok && bok {
		cmp = compareFloat(af, bf)
	} else {
		// Mixed-type comparison: resolved Open Question, see DESIGN.md —
		// fall back to lexicographic string comparison rather than
		// treating the filter as Inconclusive.
		cmp = strings.Compare(toString(a), toString(b))
	}

	switch op {
	case domain.OperatorGT:
		return boolResult(cmp > 0), nil
	case domain.OperatorGTE:
		return boolResult(cmp >= 0), nil
	case domain.OperatorLT:
		return boolResult(cmp < 0), nil
	default: // OperatorLTE
		return boolResult(cmp <= 0), nil
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func containsFold(haystack, needle string) bool {
	if isASCII(haystack) && isASCII(needle) {
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
	}
	return strings.Contains(toLowerUnicode(haystack), toLowerUnicode(needle))
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func toLowerUnicode(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		runes[i] = unicode.ToLower(r)
	}
	return string(runes)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
