// Package evaluator implements local feature-flag evaluation: walking a
// flag's condition groups in order, hashing a person into a rollout
// percentage and a multivariate variant, and resolving cohort and
// flag-dependency references without a round trip to the backend.
package evaluator

import (
	"encoding/json"
	"fmt"

	"github.com/driftline-labs/driftline-go/internal/domain"
	"github.com/driftline-labs/driftline-go/internal/matcher"
)

// Outcome is a FlagDecision plus the control-flow signal that tells the
// caller whether local evaluation was conclusive.
type Outcome struct {
	Decision      domain.FlagDecision
	RequiresRemote bool
}

// Evaluator evaluates flags against a Snapshot.
type Evaluator struct {
	matcher *matcher.Matcher
}

// New builds an Evaluator whose matcher uses the default clock
// (time.Now) for relative date filters.
func New() *Evaluator {
	return &Evaluator{matcher: matcher.New(nil, nil)}
}

// session carries the state shared across one EvaluateAll call: the
// snapshot being evaluated against, the person's context, and a memo of
// already-computed decisions (both to short-circuit flag_evaluates_to
// dependency chains and to avoid recomputation).
type session struct {
	snapshot *domain.Snapshot
	ctx      domain.EvaluationContext
	memo     map[string]*Outcome
	evaluator *Evaluator
}

// EvaluateAll evaluates every flag in the snapshot for one person
// (inactive flags yield a disabled decision), returning a decision per
// locally resolved flag key and, separately, the keys that could not be
// resolved locally.
func (e *Evaluator) EvaluateAll(snapshot *domain.Snapshot, ctx domain.EvaluationContext) (map[string]domain.FlagDecision, []string) {
	s := &session{snapshot: snapshot, ctx: ctx, memo: make(map[string]*Outcome), evaluator: e}

	decisions := make(map[string]domain.FlagDecision, len(snapshot.Flags))
	var requiresRemote []string

	for key := range snapshot.Flags {
		out := s.evaluate(key, nil)
		if out.RequiresRemote {
			requiresRemote = append(requiresRemote, key)
			continue
		}
		decisions[key] = out.Decision
	}
	return decisions, requiresRemote
}

// Evaluate evaluates a single flag, using the memo only for dependency
// resolution within this call.
func (e *Evaluator) Evaluate(snapshot *domain.Snapshot, flagKey string, ctx domain.EvaluationContext) Outcome {
	s := &session{snapshot: snapshot, ctx: ctx, memo: make(map[string]*Outcome), evaluator: e}
	return s.evaluate(flagKey, nil)
}

func (s *session) evaluate(flagKey string, chain []string) Outcome {
	if out, ok := s.memo[flagKey]; ok {
		return *out
	}
	for _, seen := range chain {
		if seen == flagKey {
			out := Outcome{Decision: disabledDecision(flagKey), RequiresRemote: true}
			return out
		}
	}

	flag, ok := s.snapshot.Flags[flagKey]
	if !ok || flag.Deleted {
		out := Outcome{Decision: domain.FlagDecision{
			Key: flagKey, Enabled: false,
			Reason: domain.EvaluationReason{Code: "flag_not_found", Description: "flag not found in snapshot"},
		}}
		s.memo[flagKey] = &out
		return out
	}

	out := s.evaluateFlag(flag, append(chain, flagKey))
	s.memo[flagKey] = &out
	return out
}

func (s *session) evaluateFlag(flag domain.FlagDefinition, chain []string) Outcome {
	if !flag.Active {
		return Outcome{Decision: domain.FlagDecision{
			Key: flag.Key, Enabled: false,
			Reason:   domain.EvaluationReason{Code: "disabled", Description: "flag is not active"},
			Metadata: domain.FlagMetadata{ID: flag.ID, Version: flag.Version},
		}}
	}

	if flag.EnsureExperienceContinuity {
		// Continuity requires the backend's sticky assignment store; a flag
		// marked for it must never be decided locally.
		return Outcome{Decision: disabledDecision(flag.Key), RequiresRemote: true}
	}

	hashID, ok := s.hashIdentifier(flag)
	if !ok {
		return Outcome{Decision: disabledDecision(flag.Key), RequiresRemote: true}
	}

	groupTypeByIndex := s.snapshot.GroupTypeIndexToName

	for i, group := range flag.Filters.Groups {
		idx := i
		matched, requiresRemote := s.evaluateGroup(flag, group, chain, groupTypeByIndex)
		if requiresRemote {
			return Outcome{Decision: disabledDecision(flag.Key), RequiresRemote: true}
		}
		if !matched {
			continue
		}

		rollout := 100.0
		if group.RolloutPercentage != nil {
			rollout = *group.RolloutPercentage
		}
		if rolloutBucket(flag.Key, hashID)*100 >= rollout {
			continue // group matched but person is outside the rollout slice
		}

		variantKey, payload := s.resolveVariant(flag, group, hashID)
		return Outcome{Decision: domain.FlagDecision{
			Key:        flag.Key,
			Enabled:    true,
			VariantKey: variantKey,
			Payload:    payload,
			Reason: domain.EvaluationReason{
				Code:           "condition_match",
				Description:    "matched condition group",
				ConditionIndex: &idx,
			},
			Metadata: domain.FlagMetadata{ID: flag.ID, Version: flag.Version},
		}}
	}

	return Outcome{Decision: domain.FlagDecision{
		Key: flag.Key, Enabled: false,
		Reason:   domain.EvaluationReason{Code: "no_condition_match", Description: "no condition group matched"},
		Metadata: domain.FlagMetadata{ID: flag.ID, Version: flag.Version},
	}}
}

// evaluateGroup ANDs every property filter in the group. Any Inconclusive
// filter makes the whole flag RequiresRemote, since a locally-false group
// might actually be true once the backend resolves it.
func (s *session) evaluateGroup(flag domain.FlagDefinition, group domain.ConditionGroup, chain []string, groupTypeByIndex map[int]string) (matched bool, requiresRemote bool) {
	if len(group.Properties) == 0 {
		return true, false
	}

	for _, filter := range group.Properties {
		filter.DependencyChain = chain

		res, err := s.matchFilter(filter, groupTypeByIndex)
		if err != nil || res == matcher.Inconclusive {
			return false, true
		}
		if res == matcher.NoMatch {
			return false, false
		}
	}
	return true, false
}

// matchFilter dispatches cohort and flag_evaluates_to filters to this
// session's recursive handlers and everything else to the shared Matcher.
func (s *session) matchFilter(filter domain.PropertyFilter, groupTypeByIndex map[int]string) (matcher.Result, error) {
	switch filter.Type {
	case domain.FilterTypeCohort:
		return s.matchCohort(filter, groupTypeByIndex)
	}
	if filter.Operator == domain.OperatorFlagEvaluatesTo {
		return s.matchFlagDependency(filter)
	}
	return s.evaluator.matcher.Match(filter, s.ctx, groupTypeByIndex)
}

func (s *session) matchFlagDependency(filter domain.PropertyFilter) (matcher.Result, error) {
	depKey, _ := filter.Value.(string)
	if depKey == "" {
		return matcher.Inconclusive, nil
	}
	out := s.evaluate(depKey, filter.DependencyChain)
	if out.RequiresRemote {
		return matcher.Inconclusive, nil
	}
	if out.Decision.Enabled {
		return matcher.Match, nil
	}
	return matcher.NoMatch, nil
}

func (s *session) matchCohort(filter domain.PropertyFilter, groupTypeByIndex map[int]string) (matcher.Result, error) {
	id, ok := asInt(filter.Value)
	if !ok {
		return matcher.Inconclusive, nil
	}
	cohort, ok := s.snapshot.Cohorts[id]
	if !ok {
		return matcher.Inconclusive, nil
	}
	res, err := s.matchCohortNode(cohort.Node, filter.DependencyChain, groupTypeByIndex)
	if err != nil {
		return matcher.Inconclusive, nil
	}
	if filter.Negation {
		switch res {
		case matcher.Match:
			return matcher.NoMatch, nil
		case matcher.NoMatch:
			return matcher.Match, nil
		}
	}
	return res, nil
}

func (s *session) matchCohortNode(node domain.CohortNode, chain []string, groupTypeByIndex map[int]string) (matcher.Result, error) {
	switch node.Type {
	case domain.CohortNodePropLeaf:
		if node.Property == nil {
			return matcher.Inconclusive, nil
		}
		leaf := *node.Property
		leaf.DependencyChain = chain
		return s.matchFilter(leaf, groupTypeByIndex)

	case domain.CohortNodeAnd:
		for _, child := range node.Children {
			res, err := s.matchCohortNode(child, chain, groupTypeByIndex)
			if err != nil || res != matcher.Match {
				return res, err
			}
		}
		return matcher.Match, nil

	case domain.CohortNodeOr:
		sawInconclusive := false
		for _, child := range node.Children {
			res, err := s.matchCohortNode(child, chain, groupTypeByIndex)
			if err != nil {
				return matcher.Inconclusive, err
			}
			if res == matcher.Match {
				return matcher.Match, nil
			}
			if res == matcher.Inconclusive {
				sawInconclusive = true
			}
		}
		if sawInconclusive {
			return matcher.Inconclusive, nil
		}
		return matcher.NoMatch, nil

	default:
		return matcher.Inconclusive, fmt.Errorf("unknown cohort node type: %s", node.Type)
	}
}

// resolveVariant picks the variant for a matched condition group: a group
// can pin a specific variant, otherwise it's a hash walk over the
// multivariate's variants in declared order.
func (s *session) resolveVariant(flag domain.FlagDefinition, group domain.ConditionGroup, hashID string) (*string, json.RawMessage) {
	if flag.Filters.Multivariate == nil {
		return nil, flag.Filters.Payloads[""]
	}

	var key string
	if group.Variant != nil {
		key = *group.Variant
	} else {
		key = pickVariant(flag.Filters.Multivariate, variantBucket(flag.Key, hashID)*100)
	}
	if key == "" {
		return nil, nil
	}
	vk := key
	return &vk, flag.Filters.Payloads[key]
}

// hashIdentifier returns the identifier used for rollout and variant
// hashing. Flags that aggregate by group hash on that group's key instead
// of the person's distinct ID; if the context doesn't carry a key for the
// flag's group type, the hash can't be computed locally.
func (s *session) hashIdentifier(flag domain.FlagDefinition) (string, bool) {
	if flag.AggregationGroupTypeIndex == nil {
		return s.ctx.DistinctID, true
	}
	groupType, ok := s.snapshot.GroupTypeIndexToName[*flag.AggregationGroupTypeIndex]
	if !ok {
		return "", false
	}
	groupKey, ok := s.ctx.Groups[groupType]
	if !ok || groupKey == "" {
		return "", false
	}
	return groupKey, true
}

// pickVariant walks variants in declared order, accumulating rollout
// percentages, and returns the first whose cumulative range contains the
// bucket. A sum below 100 leaves a gap that resolves to no variant
// (empty string); a sum above 100 is resolved by first-match order — see
// DESIGN.md for the Open Question this settles.
func pickVariant(m *domain.Multivariate, bucket float64) string {
	cumulative := 0.0
	for _, v := range m.Variants {
		cumulative += v.RolloutPercentage
		if bucket < cumulative {
			return v.Key
		}
	}
	return ""
}

func disabledDecision(key string) domain.FlagDecision {
	return domain.FlagDecision{Key: key, Enabled: false, Reason: domain.EvaluationReason{Code: "requires_remote"}}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
