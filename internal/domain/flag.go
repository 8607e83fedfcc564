package domain

import (
	"encoding/json"
	"time"
)

// Operator is the vocabulary of comparisons a PropertyFilter may use.
type Operator string

const (
	OperatorExact           Operator = "exact"
	OperatorIsNot           Operator = "is_not"
	OperatorIsSet           Operator = "is_set"
	OperatorIsNotSet        Operator = "is_not_set"
	OperatorGT              Operator = "gt"
	OperatorLT              Operator = "lt"
	OperatorGTE             Operator = "gte"
	OperatorLTE             Operator = "lte"
	OperatorIContains       Operator = "icontains"
	OperatorNotIContains    Operator = "not_icontains"
	OperatorRegex           Operator = "regex"
	OperatorNotRegex        Operator = "not_regex"
	OperatorIsDateBefore    Operator = "is_date_before"
	OperatorIsDateAfter     Operator = "is_date_after"
	OperatorIn              Operator = "in"
	OperatorFlagEvaluatesTo Operator = "flag_evaluates_to"
)

// PropertyFilterType distinguishes a person filter from a group filter and
// from the special cohort reference filter.
type PropertyFilterType string

const (
	FilterTypePerson PropertyFilterType = "person"
	FilterTypeGroup  PropertyFilterType = "group"
	FilterTypeCohort PropertyFilterType = "cohort"
	FilterTypeFlag   PropertyFilterType = "flag"
)

// PropertyFilter is a single condition inside a ConditionGroup.
type PropertyFilter struct {
	Type           PropertyFilterType `json:"type"`
	Key            string             `json:"key"`
	Value          any                `json:"value"`
	Operator       Operator           `json:"operator"`
	GroupTypeIndex *int               `json:"group_type_index,omitempty"`
	Negation       bool               `json:"negation,omitempty"`
	// DependencyChain records the flag keys walked to reach a
	// flag_evaluates_to filter, used for cycle detection.
	DependencyChain []string `json:"-"`
}

// ConditionGroup is one entry of Filters.Groups: a set of properties that
// must all match (AND), a rollout percentage gate, and the variant key this
// group pins the person to when it matches a multivariate flag.
type ConditionGroup struct {
	Properties        []PropertyFilter `json:"properties"`
	RolloutPercentage *float64         `json:"rollout_percentage,omitempty"`
	Variant           *string          `json:"variant,omitempty"`
}

// Variant is one arm of a multivariate flag.
type Variant struct {
	Key               string  `json:"key"`
	Name              *string `json:"name,omitempty"`
	RolloutPercentage float64 `json:"rollout_percentage"`
}

// Multivariate lists the variants a matched flag chooses between.
type Multivariate struct {
	Variants []Variant `json:"variants"`
}

// FeatureFlagFilters is the full targeting configuration of a flag.
type FeatureFlagFilters struct {
	Groups       []ConditionGroup           `json:"groups"`
	Multivariate *Multivariate              `json:"multivariate,omitempty"`
	Payloads     map[string]json.RawMessage `json:"payloads,omitempty"`
}

// FlagDefinition is a single feature flag as delivered by the flag
// definition endpoint.
type FlagDefinition struct {
	ID                          int                 `json:"id"`
	Key                         string              `json:"key"`
	Active                      bool                `json:"active"`
	Deleted                     bool                `json:"deleted"`
	Filters                     FeatureFlagFilters  `json:"filters"`
	AggregationGroupTypeIndex   *int                `json:"aggregation_group_type_index,omitempty"`
	EnsureExperienceContinuity  bool                `json:"ensure_experience_continuity,omitempty"`
	Version                     int                 `json:"version,omitempty"`
}

// CohortNodeType discriminates the tagged union in CohortNode.
type CohortNodeType string

const (
	CohortNodeAnd      CohortNodeType = "AND"
	CohortNodeOr       CohortNodeType = "OR"
	CohortNodePropLeaf CohortNodeType = "property"
)

// CohortNode is a node in a cohort's boolean property tree. Exactly one of
// Children (for AND/OR) or Property (for a leaf) is populated, selected by
// Type.
type CohortNode struct {
	Type     CohortNodeType   `json:"type"`
	Children []CohortNode     `json:"children,omitempty"`
	Property *PropertyFilter  `json:"property,omitempty"`
}

// Cohort is a named, reusable boolean combination of property filters that
// a PropertyFilter of Type "cohort" can reference by ID.
type Cohort struct {
	ID   int        `json:"id"`
	Node CohortNode `json:"node"`
}

// FlagMetadata is the bookkeeping attached to a FlagDecision, useful for
// the host application to detect that a definition changed between calls.
type FlagMetadata struct {
	ID      int `json:"id"`
	Version int `json:"version"`
}

// EvaluationReason explains, for observability, how a FlagDecision was
// reached.
type EvaluationReason struct {
	Code           string `json:"code"`
	Description    string `json:"description"`
	ConditionIndex *int   `json:"condition_index,omitempty"`
}

// FlagDecision is the outcome of evaluating one flag for one person.
type FlagDecision struct {
	Key        string          `json:"key"`
	Enabled    bool            `json:"enabled"`
	VariantKey *string         `json:"variant_key,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Reason     EvaluationReason `json:"reason"`
	Metadata   FlagMetadata     `json:"metadata"`
}

// Snapshot is the immutable bundle of flag definitions, group-type naming,
// and cohorts produced by one successful poll of the flag definition
// endpoint. Readers capture a single *Snapshot per evaluation call; the
// loader swaps the pointer, it never mutates a published Snapshot.
type Snapshot struct {
	Flags                map[string]FlagDefinition
	GroupTypeIndexToName map[int]string
	Cohorts              map[int]Cohort
	ETag                 string
	FetchedAt            time.Time
}
