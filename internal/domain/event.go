// Package domain holds the wire-independent types shared by the transport,
// the batch pipeline, and the local evaluator.
package domain

import "time"

// Event is a single analytics event queued for delivery.
type Event struct {
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Properties map[string]any `json:"properties"`
	UUID       string         `json:"uuid,omitempty"`
}

// GroupProperties carries a $group_identify-style event's group payload.
type GroupProperties struct {
	GroupType       string         `json:"group_type"`
	GroupKey        string         `json:"group_key"`
	GroupProperties map[string]any `json:"group_properties,omitempty"`
}

// EvaluationContext is the set of attributes a flag evaluation is run
// against: the person's distinct ID and own properties, any group
// memberships, and the properties of those groups.
type EvaluationContext struct {
	DistinctID       string
	PersonProperties map[string]any
	Groups           map[string]string         // group type -> group key
	GroupProperties  map[string]map[string]any // group type -> properties
}

// Attribute looks up a property: in the person properties when
// groupTypeIndex is nil, otherwise only in the properties of the group
// type that index names (person properties are not consulted then).
func (c EvaluationContext) Attribute(key string, groupTypeIndex *int, groupTypeByIndex map[int]string) (any, bool) {
	if groupTypeIndex == nil {
		v, ok := c.PersonProperties[key]
		return v, ok
	}
	groupType, ok := groupTypeByIndex[*groupTypeIndex]
	if !ok {
		return nil, false
	}
	props, ok := c.GroupProperties[groupType]
	if !ok {
		return nil, false
	}
	v, ok := props[key]
	return v, ok
}
