package domain

import "fmt"

// Validate checks a flag definition for the kind of local inconsistency
// that would make it unsafe to evaluate: a missing key, a rollout
// percentage outside [0, 100], or a multivariate flag with no variants or
// with a variant rollout outside [0, 100]. The sum of the variant
// rollouts is not checked.
func (f *FlagDefinition) Validate() error {
	if f.Key == "" {
		return NewValidationError("flag key cannot be empty")
	}

	for i, group := range f.Filters.Groups {
		if group.RolloutPercentage != nil {
			if *group.RolloutPercentage < 0 || *group.RolloutPercentage > 100 {
				return NewValidationError(fmt.Sprintf("group %d rollout percentage must be between 0 and 100", i))
			}
		}
	}

	if f.Filters.Multivariate != nil {
		if err := f.Filters.Multivariate.Validate(); err != nil {
			return fmt.Errorf("multivariate: %w", err)
		}
	}

	return nil
}

// Validate checks that variant rollout percentages are individually in
// range. Per the Open Question resolved in DESIGN.md, a sum below 100 is
// legal (the remainder falls through to "no variant") and a sum above 100
// is legal too (first match in declared order wins); only an individual
// out-of-range percentage is rejected here.
func (m *Multivariate) Validate() error {
	if len(m.Variants) == 0 {
		return NewValidationError("multivariate flag must declare at least one variant")
	}
	for _, v := range m.Variants {
		if v.RolloutPercentage < 0 || v.RolloutPercentage > 100 {
			return NewValidationError(fmt.Sprintf("variant %q rollout percentage must be between 0 and 100", v.Key))
		}
	}
	return nil
}

// VariantByKey finds a variant definition by its key.
func (m *Multivariate) VariantByKey(key string) (Variant, bool) {
	for _, v := range m.Variants {
		if v.Key == key {
			return v, true
		}
	}
	return Variant{}, false
}
