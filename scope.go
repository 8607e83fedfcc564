package driftline

import (
	"time"

	"github.com/driftline-labs/driftline-go/internal/decisioncache"
)

// Scope is an identity-keyed cache of remote flag-decision results.
// Create one per logical session of flag checks that should reuse a
// cached remote decision instead of calling the backend on every
// check, and pass it to evaluation calls with WithDecisionCache.
type Scope struct {
	inner *decisioncache.Scope
}

// ScopeOption configures a Scope built by NewScope.
type ScopeOption func(*decisioncache.Config)

// WithScopeTTL overrides how long a cached decision remains valid.
func WithScopeTTL(ttl time.Duration) ScopeOption {
	return func(c *decisioncache.Config) { c.TTL = ttl }
}

// WithScopeSize overrides the backing cache's counter and cost
// budgets; see ristretto.Config for what these tune.
func WithScopeSize(numCounters, maxCost int64) ScopeOption {
	return func(c *decisioncache.Config) {
		c.NumCounters = numCounters
		c.MaxCost = maxCost
	}
}

// NewScope builds a Scope. Callers own its lifetime and must Close it
// when done.
func NewScope(opts ...ScopeOption) (*Scope, error) {
	cfg := decisioncache.DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	inner, err := decisioncache.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Scope{inner: inner}, nil
}

// Close releases the scope's backing cache.
func (s *Scope) Close() {
	s.inner.Close()
}
