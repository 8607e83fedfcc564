// Package decisioncache memoizes remote flag-decision results so repeated
// evaluations for the same identity inside a short window don't all pay
// the round trip to the decide endpoint. It never caches errors, and an
// absent Scope degrades to a pure pass-through.
package decisioncache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"

	"github.com/driftline-labs/driftline-go/internal/domain"
	"github.com/driftline-labs/driftline-go/pkg/telemetry"
)

// Config sizes the backing ristretto cache and sets the TTL every cached
// entry is stored with.
type Config struct {
	TTL         time.Duration
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Telemetry   telemetry.Provider
}

func DefaultConfig() Config {
	return Config{
		TTL:         5 * time.Minute,
		NumCounters: 10_000,
		MaxCost:     1 << 20, // ~1MB of decisions
		BufferItems: 64,
	}
}

// Scope is one identity-keyed decision cache. Callers create one per
// logical "session" of flag checks that should share cached remote
// decisions (driftline.NewScope wraps this).
type Scope struct {
	cache *ristretto.Cache
	ttl   time.Duration
	tel   telemetry.Provider
}

// New builds a Scope. Safe for concurrent use by multiple goroutines.
func New(cfg Config) (*Scope, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = DefaultConfig().NumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = DefaultConfig().MaxCost
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = DefaultConfig().BufferItems
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewNoOp()
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}

	return &Scope{cache: cache, ttl: cfg.TTL, tel: cfg.Telemetry}, nil
}

// Get returns the cached remote decisions for this identity, if present
// and not yet expired.
func (s *Scope) Get(ctx context.Context, evalCtx domain.EvaluationContext) (map[string]domain.FlagDecision, bool) {
	key := identityHash(evalCtx)
	v, ok := s.cache.Get(key)
	if !ok {
		s.tel.RecordDecisionCacheMiss(ctx)
		return nil, false
	}
	s.tel.RecordDecisionCacheHit(ctx)
	decisions, ok := v.(map[string]domain.FlagDecision)
	return decisions, ok
}

// Set stores a successful remote-decision result. Callers must never call
// Set with an error result; there is no negative caching.
func (s *Scope) Set(ctx context.Context, evalCtx domain.EvaluationContext, decisions map[string]domain.FlagDecision) {
	key := identityHash(evalCtx)
	s.cache.SetWithTTL(key, decisions, int64(len(decisions))+1, s.ttl)
	s.cache.Wait()
}

// Close releases the cache's background goroutines.
func (s *Scope) Close() {
	s.cache.Close()
}

// identityHash combines distinct ID, person properties, and group
// memberships into a single structural hash. Map iteration order is
// randomized by Go, so every component is sorted before hashing to make
// the hash order-insensitive; group types are sorted too, so the groups
// contribute in a fixed order.
func identityHash(ctx domain.EvaluationContext) uint64 {
	h := xxhash.New()
	h.WriteString(ctx.DistinctID)
	h.WriteString("|")
	writeSortedProps(h, ctx.PersonProperties)

	groupTypes := make([]string, 0, len(ctx.Groups))
	for gt := range ctx.Groups {
		groupTypes = append(groupTypes, gt)
	}
	sort.Strings(groupTypes)

	for _, gt := range groupTypes {
		h.WriteString("|group:")
		h.WriteString(gt)
		h.WriteString("=")
		h.WriteString(ctx.Groups[gt])
		writeSortedProps(h, ctx.GroupProperties[gt])
	}

	return h.Sum64()
}

func writeSortedProps(h *xxhash.Digest, props map[string]any) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		h.WriteString(";")
		h.WriteString(k)
		h.WriteString("=")
		h.WriteString(toComparable(props[k]))
	}
}

func toComparable(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}
