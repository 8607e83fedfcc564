// Package driftline is a server-side client library for a product
// analytics backend: event capture, identity and group operations, and
// local feature-flag evaluation, backed by a bounded async batch
// pipeline and a resilient HTTP transport.
package driftline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/driftline-labs/driftline-go/internal/batch"
	"github.com/driftline-labs/driftline-go/internal/decisioncache"
	"github.com/driftline-labs/driftline-go/internal/domain"
	"github.com/driftline-labs/driftline-go/internal/evaluator"
	"github.com/driftline-labs/driftline-go/internal/loader"
	"github.com/driftline-labs/driftline-go/internal/logging"
	"github.com/driftline-labs/driftline-go/internal/server"
	"github.com/driftline-labs/driftline-go/internal/transport"
	"github.com/driftline-labs/driftline-go/pkg/circuit"
	"github.com/driftline-labs/driftline-go/pkg/telemetry"
)

const (
	libName    = "driftline-go"
	libVersion = "1.0.0"
)

// Client is the main entry point. Construct one with New, call Start
// before capturing events or checking flags, and Close it on shutdown
// to flush any queued events.
type Client struct {
	cfg Config

	transport *transport.Client
	pipeline  *batch.Pipeline[domain.Event]
	loader    *loader.Loader
	evaluator *evaluator.Evaluator
	breaker   *circuit.Breaker
	logger    logging.Logger
	telemetry telemetry.Provider

	adminServer   *server.AdminServer
	webhookServer *server.WebhookServer

	closeOnce sync.Once
	closed    atomic.Bool
}

// New builds a Client from the given options. It does not start any
// background goroutines; call Start for that.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = logging.NewNoop()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewNoOp()
	}

	tp := transport.New(transport.Config{
		Host:              cfg.Host,
		APIKey:            cfg.ProjectAPIKey,
		HTTPClient:        cfg.HTTPClient,
		MaxRetries:        cfg.MaxRetries,
		InitialRetryDelay: cfg.InitialRetryDelay,
		MaxRetryDelay:     cfg.MaxRetryDelay,
		EnableCompression: cfg.EnableCompression,
	})

	breaker := circuit.New(cfg.CircuitBreaker)

	ld, err := loader.New(loader.Config{
		PersonalAPIKey: cfg.PersonalAPIKey,
		PollInterval:   cfg.FlagPollInterval,
		SnapshotDir:    cfg.SnapshotPersistenceDir,
		Transport:      tp,
		Breaker:        breaker,
		Telemetry:      cfg.Telemetry,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("driftline: build loader: %w", err)
	}

	c := &Client{
		cfg:       cfg,
		transport: tp,
		loader:    ld,
		evaluator: evaluator.New(),
		breaker:   breaker,
		logger:    cfg.Logger,
		telemetry: cfg.Telemetry,
	}

	c.pipeline = batch.New(context.Background(), batch.Config{
		FlushAt:       cfg.FlushAt,
		FlushInterval: cfg.FlushInterval,
		MaxBatchSize:  cfg.MaxBatchSize,
		MaxQueueSize:  cfg.MaxQueueSize,
	}, c.sendBatch, c.onDrop)

	if cfg.AdminServerEnabled {
		c.adminServer = server.NewAdminServer(c.pipeline, c.loader, cfg.AdminServerPort)
	}
	if cfg.WebhookEnabled {
		c.webhookServer = server.NewWebhookServer(c.loader, cfg.WebhookPort, cfg.WebhookSecret)
	}

	return c, nil
}

// Start begins the Flag Definition Loader's background polling (a
// no-op if no PersonalAPIKey was configured) and any enabled admin or
// webhook servers.
func (c *Client) Start(ctx context.Context) error {
	c.loader.Start(ctx)

	if c.adminServer != nil {
		go func() {
			if err := c.adminServer.Start(); err != nil && err != http.ErrServerClosed {
				c.logger.Error("admin server stopped", "error", err.Error())
			}
		}()
	}
	if c.webhookServer != nil {
		go func() {
			if err := c.webhookServer.Start(); err != nil && err != http.ErrServerClosed {
				c.logger.Error("webhook server stopped", "error", err.Error())
			}
		}()
	}
	return nil
}

// Close stops the Flag Definition Loader, flushes any queued events,
// and shuts down telemetry. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.loader.Stop()
		err = c.pipeline.Dispose(ctx)
		if shutdownErr := c.telemetry.Shutdown(ctx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	})
	return err
}

func (c *Client) onDrop(reason string) {
	c.telemetry.RecordPipelineDrop(context.Background(), reason)
	c.logger.Warn("dropped queued item", "reason", reason)
}

// Capture queues an event for delivery. Returns an error only for a
// malformed call (missing event name or distinct ID) or if the client
// has been closed; delivery failures are retried internally and never
// surfaced here.
func (c *Client) Capture(ctx context.Context, args CaptureArgs) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if args.Event == "" {
		return ErrMissingEventName
	}
	if args.DistinctID == "" {
		return ErrMissingDistinctID
	}

	item := batch.Item[domain.Event]{
		Materialize: func(ctx context.Context) (domain.Event, error) {
			return c.buildEvent(args), nil
		},
	}
	if !c.pipeline.Enqueue(item) {
		return ErrClosed
	}
	return nil
}

// buildEvent merges super properties and auto-properties into the
// captured event, echoing distinct_id into Properties per the wire
// contract every consumer of these events expects.
func (c *Client) buildEvent(args CaptureArgs) domain.Event {
	props := make(map[string]any, len(c.cfg.SuperProperties)+len(args.Properties)+6)
	for k, v := range c.cfg.SuperProperties {
		props[k] = v
	}
	for k, v := range args.Properties {
		props[k] = v
	}

	props["distinct_id"] = args.DistinctID
	props["$lib"] = libName
	props["$lib_version"] = libVersion
	props["$lib_consumer_runtime"] = runtime.Version()
	props["$os"] = runtime.GOOS
	if _, ok := props["$os_version"]; !ok {
		props["$os_version"] = runtime.GOARCH
	}
	if _, ok := props["$geoip_disable"]; !ok {
		props["$geoip_disable"] = true
	}

	ts := args.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return domain.Event{
		Event:      args.Event,
		DistinctID: args.DistinctID,
		Timestamp:  ts,
		Properties: props,
		UUID:       uuid.NewString(),
	}
}

// Identify sets properties on a person via a $identify event.
func (c *Client) Identify(ctx context.Context, args IdentifyArgs) error {
	if args.DistinctID == "" {
		return ErrMissingDistinctID
	}
	return c.Capture(ctx, CaptureArgs{
		Event:      "$identify",
		DistinctID: args.DistinctID,
		Properties: map[string]any{"$set": args.Properties},
	})
}

// Alias links distinctID and alias as the same person.
func (c *Client) Alias(ctx context.Context, distinctID, alias string) error {
	if distinctID == "" {
		return ErrMissingDistinctID
	}
	return c.Capture(ctx, CaptureArgs{
		Event:      "$create_alias",
		DistinctID: distinctID,
		Properties: map[string]any{"alias": alias},
	})
}

// GroupIdentify sets properties on a group via a $groupidentify event.
func (c *Client) GroupIdentify(ctx context.Context, args GroupIdentifyArgs) error {
	if args.GroupType == "" || args.GroupKey == "" {
		return fmt.Errorf("driftline: group type and group key are required")
	}
	return c.Capture(ctx, CaptureArgs{
		Event:      "$groupidentify",
		DistinctID: fmt.Sprintf("$%s_%s", args.GroupType, args.GroupKey),
		Properties: map[string]any{
			"$group_type": args.GroupType,
			"$group_key":  args.GroupKey,
			"$group_set":  args.Properties,
		},
	})
}

type wireBatchRequest struct {
	APIKey string         `json:"api_key"`
	Batch  []domain.Event `json:"batch"`
}

func (c *Client) sendBatch(ctx context.Context, events []domain.Event) error {
	start := time.Now()
	req := wireBatchRequest{APIKey: c.cfg.ProjectAPIKey, Batch: events}

	err := c.breaker.Call(ctx, func() error {
		return c.transport.Do(ctx, http.MethodPost, "/batch", nil, req, nil)
	})

	c.telemetry.RecordPipelineFlush(ctx, len(events), time.Since(start), err)
	c.telemetry.RecordCircuitState(ctx, "transport", c.breaker.GetState().String())

	if err != nil {
		c.logger.Error("batch flush failed", "error", err.Error(), "count", len(events))
	}
	return err
}

// IsFeatureEnabled reports whether key is enabled for distinctID.
func (c *Client) IsFeatureEnabled(ctx context.Context, key, distinctID string, opts ...FlagOption) (bool, error) {
	decisions, err := c.resolveFlags(ctx, distinctID, opts)
	if err != nil {
		return false, err
	}
	d, ok := decisions[key]
	return ok && d.Enabled, nil
}

// GetFeatureFlag returns the full evaluated result for key, or nil if
// the flag doesn't exist in the snapshot or decide response.
func (c *Client) GetFeatureFlag(ctx context.Context, key, distinctID string, opts ...FlagOption) (*FlagResult, error) {
	decisions, err := c.resolveFlags(ctx, distinctID, opts)
	if err != nil {
		return nil, err
	}
	d, ok := decisions[key]
	if !ok {
		return nil, nil
	}
	return toFlagResult(d), nil
}

// GetFeatureFlagPayload returns key's associated payload, or nil if
// the flag has none or wasn't resolved.
func (c *Client) GetFeatureFlagPayload(ctx context.Context, key, distinctID string, opts ...FlagOption) (json.RawMessage, error) {
	decisions, err := c.resolveFlags(ctx, distinctID, opts)
	if err != nil {
		return nil, err
	}
	return decisions[key].Payload, nil
}

// GetAllFlags evaluates every known flag for distinctID.
func (c *Client) GetAllFlags(ctx context.Context, distinctID string, opts ...FlagOption) (map[string]FlagResult, error) {
	decisions, err := c.resolveFlags(ctx, distinctID, opts)
	if err != nil {
		return nil, err
	}
	results := make(map[string]FlagResult, len(decisions))
	for k, d := range decisions {
		results[k] = *toFlagResult(d)
	}
	return results, nil
}

func toFlagResult(d domain.FlagDecision) *FlagResult {
	return &FlagResult{
		Key:        d.Key,
		Enabled:    d.Enabled,
		VariantKey: d.VariantKey,
		Payload:    d.Payload,
	}
}

// resolveFlags evaluates every flag in the current snapshot locally,
// then — unless the caller asked for local-only evaluation — falls
// back to the decide endpoint for whichever flags required it,
// consulting the caller's decision Scope first when one was supplied.
// With no snapshot yet, every flag is decided remotely and the Scope is
// not consulted.
func (c *Client) resolveFlags(ctx context.Context, distinctID string, opts []FlagOption) (map[string]domain.FlagDecision, error) {
	if distinctID == "" {
		return nil, ErrMissingDistinctID
	}

	var fo flagOptions
	for _, opt := range opts {
		opt(&fo)
	}

	evalCtx := domain.EvaluationContext{
		DistinctID:       distinctID,
		PersonProperties: fo.personProperties,
		Groups:           fo.groups,
		GroupProperties:  fo.groupProperties,
	}

	snapshot := c.loader.Snapshot()
	if snapshot == nil {
		if fo.onlyEvaluateLocally {
			return nil, ErrNoSnapshot
		}
		return c.decideRemote(ctx, evalCtx, nil)
	}

	start := time.Now()
	decisions, requiresRemote := c.evaluator.EvaluateAll(snapshot, evalCtx)
	remote := make(map[string]bool, len(requiresRemote))
	for _, key := range requiresRemote {
		remote[key] = true
	}
	for key := range decisions {
		c.telemetry.RecordEvaluation(ctx, key, remote[key], time.Since(start))
	}

	if len(requiresRemote) == 0 || fo.onlyEvaluateLocally {
		return decisions, nil
	}

	var scope *decisioncache.Scope
	if fo.scope != nil {
		scope = fo.scope.inner
	}

	if scope != nil {
		if cached, ok := scope.Get(ctx, evalCtx); ok {
			for k, v := range cached {
				decisions[k] = v
			}
			return decisions, nil
		}
	}

	remoteDecisions, err := c.decideRemote(ctx, evalCtx, requiresRemote)
	if err != nil {
		c.logger.Warn("remote flag decision failed, returning local-only results", "error", err.Error())
		return decisions, nil
	}

	if scope != nil {
		scope.Set(ctx, evalCtx, remoteDecisions)
	}
	for k, v := range remoteDecisions {
		decisions[k] = v
	}
	return decisions, nil
}

type wireDecideRequest struct {
	APIKey           string                    `json:"api_key"`
	DistinctID       string                    `json:"distinct_id"`
	Groups           map[string]string         `json:"groups,omitempty"`
	PersonProperties map[string]any            `json:"person_properties,omitempty"`
	GroupProperties  map[string]map[string]any `json:"group_properties,omitempty"`
}

type wireDecideResponse struct {
	FeatureFlags        map[string]any             `json:"featureFlags"`
	FeatureFlagPayloads map[string]json.RawMessage `json:"featureFlagPayloads"`
}

// decideRemote calls the decide endpoint for the full set of flags, or
// (when only is non-nil) filters the response down to just those
// keys — the set the local evaluator couldn't resolve.
func (c *Client) decideRemote(ctx context.Context, evalCtx domain.EvaluationContext, only []string) (map[string]domain.FlagDecision, error) {
	req := wireDecideRequest{
		APIKey:           c.cfg.ProjectAPIKey,
		DistinctID:       evalCtx.DistinctID,
		Groups:           evalCtx.Groups,
		PersonProperties: evalCtx.PersonProperties,
		GroupProperties:  evalCtx.GroupProperties,
	}

	var resp wireDecideResponse
	err := c.breaker.Call(ctx, func() error {
		return c.transport.Do(ctx, http.MethodPost, "/decide?v=3", nil, req, &resp)
	})
	c.telemetry.RecordCircuitState(ctx, "transport", c.breaker.GetState().String())
	if err != nil {
		return nil, err
	}

	decisions := make(map[string]domain.FlagDecision, len(resp.FeatureFlags))
	for key, raw := range resp.FeatureFlags {
		decisions[key] = decisionFromWire(key, raw, resp.FeatureFlagPayloads[key])
	}

	if only == nil {
		return decisions, nil
	}
	filtered := make(map[string]domain.FlagDecision, len(only))
	for _, k := range only {
		if d, ok := decisions[k]; ok {
			filtered[k] = d
		}
	}
	return filtered, nil
}

// decisionFromWire normalizes a decide response's featureFlags entry,
// which is a bool for a simple on/off flag and a string variant key
// for a multivariate one.
func decisionFromWire(key string, raw any, payload json.RawMessage) domain.FlagDecision {
	d := domain.FlagDecision{
		Key:     key,
		Payload: payload,
		Reason:  domain.EvaluationReason{Code: "remote_decision", Description: "resolved via decide endpoint"},
	}
	switch v := raw.(type) {
	case bool:
		d.Enabled = v
	case string:
		d.Enabled = true
		vk := v
		d.VariantKey = &vk
	}
	return d
}

// GetRemoteConfigPayload fetches a flag's remote-config payload, a
// value managed outside the normal targeting/rollout evaluation path.
// Requires PersonalAPIKey.
func (c *Client) GetRemoteConfigPayload(ctx context.Context, key string) (json.RawMessage, error) {
	if key == "" {
		return nil, fmt.Errorf("driftline: flag key is required")
	}
	path := fmt.Sprintf("/api/projects/@current/feature_flags/%s/remote_config/", key)
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.PersonalAPIKey}

	var raw json.RawMessage
	if err := c.transport.Do(ctx, http.MethodGet, path, headers, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
