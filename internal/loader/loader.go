// Package loader periodically fetches flag definitions from the remote
// endpoint and publishes them as an immutable domain.Snapshot for the
// local evaluator to read.
package loader

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftline-labs/driftline-go/internal/domain"
	"github.com/driftline-labs/driftline-go/internal/logging"
	"github.com/driftline-labs/driftline-go/internal/storage"
	"github.com/driftline-labs/driftline-go/internal/transport"
	"github.com/driftline-labs/driftline-go/pkg/circuit"
	"github.com/driftline-labs/driftline-go/pkg/telemetry"
)

const localEvaluationPath = "/api/feature_flag/local_evaluation"

// wireFlagResponse is the shape of a 2xx response from
// GET /api/feature_flag/local_evaluation.
type wireFlagResponse struct {
	Flags  []domain.FlagDefinition `json:"flags"`
	Groups map[string]int          `json:"group_type_mapping"`
	Cohorts []struct {
		ID   int               `json:"id"`
		Node domain.CohortNode `json:"node"`
	} `json:"cohorts"`
}

// Config controls polling behavior. PersonalAPIKey gates the loader
// entirely: an empty key means Start is a no-op and Snapshot always
// returns nil.
type Config struct {
	PersonalAPIKey string
	PollInterval   time.Duration
	SnapshotDir    string // empty disables disk persistence

	Transport *transport.Client
	Breaker   *circuit.Breaker
	Telemetry telemetry.Provider
	Logger    logging.Logger
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
	}
}

// Loader owns the current flag Snapshot, refreshing it on a background
// goroutine.
type Loader struct {
	cfg     Config
	disk    *storage.DiskSnapshotStore
	current atomic.Pointer[domain.Snapshot]

	// pollMu serializes fetchOnce between the poll loop and Refresh, and
	// guards etag.
	pollMu sync.Mutex
	etag   string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New constructs a Loader. Call Start to begin polling.
func New(cfg Config) (*Loader, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuit.New(circuit.DefaultConfig())
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewNoOp()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNoop()
	}

	l := &Loader{cfg: cfg}

	if cfg.SnapshotDir != "" {
		disk, err := storage.NewDiskSnapshotStore(cfg.SnapshotDir)
		if err != nil {
			return nil, err
		}
		l.disk = disk
	}

	return l, nil
}

// Start performs an initial synchronous fetch (falling back to the last
// persisted snapshot on failure) and then begins the background poll
// loop. A no-op if no PersonalAPIKey was configured.
func (l *Loader) Start(ctx context.Context) {
	if l.cfg.PersonalAPIKey == "" {
		return
	}

	l.ctx, l.cancel = context.WithCancel(ctx)

	if err := l.poll(l.ctx); err != nil && l.disk != nil {
		if snap, loadErr := l.disk.Load(l.ctx); loadErr == nil {
			l.current.Store(snap)
			l.cfg.Logger.Warn("loaded flag snapshot from disk after failed initial fetch", "error", err.Error())
		}
	}

	l.wg.Add(1)
	go l.pollLoop()
}

func (l *Loader) pollLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			_ = l.poll(l.ctx)
		}
	}
}

// poll performs one fetch attempt, gated by the circuit breaker. Errors
// are logged and returned; the current Snapshot (if any) is left
// untouched on failure.
func (l *Loader) poll(ctx context.Context) error {
	start := time.Now()

	err := l.cfg.Breaker.Call(ctx, func() error {
		return l.fetchOnce(ctx)
	})

	success := err == nil
	l.cfg.Telemetry.RecordPollResult(ctx, success, time.Since(start), l.flagCount())
	l.cfg.Telemetry.RecordCircuitState(ctx, "loader", l.cfg.Breaker.GetState().String())

	if err != nil {
		l.cfg.Logger.Warn("flag definition poll failed", "error", err.Error())
	}
	return err
}

func (l *Loader) fetchOnce(ctx context.Context) error {
	l.pollMu.Lock()
	defer l.pollMu.Unlock()

	headers := map[string]string{"Authorization": "Bearer " + l.cfg.PersonalAPIKey}
	if l.etag != "" {
		headers["If-None-Match"] = l.etag
	}

	var resp wireFlagResponse
	path := localEvaluationPath + "?token=" + l.cfg.PersonalAPIKey

	result, err := l.cfg.Transport.DoHeaders(ctx, http.MethodGet, path, headers, nil, &resp)
	if err != nil {
		return err
	}

	if result.StatusCode == http.StatusNotModified {
		return nil
	}

	snapshot := buildSnapshot(resp)
	snapshot.ETag = result.Header.Get("ETag")
	l.etag = snapshot.ETag
	l.current.Store(snapshot)

	if l.disk != nil {
		if err := l.disk.Save(ctx, snapshot); err != nil {
			l.cfg.Logger.Warn("failed to persist flag snapshot to disk", "error", err.Error())
		}
	}

	return nil
}

func buildSnapshot(resp wireFlagResponse) *domain.Snapshot {
	flags := make(map[string]domain.FlagDefinition, len(resp.Flags))
	for _, f := range resp.Flags {
		flags[f.Key] = f
	}

	groupTypeIndexToName := make(map[int]string, len(resp.Groups))
	for name, idx := range resp.Groups {
		groupTypeIndexToName[idx] = name
	}

	cohorts := make(map[int]domain.Cohort, len(resp.Cohorts))
	for _, c := range resp.Cohorts {
		cohorts[c.ID] = domain.Cohort{ID: c.ID, Node: c.Node}
	}

	return &domain.Snapshot{
		Flags:                flags,
		GroupTypeIndexToName: groupTypeIndexToName,
		Cohorts:              cohorts,
		FetchedAt:            time.Now(),
	}
}

// Snapshot returns the current snapshot, or nil if none has been fetched
// (or loaded from disk) yet.
func (l *Loader) Snapshot() *domain.Snapshot {
	return l.current.Load()
}

// Refresh triggers a synchronous out-of-cycle poll, bypassing the ticker.
// Used by the webhook handler to react immediately to a flag change
// notification instead of waiting for the next scheduled poll.
func (l *Loader) Refresh(ctx context.Context) error {
	if l.cfg.PersonalAPIKey == "" {
		return nil
	}
	return l.poll(ctx)
}

func (l *Loader) flagCount() int {
	snap := l.current.Load()
	if snap == nil {
		return 0
	}
	return len(snap.Flags)
}

// Stop ends the background poll loop. Safe to call more than once, and
// safe to call even if Start was never invoked.
func (l *Loader) Stop() {
	l.stopOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
		l.wg.Wait()
	})
}
