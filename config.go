package driftline

import (
	"net/http"
	"time"

	"github.com/driftline-labs/driftline-go/internal/logging"
	"github.com/driftline-labs/driftline-go/pkg/circuit"
	"github.com/driftline-labs/driftline-go/pkg/telemetry"
)

// Config is the full set of tunables recognized by New. Most callers
// should build one through Option functions rather than populate this
// directly.
type Config struct {
	ProjectAPIKey  string
	PersonalAPIKey string
	Host           string

	FlushAt       int
	FlushInterval time.Duration
	MaxBatchSize  int
	MaxQueueSize  int

	MaxRetries        int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	EnableCompression bool

	FlagPollInterval       time.Duration
	SnapshotPersistenceDir string

	SuperProperties map[string]any

	Logger         logging.Logger
	Telemetry      telemetry.Provider
	CircuitBreaker circuit.Config

	AdminServerEnabled bool
	AdminServerPort    int

	WebhookEnabled bool
	WebhookPort    int
	WebhookSecret  string

	HTTPClient *http.Client
}

// DefaultConfig returns the recognized defaults, matching the
// transport, batch, and loader package defaults.
func DefaultConfig() Config {
	return Config{
		Host:                   "https://us.i.driftline.io",
		FlushAt:                20,
		FlushInterval:          30 * time.Second,
		MaxBatchSize:           100,
		MaxQueueSize:           1000,
		MaxRetries:             3,
		InitialRetryDelay:      time.Second,
		MaxRetryDelay:          30 * time.Second,
		FlagPollInterval:       30 * time.Second,
		SuperProperties:        map[string]any{},
		CircuitBreaker:         circuit.DefaultConfig(),
	}
}

func (c *Config) validate() error {
	if c.ProjectAPIKey == "" {
		return ErrMissingProjectAPIKey
	}
	if c.AdminServerEnabled && (c.AdminServerPort <= 0 || c.AdminServerPort > 65535) {
		return ErrInvalidPort
	}
	if c.WebhookEnabled && (c.WebhookPort <= 0 || c.WebhookPort > 65535) {
		return ErrInvalidPort
	}
	return nil
}
