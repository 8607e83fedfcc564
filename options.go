package driftline

import (
	"fmt"
	"net/http"
	"time"

	"github.com/driftline-labs/driftline-go/internal/logging"
	"github.com/driftline-labs/driftline-go/pkg/circuit"
	"github.com/driftline-labs/driftline-go/pkg/telemetry"
)

// Option configures a Client. Options are applied in the order passed
// to New, each able to reject the configuration built so far.
type Option func(*Config) error

// WithProjectAPIKey sets the project key used to authenticate capture,
// batch, and decide calls. Required.
func WithProjectAPIKey(key string) Option {
	return func(c *Config) error {
		if key == "" {
			return fmt.Errorf("driftline: project API key cannot be empty")
		}
		c.ProjectAPIKey = key
		return nil
	}
}

// WithPersonalAPIKey sets the key used to authenticate local flag
// definition polling and remote config reads. Leaving this unset
// disables the Flag Definition Loader entirely.
func WithPersonalAPIKey(key string) Option {
	return func(c *Config) error {
		c.PersonalAPIKey = key
		return nil
	}
}

// WithHost overrides the backend host.
func WithHost(host string) Option {
	return func(c *Config) error {
		if host == "" {
			return fmt.Errorf("driftline: host cannot be empty")
		}
		c.Host = host
		return nil
	}
}

// WithFlushAt sets the queue depth that triggers an async flush.
func WithFlushAt(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("driftline: FlushAt must be positive")
		}
		c.FlushAt = n
		return nil
	}
}

// WithFlushInterval sets the maximum time a queued item waits before
// being flushed.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("driftline: FlushInterval must be positive")
		}
		c.FlushInterval = d
		return nil
	}
}

// WithMaxBatchSize caps how many items a single flush sends in one
// request.
func WithMaxBatchSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("driftline: MaxBatchSize must be positive")
		}
		c.MaxBatchSize = n
		return nil
	}
}

// WithMaxQueueSize caps the pipeline's ring buffer; once full, Enqueue
// drops the oldest queued item.
func WithMaxQueueSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("driftline: MaxQueueSize must be positive")
		}
		c.MaxQueueSize = n
		return nil
	}
}

// WithMaxRetries caps transport retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("driftline: MaxRetries cannot be negative")
		}
		c.MaxRetries = n
		return nil
	}
}

// WithInitialRetryDelay sets the first retry backoff.
func WithInitialRetryDelay(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("driftline: InitialRetryDelay must be positive")
		}
		c.InitialRetryDelay = d
		return nil
	}
}

// WithMaxRetryDelay caps exponential backoff growth.
func WithMaxRetryDelay(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("driftline: MaxRetryDelay must be positive")
		}
		c.MaxRetryDelay = d
		return nil
	}
}

// WithCompression enables gzip on outbound request bodies.
func WithCompression(enabled bool) Option {
	return func(c *Config) error {
		c.EnableCompression = enabled
		return nil
	}
}

// WithFlagPollInterval sets how often the Flag Definition Loader polls
// for a fresh snapshot.
func WithFlagPollInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("driftline: FlagPollInterval must be positive")
		}
		c.FlagPollInterval = d
		return nil
	}
}

// WithSnapshotPersistence enables a disk-backed fallback: the last
// fetched flag snapshot is written to dir and read back if the
// initial poll at Start fails.
func WithSnapshotPersistence(dir string) Option {
	return func(c *Config) error {
		if dir == "" {
			return fmt.Errorf("driftline: snapshot persistence directory cannot be empty")
		}
		c.SnapshotPersistenceDir = dir
		return nil
	}
}

// WithSuperProperties sets properties merged into every captured
// event, alongside the auto-properties ($lib, $os, ...).
func WithSuperProperties(props map[string]any) Option {
	return func(c *Config) error {
		c.SuperProperties = props
		return nil
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Config) error {
		if l == nil {
			return fmt.Errorf("driftline: logger cannot be nil")
		}
		c.Logger = l
		return nil
	}
}

// WithTelemetryProvider overrides the default no-op telemetry
// provider. Use telemetry.NewOTel or telemetry.NewPrometheus.
func WithTelemetryProvider(p telemetry.Provider) Option {
	return func(c *Config) error {
		if p == nil {
			return fmt.Errorf("driftline: telemetry provider cannot be nil")
		}
		c.Telemetry = p
		return nil
	}
}

// WithCircuitBreakerConfig overrides the circuit breaker guarding
// every remote call (batch delivery, flag polling, remote decisions).
func WithCircuitBreakerConfig(cfg circuit.Config) Option {
	return func(c *Config) error {
		c.CircuitBreaker = cfg
		return nil
	}
}

// WithAdminServer starts a read-only HTTP surface (/health,
// /admin/stats) on port.
func WithAdminServer(port int) Option {
	return func(c *Config) error {
		if port <= 0 || port > 65535 {
			return ErrInvalidPort
		}
		c.AdminServerEnabled = true
		c.AdminServerPort = port
		return nil
	}
}

// WithWebhook starts an HTTP server on port that triggers an
// out-of-cycle flag poll on a flag.updated/flag.deleted notification.
// An empty secret disables HMAC-SHA256 signature verification.
func WithWebhook(port int, secret string) Option {
	return func(c *Config) error {
		if port <= 0 || port > 65535 {
			return ErrInvalidPort
		}
		c.WebhookEnabled = true
		c.WebhookPort = port
		c.WebhookSecret = secret
		return nil
	}
}

// WithHTTPClient overrides the *http.Client used by the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) error {
		if hc == nil {
			return fmt.Errorf("driftline: http client cannot be nil")
		}
		c.HTTPClient = hc
		return nil
	}
}
