package downloadables

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultConcurrencyLimit  = 2
	defaultStallTimeout      = 30 * time.Second
	defaultSpeedWindow       = 3 * time.Second
	defaultMaxRetries        = 3
	defaultBackoffInitial    = time.Second
	defaultBackoffMultiplier = 2.0
	defaultBackoffMax        = 30 * time.Second
)

// Config holds the tunables shipped alongside the downloadables catalog.
type Config struct {
	ConcurrencyLimit int
	StallTimeout     time.Duration
	SpeedWindow      time.Duration
	// RetryBackoff is an explicit per-attempt schedule. When empty the delays
	// follow an exponential curve built from the Backoff* fields.
	RetryBackoff      []time.Duration
	BackoffInitial    time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
	MaxRetries        int
	// AvailabilityThreshold in (0,1] lets a group report IsAvailable before it
	// completes. Zero means only completed groups are available.
	AvailabilityThreshold float64
}

// DefaultConfig returns the tunables used for fields a config document omits.
func DefaultConfig() Config {
	return Config{
		ConcurrencyLimit:  defaultConcurrencyLimit,
		StallTimeout:      defaultStallTimeout,
		SpeedWindow:       defaultSpeedWindow,
		BackoffInitial:    defaultBackoffInitial,
		BackoffMultiplier: defaultBackoffMultiplier,
		BackoffMax:        defaultBackoffMax,
		MaxRetries:        defaultMaxRetries,
	}
}

type configDocument struct {
	ConcurrencyLimit      *int      `json:"concurrencyLimit"`
	StallTimeoutSeconds   *float64  `json:"stallTimeoutSeconds"`
	SpeedWindowSeconds    *float64  `json:"speedWindowSeconds"`
	RetryBackoffSeconds   []float64 `json:"retryBackoffSeconds"`
	BackoffInitialSeconds *float64  `json:"backoffInitialSeconds"`
	BackoffMultiplier     *float64  `json:"backoffMultiplier"`
	BackoffMaxSeconds     *float64  `json:"backoffMaxSeconds"`
	MaxRetries            *int      `json:"maxRetries"`
	AvailabilityThreshold *float64  `json:"availabilityThreshold"`
}

// ParseConfig decodes a downloadables config document and validates it.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	var doc configDocument
	if err := decodeDocument(data, &doc); err != nil {
		return Config{}, &CatalogError{Document: DocumentConfig, Reason: "invalid json", Err: err}
	}

	if doc.ConcurrencyLimit != nil {
		cfg.ConcurrencyLimit = *doc.ConcurrencyLimit
	}

	if doc.StallTimeoutSeconds != nil {
		cfg.StallTimeout = seconds(*doc.StallTimeoutSeconds)
	}

	if doc.SpeedWindowSeconds != nil {
		cfg.SpeedWindow = seconds(*doc.SpeedWindowSeconds)
	}

	for _, s := range doc.RetryBackoffSeconds {
		if s < 0 {
			return Config{}, &CatalogError{Document: DocumentConfig, Reason: "negative retry backoff"}
		}

		cfg.RetryBackoff = append(cfg.RetryBackoff, seconds(s))
	}

	if doc.BackoffInitialSeconds != nil {
		cfg.BackoffInitial = seconds(*doc.BackoffInitialSeconds)
	}

	if doc.BackoffMultiplier != nil {
		cfg.BackoffMultiplier = *doc.BackoffMultiplier
	}

	if doc.BackoffMaxSeconds != nil {
		cfg.BackoffMax = seconds(*doc.BackoffMaxSeconds)
	}

	if doc.MaxRetries != nil {
		cfg.MaxRetries = *doc.MaxRetries
	}

	if doc.AvailabilityThreshold != nil {
		cfg.AvailabilityThreshold = *doc.AvailabilityThreshold
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects tunables the scheduler cannot honour.
func (c Config) Validate() error {
	switch {
	case c.ConcurrencyLimit < 1:
		return &CatalogError{Document: DocumentConfig, Reason: fmt.Sprintf("concurrency limit must be positive, got %d", c.ConcurrencyLimit)}
	case c.StallTimeout <= 0:
		return &CatalogError{Document: DocumentConfig, Reason: "stall timeout must be positive"}
	case c.SpeedWindow <= 0:
		return &CatalogError{Document: DocumentConfig, Reason: "speed window must be positive"}
	case c.MaxRetries < 0:
		return &CatalogError{Document: DocumentConfig, Reason: "max retries must not be negative"}
	case c.BackoffMultiplier < 1:
		return &CatalogError{Document: DocumentConfig, Reason: "backoff multiplier must be at least 1"}
	case c.BackoffInitial < 0 || c.BackoffMax < c.BackoffInitial:
		return &CatalogError{Document: DocumentConfig, Reason: "backoff bounds are inconsistent"}
	case c.AvailabilityThreshold < 0 || c.AvailabilityThreshold > 1:
		return &CatalogError{Document: DocumentConfig, Reason: "availability threshold must be within [0,1]"}
	}

	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func decodeDocument(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("empty document")
	}

	return json.Unmarshal(data, v)
}
