package primary

import (
	"time"
)

// Config holds the tunable parameters of the primary. The defaults are
// sensible for a small committee on a LAN; they affect liveness tuning, not
// correctness.
type Config struct {

	// MaxHeaderPayload bounds the total batch size referenced by one header.
	MaxHeaderPayload uint64

	// MinRoundDelay is the minimum time between proposing on consecutive
	// rounds, to avoid spinning through empty rounds.
	MinRoundDelay time.Duration

	// RoundTimeout is the bounded wait for the previous round to complete
	// before the proposer starts the timeout certificate path.
	RoundTimeout time.Duration

	// SyncRetryInitial is the initial retry interval for ancestor fetches.
	SyncRetryInitial time.Duration

	// SyncRetryMaximum caps the exponential retry interval.
	SyncRetryMaximum time.Duration

	// SyncBatchInterval is the cadence of the synchronizer dispatch loop.
	SyncBatchInterval time.Duration

	// SyncBatchThreshold bounds the number of digests per fetch request.
	SyncBatchThreshold int

	// VerifierCount is the number of workers verifying certificate
	// signatures concurrently.
	VerifierCount int
}

// DefaultConfig returns the default primary configuration.
func DefaultConfig() Config {
	return Config{
		MaxHeaderPayload:   4 << 20,
		MinRoundDelay:      100 * time.Millisecond,
		RoundTimeout:       5 * time.Second,
		SyncRetryInitial:   500 * time.Millisecond,
		SyncRetryMaximum:   30 * time.Second,
		SyncBatchInterval:  250 * time.Millisecond,
		SyncBatchThreshold: 32,
		VerifierCount:      4,
	}
}

// OptionFunc mutates the configuration during construction.
type OptionFunc func(*Config)

// WithMaxHeaderPayload sets the header payload bound.
func WithMaxHeaderPayload(max uint64) OptionFunc {
	return func(cfg *Config) {
		cfg.MaxHeaderPayload = max
	}
}

// WithRoundTimeout sets the bounded wait before the timeout path.
func WithRoundTimeout(timeout time.Duration) OptionFunc {
	return func(cfg *Config) {
		cfg.RoundTimeout = timeout
	}
}

// WithMinRoundDelay sets the minimum delay between rounds.
func WithMinRoundDelay(delay time.Duration) OptionFunc {
	return func(cfg *Config) {
		cfg.MinRoundDelay = delay
	}
}

// WithSyncRetry sets the synchronizer retry interval bounds.
func WithSyncRetry(initial, maximum time.Duration) OptionFunc {
	return func(cfg *Config) {
		cfg.SyncRetryInitial = initial
		cfg.SyncRetryMaximum = maximum
	}
}
