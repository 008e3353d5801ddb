package bullshark

import (
	"github.com/tusknet/tusk/model/dag"
)

// Config holds the tunable parameters of the commit engine. The defaults
// match the committee policy used in testing; production deployments
// override them per network.
type Config struct {

	// RetentionWindow is the number of rounds kept in the DAG behind the
	// last committed leader round. Rounds below the window are garbage
	// collected; certificates arriving for them are dropped as outdated.
	RetentionWindow dag.Round

	// SubDagBuffer is the capacity of the committed sub-DAG channel feeding
	// the executor. Once full, commit evaluation applies backpressure.
	SubDagBuffer uint
}

// DefaultConfig returns the default commit engine configuration.
func DefaultConfig() Config {
	return Config{
		RetentionWindow: 64,
		SubDagBuffer:    16,
	}
}

// OptionFunc is a function that sets a configuration parameter.
type OptionFunc func(*Config)

// WithRetentionWindow sets the number of rounds retained behind the commit
// boundary.
func WithRetentionWindow(window dag.Round) OptionFunc {
	return func(cfg *Config) {
		cfg.RetentionWindow = window
	}
}

// WithSubDagBuffer sets the committed sub-DAG channel capacity.
func WithSubDagBuffer(buffer uint) OptionFunc {
	return func(cfg *Config) {
		cfg.SubDagBuffer = buffer
	}
}
