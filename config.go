package substrate

import "time"

// BatchModeKind selects how a Batcher coalesces outgoing elements.
type BatchModeKind int

const (
	// BatchFixed flushes once exactly N elements are buffered.
	BatchFixed BatchModeKind = iota
	// BatchAdaptive flushes on N elements or a timeout, whichever first.
	BatchAdaptive
	// BatchSingle never coalesces: every element is its own batch.
	BatchSingle
)

// BatchMode is the running batching policy for a Batcher.
type BatchMode struct {
	Kind    BatchModeKind
	Size    int
	Timeout time.Duration
}

// FixedBatch returns a BatchMode that flushes at exactly n elements.
func FixedBatch(n int) BatchMode { return BatchMode{Kind: BatchFixed, Size: n} }

// AdaptiveBatch returns a BatchMode that flushes at n elements or timeout,
// whichever comes first.
func AdaptiveBatch(n int, timeout time.Duration) BatchMode {
	return BatchMode{Kind: BatchAdaptive, Size: n, Timeout: timeout}
}

// SingleBatch returns a BatchMode where every element flushes alone.
func SingleBatch() BatchMode { return BatchMode{Kind: BatchSingle, Size: 1} }

// HostSpec names one remote worker host for the scheduler's replica
// assignment.
type HostSpec struct {
	Address string `yaml:"address" mapstructure:"address"`
	Weight  int    `yaml:"weight,omitempty" mapstructure:"weight,omitempty"`
}

// EnvironmentConfig is the recognized set of options governing core
// behavior; no other environment variable affects it.
type EnvironmentConfig struct {
	Parallelism int        `yaml:"parallelism" mapstructure:"parallelism"`
	RemoteHosts []HostSpec `yaml:"remote_hosts,omitempty" mapstructure:"remote_hosts,omitempty"`
	BatchMode   BatchMode  `yaml:"-"`
	Tracing     bool       `yaml:"tracing,omitempty" mapstructure:"tracing,omitempty"`

	// Logger and HostProvider are populated programmatically (not from
	// YAML); they default to the package logger and a static list backed
	// by RemoteHosts respectively.
	Logger       Logger       `yaml:"-"`
	HostProvider HostProvider `yaml:"-"`
}

// Local returns an EnvironmentConfig for a single-host execution with the
// given parallelism and the default adaptive batch mode - the common case
// for tests and the concrete scenarios of §8.
func Local(parallelism int) *EnvironmentConfig {
	return &EnvironmentConfig{
		Parallelism: parallelism,
		BatchMode:   AdaptiveBatch(256, 16*time.Millisecond),
		Logger:      defaultLogger,
	}
}

func (c *EnvironmentConfig) hostProvider() HostProvider {
	if c.HostProvider != nil {
		return c.HostProvider
	}
	return staticHosts(c.RemoteHosts)
}

func (c *EnvironmentConfig) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return defaultLogger
}
