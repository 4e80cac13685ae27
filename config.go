package projector

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lovoo/projector/batch"
)

const (
	defaultMaxRetries    = 5
	defaultBackoffStep   = 100 * time.Millisecond
	defaultBackoffMax    = 10 * time.Second
	defaultStatsInterval = time.Minute
)

// Config configures the drivers of a projector.
type Config struct {
	// BatchMaxOperations limits the operations of a single index store
	// request. The writes of a record are split into several requests if
	// needed.
	BatchMaxOperations int `yaml:"batchMaxOperations"`
	// MaxRetries is the number of retries of failed writes before the
	// partition halts.
	MaxRetries int `yaml:"maxRetries"`
	// BackoffStep is the increment of the waiting time between retries.
	BackoffStep time.Duration `yaml:"backoffStep"`
	// BackoffMax caps the waiting time between retries.
	BackoffMax time.Duration `yaml:"backoffMax"`
	// GapTimeout is the time a driver waits for a missing position before it
	// continues with the next available record. Zero waits forever.
	GapTimeout time.Duration `yaml:"gapTimeout"`
	// StatsInterval is the interval of the stats log line. Zero disables it.
	StatsInterval time.Duration `yaml:"statsInterval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BatchMaxOperations: batch.DefaultMaxOperations,
		MaxRetries:         defaultMaxRetries,
		BackoffStep:        defaultBackoffStep,
		BackoffMax:         defaultBackoffMax,
		StatsInterval:      defaultStatsInterval,
	}
}

// Validate reports all invalid settings.
func (c Config) Validate() error {
	var errs *multierror.Error
	if c.BatchMaxOperations <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("batchMaxOperations must be positive, got %d", c.BatchMaxOperations))
	}
	if c.MaxRetries < 0 {
		errs = multierror.Append(errs, fmt.Errorf("maxRetries must not be negative, got %d", c.MaxRetries))
	}
	if c.BackoffStep <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("backoffStep must be positive, got %v", c.BackoffStep))
	}
	if c.BackoffMax < c.BackoffStep {
		errs = multierror.Append(errs, fmt.Errorf("backoffMax (%v) must not be less than backoffStep (%v)", c.BackoffMax, c.BackoffStep))
	}
	if c.GapTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("gapTimeout must not be negative, got %v", c.GapTimeout))
	}
	if c.StatsInterval < 0 {
		errs = multierror.Append(errs, fmt.Errorf("statsInterval must not be negative, got %v", c.StatsInterval))
	}
	return errs.ErrorOrNil()
}
