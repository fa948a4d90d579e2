package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the background queue syncer.
type Config struct {
	// PollInterval is how often the syncer checks connectivity.
	// Default: 15 seconds
	PollInterval time.Duration

	// MinSyncInterval is the shortest gap between two flushes while the
	// device stays online. Going from offline to online flushes at once.
	// Default: 5 minutes
	MinSyncInterval time.Duration

	// FlushTimeout bounds a single flush of the whole queue.
	// If a flush exceeds this timeout, its context is canceled and the
	// undelivered entries stay queued.
	// Default: 5 minutes
	FlushTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for a running flush to finish.
	// Default: 30 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		PollInterval:    15 * time.Second,
		MinSyncInterval: 5 * time.Minute,
		FlushTimeout:    5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
// Returns an error if any values are invalid.
func (c Config) Validate() error {
	if c.PollInterval < 1*time.Second {
		return fmt.Errorf("poll interval must be at least 1 second, got %v", c.PollInterval)
	}
	if c.MinSyncInterval < c.PollInterval {
		return fmt.Errorf("min sync interval (%v) must not be shorter than poll interval (%v)", c.MinSyncInterval, c.PollInterval)
	}
	if c.FlushTimeout < 1*time.Second {
		return fmt.Errorf("flush timeout must be at least 1 second, got %v", c.FlushTimeout)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}
