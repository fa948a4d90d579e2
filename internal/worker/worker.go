// Package worker runs the background sync that drains the offline queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pathlabs/trackmate/internal/metrics"
	"github.com/pathlabs/trackmate/internal/network"
	"github.com/pathlabs/trackmate/internal/service"
)

// Flusher is satisfied by *service.SubmissionService.
type Flusher interface {
	PendingCount(ctx context.Context) (int, error)
	FlushQueue(ctx context.Context) (service.FlushResult, error)
}

// Syncer flushes the queue when the relay becomes reachable, and again at
// most every MinSyncInterval while entries are pending.
type Syncer struct {
	flusher Flusher
	checker network.Checker
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	// Loop state, touched only by the run goroutine.
	online   bool
	lastSync time.Time

	// Synchronization
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new Syncer with the given configuration.
// The syncer must be started with Start() and stopped with Stop().
func New(flusher Flusher, checker network.Checker, config Config, logger *slog.Logger) (*Syncer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Syncer{
		flusher: flusher,
		checker: checker,
		config:  config,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins polling in a background goroutine. The first poll runs
// immediately so a reporter started online drains its queue right away.
func (s *Syncer) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("Syncer started",
		"poll_interval", s.config.PollInterval,
		"min_sync_interval", s.config.MinSyncInterval,
	)
}

// Stop signals the syncer to stop and waits for a running flush to finish.
// It respects the configured ShutdownTimeout.
func (s *Syncer) Stop() {
	s.logger.Info("Stopping syncer...")
	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Syncer stopped gracefully")
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warn("Syncer shutdown timeout exceeded, a flush may still be running")
	}
}

func (s *Syncer) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks connectivity and flushes when due. It reports whether a
// flush ran.
func (s *Syncer) tick(ctx context.Context) bool {
	wasOnline := s.online
	s.online = s.checker.Reachable(ctx)

	if !s.online {
		if wasOnline {
			s.logger.Info("Relay unreachable, holding queued submissions")
		}
		return false
	}

	reconnected := !wasOnline
	if !reconnected && s.now().Sub(s.lastSync) < s.config.MinSyncInterval {
		return false
	}

	pending, err := s.flusher.PendingCount(ctx)
	if err != nil {
		s.logger.Error("Failed to count queued submissions", "error", err)
		return false
	}
	metrics.SetQueueDepth(pending)
	if pending == 0 {
		return false
	}

	if reconnected {
		s.logger.Info("Relay reachable, flushing queue", "pending", pending)
	}

	s.lastSync = s.now()
	flushCtx, cancel := context.WithTimeout(ctx, s.config.FlushTimeout)
	defer cancel()

	res, err := s.flusher.FlushQueue(flushCtx)
	if err != nil {
		s.logger.Error("Queue flush failed", "error", err, "sent", res.Sent, "failed", res.Failed)
	}
	return true
}
