// Package network decides whether the relay can be reached right now.
package network

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Checker reports current connectivity.
type Checker interface {
	Reachable(ctx context.Context) bool
}

// Pinger is satisfied by *relay.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RelayProbe treats the relay as reachable when GET /test answers within
// the probe timeout. A device with a link but no route to the relay counts
// as offline.
type RelayProbe struct {
	pinger  Pinger
	timeout time.Duration
	logger  *slog.Logger
}

// NewRelayProbe creates a probe bounded by timeout.
func NewRelayProbe(p Pinger, timeout time.Duration, logger *slog.Logger) *RelayProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayProbe{pinger: p, timeout: timeout, logger: logger}
}

// Reachable implements Checker.
func (p *RelayProbe) Reachable(ctx context.Context) bool {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.pinger.Ping(ctx); err != nil {
		p.logger.Debug("relay unreachable", "error", err)
		return false
	}
	return true
}

// Static is a Checker with a fixed, switchable answer. It backs the
// --offline flag and tests.
type Static struct {
	online atomic.Bool
}

// NewStatic creates a Static checker.
func NewStatic(online bool) *Static {
	s := &Static{}
	s.online.Store(online)
	return s
}

// Set changes the answer.
func (s *Static) Set(online bool) {
	s.online.Store(online)
}

// Reachable implements Checker.
func (s *Static) Reachable(context.Context) bool {
	return s.online.Load()
}

var (
	_ Checker = (*RelayProbe)(nil)
	_ Checker = (*Static)(nil)
)
