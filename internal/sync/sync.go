// Package sync runs the background refresh loop of the console and exports
// model snapshots to external destinations.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grnet/panoramix/internal/metrics"
)

// ErrRefreshDropped is returned by Trigger when a refresh is already in
// flight.
var ErrRefreshDropped = errors.New("sync: refresh already in flight")

// Destination is the interface for a snapshot target (S3, etc.).
type Destination interface {
	// Write sends the JSON snapshot to the destination.
	Write(ctx context.Context, data []byte) error
}

// RefreshFunc refreshes the whole model.
type RefreshFunc func(ctx context.Context) error

// SnapshotFunc encodes the current model.
type SnapshotFunc func() ([]byte, error)

// Scheduler drives periodic refreshes with at most one refresh in flight.
// A tick that arrives while a refresh is running is dropped.
type Scheduler struct {
	refresh      RefreshFunc
	snapshot     SnapshotFunc
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	inFlight atomic.Bool
	manual   atomic.Bool
	stopped  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that calls refresh at the given interval
// and, after each successful refresh, writes snapshot to the destinations.
// snapshot may be nil when there are no destinations.
func NewScheduler(refresh RefreshFunc, snapshot SnapshotFunc, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		refresh:      refresh,
		snapshot:     snapshot,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// SetManual suspends (true) or resumes (false) timer-driven refreshes.
// Trigger keeps working in manual mode.
func (s *Scheduler) SetManual(manual bool) {
	s.manual.Store(manual)
}

// Manual reports whether timer-driven refreshes are suspended.
func (s *Scheduler) Manual() bool {
	return s.manual.Load()
}

// Start begins the periodic loop. The first refresh happens one interval
// after Start. A non-positive interval disables the loop.
func (s *Scheduler) Start() {
	if s.interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.stopped.Load() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the loop and waits for the current tick (if any) to finish.
// No tick fires after Stop returns, and a refresh finishing after Stop
// exports nothing.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.manual.Load() || ctx.Err() != nil {
				continue
			}
			// Requests in flight are not aborted by Stop.
			err := s.Trigger(context.WithoutCancel(ctx))
			switch {
			case errors.Is(err, ErrRefreshDropped):
				s.logger.Debug("refresh tick dropped")
			case err != nil:
				s.logger.Error("refresh failed", "err", err)
			}
		}
	}
}

// Trigger runs one refresh unless another is in flight, in which case it
// returns ErrRefreshDropped without calling refresh.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.RecordRefresh(nil, true, 0)
		return ErrRefreshDropped
	}
	defer s.inFlight.Store(false)

	start := time.Now()
	err := s.refresh(ctx)
	metrics.RecordRefresh(err, false, time.Since(start).Seconds())
	if err != nil {
		return err
	}
	if s.stopped.Load() {
		return nil
	}
	s.export(ctx)
	return nil
}

// InFlight reports whether a refresh is running.
func (s *Scheduler) InFlight() bool {
	return s.inFlight.Load()
}

func (s *Scheduler) export(ctx context.Context) {
	if len(s.destinations) == 0 || s.snapshot == nil {
		return
	}
	data, err := s.snapshot()
	if err != nil {
		s.logger.Error("snapshot encode failed", "err", err)
		return
	}

	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			s.logger.Error("snapshot destination write failed", "destination", fmt.Sprintf("%d", i), "err", err)
		}
	}

	s.logger.Debug("snapshot exported", "destinations", len(s.destinations), "bytes", len(data))
}
