// Package scheduler runs towerlink's background tasks: the game snapshot
// poller and periodic journal pruning.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/towerlink/internal/client"
	"github.com/energizer-project/towerlink/internal/dispatch"
	"github.com/energizer-project/towerlink/internal/events"
	"github.com/energizer-project/towerlink/internal/game"
)

// DefaultPruneInterval is how often the journal is trimmed.
const DefaultPruneInterval = time.Hour

// SnapshotSource reads a match summary.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*client.Snapshot, error)
}

// TerrainResetter drops cached map data. *client.GameClient implements it;
// the poller calls it when a new match starts on the same session.
type TerrainResetter interface {
	ResetTerrainCache()
}

// Pruner trims a journal to its newest entries.
type Pruner interface {
	Prune(ctx context.Context, keep int) (int64, error)
}

// Options configures a Scheduler. A zero Interval disables polling; a nil
// Pruner or non-positive Keep disables pruning.
type Options struct {
	Interval      time.Duration
	SessionID     string
	Pruner        Pruner
	Keep          int
	PruneInterval time.Duration
}

// PollStats counts poller activity.
type PollStats struct {
	Polls       int       `json:"polls"`
	Failures    int       `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastPollAt  time.Time `json:"last_poll_at"`
	IntervalSec float64   `json:"interval_sec"`
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	source   SnapshotSource
	eventBus *events.EventBus
	opts     Options
	logger   zerolog.Logger

	mu     sync.RWMutex
	latest *client.Snapshot
	stats  PollStats
}

// NewScheduler creates a new task scheduler.
func NewScheduler(source SnapshotSource, eventBus *events.EventBus, opts Options) *Scheduler {
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = DefaultPruneInterval
	}
	return &Scheduler{
		source:   source,
		eventBus: eventBus,
		opts:     opts,
		logger:   log.With().Str("component", "scheduler").Logger(),
		stats:    PollStats{IntervalSec: opts.Interval.Seconds()},
	}
}

// Start runs all enabled tasks and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.opts.Interval).Msg("scheduler started")

	var wg sync.WaitGroup
	if s.opts.Interval > 0 && s.source != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runPollLoop(ctx)
		}()
	}
	if s.opts.Pruner != nil && s.opts.Keep > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runPruneLoop(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runPollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		_, err := s.PollOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		// A dead transport will not recover; retry exhaustion might.
		if errors.Is(err, dispatch.ErrTransportClosed) {
			s.logger.Warn().Err(err).Msg("snapshot poller stopping")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce takes one snapshot, stores it and emits game_snapshot.
func (s *Scheduler) PollOnce(ctx context.Context) (*client.Snapshot, error) {
	snap, err := s.source.Snapshot(ctx)

	var restarted bool
	s.mu.Lock()
	s.stats.Polls++
	s.stats.LastPollAt = time.Now()
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	} else {
		s.stats.LastError = ""
		restarted = s.latest != nil &&
			s.latest.Status != game.GameStatusPreparing &&
			snap.Status == game.GameStatusPreparing
		s.latest = snap
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Msg("snapshot poll failed")
		return nil, err
	}

	if restarted {
		if r, ok := s.source.(TerrainResetter); ok {
			r.ResetTerrainCache()
			s.logger.Info().Msg("new match preparing, terrain cache cleared")
		}
	}

	s.logger.Debug().
		Str("status", snap.Status.String()).
		Int("wave", snap.Wave).
		Int("money", snap.Money).
		Msg("game snapshot")

	if s.eventBus != nil {
		s.eventBus.Emit(ctx, events.Event{
			Type:   events.EventGameSnapshot,
			Source: "scheduler",
			Payload: events.GameSnapshotPayload{
				SessionID: s.opts.SessionID,
				Snapshot:  *snap,
			},
		})
	}
	return snap, nil
}

// Latest returns the most recent successful snapshot, or nil.
func (s *Scheduler) Latest() *client.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil
	}
	snap := *s.latest
	return &snap
}

// Stats returns a copy of the poller counters.
func (s *Scheduler) Stats() PollStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Scheduler) runPruneLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PruneInterval)
	defer ticker.Stop()

	for {
		if _, err := s.opts.Pruner.Prune(ctx, s.opts.Keep); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("journal prune failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
