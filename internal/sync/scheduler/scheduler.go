// Package scheduler funnels the sync triggers into the orchestrator:
// foreground transitions, connectivity regained, a periodic timer while
// foregrounded, and explicit user action. Overlapping triggers are safe;
// the orchestrator's single-flight guard absorbs them.
package scheduler

import (
	"context"
	gosync "sync"
	"time"

	"github.com/fieldvault/fieldsync/internal/logging"
	syncpkg "github.com/fieldvault/fieldsync/internal/sync"
)

// DefaultInterval is the periodic trigger interval while foregrounded.
const DefaultInterval = 15 * time.Minute

// Config holds scheduler configuration.
type Config struct {
	// Interval between periodic syncs while foregrounded and online.
	Interval time.Duration
}

// Scheduler owns the trigger loop. All trigger sources collapse into one
// channel; a trigger arriving while a sync runs is coalesced, not queued.
type Scheduler struct {
	engine   syncpkg.Orchestrator
	interval time.Duration

	trigger chan string
	stopCh  chan struct{}
	wg      gosync.WaitGroup

	mu         gosync.RWMutex
	running    bool
	online     bool
	foreground bool
}

// NewScheduler creates a Scheduler. A nil config uses the defaults.
func NewScheduler(engine syncpkg.Orchestrator, config *Config) *Scheduler {
	interval := DefaultInterval
	if config != nil && config.Interval > 0 {
		interval = config.Interval
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		trigger:  make(chan string, 1),
		stopCh:   make(chan struct{}),
		// Assume online and foregrounded until told otherwise.
		online:     true,
		foreground: true,
	}
}

// Start launches the trigger loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Sync scheduler started",
		map[string]interface{}{"interval": s.interval.String()})
}

// Stop shuts the trigger loop down and waits for an in-flight sync
// launched by the loop to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped")
}

// SetOnlineStatus records a connectivity change. Regaining connectivity
// triggers an immediate sync.
func (s *Scheduler) SetOnlineStatus(online bool) {
	s.mu.Lock()
	wasOnline := s.online
	s.online = online
	s.mu.Unlock()

	if !wasOnline && online {
		logging.Info("Connectivity regained")
		s.fire("connectivity")
	}
}

// SetForeground records an app lifecycle change. Coming to the
// foreground triggers an immediate sync.
func (s *Scheduler) SetForeground(foreground bool) {
	s.mu.Lock()
	wasForeground := s.foreground
	s.foreground = foreground
	s.mu.Unlock()

	if !wasForeground && foreground {
		s.fire("foreground")
	}
}

// TriggerSync requests an immediate sync (explicit user action).
func (s *Scheduler) TriggerSync() {
	s.fire("manual")
}

// fire coalesces: if a trigger is already pending, the new one is
// dropped since the pending pass will cover it.
func (s *Scheduler) fire(reason string) {
	select {
	case s.trigger <- reason:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			eligible := s.online && s.foreground
			s.mu.RUnlock()
			if eligible {
				s.run(ctx, "periodic")
			}
		case reason := <-s.trigger:
			s.run(ctx, reason)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, reason string) {
	result, err := s.engine.Sync(ctx)
	if err != nil {
		logging.Error("Sync failed", err,
			map[string]interface{}{"trigger": reason})
		return
	}
	if result.Skipped {
		logging.Debug("Sync skipped",
			map[string]interface{}{"trigger": reason, "offline": result.Offline})
		return
	}
	logging.Info("Sync triggered",
		map[string]interface{}{
			"trigger":  reason,
			"uploaded": result.Uploaded,
			"pushed":   result.Pushed,
			"pulled":   result.Pulled,
		})
}
