package sync

import (
	gosync "sync"
)

// Phase identifies which part of a sync pass is running.
type Phase string

const (
	PhaseIdle  Phase = "idle"
	PhaseMedia Phase = "media"
	PhasePush  Phase = "push"
	PhasePull  Phase = "pull"
	PhaseDone  Phase = "done"
)

// Progress is a point-in-time snapshot of a sync pass. Total counts the
// units of work known at the start of the pass (queued operations plus
// uploadable media assets); Completed and Failed count terminal outcomes
// so far. CurrentOperation describes the unit in flight.
type Progress struct {
	Phase            Phase  `json:"phase"`
	Total            int    `json:"total"`
	Completed        int    `json:"completed"`
	Failed           int    `json:"failed"`
	CurrentOperation string `json:"current_operation"`
}

// ProgressFunc receives progress snapshots. Callbacks run on the sync
// goroutine, so observers should hand off rather than block.
type ProgressFunc func(Progress)

// notifier fans progress snapshots out to subscribers. Subscribing and
// unsubscribing are safe at any point in the orchestrator's lifecycle,
// including mid-pass.
type notifier struct {
	mu     gosync.RWMutex
	nextID int
	subs   map[int]ProgressFunc
}

// Subscribe registers an observer and returns a token for Unsubscribe.
func (n *notifier) Subscribe(fn ProgressFunc) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]ProgressFunc)
	}
	n.nextID++
	n.subs[n.nextID] = fn
	return n.nextID
}

// Unsubscribe removes an observer. Unknown tokens are ignored.
func (n *notifier) Unsubscribe(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, id)
}

func (n *notifier) publish(p Progress) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, fn := range n.subs {
		fn(p)
	}
}
