package scheduler

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	syncpkg "github.com/fieldvault/fieldsync/internal/sync"
)

// mockOrchestrator counts Sync invocations.
type mockOrchestrator struct {
	mu    gosync.Mutex
	calls int
}

func (m *mockOrchestrator) Sync(ctx context.Context) (*syncpkg.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return &syncpkg.Result{Pushed: 1}, nil
}

func (m *mockOrchestrator) Subscribe(fn syncpkg.ProgressFunc) int { return 0 }
func (m *mockOrchestrator) Unsubscribe(id int)                    {}
func (m *mockOrchestrator) Status() syncpkg.Status                { return syncpkg.StatusIdle }
func (m *mockOrchestrator) LastSync() *time.Time                  { return nil }
func (m *mockOrchestrator) PendingChanges() int                   { return 0 }
func (m *mockOrchestrator) LastError() error                      { return nil }

func (m *mockOrchestrator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func waitForCalls(t *testing.T, m *mockOrchestrator, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.callCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d sync calls, got %d", want, m.callCount())
}

func TestTriggerSync(t *testing.T) {
	engine := &mockOrchestrator{}
	s := NewScheduler(engine, &Config{Interval: time.Hour})
	s.Start(context.Background())
	defer s.Stop()

	s.TriggerSync()
	waitForCalls(t, engine, 1)
}

func TestConnectivityRegainedTriggersSync(t *testing.T) {
	engine := &mockOrchestrator{}
	s := NewScheduler(engine, &Config{Interval: time.Hour})
	s.Start(context.Background())
	defer s.Stop()

	// Going offline triggers nothing.
	s.SetOnlineStatus(false)
	time.Sleep(20 * time.Millisecond)
	if engine.callCount() != 0 {
		t.Errorf("Expected no sync on going offline, got %d", engine.callCount())
	}

	// Offline -> online fires immediately.
	s.SetOnlineStatus(true)
	waitForCalls(t, engine, 1)

	// Online -> online is not a transition.
	s.SetOnlineStatus(true)
	time.Sleep(20 * time.Millisecond)
	if engine.callCount() != 1 {
		t.Errorf("Expected no extra sync, got %d", engine.callCount())
	}
}

func TestForegroundTransitionTriggersSync(t *testing.T) {
	engine := &mockOrchestrator{}
	s := NewScheduler(engine, &Config{Interval: time.Hour})
	s.Start(context.Background())
	defer s.Stop()

	s.SetForeground(false)
	time.Sleep(20 * time.Millisecond)
	if engine.callCount() != 0 {
		t.Errorf("Expected no sync on backgrounding, got %d", engine.callCount())
	}

	s.SetForeground(true)
	waitForCalls(t, engine, 1)
}

func TestPeriodicSync(t *testing.T) {
	engine := &mockOrchestrator{}
	s := NewScheduler(engine, &Config{Interval: 20 * time.Millisecond})
	s.Start(context.Background())
	defer s.Stop()

	waitForCalls(t, engine, 2)
}

func TestPeriodicSkippedWhileBackgrounded(t *testing.T) {
	engine := &mockOrchestrator{}
	s := NewScheduler(engine, &Config{Interval: 20 * time.Millisecond})
	s.SetForeground(false)
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if engine.callCount() != 0 {
		t.Errorf("Expected no periodic sync while backgrounded, got %d", engine.callCount())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	engine := &mockOrchestrator{}
	s := NewScheduler(engine, nil)
	s.Start(context.Background())

	s.Stop()
	s.Stop()

	// Triggers after Stop never reach the engine.
	s.TriggerSync()
	time.Sleep(20 * time.Millisecond)
	if engine.callCount() != 0 {
		t.Errorf("Expected no sync after Stop, got %d", engine.callCount())
	}
}

func TestStartIsIdempotent(t *testing.T) {
	engine := &mockOrchestrator{}
	s := NewScheduler(engine, &Config{Interval: time.Hour})
	s.Start(context.Background())
	s.Start(context.Background())
	defer s.Stop()

	s.TriggerSync()
	waitForCalls(t, engine, 1)
}
