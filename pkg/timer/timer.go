package timer

import (
	"context"
	"sync"
	"time"
)

// DefaultPersistInterval bounds how much elapsed time a crash can lose.
const DefaultPersistInterval = time.Minute

// Target receives the elapsed seconds and persistence requests.
type Target interface {
	// MirrorElapsed stores the value in the game document and reports false when the game is frozen.
	MirrorElapsed(seconds int) bool
	Persist()
}

// State is a point in time view of the timer.
type State struct {
	ElapsedSeconds int  `json:"elapsedSeconds"`
	Active         bool `json:"active"`
	Paused         bool `json:"paused"`
}

// Timer counts played seconds at a 1 second resolution. Only one tick loop runs at a time; Start replaces any
// running loop.
type Timer struct {
	target          Target
	resolution      time.Duration
	persistInterval time.Duration
	now             func() time.Time

	mu          sync.Mutex
	elapsed     int
	active      bool
	paused      bool
	lastPersist time.Time
	generation  uint64
	cancel      context.CancelFunc
}

func New(target Target, persistInterval time.Duration) *Timer {
	if persistInterval <= 0 {
		persistInterval = DefaultPersistInterval
	}
	return &Timer{
		target:          target,
		resolution:      time.Second,
		persistInterval: persistInterval,
		now:             time.Now,
	}
}

// Start begins counting from the current elapsed value, unpaused.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.generation++
	t.active = true
	t.paused = false
	t.lastPersist = t.now()

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.loop(ctx, t.generation)
}

func (t *Timer) loop(ctx context.Context, generation uint64) {
	ticker := time.NewTicker(t.resolution)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.tick(generation)
		case <-ctx.Done():
			return
		}
	}
}

func (t *Timer) tick(generation uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if generation != t.generation || !t.active || t.paused {
		return
	}
	if !t.target.MirrorElapsed(t.elapsed + 1) {
		return
	}
	t.elapsed++
	if now := t.now(); now.Sub(t.lastPersist) >= t.persistInterval {
		t.lastPersist = now
		t.target.Persist()
	}
}

// Stop halts the tick loop and keeps the counter.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.generation++
	t.active = false
}

// Reset stops the timer and zeroes the counter.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.paused = false
	t.elapsed = 0
}

// SetElapsed overwrites the counter and mirrors it into the document.
func (t *Timer) SetElapsed(seconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.elapsed = max(0, seconds)
	t.target.MirrorElapsed(t.elapsed)
}

// Pause freezes the counter while the loop keeps running.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
}

// TogglePause flips the paused flag and returns the new value.
func (t *Timer) TogglePause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = !t.paused
	return t.paused
}

func (t *Timer) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

func (t *Timer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{ElapsedSeconds: t.elapsed, Active: t.active, Paused: t.paused}
}
