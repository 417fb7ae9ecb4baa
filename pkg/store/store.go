package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/astromechza/scoreboard/pkg/game"
)

var ErrNoGame = errors.New("no current game")

// Store owns the live game document and the snapshot it is persisted to. Mutations go through Update; readers get
// deep copies. Persistence is write-behind: Persist only queues a request which a single background writer drains, so
// requests made while a write is in flight collapse into one follow-up write.
type Store struct {
	dir string

	mu     sync.Mutex
	doc    *game.Document
	active string
	rnd    *rand.Rand

	requests chan struct{}
	writeMu  sync.Mutex
}

func New(dir string) *Store {
	return &Store{
		dir:      dir,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		requests: make(chan struct{}, 1),
	}
}

// Dir is the saved game directory.
func (s *Store) Dir() string {
	return s.dir
}

// Current returns a copy of the live document.
func (s *Store) Current() (*game.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, false
	}
	return s.doc.Clone(), true
}

// Active returns the snapshot filename set by Replace, or "" when writes fall back to the newest saved game.
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Replace swaps the live document. The snapshot name is where later Persist calls write; with "" writes go to the
// newest saved game in the directory, and are skipped when there is none.
func (s *Store) Replace(doc *game.Document, snapshot string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.active = snapshot
}

// Update runs fn against the live document while holding the store lock.
func (s *Store) Update(fn func(doc *game.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return ErrNoGame
	}
	return fn(s.doc)
}

// MirrorElapsed copies the timer value into the document. It refuses when there is no document or the game has ended.
func (s *Store) MirrorElapsed(seconds int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil || s.doc.Settings.GameEnded {
		return false
	}
	s.doc.Settings.ElapsedSeconds = seconds
	return true
}

// Persist schedules a write of the live document without waiting for it.
func (s *Store) Persist() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// Run drains persist requests until the context is cancelled.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-s.requests:
			if err := s.write(); err != nil {
				slog.Error("failed to persist game", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Flush writes the live document synchronously.
func (s *Store) Flush() error {
	return s.write()
}

func (s *Store) write() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	name := s.active
	var raw []byte
	var err error
	if s.doc != nil {
		raw, err = json.Marshal(s.doc)
	}
	s.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "failed to encode game")
	}
	if raw == nil {
		return nil
	}
	if name == "" {
		if name, err = s.Latest(); err != nil {
			return err
		} else if name == "" {
			slog.Debug("no saved game to persist to")
			return nil
		}
	}
	if err := s.writeFile(name, raw); err != nil {
		return err
	}
	slog.Debug("persisted game", "snapshot", name, "bytes", len(raw))
	return nil
}
