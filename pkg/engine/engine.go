package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/astromechza/scoreboard/pkg/broadcast"
	"github.com/astromechza/scoreboard/pkg/game"
	"github.com/astromechza/scoreboard/pkg/store"
	"github.com/astromechza/scoreboard/pkg/timer"
)

var (
	ErrGameEnded    = errors.New("game has ended")
	ErrPaused       = errors.New("game is paused")
	ErrUnauthorized = errors.New("superuser required")
)

const defaultInbox = 1024

// CardLookup resolves card points and the objective pools used to deal a new game.
type CardLookup interface {
	PointValue(id string, categories ...string) int
	Objectives(stage int, categories ...string) []string
}

type Broadcaster interface {
	Broadcast(frame []byte)
}

// Entry is one processed event, as handed to the journal.
type Entry struct {
	Game    string
	Event   string
	Payload json.RawMessage
	Err     error
	At      time.Time
}

type Journal interface {
	Record(entry Entry)
}

type Options struct {
	Journal Journal
	Rand    *rand.Rand
	Now     func() time.Time
	Inbox   int
}

// Engine applies mutation events to the live game one at a time. Every accepted event is echoed to all subscribers
// before it is applied, and notifications produced while applying it follow the echo, so subscribers observe events
// in processing order.
type Engine struct {
	store   *store.Store
	timer   *timer.Timer
	cards   CardLookup
	gateway Broadcaster
	journal Journal
	rnd     *rand.Rand
	now     func() time.Time

	inbox    chan broadcast.Message
	handlers map[string]func(json.RawMessage) error
}

func New(st *store.Store, tm *timer.Timer, cards CardLookup, gateway Broadcaster, opts Options) *Engine {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Inbox <= 0 {
		opts.Inbox = defaultInbox
	}
	e := &Engine{
		store:   st,
		timer:   tm,
		cards:   cards,
		gateway: gateway,
		journal: opts.Journal,
		rnd:     opts.Rand,
		now:     opts.Now,
		inbox:   make(chan broadcast.Message, opts.Inbox),
	}
	e.handlers = map[string]func(json.RawMessage) error{
		EventUpdate:       e.handleUpdate,
		EventToken:        e.handleToken,
		EventAdjustRemove: e.handleAdjustRemove,
		EventAdjustHide:   e.handleAdjustHide,
		EventAddCard:      e.handleAddCard,
		EventEditScore:    e.handleEditScore,
		EventChangeVP:     e.handleChangeVP,
		EventNewGame:      e.handleNewGame,
		EventPauseCounter: func(json.RawMessage) error { return e.TogglePause() },
		EventReset:        func(json.RawMessage) error { return e.ResetGame() },
		EventLoadGame:     e.handleLoadGame,
		EventEndGame:      e.handleEndGame,
		EventDeleteGame:   e.handleDeleteGame,
	}
	return e
}

// Submit queues an inbound event for the processing loop.
func (e *Engine) Submit(ctx context.Context, m broadcast.Message) error {
	select {
	case e.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes queued events until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case m := <-e.inbox:
			e.Handle(m)
		case <-ctx.Done():
			return
		}
	}
}

// Handle echoes and applies one event. Failures are logged and leave the game untouched.
func (e *Engine) Handle(m broadcast.Message) {
	handler, ok := e.handlers[m.Event]
	if !ok {
		slog.Warn("ignoring unknown event", "event", m.Event)
		return
	}
	if frame, err := broadcast.EncodeRaw(m.Event, m.Data); err != nil {
		slog.Error("failed to echo event", "event", m.Event, "err", err)
	} else {
		e.gateway.Broadcast(frame)
	}

	err := e.apply(handler, m.Data)
	logOutcome(m.Event, err)
	if e.journal != nil {
		e.journal.Record(Entry{Game: e.store.Active(), Event: m.Event, Payload: m.Data, Err: err, At: e.now()})
	}
}

func (e *Engine) apply(handler func(json.RawMessage) error, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(data)
}

func logOutcome(event string, err error) {
	switch {
	case err == nil:
		slog.Info("applied event", "event", event)
	case errors.Is(err, ErrUnauthorized):
		slog.Debug("ignored event", "event", event, "err", err)
	case errors.Is(err, ErrGameEnded), errors.Is(err, ErrPaused):
		slog.Info("rejected event", "event", event, "err", err)
	case errors.Is(err, ErrMalformed), errors.Is(err, game.ErrOutOfRange), errors.Is(err, game.ErrNoEmptyCard),
		errors.Is(err, game.ErrTooMany), errors.Is(err, store.ErrBadFilename), errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrNoGame):
		slog.Warn("rejected event", "event", event, "err", err)
	default:
		slog.Error("failed to apply event", "event", event, "err", err)
	}
}

func (e *Engine) notify(event string, data interface{}) {
	frame, err := broadcast.Encode(event, data)
	if err != nil {
		slog.Error("failed to encode notification", "event", event, "err", err)
		return
	}
	e.gateway.Broadcast(frame)
}

func (e *Engine) points(doc *game.Document) game.PointLookup {
	categories := doc.Settings.ObjectiveCategories
	return func(id string) int {
		return e.cards.PointValue(id, categories...)
	}
}

// mutate applies fn to the live game and schedules persistence when it succeeds.
func (e *Engine) mutate(fn func(doc *game.Document) error) error {
	if err := e.store.Update(fn); err != nil {
		return err
	}
	e.store.Persist()
	return nil
}

// scoring guards operations that change scores: they are refused while the clock is paused or after the game ended.
func (e *Engine) scoring(fn func(doc *game.Document) error) error {
	if e.timer.Paused() {
		return ErrPaused
	}
	return e.mutate(func(doc *game.Document) error {
		if doc.Settings.GameEnded {
			return ErrGameEnded
		}
		return fn(doc)
	})
}
