package engine

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/scoreboard/pkg/broadcast"
	"github.com/astromechza/scoreboard/pkg/game"
	"github.com/astromechza/scoreboard/pkg/store"
	"github.com/astromechza/scoreboard/pkg/timer"
)

type fakeCards struct {
	points map[string]int
	one    []string
	two    []string
}

func (f *fakeCards) PointValue(id string, _ ...string) int {
	if p, ok := f.points[id]; ok {
		return p
	}
	return 1
}

func (f *fakeCards) Objectives(stage int, _ ...string) []string {
	if stage == game.StageOne {
		return f.one
	}
	return f.two
}

type recorder struct {
	mu     sync.Mutex
	frames []broadcast.Message
}

func (r *recorder) Broadcast(frame []byte) {
	var m broadcast.Message
	if err := json.Unmarshal(frame, &m); err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, m)
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Event
	}
	return out
}

func (r *recorder) last() broadcast.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

type memJournal struct {
	mu      sync.Mutex
	entries []Entry
}

func (j *memJournal) Record(entry Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

type harness struct {
	engine  *Engine
	store   *store.Store
	timer   *timer.Timer
	out     *recorder
	journal *memJournal
	cards   *fakeCards
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "saves"))
	doc, err := game.Default()
	require.NoError(t, err)
	st.Replace(doc, "")
	tm := timer.New(st, time.Hour)
	t.Cleanup(tm.Stop)
	h := &harness{
		store:   st,
		timer:   tm,
		out:     &recorder{},
		journal: &memJournal{},
		cards:   &fakeCards{points: map[string]int{"x": 3, "y": 2}, one: []string{"x", "o1", "o2"}, two: []string{"y", "t1"}},
	}
	h.engine = New(st, tm, h.cards, h.out, Options{
		Journal: h.journal,
		Rand:    rand.New(rand.NewSource(7)),
		Now:     func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	return h
}

func (h *harness) send(t *testing.T, event string, data string) {
	t.Helper()
	h.engine.Handle(broadcast.Message{Event: event, Data: json.RawMessage(data)})
}

func (h *harness) doc(t *testing.T) *game.Document {
	t.Helper()
	doc, ok := h.store.Current()
	require.True(t, ok)
	return doc
}

func (h *harness) newGame(t *testing.T, cards, flipped int, names ...string) {
	t.Helper()
	setup := game.Setup{CardsPerStage: cards, Flipped: flipped}
	for _, n := range names {
		setup.Players = append(setup.Players, game.Seat{Faction: "f-" + n, Color: "c", Name: n})
	}
	raw, err := json.Marshal(setup)
	require.NoError(t, err)
	h.send(t, EventNewGame, string(raw))
}

func TestNewGameEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 2, 1, "A", "B")

	doc := h.doc(t)
	flipped := 0
	for _, s := range []game.Stage{doc.StageOne, doc.StageTwo} {
		require.Len(t, s.Cards, 2)
		for _, c := range s.Cards {
			if c.ID != nil {
				flipped++
			}
		}
	}
	assert.Equal(t, 1, flipped)
	for i, name := range []string{"A", "B"} {
		p := doc.Scoreboard.Players[i]
		assert.Equal(t, name, p.DisplayName())
		assert.False(t, p.VPCustodian)
		assert.Zero(t, p.VPImperial+p.VPSecrets+p.VPRiders+p.VPOther)
	}
	assert.False(t, doc.Scoreboard.Players[2].Active())

	name := h.store.Active()
	require.True(t, store.ValidName(name))
	assert.Equal(t, "2025_06_01_", name[:11])
	require.NoError(t, h.store.Flush())
	_, err := os.Stat(filepath.Join(h.store.Dir(), name))
	assert.NoError(t, err)

	state := h.timer.State()
	assert.True(t, state.Active)
	assert.False(t, state.Paused)
	assert.LessOrEqual(t, state.ElapsedSeconds, 1)

	assert.Equal(t, []string{EventNewGame, EventNewGameStarted}, h.out.events())
	assert.JSONEq(t, `{"filename":"`+name+`"}`, string(h.out.last().Data))
}

func TestScoredCardCountsTowardsWinner(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 2, 0, "A", "B")
	h.send(t, EventUpdate, `["stage1_0", "x", "explicit"]`)
	h.send(t, EventToken, `[0, 0, 0]`)
	h.send(t, EventChangeVP, `[1, "imperial", "up"]`)
	h.send(t, EventChangeVP, `[1, "imperial", "up"]`)
	h.send(t, EventEndGame, `{"superuser": true}`)

	doc := h.doc(t)
	assert.True(t, doc.Settings.GameEnded)

	last := h.out.last()
	require.Equal(t, EventGameEnded, last.Event)
	var payload struct {
		Winners []game.Standing `json:"winners"`
	}
	require.NoError(t, json.Unmarshal(last.Data, &payload))
	require.Len(t, payload.Winners, 1)
	assert.Equal(t, 0, payload.Winners[0].Index)
	assert.Equal(t, 3, payload.Winners[0].Total)
	assert.False(t, h.timer.State().Active)
}

func TestEndedGameRejectsScoring(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 2, 0, "A")
	h.send(t, EventEndGame, `{"superuser": true}`)
	before := h.doc(t)

	h.send(t, EventUpdate, `["stage1_0", "x", "new"]`)
	h.send(t, EventToken, `[0, 0, 0]`)
	h.send(t, EventChangeVP, `[0, "custodian", "up"]`)
	h.send(t, EventEditScore, `[10]`)
	h.send(t, EventPauseCounter, `null`)
	assert.Equal(t, before, h.doc(t))

	h.journal.mu.Lock()
	defer h.journal.mu.Unlock()
	for _, entry := range h.journal.entries[len(h.journal.entries)-5:] {
		assert.ErrorIs(t, entry.Err, ErrGameEnded, entry.Event)
	}
}

func TestEndGameRequiresSuperuser(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 1, 0, "A")
	h.send(t, EventEndGame, `{"superuser": false}`)
	h.send(t, EventEndGame, `{}`)
	h.send(t, EventEndGame, `"yes"`)
	assert.False(t, h.doc(t).Settings.GameEnded)
	assert.NotContains(t, h.out.events(), EventGameEnded)
	assert.True(t, h.timer.State().Active)
}

func TestPauseBlocksScoring(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 1, 0, "A")
	h.send(t, EventPauseCounter, ``)
	assert.True(t, h.timer.Paused())
	assert.NotNil(t, h.doc(t).Settings.TimePause)

	h.send(t, EventToken, `[0, 0, 0]`)
	h.send(t, EventChangeVP, `[0, "imperial", "up"]`)
	doc := h.doc(t)
	assert.False(t, doc.StageOne.Cards[0].Scores[0].Scored)
	assert.Zero(t, doc.Scoreboard.Players[0].VPImperial)

	// card layout changes are still allowed while paused
	h.send(t, EventAddCard, `"1"`)
	assert.Len(t, h.doc(t).StageOne.Cards, 2)

	h.send(t, EventPauseCounter, ``)
	assert.False(t, h.timer.Paused())
	assert.Nil(t, h.doc(t).Settings.TimePause)
	h.send(t, EventToken, `["0", "0", "0"]`)
	assert.True(t, h.doc(t).StageOne.Cards[0].Scores[0].Scored)

	events := h.out.events()
	assert.Contains(t, events, EventGamePaused)
	assert.Contains(t, events, EventGameResumed)
}

func TestFlipNewUsesFirstEmptySlot(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 3, 0, "A")
	h.send(t, EventUpdate, `["stage2_1", "y", "explicit"]`)
	h.send(t, EventUpdate, `["stage2_9", "t1", "new"]`)
	doc := h.doc(t)
	assert.Equal(t, "t1", *doc.StageTwo.Cards[0].ID)
	assert.Equal(t, "y", *doc.StageTwo.Cards[1].ID)
	assert.Nil(t, doc.StageTwo.Cards[2].ID)
}

func TestMalformedEventsAreDropped(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 2, 0, "A")
	h.timer.Stop()
	before := h.doc(t)

	for event, data := range map[string]string{
		EventUpdate:       `["slot_1", "x", "new"]`,
		EventToken:        `[0, 5, 0]`,
		EventAdjustRemove: `["", 1, "", 7]`,
		EventAdjustHide:   `["", 3, "", 0]`,
		EventAddCard:      `"three"`,
		EventChangeVP:     `[12, "imperial", "up"]`,
		EventLoadGame:     `"../../etc/passwd"`,
		EventDeleteGame:   `"2020_01_01_0000.json"`,
		EventNewGame:      `{"cards": 2, "players": [{},{},{},{},{},{},{},{},{}]}`,
	} {
		h.send(t, event, data)
		assert.Equal(t, before, h.doc(t), event)
	}
	h.send(t, "bogus", `{}`)
	assert.NotContains(t, h.out.events(), "bogus")
}

func TestHandlerPanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 1, 0, "A")
	h.engine.handlers["boom"] = func(json.RawMessage) error { panic("boom") }
	assert.NotPanics(t, func() { h.send(t, "boom", `1`) })
	h.journal.mu.Lock()
	defer h.journal.mu.Unlock()
	assert.Error(t, h.journal.entries[len(h.journal.entries)-1].Err)
}

func TestAdjustEvents(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 3, 0, "A")
	h.send(t, EventUpdate, `["stage1_0", "a", "explicit"]`)
	h.send(t, EventUpdate, `["stage1_1", "b", "explicit"]`)
	h.send(t, EventUpdate, `["stage1_2", "c", "explicit"]`)

	h.send(t, EventAdjustHide, `["stage", 1, "card", 0]`)
	doc := h.doc(t)
	assert.Equal(t, "b", *doc.StageOne.Cards[0].ID)
	assert.Equal(t, "c", *doc.StageOne.Cards[1].ID)
	assert.Nil(t, doc.StageOne.Cards[2].ID)

	h.send(t, EventAdjustRemove, `["stage", "1", "card", "0"]`)
	doc = h.doc(t)
	require.Len(t, doc.StageOne.Cards, 2)
	assert.Equal(t, "c", *doc.StageOne.Cards[0].ID)

	h.send(t, EventAddCard, `2`)
	assert.Len(t, h.doc(t).StageTwo.Cards, 4)
}

func TestEditScoreEvent(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 2, 0, "A", "B")
	h.send(t, EventUpdate, `["stage1_0", "x", "explicit"]`)
	h.send(t, EventUpdate, `["stage2_0", "o1", "explicit"]`)
	h.send(t, EventToken, `[0, 0, 0]`)
	h.send(t, EventToken, `[1, 0, 0]`)

	h.send(t, EventEditScore, `["10", "", 4, null, "x"]`)
	doc := h.doc(t)
	assert.Equal(t, 6, doc.Scoreboard.Players[0].VPOther)
	assert.Equal(t, 0, doc.Scoreboard.Players[1].VPOther)
	assert.Equal(t, 4, doc.Scoreboard.Players[2].VPOther)

	h.send(t, EventEditScore, `["10", "", 4, null, "x"]`)
	assert.Equal(t, 6, h.doc(t).Scoreboard.Players[0].VPOther)
}

func TestCustodianEvent(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 0, 0, "A", "B", "C")
	for _, p := range []string{"0", "2", "1", "1"} {
		h.send(t, EventChangeVP, `[`+p+`, "custodian"]`)
		holders := 0
		for _, player := range h.doc(t).Scoreboard.Players {
			if player.VPCustodian {
				holders++
			}
		}
		assert.Equal(t, 1, holders)
	}
	assert.True(t, h.doc(t).Scoreboard.Players[1].VPCustodian)
}

func TestLoadAndDeleteGame(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 2, 0, "A")
	h.send(t, EventChangeVP, `[0, "riders", "up"]`)
	h.timer.SetElapsed(300)
	name := h.store.Active()
	require.NoError(t, h.store.Flush())

	h.send(t, EventReset, `null`)
	assert.Empty(t, h.store.Active())
	assert.Equal(t, timer.State{}, h.timer.State())
	assert.False(t, h.doc(t).Scoreboard.Players[0].Active())

	h.send(t, EventLoadGame, `"`+name+`"`)
	doc := h.doc(t)
	assert.Equal(t, 1, doc.Scoreboard.Players[0].VPRiders)
	assert.GreaterOrEqual(t, doc.Settings.ElapsedSeconds, 300)
	assert.Equal(t, name, h.store.Active())
	state := h.timer.State()
	assert.True(t, state.Active)
	assert.GreaterOrEqual(t, state.ElapsedSeconds, 300)
	assert.Equal(t, EventGameLoaded, h.out.last().Event)

	h.send(t, EventDeleteGame, `"`+name+`"`)
	assert.Equal(t, EventGameDeleted, h.out.last().Event)
	_, err := os.Stat(filepath.Join(h.store.Dir(), name))
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, h.store.Active())

	h.send(t, EventLoadGame, `"`+name+`"`)
	assert.NotEqual(t, EventGameLoaded, h.out.last().Event)
}

func TestLoadEndedGameKeepsTimerStopped(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 1, 0, "A")
	h.send(t, EventEndGame, `{"superuser": true}`)
	name := h.store.Active()
	require.NoError(t, h.store.Flush())

	h.send(t, EventReset, ``)
	h.send(t, EventLoadGame, `"`+name+`"`)
	assert.True(t, h.doc(t).Settings.GameEnded)
	assert.False(t, h.timer.State().Active)
}

func TestNoGameIsRejected(t *testing.T) {
	st := store.New(t.TempDir())
	tm := timer.New(st, time.Hour)
	out := &recorder{}
	e := New(st, tm, &fakeCards{}, out, Options{})
	e.Handle(broadcast.Message{Event: EventToken, Data: json.RawMessage(`[0,0,0]`)})
	e.Handle(broadcast.Message{Event: EventAddCard, Data: json.RawMessage(`1`)})
	_, ok := st.Current()
	assert.False(t, ok)
	assert.Equal(t, []string{EventToken, EventAddCard}, out.events())
}

func TestBroadcastOrderMatchesProcessingOrder(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "saves"))
	doc, err := game.Default()
	require.NoError(t, err)
	st.Replace(doc, "")
	tm := timer.New(st, time.Hour)
	defer tm.Stop()

	gw := broadcast.NewGateway(1024, nil)
	a, b := gw.Subscribe("a"), gw.Subscribe("b")
	e := New(st, tm, &fakeCards{}, gw, Options{Rand: rand.New(rand.NewSource(1))})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	sent := []broadcast.Message{
		{Event: EventNewGame, Data: json.RawMessage(`{"cards":2,"players":[{"faction":"f","color":"c","name":"A"}]}`)},
		{Event: EventUpdate, Data: json.RawMessage(`["stage1_0","x","new"]`)},
		{Event: EventToken, Data: json.RawMessage(`[0,0,0]`)},
		{Event: EventAddCard, Data: json.RawMessage(`1`)},
		{Event: EventPauseCounter},
		{Event: EventPauseCounter},
		{Event: EventEndGame, Data: json.RawMessage(`{"superuser":true}`)},
	}
	for _, m := range sent {
		require.NoError(t, e.Submit(ctx, m))
	}

	want := []string{
		EventNewGame, EventNewGameStarted, EventUpdate, EventToken, EventAddCard,
		EventPauseCounter, EventGamePaused, EventPauseCounter, EventGameResumed, EventEndGame, EventGameEnded,
	}
	for _, sub := range []*broadcast.Subscription{a, b} {
		var got []string
		for len(got) < len(want) {
			select {
			case frame := <-sub.C():
				var m broadcast.Message
				require.NoError(t, json.Unmarshal(frame, &m))
				got = append(got, m.Event)
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out after %v", got)
			}
		}
		assert.Equal(t, want, got)
	}
}

func TestEchoIsVerbatim(t *testing.T) {
	h := newHarness(t)
	h.send(t, EventChangeVP, `[0, "other",   "down"]`)
	first := h.out.frames[0]
	assert.Equal(t, EventChangeVP, first.Event)
	assert.Equal(t, `[0, "other",   "down"]`, string(first.Data))
	assert.Equal(t, -1, h.doc(t).Scoreboard.Players[0].VPOther)
}

func TestPersistAfterResetGoesToNewestSavedGame(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 2, 0, "A")
	name := h.store.Active()
	require.NoError(t, h.store.Flush())
	h.send(t, EventChangeVP, `[0, "imperial", "up"]`)

	h.send(t, EventReset, `null`)
	require.Empty(t, h.store.Active())
	h.send(t, EventAddCard, `1`)
	require.NoError(t, h.store.Flush())

	saved, err := h.store.Load(name)
	require.NoError(t, err)
	live := h.doc(t)
	assert.Len(t, saved.StageOne.Cards, len(live.StageOne.Cards))
	assert.Zero(t, saved.Scoreboard.Players[0].VPImperial)
	assert.False(t, saved.Scoreboard.Players[0].Active())
}

func TestPersistAfterDeletingActiveGameGoesToNewestSavedGame(t *testing.T) {
	h := newHarness(t)
	h.newGame(t, 1, 0, "A")
	first := h.store.Active()
	require.NoError(t, h.store.Flush())
	h.newGame(t, 1, 0, "B")
	second := h.store.Active()
	require.NotEqual(t, first, second)
	require.NoError(t, h.store.Flush())

	h.send(t, EventDeleteGame, `"`+second+`"`)
	h.send(t, EventAddCard, `2`)
	require.NoError(t, h.store.Flush())

	saved, err := h.store.Load(first)
	require.NoError(t, err)
	assert.Equal(t, "B", saved.Scoreboard.Players[0].DisplayName())
	assert.Len(t, saved.StageTwo.Cards, 2)
	_, err = os.Stat(filepath.Join(h.store.Dir(), second))
	assert.True(t, os.IsNotExist(err))
}

func TestEndGameWithoutGameLeavesTimerRunning(t *testing.T) {
	st := store.New(t.TempDir())
	tm := timer.New(st, time.Hour)
	defer tm.Stop()
	tm.Start()
	e := New(st, tm, &fakeCards{}, &recorder{}, Options{})

	assert.ErrorIs(t, e.EndGame(true), store.ErrNoGame)
	assert.True(t, tm.State().Active)
}
