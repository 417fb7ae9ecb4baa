package game

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxPlayers is the number of player slots on the scoreboard and the length of every card's scores.
const MaxPlayers = 8

// Stage indexes, 0-based.
const (
	StageOne = 0
	StageTwo = 1
)

// Document is the full state of one game. It is serialised as a 4 element array of stage one, stage two, the
// scoreboard and the settings, in that order.
type Document struct {
	StageOne   Stage
	StageTwo   Stage
	Scoreboard Scoreboard
	Settings   Settings
}

type Stage struct {
	Cards []Card `json:"cards"`
}

type Score struct {
	Scored bool `json:"scored"`
}

// Card is an objective slot. A nil ID means the card is still face down.
type Card struct {
	ID     *string `json:"id"`
	Scores []Score `json:"scores"`
}

type Scoreboard struct {
	Players []Player `json:"players"`
}

// Player is one scoreboard slot. A slot with a nil faction or name is inactive.
type Player struct {
	Faction     *string  `json:"faction"`
	Color       *string  `json:"color"`
	Name        *string  `json:"player"`
	Secrets     []string `json:"secrets"`
	VPCustodian bool     `json:"vp_custodian"`
	VPImperial  int      `json:"vp_imperial"`
	VPSecrets   int      `json:"vp_secrets"`
	VPRiders    int      `json:"vp_riders"`
	VPOther     int      `json:"vp_other"`
}

type Settings struct {
	ObjectiveCategories []string   `json:"objectiveCategories"`
	CommunityCards      bool       `json:"communitycards"`
	TimeStart           *time.Time `json:"timeStart"`
	TimePause           *time.Time `json:"timePause"`
	ElapsedSeconds      int        `json:"elapsedSeconds"`
	GameEnded           bool       `json:"gameEnded"`
	FinalElapsedTime    int        `json:"finalElapsedTime"`
}

// Active reports whether the slot holds a real player.
func (p *Player) Active() bool {
	return p.Faction != nil && p.Name != nil
}

// DisplayName returns the player name, or an empty string for an inactive slot.
func (p *Player) DisplayName() string {
	if p.Name == nil {
		return ""
	}
	return *p.Name
}

func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]interface{}{&d.StageOne, &d.StageTwo, &d.Scoreboard, &d.Settings})
}

func (d *Document) UnmarshalJSON(raw []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	if len(parts) != 4 {
		return fmt.Errorf("failed to decode document: expected 4 sections, got %d", len(parts))
	}
	var out Document
	targets := []interface{}{&out.StageOne, &out.StageTwo, &out.Scoreboard, &out.Settings}
	for i, target := range targets {
		if err := json.Unmarshal(parts[i], target); err != nil {
			return fmt.Errorf("failed to decode document section %d: %w", i, err)
		}
	}
	*d = out
	return nil
}

// Stage returns the stage for a 0-based index.
func (d *Document) Stage(index int) (*Stage, error) {
	switch index {
	case StageOne:
		return &d.StageOne, nil
	case StageTwo:
		return &d.StageTwo, nil
	default:
		return nil, fmt.Errorf("%w: stage %d", ErrOutOfRange, index)
	}
}

// Slots returns the number of player slots the document was created with.
func (d *Document) Slots() int {
	return len(d.Scoreboard.Players)
}

// Clone returns a deep copy so readers never share memory with the live document.
func (d *Document) Clone() *Document {
	out := &Document{
		StageOne:   d.StageOne.clone(),
		StageTwo:   d.StageTwo.clone(),
		Scoreboard: Scoreboard{Players: make([]Player, len(d.Scoreboard.Players))},
		Settings:   d.Settings,
	}
	for i, p := range d.Scoreboard.Players {
		p.Faction = cloneString(p.Faction)
		p.Color = cloneString(p.Color)
		p.Name = cloneString(p.Name)
		if p.Secrets != nil {
			p.Secrets = append([]string{}, p.Secrets...)
		}
		out.Scoreboard.Players[i] = p
	}
	if d.Settings.ObjectiveCategories != nil {
		out.Settings.ObjectiveCategories = append([]string{}, d.Settings.ObjectiveCategories...)
	}
	out.Settings.TimeStart = cloneTime(d.Settings.TimeStart)
	out.Settings.TimePause = cloneTime(d.Settings.TimePause)
	return out
}

func (s Stage) clone() Stage {
	out := Stage{Cards: make([]Card, len(s.Cards))}
	for i, c := range s.Cards {
		out.Cards[i] = Card{ID: cloneString(c.ID), Scores: append([]Score{}, c.Scores...)}
	}
	return out
}

// EmptyCard returns a face down card with one unscored entry per slot.
func EmptyCard(slots int) Card {
	return Card{Scores: make([]Score, slots)}
}

// InactivePlayer returns a placeholder for an unfilled slot.
func InactivePlayer() Player {
	return Player{}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StringPtr is a convenience for building documents.
func StringPtr(s string) *string {
	return &s
}
