package game

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

//go:embed default.json
var defaultTemplate []byte

// Default returns a fresh copy of the bundled template used on first start and by reset.
func Default() (*Document, error) {
	doc := new(Document)
	if err := json.Unmarshal(defaultTemplate, doc); err != nil {
		return nil, fmt.Errorf("failed to load default template: %w", err)
	}
	return doc, nil
}

// MaxCardsPerStage bounds the card slots a new game may ask for.
const MaxCardsPerStage = 64

// Seat is one roster entry for a new game.
type Seat struct {
	Faction string `json:"faction"`
	Color   string `json:"color"`
	Name    string `json:"name"`
}

// Setup describes a new game.
type Setup struct {
	CardsPerStage  int      `json:"cards"`
	Players        []Seat   `json:"players"`
	Categories     []string `json:"categories"`
	Flipped        int      `json:"flipped"`
	CommunityCards bool     `json:"communitycards"`
}

// New builds the document for a new game. Stage one and stage two objective ids are drawn without replacement from
// the given pools, filling stage one first and overflowing into stage two. Fewer than Flipped cards are revealed when
// the pools run dry.
func New(setup Setup, stageOnePool, stageTwoPool []string, rnd *rand.Rand, now time.Time) (*Document, error) {
	if setup.CardsPerStage < 0 || setup.CardsPerStage > MaxCardsPerStage {
		return nil, fmt.Errorf("%w: %d cards per stage", ErrOutOfRange, setup.CardsPerStage)
	}
	if len(setup.Players) > MaxPlayers {
		return nil, fmt.Errorf("%w: %d players", ErrTooMany, len(setup.Players))
	}

	doc := &Document{
		StageOne:   Stage{Cards: make([]Card, 0, setup.CardsPerStage)},
		StageTwo:   Stage{Cards: make([]Card, 0, setup.CardsPerStage)},
		Scoreboard: Scoreboard{Players: make([]Player, MaxPlayers)},
		Settings: Settings{
			ObjectiveCategories: append([]string{}, setup.Categories...),
			CommunityCards:      setup.CommunityCards,
			TimeStart:           &now,
		},
	}
	for i := range doc.Scoreboard.Players {
		if i >= len(setup.Players) {
			doc.Scoreboard.Players[i] = InactivePlayer()
			continue
		}
		seat := setup.Players[i]
		doc.Scoreboard.Players[i] = Player{
			Faction: StringPtr(seat.Faction),
			Color:   StringPtr(seat.Color),
			Name:    StringPtr(seat.Name),
			Secrets: []string{},
		}
	}
	for i := 0; i < setup.CardsPerStage; i++ {
		doc.StageOne.Cards = append(doc.StageOne.Cards, EmptyCard(MaxPlayers))
		doc.StageTwo.Cards = append(doc.StageTwo.Cards, EmptyCard(MaxPlayers))
	}

	used := map[string]bool{}
	draw := func(pool []string) (string, []string, bool) {
		for len(pool) > 0 {
			i := rnd.Intn(len(pool))
			id := pool[i]
			pool = append(pool[:i:i], pool[i+1:]...)
			if !used[id] {
				used[id] = true
				return id, pool, true
			}
		}
		return "", pool, false
	}

	one := append([]string{}, stageOnePool...)
	two := append([]string{}, stageTwoPool...)
	nextOne, nextTwo := 0, 0
	for flipped := 0; flipped < setup.Flipped; flipped++ {
		if nextOne < len(doc.StageOne.Cards) {
			if id, rest, ok := draw(one); ok {
				one = rest
				doc.StageOne.Cards[nextOne].ID = StringPtr(id)
				nextOne++
				continue
			}
			one = nil
		}
		if nextTwo < len(doc.StageTwo.Cards) {
			if id, rest, ok := draw(two); ok {
				two = rest
				doc.StageTwo.Cards[nextTwo].ID = StringPtr(id)
				nextTwo++
				continue
			}
		}
		break
	}
	return doc, nil
}
