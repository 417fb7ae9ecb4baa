package game

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfRange  = errors.New("index out of range")
	ErrNoEmptyCard = errors.New("no face down card left in stage")
	ErrTooMany     = errors.New("roster exceeds player slots")
)

// VP categories accepted by ChangeVP.
const (
	VPCustodian = "custodian"
	VPImperial  = "imperial"
	VPSecrets   = "secrets"
	VPRiders    = "riders"
	VPOther     = "other"
)

// PointLookup resolves a card id to its point value.
type PointLookup func(id string) int

func (d *Document) card(stage, index int) (*Card, error) {
	s, err := d.Stage(stage)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(s.Cards) {
		return nil, fmt.Errorf("%w: card %d of stage %d", ErrOutOfRange, index, stage)
	}
	return &s.Cards[index], nil
}

func (d *Document) player(index int) (*Player, error) {
	if index < 0 || index >= len(d.Scoreboard.Players) {
		return nil, fmt.Errorf("%w: player %d", ErrOutOfRange, index)
	}
	return &d.Scoreboard.Players[index], nil
}

// FlipCard reveals id on a stage. When first is set the id lands on the lowest face down card and index is ignored.
func (d *Document) FlipCard(stage, index int, id string, first bool) (int, error) {
	s, err := d.Stage(stage)
	if err != nil {
		return 0, err
	}
	if first {
		index = -1
		for i := range s.Cards {
			if s.Cards[i].ID == nil {
				index = i
				break
			}
		}
		if index < 0 {
			return 0, ErrNoEmptyCard
		}
	} else if index < 0 || index >= len(s.Cards) {
		return 0, fmt.Errorf("%w: card %d of stage %d", ErrOutOfRange, index, stage)
	}
	s.Cards[index].ID = &id
	return index, nil
}

// ToggleScore flips the scored flag of one player on one card.
func (d *Document) ToggleScore(stage, index, player int) (bool, error) {
	c, err := d.card(stage, index)
	if err != nil {
		return false, err
	}
	if player < 0 || player >= len(c.Scores) {
		return false, fmt.Errorf("%w: player %d", ErrOutOfRange, player)
	}
	c.Scores[player].Scored = !c.Scores[player].Scored
	return c.Scores[player].Scored, nil
}

// RemoveCard deletes a card and shifts the following cards left.
func (d *Document) RemoveCard(stage, index int) error {
	if _, err := d.card(stage, index); err != nil {
		return err
	}
	s, _ := d.Stage(stage)
	s.Cards = append(s.Cards[:index], s.Cards[index+1:]...)
	return nil
}

// HideCard turns a card face down and moves the first face down card of the stage to the end, keeping the order of
// every other card.
func (d *Document) HideCard(stage, index int) error {
	if _, err := d.card(stage, index); err != nil {
		return err
	}
	s, _ := d.Stage(stage)
	s.Cards[index] = EmptyCard(d.Slots())
	first := index
	for i := range s.Cards {
		if s.Cards[i].ID == nil {
			first = i
			break
		}
	}
	moved := s.Cards[first]
	copy(s.Cards[first:], s.Cards[first+1:])
	s.Cards[len(s.Cards)-1] = moved
	return nil
}

// AddCard appends a face down card.
func (d *Document) AddCard(stage int) error {
	s, err := d.Stage(stage)
	if err != nil {
		return err
	}
	s.Cards = append(s.Cards, EmptyCard(d.Slots()))
	return nil
}

// CardPoints sums the value of every card either stage has marked as scored for the player.
func (d *Document) CardPoints(player int, points PointLookup) int {
	total := 0
	for _, s := range []*Stage{&d.StageOne, &d.StageTwo} {
		for _, c := range s.Cards {
			if c.ID == nil || player >= len(c.Scores) {
				continue
			}
			if c.Scores[player].Scored {
				total += points(*c.ID)
			}
		}
	}
	return total
}

// EditScore sets vp_other so that each player's total matches the given value. A nil entry leaves that player
// untouched.
func (d *Document) EditScore(totals []*int, points PointLookup) {
	for i, total := range totals {
		if total == nil || i >= len(d.Scoreboard.Players) {
			continue
		}
		d.Scoreboard.Players[i].VPOther = *total - d.CardPoints(i, points)
	}
}

// ChangeVP adjusts one tally. Custodian moves the single custodian token to the player regardless of direction.
// Unknown categories are ignored.
func (d *Document) ChangeVP(player int, category string, up bool) error {
	p, err := d.player(player)
	if err != nil {
		return err
	}
	delta := -1
	if up {
		delta = 1
	}
	switch category {
	case VPCustodian:
		for i := range d.Scoreboard.Players {
			d.Scoreboard.Players[i].VPCustodian = i == player
		}
	case VPImperial:
		p.VPImperial = max(0, p.VPImperial+delta)
	case VPSecrets:
		p.VPSecrets = max(0, p.VPSecrets+delta)
	case VPRiders:
		p.VPRiders = max(0, p.VPRiders+delta)
	case VPOther:
		p.VPOther += delta
	}
	return nil
}

// Total is the full victory point count of a player.
func (d *Document) Total(player int, points PointLookup) int {
	p := d.Scoreboard.Players[player]
	total := p.VPImperial + p.VPSecrets + p.VPRiders + p.VPOther
	if p.VPCustodian {
		total++
	}
	return total + d.CardPoints(player, points)
}

// Standing is the final score of one active player.
type Standing struct {
	Index   int    `json:"index"`
	Faction string `json:"faction"`
	Name    string `json:"player"`
	Total   int    `json:"total"`
}

// Winners returns every active player sharing the highest total, in scoreboard order.
func (d *Document) Winners(points PointLookup) []Standing {
	var winners []Standing
	best := 0
	for i := range d.Scoreboard.Players {
		p := &d.Scoreboard.Players[i]
		if !p.Active() {
			continue
		}
		s := Standing{Index: i, Faction: *p.Faction, Name: *p.Name, Total: d.Total(i, points)}
		switch {
		case len(winners) == 0 || s.Total > best:
			best = s.Total
			winners = []Standing{s}
		case s.Total == best:
			winners = append(winners, s)
		}
	}
	return winners
}
