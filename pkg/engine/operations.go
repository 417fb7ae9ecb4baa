package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/astromechza/scoreboard/pkg/game"
	"github.com/astromechza/scoreboard/pkg/store"
)

// FlipCard reveals a card. With first set the card lands on the lowest face down slot of the stage.
func (e *Engine) FlipCard(stage, index int, id string, first bool) error {
	return e.mutate(func(doc *game.Document) error {
		if doc.Settings.GameEnded {
			return ErrGameEnded
		}
		_, err := doc.FlipCard(stage, index, id, first)
		return err
	})
}

func (e *Engine) ToggleScore(stage, index, player int) error {
	return e.scoring(func(doc *game.Document) error {
		_, err := doc.ToggleScore(stage, index, player)
		return err
	})
}

func (e *Engine) RemoveCard(stage, index int) error {
	return e.mutate(func(doc *game.Document) error {
		return doc.RemoveCard(stage, index)
	})
}

func (e *Engine) HideCard(stage, index int) error {
	return e.mutate(func(doc *game.Document) error {
		return doc.HideCard(stage, index)
	})
}

func (e *Engine) AddCard(stage int) error {
	return e.mutate(func(doc *game.Document) error {
		return doc.AddCard(stage)
	})
}

// EditScore derives vp_other from the total each player should have. Nil totals are skipped.
func (e *Engine) EditScore(totals []*int) error {
	return e.scoring(func(doc *game.Document) error {
		doc.EditScore(totals, e.points(doc))
		return nil
	})
}

func (e *Engine) ChangeVP(player int, category string, up bool) error {
	return e.scoring(func(doc *game.Document) error {
		return doc.ChangeVP(player, category, up)
	})
}

// NewGame replaces the live game, deals the requested objectives, creates its snapshot and starts the clock from 0.
func (e *Engine) NewGame(setup game.Setup) error {
	now := e.now()
	doc, err := game.New(setup,
		e.cards.Objectives(game.StageOne, setup.Categories...),
		e.cards.Objectives(game.StageTwo, setup.Categories...),
		e.rnd, now)
	if err != nil {
		return err
	}
	name, err := e.store.NewSnapshotName(now)
	if err != nil {
		return err
	}
	e.timer.Reset()
	e.store.Replace(doc, name)
	e.timer.Start()
	e.store.Persist()
	slog.Info("started new game", "snapshot", name, "players", len(setup.Players), "cards", setup.CardsPerStage)
	e.notify(EventNewGameStarted, filenamePayload{Filename: name})
	return nil
}

// EndGame freezes the game and announces the winners. Requests without the superuser flag are ignored.
func (e *Engine) EndGame(superuser bool) error {
	if !superuser {
		return ErrUnauthorized
	}
	if err := e.store.Update(func(*game.Document) error { return nil }); err != nil {
		return err
	}
	elapsed := e.timer.Elapsed()
	e.timer.Stop()
	var winners []game.Standing
	var final int
	if err := e.mutate(func(doc *game.Document) error {
		if !doc.Settings.GameEnded {
			doc.Settings.GameEnded = true
			doc.Settings.FinalElapsedTime = elapsed
			doc.Settings.ElapsedSeconds = elapsed
			doc.Settings.TimePause = nil
		}
		final = doc.Settings.FinalElapsedTime
		winners = doc.Winners(e.points(doc))
		return nil
	}); err != nil {
		return err
	}
	if winners == nil {
		winners = []game.Standing{}
	}
	e.notify(EventGameEnded, endedPayload{Winners: winners, FinalElapsedTime: final})
	return nil
}

// ResetGame drops the live game for the bundled template. The template is not tied to any snapshot.
func (e *Engine) ResetGame() error {
	doc, err := game.Default()
	if err != nil {
		return err
	}
	e.timer.Reset()
	e.store.Replace(doc, "")
	return nil
}

// LoadGame makes a saved game live and resumes its clock unless it had ended.
func (e *Engine) LoadGame(name string) error {
	doc, err := e.store.Load(name)
	if err != nil {
		return err
	}
	doc.Settings.TimePause = nil
	e.timer.Stop()
	e.store.Replace(doc, name)
	e.timer.Resume()
	e.timer.SetElapsed(doc.Settings.ElapsedSeconds)
	if !doc.Settings.GameEnded {
		e.timer.Start()
	}
	e.notify(EventGameLoaded, filenamePayload{Filename: name})
	return nil
}

func (e *Engine) DeleteGame(name string) error {
	if err := e.store.Delete(name); err != nil {
		return err
	}
	e.notify(EventGameDeleted, filenamePayload{Filename: name})
	return nil
}

// TogglePause pauses or resumes the clock and the scoring operations with it.
func (e *Engine) TogglePause() error {
	var ended bool
	if err := e.store.Update(func(doc *game.Document) error {
		ended = doc.Settings.GameEnded
		return nil
	}); err != nil {
		return err
	}
	if ended {
		return ErrGameEnded
	}
	paused := e.timer.TogglePause()
	now := e.now()
	if err := e.mutate(func(doc *game.Document) error {
		if paused {
			doc.Settings.TimePause = &now
		} else {
			doc.Settings.TimePause = nil
		}
		return nil
	}); err != nil {
		return err
	}
	if paused {
		e.notify(EventGamePaused, nil)
	} else {
		e.notify(EventGameResumed, nil)
	}
	return nil
}

func (e *Engine) handleUpdate(data json.RawMessage) error {
	args, err := arrayArg(data, 2)
	if err != nil {
		return err
	}
	label, err := stringArg(args[0])
	if err != nil {
		return err
	}
	stage, index, err := parseSlot(label)
	if err != nil {
		return err
	}
	id, err := stringArg(args[1])
	if err != nil {
		return err
	}
	first := false
	if len(args) > 2 {
		mode, _ := stringArg(args[2])
		first = mode == FlipNew
	}
	return e.FlipCard(stage, index, id, first)
}

func (e *Engine) handleToken(data json.RawMessage) error {
	args, err := arrayArg(data, 3)
	if err != nil {
		return err
	}
	var values [3]int
	for i := range values {
		if values[i], err = intArg(args[i]); err != nil {
			return err
		}
	}
	return e.ToggleScore(values[0], values[1], values[2])
}

// adjustArgs decodes the [label, stage, label, index] payload of the adjust events. Stage is 1-based on the wire.
func adjustArgs(data json.RawMessage) (int, int, error) {
	args, err := arrayArg(data, 4)
	if err != nil {
		return 0, 0, err
	}
	stage, err := intArg(args[1])
	if err != nil {
		return 0, 0, err
	}
	index, err := intArg(args[3])
	if err != nil {
		return 0, 0, err
	}
	return stage - 1, index, nil
}

func (e *Engine) handleAdjustRemove(data json.RawMessage) error {
	stage, index, err := adjustArgs(data)
	if err != nil {
		return err
	}
	return e.RemoveCard(stage, index)
}

func (e *Engine) handleAdjustHide(data json.RawMessage) error {
	stage, index, err := adjustArgs(data)
	if err != nil {
		return err
	}
	return e.HideCard(stage, index)
}

func (e *Engine) handleAddCard(data json.RawMessage) error {
	stage, err := intArg(data)
	if err != nil {
		return err
	}
	return e.AddCard(stage - 1)
}

func (e *Engine) handleEditScore(data json.RawMessage) error {
	totals, err := optionalInts(data)
	if err != nil {
		return err
	}
	return e.EditScore(totals)
}

func (e *Engine) handleChangeVP(data json.RawMessage) error {
	args, err := arrayArg(data, 2)
	if err != nil {
		return err
	}
	player, err := intArg(args[0])
	if err != nil {
		return err
	}
	category, err := stringArg(args[1])
	if err != nil {
		return err
	}
	up := false
	if len(args) > 2 {
		direction, _ := stringArg(args[2])
		up = direction == "up"
	}
	return e.ChangeVP(player, category, up)
}

func (e *Engine) handleNewGame(data json.RawMessage) error {
	var setup game.Setup
	if err := json.Unmarshal(data, &setup); err != nil {
		return malformed("bad newgame payload: %v", err)
	}
	return e.NewGame(setup)
}

func (e *Engine) handleEndGame(data json.RawMessage) error {
	var req endGameRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	return e.EndGame(req.Superuser)
}

func (e *Engine) filename(data json.RawMessage) (string, error) {
	name, err := stringArg(data)
	if err != nil {
		return "", err
	}
	if !store.ValidName(name) {
		return "", fmt.Errorf("%w: %q", store.ErrBadFilename, name)
	}
	return name, nil
}

func (e *Engine) handleLoadGame(data json.RawMessage) error {
	name, err := e.filename(data)
	if err != nil {
		return err
	}
	return e.LoadGame(name)
}

func (e *Engine) handleDeleteGame(data json.RawMessage) error {
	name, err := e.filename(data)
	if err != nil {
		return err
	}
	return e.DeleteGame(name)
}
