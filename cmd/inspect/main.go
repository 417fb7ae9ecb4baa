package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/astromechza/scoreboard/pkg/carddb"
	"github.com/astromechza/scoreboard/pkg/game"
	"github.com/astromechza/scoreboard/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	databaseVar := flag.String("database", "data/database.json", "the card database used to value objectives")
	dotVar := flag.Bool("dot", false, "print the scoreboard graph in dot format")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the saved game to read")
	}

	cards := new(carddb.Database)
	if err := cards.Load(*databaseVar); err != nil {
		slog.Warn("card database unavailable, every objective is worth 1", "err", err)
	}

	raw, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	doc := new(game.Document)
	if err := json.Unmarshal(raw, doc); err != nil {
		return fmt.Errorf("failed to load game: %w", err)
	}
	categories := doc.Settings.ObjectiveCategories
	points := game.PointLookup(func(id string) int { return cards.PointValue(id, categories...) })

	slog.Info("loaded game", "categories", categories, "elapsed", doc.Settings.ElapsedSeconds, "ended", doc.Settings.GameEnded)
	for stage, s := range []game.Stage{doc.StageOne, doc.StageTwo} {
		for i, c := range s.Cards {
			id := "<face down>"
			if c.ID != nil {
				id = *c.ID
			}
			var scoredBy []int
			for p, score := range c.Scores {
				if score.Scored {
					scoredBy = append(scoredBy, p)
				}
			}
			slog.Info("card", "stage", stage+1, "i", i, "id", id, "scoredBy", scoredBy)
		}
	}
	for i := range doc.Scoreboard.Players {
		p := &doc.Scoreboard.Players[i]
		if !p.Active() {
			continue
		}
		slog.Info("player", "i", i, "name", p.DisplayName(), "faction", *p.Faction, "custodian", p.VPCustodian, "total", doc.Total(i, points))
	}
	for _, w := range doc.Winners(points) {
		slog.Info("leader", "name", w.Name, "faction", w.Faction, "total", w.Total)
	}

	if *dotVar {
		return viz.Render(doc, points, viz.Dot, os.Stdout)
	}
	return nil
}
