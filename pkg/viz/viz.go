package viz

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/scoreboard/pkg/game"
)

// Dot is plain graphviz dot output.
const Dot graphviz.Format = "dot"

// Render draws the scoreboard as a graph: one node per active player, one per revealed objective and an edge for
// every objective a player has scored.
func Render(doc *game.Document, points game.PointLookup, format graphviz.Format, w io.Writer) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()
	graph.SetRankDir(cgraph.LRRank)

	players := make(map[int]*cgraph.Node)
	for i := range doc.Scoreboard.Players {
		p := &doc.Scoreboard.Players[i]
		if !p.Active() {
			continue
		}
		n, err := graph.CreateNode("player" + strconv.Itoa(i))
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		label := fmt.Sprintf("%s\n%s\n%d VP", p.DisplayName(), *p.Faction, doc.Total(i, points))
		if p.VPCustodian {
			label += "\ncustodian"
		}
		n.SetLabel(label).SetShape(cgraph.BoxShape)
		players[i] = n
	}

	var edgeCounter uint64
	for stage, s := range []game.Stage{doc.StageOne, doc.StageTwo} {
		for index, c := range s.Cards {
			if c.ID == nil {
				continue
			}
			n, err := graph.CreateNode(fmt.Sprintf("stage%d_%d", stage+1, index))
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}
			n.SetLabel(fmt.Sprintf("%s\nstage %d, %d VP", *c.ID, stage+1, points(*c.ID)))
			for player, score := range c.Scores {
				from, ok := players[player]
				if !ok || !score.Scored {
					continue
				}
				if _, err := graph.CreateEdge(strconv.FormatUint(atomic.AddUint64(&edgeCounter, 1), 10), from, n); err != nil {
					return fmt.Errorf("failed to create edge: %w", err)
				}
			}
		}
	}

	if err := g.Render(graph, format, w); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}

// SVG renders the scoreboard to an in-memory svg document.
func SVG(doc *game.Document, points game.PointLookup) ([]byte, error) {
	var buff bytes.Buffer
	if err := Render(doc, points, graphviz.SVG, &buff); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

// RenderToTemp writes the svg to a fresh file in the temp directory and returns its path.
func RenderToTemp(doc *game.Document, points game.PointLookup) (string, error) {
	raw, err := SVG(doc, points)
	if err != nil {
		return "", err
	}
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("scoreboard-%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := os.WriteFile(tf, raw, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", tf, err)
	}
	return tf, nil
}
