package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/astromechza/scoreboard/pkg/game"
)

var (
	ErrBadFilename = errors.New("invalid saved game filename")
	ErrNotFound    = errors.New("saved game not found")
)

const nameAttempts = 100

var namePattern = regexp.MustCompile(`^\d{4}_\d{2}_\d{2}_\d{4}\.json$`)

// ValidName reports whether name follows the YYYY_MM_DD_NNNN.json contract.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// SavedGame describes one snapshot in the saved game directory.
type SavedGame struct {
	Filename string    `json:"filename"`
	Date     string    `json:"date"`
	Players  []string  `json:"players"`
	Created  time.Time `json:"created"`
	Ended    bool      `json:"ended"`
}

func (s *Store) ensureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create saved game directory %s", s.dir)
	}
	return nil
}

func (s *Store) writeFile(name string, raw []byte) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(f.Name(), filepath.Join(s.dir, name)); err != nil {
		return errors.Wrapf(err, "failed to replace %s", name)
	}
	return nil
}

// NewSnapshotName picks an unused YYYY_MM_DD_NNNN.json name for a game started at now.
func (s *Store) NewSnapshotName(now time.Time) (string, error) {
	if err := s.ensureDir(); err != nil {
		return "", err
	}
	for i := 0; i < nameAttempts; i++ {
		s.mu.Lock()
		suffix := s.rnd.Intn(10000)
		s.mu.Unlock()
		name := fmt.Sprintf("%s_%04d.json", now.Format("2006_01_02"), suffix)
		if _, err := os.Stat(filepath.Join(s.dir, name)); errors.Is(err, fs.ErrNotExist) {
			return name, nil
		} else if err != nil {
			return "", errors.Wrapf(err, "failed to stat %s", name)
		}
	}
	return "", errors.Errorf("no free snapshot name for %s", now.Format("2006-01-02"))
}

// Load reads a saved game.
func (s *Store) Load(name string) (*game.Document, error) {
	if !ValidName(name) {
		return nil, errors.Wrap(ErrBadFilename, name)
	}
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(ErrNotFound, name)
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", name)
	}
	doc := new(game.Document)
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", name)
	}
	return doc, nil
}

// Raw reads a saved game without decoding it.
func (s *Store) Raw(name string) ([]byte, error) {
	if !ValidName(name) {
		return nil, errors.Wrap(ErrBadFilename, name)
	}
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(ErrNotFound, name)
	}
	return raw, errors.Wrapf(err, "failed to read %s", name)
}

// Delete removes a saved game. Deleting the active snapshot clears it, so later writes go to the newest remaining
// saved game.
func (s *Store) Delete(name string) error {
	if !ValidName(name) {
		return errors.Wrap(ErrBadFilename, name)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := os.Remove(filepath.Join(s.dir, name)); errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(ErrNotFound, name)
	} else if err != nil {
		return errors.Wrapf(err, "failed to delete %s", name)
	}
	s.mu.Lock()
	if s.active == name {
		s.active = ""
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) names() ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to list saved games")
	}
	out := entries[:0]
	for _, e := range entries {
		if !e.IsDir() && ValidName(e.Name()) {
			out = append(out, e)
		}
	}
	return out, nil
}

// List returns every readable saved game, newest first.
func (s *Store) List() ([]SavedGame, error) {
	entries, err := s.names()
	if err != nil {
		return nil, err
	}
	out := make([]SavedGame, 0, len(entries))
	for _, e := range entries {
		doc, err := s.Load(e.Name())
		if err != nil {
			slog.Warn("skipping unreadable saved game", "file", e.Name(), "err", err)
			continue
		}
		sg := SavedGame{
			Filename: e.Name(),
			Date:     strings.ReplaceAll(e.Name()[:10], "_", "-"),
			Players:  []string{},
			Ended:    doc.Settings.GameEnded,
		}
		for i := range doc.Scoreboard.Players {
			if p := &doc.Scoreboard.Players[i]; p.Active() {
				sg.Players = append(sg.Players, p.DisplayName())
			}
		}
		if doc.Settings.TimeStart != nil {
			sg.Created = *doc.Settings.TimeStart
		} else if info, err := e.Info(); err == nil {
			sg.Created = info.ModTime()
		}
		out = append(out, sg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].Filename > out[j].Filename
	})
	return out, nil
}

// Latest returns the most recently modified saved game, or "" when there is none.
func (s *Store) Latest() (string, error) {
	entries, err := s.names()
	if err != nil {
		return "", err
	}
	var latest string
	var latestAt time.Time
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestAt) {
			latest, latestAt = e.Name(), info.ModTime()
		}
	}
	return latest, nil
}

// Resume makes the most recent saved game live. It returns "" when there is nothing to resume.
func (s *Store) Resume() (string, error) {
	name, err := s.Latest()
	if err != nil || name == "" {
		return "", err
	}
	doc, err := s.Load(name)
	if err != nil {
		return "", err
	}
	s.Replace(doc, name)
	return name, nil
}
