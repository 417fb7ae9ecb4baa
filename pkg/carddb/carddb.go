package carddb

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// DefaultPoints is returned for any card the database cannot resolve.
const DefaultPoints = 1

type Entry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// Category is one group of objectives, e.g. the base game or an expansion.
type Category struct {
	Name    string  `json:"name"`
	Stage1  []Entry `json:"stage1"`
	Stage2  []Entry `json:"stage2"`
	Secrets []Entry `json:"secrets"`
}

// Database is the read only card table. The zero value is an unloaded database whose lookups return defaults.
type Database struct {
	mu         sync.RWMutex
	categories map[string]Category
	raw        json.RawMessage
}

// Parse decodes and validates a card table.
func Parse(raw []byte) (map[string]Category, error) {
	var categories map[string]Category
	if err := json.Unmarshal(raw, &categories); err != nil {
		return nil, fmt.Errorf("failed to decode card database: %w", err)
	}
	for key, c := range categories {
		for _, list := range [][]Entry{c.Stage1, c.Stage2, c.Secrets} {
			seen := make(map[string]bool, len(list))
			for _, e := range list {
				if e.ID == "" {
					return nil, fmt.Errorf("category %q: card with empty id", key)
				}
				if e.Points < 0 {
					return nil, fmt.Errorf("category %q: card %q has negative points", key, e.ID)
				}
				if seen[e.ID] {
					return nil, fmt.Errorf("category %q: duplicate card %q", key, e.ID)
				}
				seen[e.ID] = true
			}
		}
	}
	return categories, nil
}

// Load replaces the table with the contents of a json file.
func (db *Database) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read card database: %w", err)
	}
	return db.Set(raw)
}

// Set replaces the table with raw json.
func (db *Database) Set(raw []byte) error {
	categories, err := Parse(raw)
	if err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.categories = categories
	db.raw = append(json.RawMessage{}, raw...)
	return nil
}

// Loaded reports whether a table has been set.
func (db *Database) Loaded() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.categories != nil
}

// Raw returns the table exactly as it was loaded, for serving to clients.
func (db *Database) Raw() json.RawMessage {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.raw
}

// enabled returns the categories to search in a stable order. With no keys every category is searched.
func (db *Database) enabled(keys []string) []Category {
	if len(keys) == 0 {
		for k := range db.categories {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	out := make([]Category, 0, len(keys))
	for _, k := range keys {
		if c, ok := db.categories[k]; ok {
			out = append(out, c)
		}
	}
	return out
}

// PointValue returns the points of the first card matching id, searching stage 1, stage 2 and then secret objectives
// of each enabled category.
func (db *Database) PointValue(id string, categories ...string) int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, c := range db.enabled(categories) {
		for _, list := range [][]Entry{c.Stage1, c.Stage2, c.Secrets} {
			for _, e := range list {
				if e.ID == id {
					return e.Points
				}
			}
		}
	}
	return DefaultPoints
}

// Objectives lists the public objective ids of a stage (0 or 1) across the enabled categories.
func (db *Database) Objectives(stage int, categories ...string) []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []string
	for _, c := range db.enabled(categories) {
		list := c.Stage1
		if stage == 1 {
			list = c.Stage2
		}
		for _, e := range list {
			out = append(out, e.ID)
		}
	}
	return out
}
