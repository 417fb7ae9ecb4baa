package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/astromechza/scoreboard/pkg/engine"
)

const DefaultBuffer = 1024

// Event is one journalled mutation event.
type Event struct {
	ID      int64           `json:"id"`
	Game    string          `json:"game"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	At      time.Time       `json:"at"`
}

// Journal is an append-only sqlite log of every event the engine processed, keyed by the snapshot that was live at
// the time. Writes happen on a background goroutine so recording never blocks the event loop.
type Journal struct {
	database *sql.DB
	pending  chan engine.Entry
}

func Open(path string, buffer int) (*Journal, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open journal")
	}
	j := &Journal{database: db, pending: make(chan engine.Entry, buffer)}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init() error {
	if _, err := j.database.Exec(
		`CREATE TABLE IF NOT EXISTS events (
		id integer not null primary key autoincrement,
		game text not null,
		event text not null,
		payload text,
		error text,
		at integer not null
		)`,
	); err != nil {
		return errors.Wrap(err, "failed to create events table")
	}
	if _, err := j.database.Exec(`CREATE INDEX IF NOT EXISTS events_game ON events (game, id)`); err != nil {
		return errors.Wrap(err, "failed to create events index")
	}
	slog.Info("Ensured journal tables exist")
	return nil
}

// Record queues an entry. Entries are dropped when the writer falls behind.
func (j *Journal) Record(entry engine.Entry) {
	select {
	case j.pending <- entry:
	default:
		slog.Warn("journal full, dropping entry", "event", entry.Event, "game", entry.Game)
	}
}

// Run writes queued entries until the context is cancelled, then writes whatever is still queued.
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case entry := <-j.pending:
			if err := j.Write(context.Background(), entry); err != nil {
				slog.Error("failed to journal event", "event", entry.Event, "err", err)
			}
		case <-ctx.Done():
			for {
				select {
				case entry := <-j.pending:
					if err := j.Write(context.Background(), entry); err != nil {
						slog.Error("failed to journal event", "event", entry.Event, "err", err)
					}
				default:
					return
				}
			}
		}
	}
}

// Write stores one entry synchronously.
func (j *Journal) Write(ctx context.Context, entry engine.Entry) error {
	var payload, message sql.NullString
	if len(entry.Payload) > 0 {
		payload = sql.NullString{String: string(entry.Payload), Valid: true}
	}
	if entry.Err != nil {
		message = sql.NullString{String: entry.Err.Error(), Valid: true}
	}
	if _, err := j.database.ExecContext(
		ctx, `INSERT INTO events (game, event, payload, error, at) VALUES (?, ?, ?, ?, ?)`,
		entry.Game, entry.Event, payload, message, entry.At.UnixMilli(),
	); err != nil {
		return errors.Wrap(err, "failed to insert event")
	}
	return nil
}

// Entries returns the events recorded against a saved game, oldest first.
func (j *Journal) Entries(ctx context.Context, game string) ([]Event, error) {
	rows, err := j.database.QueryContext(
		ctx, `SELECT id, game, event, payload, error, at FROM events WHERE game = ? ORDER BY id`, game,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query events")
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(rows)

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		var payload, message sql.NullString
		var at int64
		if err := rows.Scan(&e.ID, &e.Game, &e.Event, &payload, &message, &at); err != nil {
			return nil, errors.Wrap(err, "failed to scan event")
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		e.Error = message.String
		e.At = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "failed to read events")
}

func (j *Journal) Close() error {
	return j.database.Close()
}
