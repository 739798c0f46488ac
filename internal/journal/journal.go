package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/antlu/stream-monitor/internal/monitor"
)

const schema = `
	CREATE TABLE IF NOT EXISTS channels (
		platform TEXT NOT NULL,
		name TEXT NOT NULL,
		user_id TEXT NOT NULL,
		connected_at TEXT NOT NULL,
		PRIMARY KEY (platform, name)
	);

	CREATE TABLE IF NOT EXISTS streams (
		id TEXT PRIMARY KEY,
		platform TEXT NOT NULL,
		channel TEXT NOT NULL,
		vod_id TEXT NOT NULL,
		started_at TEXT,
		ended_at TEXT,
		title TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		peak_viewers INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at TEXT NOT NULL,
		platform TEXT NOT NULL,
		channel TEXT NOT NULL,
		kind TEXT NOT NULL,
		stream_id TEXT,
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS tokens (
		client_id TEXT PRIMARY KEY,
		access_token TEXT NOT NULL
	);
`

// Journal records monitor events in sqlite and keeps a per-stream summary.
type Journal struct {
	*sql.DB
	log zerolog.Logger
	now func() time.Time
}

func Open(path string, log zerolog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating journal schema: %w", err)
	}

	return &Journal{
		DB:  db,
		log: log.With().Str("component", "journal").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Listener adapts Record to the event bus, logging failures.
func (j *Journal) Listener() monitor.Listener {
	return func(e monitor.Event) {
		if err := j.Record(e); err != nil {
			j.log.Warn().Err(err).Str("kind", string(e.Kind)).Str("channel", e.Channel.Name).Msg("Error recording event")
		}
	}
}

func detail(e monitor.Event) string {
	switch e.Kind {
	case monitor.EventViewCount:
		return fmt.Sprintf("%d (%+d)", e.Viewers, e.ViewerDelta)
	case monitor.EventTitle:
		return e.Title
	case monitor.EventCategory:
		return e.Category.Name
	case monitor.EventThumbnail:
		return e.Thumbnail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

func (j *Journal) Record(e monitor.Event) error {
	tx, err := j.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	at := j.now().Format(time.RFC3339Nano)
	var streamID any
	if e.Stream != nil {
		streamID = e.Stream.ID
	}

	_, err = tx.Exec(
		"INSERT INTO events (at, platform, channel, kind, stream_id, detail) VALUES (?, ?, ?, ?, ?, ?)",
		at, string(e.Platform), e.Channel.Name, string(e.Kind), streamID, detail(e),
	)
	if err != nil {
		return err
	}

	kind := e.Kind
	if e.Stream == nil && kind != monitor.EventConnected && kind != monitor.EventDisconnected {
		kind = ""
	}
	switch kind {
	case monitor.EventConnected:
		_, err = tx.Exec(
			`INSERT INTO channels (platform, name, user_id, connected_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (platform, name) DO UPDATE SET user_id = excluded.user_id, connected_at = excluded.connected_at`,
			string(e.Platform), e.Channel.Name, e.Channel.UserID, at,
		)
	case monitor.EventDisconnected:
		_, err = tx.Exec("DELETE FROM channels WHERE platform = ? AND name = ?", string(e.Platform), e.Channel.Name)
		if err == nil {
			// No stream-down follows a disconnect; close what was still open.
			_, err = tx.Exec(
				"UPDATE streams SET ended_at = ? WHERE platform = ? AND channel = ? AND ended_at IS NULL",
				at, string(e.Platform), e.Channel.Name,
			)
		}
	case monitor.EventStreamUp:
		st := e.Stream
		_, err = tx.Exec(
			`INSERT OR IGNORE INTO streams (id, platform, channel, vod_id, started_at, title, category, peak_viewers)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID, string(e.Platform), e.Channel.Name, st.VodID, formatTime(st.StartedAt), st.Title, st.Category().Name, st.Viewers,
		)
	case monitor.EventStreamDown:
		_, err = tx.Exec("UPDATE streams SET ended_at = ? WHERE id = ?", at, e.Stream.ID)
	case monitor.EventViewCount:
		_, err = tx.Exec("UPDATE streams SET peak_viewers = MAX(peak_viewers, ?) WHERE id = ?", e.Viewers, e.Stream.ID)
	case monitor.EventTitle:
		_, err = tx.Exec("UPDATE streams SET title = ? WHERE id = ?", e.Title, e.Stream.ID)
	case monitor.EventCategory:
		_, err = tx.Exec("UPDATE streams SET category = ? WHERE id = ?", e.Category.Name, e.Stream.ID)
	}
	if err != nil {
		return fmt.Errorf("error recording %s: %w", e.Kind, err)
	}

	return tx.Commit()
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

type StreamRecord struct {
	ID          string
	Platform    string
	Channel     string
	VodID       string
	Title       string
	Category    string
	PeakViewers int
	Ended       bool
}

func (j *Journal) Streams(platform monitor.Platform, channel string) ([]StreamRecord, error) {
	rows, err := j.Query(
		`SELECT id, platform, channel, vod_id, title, category, peak_viewers, ended_at IS NOT NULL
		FROM streams WHERE platform = ? AND channel = ? ORDER BY rowid`,
		string(platform), channel,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []StreamRecord
	for rows.Next() {
		var r StreamRecord
		if err := rows.Scan(&r.ID, &r.Platform, &r.Channel, &r.VodID, &r.Title, &r.Category, &r.PeakViewers, &r.Ended); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// EventKinds lists the recorded kinds for a channel in insertion order.
func (j *Journal) EventKinds(platform monitor.Platform, channel string) ([]string, error) {
	rows, err := j.Query("SELECT kind FROM events WHERE platform = ? AND channel = ? ORDER BY id", string(platform), channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var kinds []string
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, rows.Err()
}

func (j *Journal) Connected(platform monitor.Platform) ([]string, error) {
	rows, err := j.Query("SELECT name FROM channels WHERE platform = ? ORDER BY name", string(platform))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (j *Journal) LoadToken(ctx context.Context, clientID string) (string, error) {
	var token string
	err := j.QueryRowContext(ctx, "SELECT access_token FROM tokens WHERE client_id = ?", clientID).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return token, err
}

func (j *Journal) SaveToken(ctx context.Context, clientID, token string) error {
	_, err := j.ExecContext(ctx,
		`INSERT INTO tokens (client_id, access_token) VALUES (?, ?)
		ON CONFLICT (client_id) DO UPDATE SET access_token = excluded.access_token`,
		clientID, token,
	)
	if err != nil {
		return fmt.Errorf("error updating token store: %w", err)
	}
	return nil
}
