// Package journal records session presence events (joins, rejections,
// leaves, coordinator promotions) in a SQLite database. Chat text is never
// stored.
package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/gochat/pkg/crypto"
)

const dbTimeLayout = "2006-01-02 15:04:05.000"

// Kind classifies a journal event.
type Kind string

const (
	KindJoin    Kind = "join"
	KindReject  Kind = "reject"
	KindLeave   Kind = "leave"
	KindPromote Kind = "promote"
)

// Event is one presence event. On Record, Peer is the raw peer address; it
// is stored (and read back) as a keyed fingerprint of the peer host.
type Event struct {
	ID     int64     `yaml:"id"`
	Kind   Kind      `yaml:"kind"`
	UserID string    `yaml:"user_id"`
	ConnID string    `yaml:"conn_id"`
	Peer   string    `yaml:"peer"`
	Detail string    `yaml:"detail,omitempty"`
	At     time.Time `yaml:"at"`
}

// Journal is a SQLite-backed event log. Safe for concurrent use.
type Journal struct {
	db  *sql.DB
	key []byte
}

// Open opens (or creates) the journal database and runs migrations.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open DB: %w", err)
	}
	// Pragmas are per connection; a single connection keeps them in effect
	// and serialises writers.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}

	j := &Journal{db: db}
	if err := j.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	if err := j.loadKey(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	var count int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := j.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("init schema_migrations: %w", err)
		}
	}
	var version int
	if err := j.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version: 1,
			statements: []string{
				`CREATE TABLE IF NOT EXISTS meta (
					name  TEXT PRIMARY KEY,
					value TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS events (
					id               INTEGER PRIMARY KEY AUTOINCREMENT,
					kind             TEXT NOT NULL,
					user_id          TEXT NOT NULL DEFAULT '',
					conn_id          TEXT NOT NULL DEFAULT '',
					peer_fingerprint TEXT NOT NULL DEFAULT '',
					detail           TEXT NOT NULL DEFAULT '',
					created_at       TEXT NOT NULL
				)`,
				"CREATE INDEX IF NOT EXISTS events_user ON events (user_id)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := j.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("version %d: %w", m.version, err)
			}
		}
		if _, err := j.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", m.version); err != nil {
			return fmt.Errorf("update schema version: %w", err)
		}
	}
	return nil
}

// loadKey reads the fingerprint key, generating it on first open so that
// fingerprints stay stable across restarts.
func (j *Journal) loadKey(ctx context.Context) error {
	var encoded string
	err := j.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE name = 'fingerprint_key'").Scan(&encoded)
	if err == nil {
		key, err := hex.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("journal: decode fingerprint key: %w", err)
		}
		j.key = key
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("journal: read fingerprint key: %w", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if _, err := j.db.ExecContext(ctx, "INSERT INTO meta (name, value) VALUES ('fingerprint_key', ?)", hex.EncodeToString(key)); err != nil {
		return fmt.Errorf("journal: store fingerprint key: %w", err)
	}
	j.key = key
	return nil
}

// Fingerprint returns a keyed BLAKE2b digest (first 8 bytes, hex) of the
// host part of addr. Empty addr yields "".
func Fingerprint(key []byte, addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	sum, err := crypto.KeyedHash(key, []byte(host))
	if err != nil {
		// key longer than 64 bytes; never the case for keys created by Open
		sum, _ = crypto.KeyedHash(nil, []byte(host))
	}
	return sum
}

// Record appends an event. A zero At is set to now.
func (j *Journal) Record(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO events (kind, user_id, conn_id, peer_fingerprint, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		string(e.Kind), e.UserID, e.ConnID, Fingerprint(j.key, e.Peer), e.Detail, e.At.UTC().Format(dbTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", e.Kind, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, kind, user_id, conn_id, peer_fingerprint, detail, created_at FROM events ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// ForUser returns every event recorded for userID, oldest first.
func (j *Journal) ForUser(ctx context.Context, userID string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, kind, user_id, conn_id, peer_fingerprint, detail, created_at FROM events WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("journal: query user events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var kind, createdAt string
		if err := rows.Scan(&e.ID, &kind, &e.UserID, &e.ConnID, &e.Peer, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		e.Kind = Kind(kind)
		at, err := time.ParseInLocation(dbTimeLayout, createdAt, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("journal: parse time: %w", err)
		}
		e.At = at
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate events: %w", err)
	}
	return events, nil
}

// eventsExport is the top-level YAML document for ExportYAML.
type eventsExport struct {
	Events []Event `yaml:"events"`
}

// ExportYAML renders events as a YAML document.
func ExportYAML(events []Event) ([]byte, error) {
	return yaml.Marshal(&eventsExport{Events: events})
}
