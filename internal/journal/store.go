// Package journal provides a postmortem debugging log of session starts,
// desync events, and peer disconnects, backed by an embedded SQLite
// database (A4). It is best-effort: a write failure is logged and
// otherwise ignored, and must never affect simulation determinism or
// block a tick.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a
// new string — never edit or reorder existing entries.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// NewSessionID mints a fresh identifier for a journaled session. Random
// seeds are not suitable on their own: two independently-hosted sessions
// can roll the same seed, and a single host may restart the same seed
// across attempts.
func NewSessionID() string {
	return uuid.NewString()
}

var migrations = []string{
	// v1 — session starts
	`CREATE TABLE IF NOT EXISTS session_starts (
		id           TEXT PRIMARY KEY,
		started_at   INTEGER NOT NULL,
		player_count INTEGER NOT NULL,
		tick_rate    INTEGER NOT NULL,
		random_seed  INTEGER NOT NULL
	)`,
	// v2 — desync events
	`CREATE TABLE IF NOT EXISTS desyncs (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id       TEXT NOT NULL,
		frame            INTEGER NOT NULL,
		local_checksum   INTEGER NOT NULL,
		remote_checksum  INTEGER NOT NULL,
		peer_handle      INTEGER NOT NULL,
		recorded_at      INTEGER NOT NULL
	)`,
	// v3 — desync lookup index
	`CREATE INDEX IF NOT EXISTS idx_desyncs_session ON desyncs(session_id, frame)`,
	// v4 — peer disconnects
	`CREATE TABLE IF NOT EXISTS disconnects (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		peer_handle INTEGER NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		recorded_at INTEGER NOT NULL
	)`,
}

// SessionRecord is one journaled session start.
type SessionRecord struct {
	ID          string
	StartedAt   time.Time
	PlayerCount int
	TickRate    uint16
	RandomSeed  uint64
}

// DesyncRecord is one journaled checksum mismatch.
type DesyncRecord struct {
	SessionID      string
	Frame          uint32
	LocalChecksum  uint64
	RemoteChecksum uint64
	Peer           uint8
	RecordedAt     time.Time
}

// Store wraps a SQLite database recording session history.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		slog.Warn("journal: WAL mode unavailable", "err", err)
	}

	s := &Store{db: db, log: slog.With("component", "journal")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
	}
	return nil
}

// RecordSessionStart journals a session reaching its Ready transition. A
// write failure is logged and swallowed (§4.13).
func (s *Store) RecordSessionStart(r SessionRecord) {
	if s == nil {
		return
	}
	startedAt := r.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO session_starts (id, started_at, player_count, tick_rate, random_seed) VALUES (?, ?, ?, ?, ?)`,
		r.ID, startedAt.Unix(), r.PlayerCount, r.TickRate, int64(r.RandomSeed),
	)
	if err != nil {
		s.log.Warn("record session start failed", "session_id", r.ID, "err", err)
	}
}

// RecordDesync journals a checksum mismatch against a peer.
func (s *Store) RecordDesync(r DesyncRecord) {
	if s == nil {
		return
	}
	recordedAt := r.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO desyncs (session_id, frame, local_checksum, remote_checksum, peer_handle, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Frame, int64(r.LocalChecksum), int64(r.RemoteChecksum), r.Peer, recordedAt.Unix(),
	)
	if err != nil {
		s.log.Warn("record desync failed", "session_id", r.SessionID, "frame", r.Frame, "err", err)
	}
}

// RecordDisconnect journals a peer disconnect.
func (s *Store) RecordDisconnect(sessionID string, peer uint8, reason string) {
	if s == nil {
		return
	}
	_, err := s.db.Exec(
		`INSERT INTO disconnects (session_id, peer_handle, reason, recorded_at) VALUES (?, ?, ?, ?)`,
		sessionID, peer, reason, time.Now().UTC().Unix(),
	)
	if err != nil {
		s.log.Warn("record disconnect failed", "session_id", sessionID, "peer", peer, "err", err)
	}
}

// RecentDesyncs returns desyncs recorded for sessionID, oldest first.
func (s *Store) RecentDesyncs(sessionID string) []DesyncRecord {
	if s == nil {
		return nil
	}
	rows, err := s.db.Query(
		`SELECT frame, local_checksum, remote_checksum, peer_handle, recorded_at FROM desyncs WHERE session_id = ? ORDER BY frame ASC`,
		sessionID,
	)
	if err != nil {
		s.log.Warn("query recent desyncs failed", "session_id", sessionID, "err", err)
		return nil
	}
	defer rows.Close()

	var out []DesyncRecord
	for rows.Next() {
		var (
			frame, peer                    int64
			localChecksum, remoteChecksum  int64
			recordedAtUnix                 int64
		)
		if err := rows.Scan(&frame, &localChecksum, &remoteChecksum, &peer, &recordedAtUnix); err != nil {
			s.log.Warn("scan desync row failed", "err", err)
			continue
		}
		out = append(out, DesyncRecord{
			SessionID:      sessionID,
			Frame:          uint32(frame),
			LocalChecksum:  uint64(localChecksum),
			RemoteChecksum: uint64(remoteChecksum),
			Peer:           uint8(peer),
			RecordedAt:     time.Unix(recordedAtUnix, 0).UTC(),
		})
	}
	return out
}
