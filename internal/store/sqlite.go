// Package store persists pipeline state in SQLite: a lookup cache so repeated
// runs do not re-query the place API for the same company, per-record
// checkpoints so an interrupted enrichment pass resumes instead of restarting,
// and a small run ledger behind the status command.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/baybio/biodex/internal/model"
)

// DefaultLookupTTL is how long a cached lookup stays fresh. Stale entries are
// re-fetched, not served.
const DefaultLookupTTL = 30 * 24 * time.Hour

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and configures WAL mode.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "store: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS lookup_cache (
	key        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	fetched_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	record_id  TEXT NOT NULL,
	phase      TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (record_id, phase)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_lookup_cache_expires_at ON lookup_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "store: migrate")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CacheKey derives a stable cache key from the operation name and its
// arguments.
func CacheKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// CachedLookup returns the payload stored under key if it has not expired.
// The second return is false on a miss or a stale hit.
func (s *Store) CachedLookup(ctx context.Context, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM lookup_cache WHERE key = ? AND expires_at > datetime('now')`,
		key,
	)

	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "store: get cached lookup")
	}
	return []byte(payload), true, nil
}

// PutLookup stores a payload under key with the given TTL, replacing any
// previous entry. A zero TTL means the default; a negative TTL stores an
// already-expired entry.
func (s *Store) PutLookup(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = DefaultLookupTTL
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lookup_cache (key, payload, fetched_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload,
		   fetched_at = excluded.fetched_at, expires_at = excluded.expires_at`,
		key, string(payload), now, now.Add(ttl),
	)
	return eris.Wrap(err, "store: put lookup")
}

// PruneExpired removes stale cache entries and returns the count removed.
func (s *Store) PruneExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM lookup_cache WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "store: prune expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "store: rows affected")
}

// SaveCheckpoint records that a record finished a phase, replacing any prior
// checkpoint for the same record and phase.
func (s *Store) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (record_id, phase, data, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(record_id, phase) DO UPDATE SET data = excluded.data,
		   created_at = excluded.created_at`,
		cp.RecordID, cp.Phase, string(cp.Data), time.Now().UTC(),
	)
	return eris.Wrapf(err, "store: save checkpoint %s/%s", cp.RecordID, cp.Phase)
}

// GetCheckpoint returns the checkpoint for a record and phase, or nil when
// none exists.
func (s *Store) GetCheckpoint(ctx context.Context, recordID, phase string) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record_id, phase, data, created_at FROM checkpoints
		 WHERE record_id = ? AND phase = ?`,
		recordID, phase,
	)

	var cp model.Checkpoint
	var data string
	err := row.Scan(&cp.RecordID, &cp.Phase, &data, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get checkpoint")
	}
	cp.Data = []byte(data)
	return &cp, nil
}

// ClearCheckpoints removes all checkpoints, used when a run completes.
func (s *Store) ClearCheckpoints(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints`)
	return eris.Wrap(err, "store: clear checkpoints")
}

// Run is one pipeline invocation in the ledger.
type Run struct {
	ID         string
	Status     string
	Summary    string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// StartRun opens a new ledger entry and returns its ID.
func (s *Store) StartRun(ctx context.Context) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, started_at) VALUES (?, 'running', ?)`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "store: start run")
	}
	return id, nil
}

// FinishRun closes a ledger entry with a final status and summary text.
func (s *Store) FinishRun(ctx context.Context, runID, status, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, finished_at = ? WHERE id = ?`,
		status, summary, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "store: rows affected")
	}
	if n == 0 {
		return eris.Errorf("store: run not found: %s", runID)
	}
	return nil
}

// LatestRun returns the most recently started run, or nil when the ledger is
// empty.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, COALESCE(summary, ''), started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT 1`,
	)

	var r Run
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.Status, &r.Summary, &r.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: latest run")
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}
