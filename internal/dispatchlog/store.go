// Package dispatchlog is the sqlite-backed delivery ledger that
// records every dispatch attempt for observability and crash-restart
// diagnostics, adapting the teacher's cursor/alert/send SQLite store
// to the occurrence/delivery shape of spec §4.E.
package dispatchlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("dispatchlog: store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS occurrences (
  id              TEXT PRIMARY KEY,
  predicate_uuid  TEXT NOT NULL,
  chain           TEXT NOT NULL,
  height          INTEGER NOT NULL,
  block_hash      TEXT NOT NULL,
  tx_index        INTEGER NOT NULL,
  payload_json    TEXT,
  created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS occurrences_by_predicate ON occurrences(predicate_uuid, height);

CREATE TABLE IF NOT EXISTS deliveries (
  occurrence_id TEXT NOT NULL,
  action_kind   TEXT NOT NULL,
  outcome       TEXT NOT NULL,
  attempts      INTEGER NOT NULL,
  error         TEXT,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(occurrence_id, action_kind)
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Occurrence is a matched-transaction record awaiting, or having
// completed, dispatch.
type Occurrence struct {
	ID            string
	PredicateUUID string
	Chain         string
	Height        uint64
	BlockHash     string
	TxIndex       int
	PayloadJSON   string
	CreatedAt     time.Time
}

// InsertOccurrence records a match; primary key enforces idempotent
// insertion if the coordinator retries after a crash.
func (s *Store) InsertOccurrence(ctx context.Context, o Occurrence) error {
	if o.ID == "" || o.PredicateUUID == "" {
		return errors.New("dispatchlog: occurrence id and predicate_uuid required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO occurrences (id, predicate_uuid, chain, height, block_hash, tx_index, payload_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
ON CONFLICT(id) DO NOTHING;
`, o.ID, o.PredicateUUID, o.Chain, o.Height, o.BlockHash, o.TxIndex, o.PayloadJSON, nullTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert occurrence: %w", err)
	}
	return nil
}

// Delivery is one dispatch attempt's terminal record for an occurrence/action pair.
type Delivery struct {
	OccurrenceID string
	ActionKind   string
	Outcome      string // success | transient | permanent
	Attempts     int
	Error        string
}

// RecordDelivery upserts the terminal outcome for an occurrence's
// action dispatch, letting a restarted delivery attempt overwrite a
// stale in-flight record.
func (s *Store) RecordDelivery(ctx context.Context, d Delivery) error {
	if d.OccurrenceID == "" || d.ActionKind == "" {
		return errors.New("dispatchlog: occurrence_id and action_kind required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO deliveries (occurrence_id, action_kind, outcome, attempts, error, created_at)
VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(occurrence_id, action_kind) DO UPDATE SET
  outcome=excluded.outcome,
  attempts=excluded.attempts,
  error=excluded.error,
  created_at=CURRENT_TIMESTAMP;
`, d.OccurrenceID, d.ActionKind, d.Outcome, d.Attempts, d.Error)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Delivered reports whether an occurrence/action pair already has a
// successful delivery recorded, letting a scanner batch retry skip
// work it durably completed before a crash.
func (s *Store) Delivered(ctx context.Context, occurrenceID, actionKind string) (bool, error) {
	var outcome string
	err := s.db.QueryRowContext(ctx, `
SELECT outcome FROM deliveries WHERE occurrence_id = ? AND action_kind = ?;
`, occurrenceID, actionKind).Scan(&outcome)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check delivery: %w", err)
	}
	return outcome == "success", nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
