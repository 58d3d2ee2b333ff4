package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/snapboxhq/snapbox/internal/db"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS snapshot_pointer (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    snapshot_id TEXT NOT NULL,
    updated_at TEXT NOT NULL -- RFC3339
);

CREATE TABLE IF NOT EXISTS sync_history (
    cycle_id TEXT PRIMARY KEY,
    reason TEXT NOT NULL,
    snapshot_id TEXT NOT NULL,
    downloads INTEGER NOT NULL,
    archived INTEGER NOT NULL,
    uploaded INTEGER NOT NULL,
    started_at TEXT NOT NULL, -- RFC3339
    duration_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_started_at ON sync_history(started_at);
`

// CycleRecord is one completed sync cycle.
type CycleRecord struct {
	CycleID    string
	Reason     string
	SnapshotID string
	Downloads  int
	Archived   int
	Uploaded   bool
	StartedAt  time.Time
	Duration   time.Duration
}

type dbCycleRecord struct {
	CycleID    string `db:"cycle_id"`
	Reason     string `db:"reason"`
	SnapshotID string `db:"snapshot_id"`
	Downloads  int    `db:"downloads"`
	Archived   int    `db:"archived"`
	Uploaded   bool   `db:"uploaded"`
	StartedAt  string `db:"started_at"`
	DurationMs int64  `db:"duration_ms"`
}

// Journal persists the local snapshot pointer and the history of sync
// cycles in SQLite, so a restarted daemon resumes from where it left off
// instead of re-initializing against the remote.
type Journal struct {
	dbPath string
	db     *sqlx.DB
}

func NewJournal(dbPath string) *Journal {
	return &Journal{dbPath: dbPath}
}

func (j *Journal) Open() error {
	if j.db != nil {
		return errors.New("journal already open")
	}

	conn, err := db.NewSqliteDb(db.WithPath(j.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	if _, err := conn.Exec(journalSchema); err != nil {
		conn.Close()
		return fmt.Errorf("initialize journal schema: %w", err)
	}

	j.db = conn
	return nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Pointer returns the recorded local snapshot identifier, or "" when no
// sync has completed yet.
func (j *Journal) Pointer() (string, error) {
	var id string
	err := j.db.Get(&id, "SELECT snapshot_id FROM snapshot_pointer WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read snapshot pointer: %w", err)
	}
	return id, nil
}

func (j *Journal) SetPointer(snapshotID string) error {
	_, err := j.db.Exec(`
		INSERT INTO snapshot_pointer (id, snapshot_id, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET snapshot_id = excluded.snapshot_id, updated_at = excluded.updated_at`,
		snapshotID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("write snapshot pointer: %w", err)
	}
	return nil
}

func (j *Journal) RecordCycle(rec *CycleRecord) error {
	_, err := j.db.NamedExec(`
		INSERT INTO sync_history (cycle_id, reason, snapshot_id, downloads, archived, uploaded, started_at, duration_ms)
		VALUES (:cycle_id, :reason, :snapshot_id, :downloads, :archived, :uploaded, :started_at, :duration_ms)`,
		&dbCycleRecord{
			CycleID:    rec.CycleID,
			Reason:     rec.Reason,
			SnapshotID: rec.SnapshotID,
			Downloads:  rec.Downloads,
			Archived:   rec.Archived,
			Uploaded:   rec.Uploaded,
			StartedAt:  rec.StartedAt.UTC().Format(time.RFC3339),
			DurationMs: rec.Duration.Milliseconds(),
		})
	if err != nil {
		return fmt.Errorf("record sync cycle: %w", err)
	}
	return nil
}

// History returns the most recent cycles, newest first.
func (j *Journal) History(limit int) ([]CycleRecord, error) {
	var rows []dbCycleRecord
	err := j.db.Select(&rows, "SELECT * FROM sync_history ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("read sync history: %w", err)
	}

	records := make([]CycleRecord, 0, len(rows))
	for _, row := range rows {
		startedAt, err := time.Parse(time.RFC3339, row.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at for cycle %s: %w", row.CycleID, err)
		}
		records = append(records, CycleRecord{
			CycleID:    row.CycleID,
			Reason:     row.Reason,
			SnapshotID: row.SnapshotID,
			Downloads:  row.Downloads,
			Archived:   row.Archived,
			Uploaded:   row.Uploaded,
			StartedAt:  startedAt,
			Duration:   time.Duration(row.DurationMs) * time.Millisecond,
		})
	}
	return records, nil
}
