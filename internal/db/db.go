// Package db persists classification results to SQLite and serves the
// read-side queries: latest activity, time-range listings, per-label
// statistics, and retention cleanup.
//
// The baseline schema is created inline so a fresh database works with no
// setup; golang-migrate manages evolution from there (see migrate.go).
// Durations are not stored. A record lasts until the next record of the
// same session, capped at MaxRecordGap, so reprocessing never has to
// rewrite rows.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vigil-data/activity.report/internal/classify"
	"github.com/vigil-data/activity.report/internal/errkind"
	"github.com/vigil-data/activity.report/internal/features"
)

// MaxRecordGap caps a record's derived duration. Gaps beyond this mean the
// pipeline was offline, not that one activity ran for hours.
const MaxRecordGap = time.Hour

type DB struct {
	*sql.DB
	path string
}

// NewDB opens the activity database, creating it and the baseline schema
// when missing. Pragmas ride the DSN so every pooled connection gets them.
func NewDB(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errkind.Wrap(errkind.Persistence, "db.open", err)
	}

	if _, err := sdb.Exec(`
		CREATE TABLE IF NOT EXISTS activities (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL,
			ts_ms       BIGINT NOT NULL,
			activity    TEXT NOT NULL,
			confidence  DOUBLE NOT NULL,
			scores      TEXT NOT NULL,
			features    TEXT NOT NULL,
			mode        TEXT NOT NULL,
			unsynced    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_activities_ts ON activities (ts_ms);
		CREATE INDEX IF NOT EXISTS idx_activities_session_ts ON activities (session_id, ts_ms);
	`); err != nil {
		sdb.Close()
		return nil, errkind.Wrap(errkind.Persistence, "db.schema", err)
	}

	return &DB{DB: sdb, path: path}, nil
}

// Record is one persisted classification with its derived duration.
type Record struct {
	ID         int64                      `json:"id"`
	SessionID  string                     `json:"session_id"`
	Timestamp  time.Time                  `json:"timestamp"`
	Activity   classify.Label             `json:"activity"`
	Confidence float64                    `json:"confidence"`
	Scores     map[classify.Label]float64 `json:"scores"`
	Features   features.Vector            `json:"features"`
	Mode       classify.Mode              `json:"mode"`
	Unsynced   bool                       `json:"unsynced,omitempty"`

	// DurationMS is the gap to the session's next record, capped at
	// MaxRecordGap. Zero when no later record bounds it yet.
	DurationMS int64 `json:"duration_ms"`
}

// AppendResult persists one classification outcome and returns its row id.
func (db *DB) AppendResult(sessionID string, r classify.Result) (int64, error) {
	scores, err := json.Marshal(r.Scores)
	if err != nil {
		return 0, errkind.Wrap(errkind.Persistence, "db.append", err)
	}
	feats, err := json.Marshal(r.Features)
	if err != nil {
		return 0, errkind.Wrap(errkind.Persistence, "db.append", err)
	}

	res, err := db.Exec(
		`INSERT INTO activities (session_id, ts_ms, activity, confidence, scores, features, mode, unsynced)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, r.Timestamp.UnixMilli(), string(r.Activity), r.Confidence(),
		string(scores), string(feats), string(r.Mode), r.Unsynced,
	)
	if err != nil {
		return 0, errkind.Wrap(errkind.Persistence, "db.append", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errkind.Wrap(errkind.Persistence, "db.append", err)
	}
	return id, nil
}

const selectCols = `SELECT id, session_id, ts_ms, activity, confidence, scores, features, mode, unsynced`

// scanRecord reads one row produced by a selectCols query. It accepts both
// *sql.Row and *sql.Rows.
func scanRecord(row interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec            Record
		tsMS           int64
		activity, mode string
		scores, feats  string
	)
	if err := row.Scan(&rec.ID, &rec.SessionID, &tsMS, &activity, &rec.Confidence,
		&scores, &feats, &mode, &rec.Unsynced); err != nil {
		return nil, err
	}
	rec.Timestamp = time.UnixMilli(tsMS).UTC()
	rec.Activity = classify.Label(activity)
	rec.Mode = classify.Mode(mode)
	if err := json.Unmarshal([]byte(scores), &rec.Scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if err := json.Unmarshal([]byte(feats), &rec.Features); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	return &rec, nil
}

// Latest returns the most recent record, or nil when the log is empty. Its
// duration is zero: nothing bounds the newest record yet.
func (db *DB) Latest() (*Record, error) {
	row := db.QueryRow(selectCols + ` FROM activities ORDER BY ts_ms DESC, id DESC LIMIT 1`)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Persistence, "db.latest", err)
	}
	return rec, nil
}

// Range returns the records with start <= timestamp <= end in ascending
// order. A positive limit keeps only the newest records in the window.
// Durations are derived from the gaps visible inside the window.
func (db *DB) Range(start, end time.Time, limit int) ([]Record, error) {
	q := selectCols + ` FROM activities WHERE ts_ms >= ? AND ts_ms <= ? ORDER BY ts_ms DESC, id DESC`
	args := []any{start.UnixMilli(), end.UnixMilli()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.Persistence, "db.range", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.Persistence, "db.range", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Persistence, "db.range", err)
	}

	// The query returns newest first so LIMIT keeps the right rows; flip
	// to ascending before deriving durations.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	deriveDurations(recs)
	return recs, nil
}

// deriveDurations fills DurationMS as the gap to the next record of the
// same session. recs must be ascending by timestamp.
func deriveDurations(recs []Record) {
	next := make(map[string]int64)
	for i := len(recs) - 1; i >= 0; i-- {
		r := &recs[i]
		ts := r.Timestamp.UnixMilli()
		if nts, ok := next[r.SessionID]; ok {
			gap := nts - ts
			if capMS := MaxRecordGap.Milliseconds(); gap > capMS {
				gap = capMS
			}
			if gap > 0 {
				r.DurationMS = gap
			}
		}
		next[r.SessionID] = ts
	}
}

// Count returns the number of stored records.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM activities`).Scan(&n); err != nil {
		return 0, errkind.Wrap(errkind.Persistence, "db.count", err)
	}
	return n, nil
}

// DeleteOlderThan removes records before the cutoff and reports how many
// went away. The retention sweep in the analysis loop calls this daily.
func (db *DB) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM activities WHERE ts_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, errkind.Wrap(errkind.Persistence, "db.retention", err)
	}
	return res.RowsAffected()
}

// Ping verifies the database is reachable, for readiness checks.
func (db *DB) Ping() error {
	return errkind.Wrap(errkind.Persistence, "db.ping", db.DB.Ping())
}
