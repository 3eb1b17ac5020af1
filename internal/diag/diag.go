// Package diag records data-source failures for offline diagnosis. The
// recorder is best-effort by construction: it must never slow down or
// fail an invocation, so every operation degrades to a debug log line.
package diag

import (
	"database/sql"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS fetch_errors (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	invocation  TEXT NOT NULL,
	source      TEXT NOT NULL,
	category    TEXT,
	error       TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_errors_occurred ON fetch_errors(occurred_at);
`

// Recorder appends fetch failures to <base>/diag.db.
type Recorder struct {
	db         *sql.DB
	invocation string
	log        logrus.FieldLogger
}

// Open opens (creating if needed) the diagnostics database. A nil
// Recorder is returned alongside the error; all Recorder methods accept
// a nil receiver so callers need no guards.
func Open(baseDir, invocationID string, log logrus.FieldLogger) (*Recorder, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	db, err := sql.Open("sqlite", filepath.Join(baseDir, "diag.db"))
	if err != nil {
		return nil, errors.Wrap(err, "diag: open")
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "diag: schema")
	}
	return &Recorder{db: db, invocation: invocationID, log: log}, nil
}

// FetchError records one source failure.
func (r *Recorder) FetchError(sourceID, category string, ferr error) {
	if r == nil || ferr == nil {
		return
	}
	_, err := r.db.Exec(
		`INSERT INTO fetch_errors (invocation, source, category, error, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		r.invocation, sourceID, category, ferr.Error(), time.Now().UTC(),
	)
	if err != nil {
		r.log.WithError(err).Debug("diagnostics insert failed")
	}
}

// RecentErrors returns failures newer than the cutoff, for maintenance
// inspection.
func (r *Recorder) RecentErrors(since time.Time) ([]FetchErrorRow, error) {
	if r == nil {
		return nil, nil
	}
	rows, err := r.db.Query(
		`SELECT invocation, source, IFNULL(category, ''), error, occurred_at FROM fetch_errors WHERE occurred_at >= ? ORDER BY occurred_at DESC`,
		since.UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "diag: query")
	}
	defer rows.Close()

	var out []FetchErrorRow
	for rows.Next() {
		var row FetchErrorRow
		if err := rows.Scan(&row.Invocation, &row.Source, &row.Category, &row.Error, &row.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FetchErrorRow is one recorded failure.
type FetchErrorRow struct {
	Invocation string
	Source     string
	Category   string
	Error      string
	OccurredAt time.Time
}

// Close releases the database handle.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Debug("diagnostics close failed")
	}
}
