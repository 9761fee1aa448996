package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"brake-to-pause/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	label TEXT NOT NULL DEFAULT '',
	thresholdKph INTEGER NOT NULL,
	usesLocation INTEGER NOT NULL,
	usesActivity INTEGER NOT NULL,
	activities TEXT NOT NULL DEFAULT '',
	startedAt REAL NOT NULL,
	stoppedAt REAL,
	stopReason TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS pauses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sessionId TEXT NOT NULL,
	startedAt REAL NOT NULL,
	endedAt REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS pauses_session ON pauses(sessionId);
`

// Store keeps finished sessions and their pause spans in SQLite.
type Store struct {
	db *sql.DB
}

// SessionRecord is a finished session with its pause totals.
type SessionRecord struct {
	ID           string
	Label        string
	ThresholdKph int
	UsesLocation bool
	UsesActivity bool
	Activities   string
	StartedAt    time.Time
	StoppedAt    *time.Time
	StopReason   string
	Pauses       int
	PausedFor    time.Duration
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSession stores a finished session. Recording the same session
// twice replaces the earlier row.
func (s *Store) RecordSession(ctx context.Context, sess session.Session) error {
	var stoppedAt sql.NullFloat64
	if sess.StoppedAt != nil {
		stoppedAt = sql.NullFloat64{Float64: unixFromTime(*sess.StoppedAt), Valid: true}
	}

	activities := ""
	for i, a := range sess.Config.SelectedActivities.Slice() {
		if i > 0 {
			activities += ","
		}
		activities += a.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
			(id, label, thresholdKph, usesLocation, usesActivity, activities, startedAt, stoppedAt, stopReason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Label, sess.Config.SpeedThresholdKph,
		sess.Config.UsesLocation, sess.Config.UsesActivityRecognition, activities,
		unixFromTime(sess.StartedAt), stoppedAt, sess.StopReason)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// RecordPause stores one closed pause span.
func (s *Store) RecordPause(ctx context.Context, span session.PauseSpan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pauses (sessionId, startedAt, endedAt) VALUES (?, ?, ?)
	`, span.SessionID, unixFromTime(span.Start), unixFromTime(span.End))
	if err != nil {
		return fmt.Errorf("insert pause: %w", err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.label, s.thresholdKph, s.usesLocation, s.usesActivity, s.activities,
			s.startedAt, s.stoppedAt, s.stopReason,
			COUNT(p.id), COALESCE(SUM(p.endedAt - p.startedAt), 0)
		FROM sessions s
		LEFT JOIN pauses p ON p.sessionId = s.id
		GROUP BY s.id
		ORDER BY s.startedAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var r SessionRecord
		var startedAt, pausedSecs float64
		var stoppedAt sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.Label, &r.ThresholdKph, &r.UsesLocation, &r.UsesActivity,
			&r.Activities, &startedAt, &stoppedAt, &r.StopReason, &r.Pauses, &pausedSecs); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.StartedAt = timeFromUnix(startedAt)
		if stoppedAt.Valid {
			t := timeFromUnix(stoppedAt.Float64)
			r.StoppedAt = &t
		}
		r.PausedFor = time.Duration(pausedSecs * float64(time.Second)).Round(time.Millisecond)
		records = append(records, r)
	}
	return records, rows.Err()
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func timeFromUnix(secs float64) time.Time {
	return time.Unix(0, int64(secs*float64(time.Second))).UTC()
}
