package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/abhisheknishant138/rotor/internal/model"

	_ "modernc.org/sqlite"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS deployment_events (
    id          TEXT PRIMARY KEY,
    deployment  TEXT NOT NULL,
    type        TEXT NOT NULL,
    detail      TEXT,
    created_at  DATETIME NOT NULL
)`

const createDeploymentIndex = `
CREATE INDEX IF NOT EXISTS idx_deployment_events_deployment
    ON deployment_events (deployment, id)`

// Compile-time interface satisfaction check.
var _ Journal = (*SQLiteJournal)(nil)

// SQLiteJournal implements Journal using SQLite. Event ids are ULIDs, so
// ordering by id is chronological.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens the SQLite database at dbPath and creates the
// schema if needed.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createEventsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}

	if _, err := db.Exec(createDeploymentIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("create deployment index: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// Append records one lifecycle event.
func (j *SQLiteJournal) Append(ctx context.Context, ev model.Event) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO deployment_events (id, deployment, type, detail, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Deployment, ev.Type, ev.Detail, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListByDeployment returns up to limit of the most recent events for the
// named deployment, oldest first.
func (j *SQLiteJournal) ListByDeployment(ctx context.Context, name string, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, deployment, type, detail, created_at
		 FROM deployment_events WHERE deployment = ?
		 ORDER BY id DESC LIMIT ?`, name, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	// The query walks the index newest first; flip back to story order.
	for i, k := 0, len(events)-1; i < k; i, k = i+1, k-1 {
		events[i], events[k] = events[k], events[i]
	}
	return events, nil
}

// ListRecent returns up to limit events across all deployments, newest first.
func (j *SQLiteJournal) ListRecent(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, deployment, type, detail, created_at
		 FROM deployment_events
		 ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Stats reports the event total, the number of distinct deployments seen,
// and a per-type breakdown.
func (j *SQLiteJournal) Stats(ctx context.Context) (*Stats, error) {
	tx, err := j.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &Stats{CountByType: make(map[string]int)}

	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT deployment) FROM deployment_events",
	).Scan(&stats.Total, &stats.Deployments)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT type, COUNT(*) FROM deployment_events GROUP BY type",
	)
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		stats.CountByType[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate type counts: %w", err)
	}

	return stats, nil
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var ev model.Event
		if err := rows.Scan(&ev.ID, &ev.Deployment, &ev.Type, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
