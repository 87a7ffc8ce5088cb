package discovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS discovered_clues (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL DEFAULT '',
    payload     TEXT NOT NULL,
    recorded_at TEXT NOT NULL DEFAULT ''
);`

// SQLiteLog is a [Log] backed by a local SQLite database using the pure-Go
// modernc.org/sqlite driver.
type SQLiteLog struct {
	db *sql.DB
}

var _ Log = (*SQLiteLog)(nil)

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLiteLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("discovery: sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("discovery: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("discovery: ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("discovery: migrate sqlite: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

// Append implements [Log].
func (l *SQLiteLog) Append(ctx context.Context, c Clue) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("discovery: marshal: %w", err)
	}
	id, _ := c[FieldID].(string)
	ts, _ := c[FieldTimestamp].(string)
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO discovered_clues (id, payload, recorded_at) VALUES (?, ?, ?)`,
		id, string(payload), ts,
	)
	if err != nil {
		return fmt.Errorf("discovery: insert: %w", err)
	}
	return nil
}

// List implements [Log].
func (l *SQLiteLog) List(ctx context.Context) ([]Clue, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT payload FROM discovered_clues ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("discovery: query: %w", err)
	}
	defer rows.Close()

	clues := []Clue{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("discovery: scan: %w", err)
		}
		var c Clue
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("discovery: decode stored clue: %w", err)
		}
		clues = append(clues, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discovery: iterate: %w", err)
	}
	return clues, nil
}

// Reset implements [Log].
func (l *SQLiteLog) Reset(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM discovered_clues`); err != nil {
		return fmt.Errorf("discovery: delete: %w", err)
	}
	return nil
}

// Close implements [Log].
func (l *SQLiteLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
