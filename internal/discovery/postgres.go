package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the discovered_clues table. Execute it via
// [PostgresLog.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS discovered_clues (
    seq         BIGSERIAL PRIMARY KEY,
    id          TEXT NOT NULL DEFAULT '',
    payload     JSONB NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresLog]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLog is a [Log] backed by PostgreSQL. Each clue is stored as a JSONB
// payload so arbitrary attributes survive the round trip.
type PostgresLog struct {
	db DB
}

var _ Log = (*PostgresLog)(nil)

// NewPostgresLog creates a [PostgresLog]. The caller is responsible for
// calling [PostgresLog.Migrate] before use and for closing the pool.
func NewPostgresLog(db DB) *PostgresLog {
	return &PostgresLog{db: db}
}

// Migrate executes the [Schema] DDL.
func (l *PostgresLog) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("discovery: migrate: %w", err)
	}
	return nil
}

// Append implements [Log].
func (l *PostgresLog) Append(ctx context.Context, c Clue) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("discovery: marshal: %w", err)
	}
	id, _ := c[FieldID].(string)
	_, err = l.db.Exec(ctx,
		`INSERT INTO discovered_clues (id, payload) VALUES ($1, $2)`,
		id, payload,
	)
	if err != nil {
		return fmt.Errorf("discovery: insert: %w", err)
	}
	return nil
}

// List implements [Log].
func (l *PostgresLog) List(ctx context.Context) ([]Clue, error) {
	rows, err := l.db.Query(ctx, `SELECT payload FROM discovered_clues ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("discovery: query: %w", err)
	}
	defer rows.Close()

	clues := []Clue{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("discovery: scan: %w", err)
		}
		var c Clue
		if err := json.Unmarshal(payload, &c); err != nil {
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
func (l *PostgresLog) Reset(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, `DELETE FROM discovered_clues`); err != nil {
		return fmt.Errorf("discovery: delete: %w", err)
	}
	return nil
}

// Close implements [Log]. The pool is owned by the caller.
func (l *PostgresLog) Close() error { return nil }
