package character

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/singleflight"
)

// Schema is the SQL DDL for the characters table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS characters (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    system_prompt TEXT NOT NULL DEFAULT '',
    abilities     JSONB NOT NULL DEFAULT '[]',
    emotion_state TEXT NOT NULL DEFAULT '',
    appearance    TEXT NOT NULL DEFAULT '',
    purpose       TEXT NOT NULL DEFAULT '',
    portrait      TEXT NOT NULL DEFAULT '',
    attributes    JSONB NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_characters_name ON characters(name);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db DB

	// lists collapses concurrent List calls into one query.
	lists singleflight.Group
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore]. The caller is responsible for
// calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("character: migrate: %w", err)
	}
	return nil
}

const selectColumns = `id, name, system_prompt, abilities, emotion_state,
	       appearance, purpose, portrait, attributes`

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	var abilitiesJSON, attrJSON []byte
	err := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM characters WHERE id = $1`, id).Scan(
		&rec.ID, &rec.Name, &rec.SystemPrompt, &abilitiesJSON, &rec.EmotionState,
		&rec.Appearance, &rec.Purpose, &rec.Portrait, &attrJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("character: get %q: %w", id, err)
	}
	if err := unmarshalFields(&rec, abilitiesJSON, attrJSON); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List implements [Store]. Concurrent callers share a single query; each
// receives its own copy of the records.
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	v, err, _ := s.lists.Do("list", func() (any, error) {
		return s.list(ctx)
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]Record)
	recs := make([]Record, len(shared))
	for i := range shared {
		recs[i] = *shared[i].Clone()
	}
	return recs, nil
}

func (s *PostgresStore) list(ctx context.Context) ([]Record, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM characters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("character: list: %w", err)
	}
	defer rows.Close()

	recs := []Record{}
	for rows.Next() {
		var rec Record
		var abilitiesJSON, attrJSON []byte
		if err := rows.Scan(
			&rec.ID, &rec.Name, &rec.SystemPrompt, &abilitiesJSON, &rec.EmotionState,
			&rec.Appearance, &rec.Purpose, &rec.Portrait, &attrJSON,
		); err != nil {
			return nil, fmt.Errorf("character: list scan: %w", err)
		}
		if err := unmarshalFields(&rec, abilitiesJSON, attrJSON); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("character: list: %w", err)
	}
	return recs, nil
}

// Upsert implements [Store].
func (s *PostgresStore) Upsert(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	abilities := rec.Abilities
	if abilities == nil {
		abilities = []string{}
	}
	abilitiesJSON, err := json.Marshal(abilities)
	if err != nil {
		return fmt.Errorf("character: marshal abilities: %w", err)
	}
	attrs := rec.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("character: marshal attributes: %w", err)
	}

	const query = `
		INSERT INTO characters (
			id, name, system_prompt, abilities, emotion_state,
			appearance, purpose, portrait, attributes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			system_prompt = EXCLUDED.system_prompt,
			abilities = EXCLUDED.abilities,
			emotion_state = EXCLUDED.emotion_state,
			appearance = EXCLUDED.appearance,
			purpose = EXCLUDED.purpose,
			portrait = EXCLUDED.portrait,
			attributes = EXCLUDED.attributes,
			updated_at = now()`

	_, err = s.db.Exec(ctx, query,
		rec.ID, rec.Name, rec.SystemPrompt, abilitiesJSON, rec.EmotionState,
		rec.Appearance, rec.Purpose, rec.Portrait, attrJSON,
	)
	if err != nil {
		return fmt.Errorf("character: upsert %q: %w", rec.ID, err)
	}
	return nil
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM characters WHERE id = $1`, id); err != nil {
		return fmt.Errorf("character: delete %q: %w", id, err)
	}
	return nil
}

func unmarshalFields(rec *Record, abilitiesJSON, attrJSON []byte) error {
	if len(abilitiesJSON) > 0 {
		if err := json.Unmarshal(abilitiesJSON, &rec.Abilities); err != nil {
			return fmt.Errorf("character: unmarshal abilities for %q: %w", rec.ID, err)
		}
	}
	if len(attrJSON) > 0 {
		if err := json.Unmarshal(attrJSON, &rec.Attributes); err != nil {
			return fmt.Errorf("character: unmarshal attributes for %q: %w", rec.ID, err)
		}
	}
	if len(rec.Attributes) == 0 {
		rec.Attributes = nil
	}
	return nil
}
