// Package discovery records the clues players unlock while exploring.
//
// The log is append-only from the player's perspective and is shared by all
// events: any event whose clue list carries the discovery placeholder sees
// every entry recorded here. Three [Log] backends are provided: a JSON file
// ([FileLog]), SQLite ([SQLiteLog]) and PostgreSQL ([PostgresLog]).
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/moonlit/internal/observe"
)

// ErrInvalidClue is returned when a submitted clue lacks a required field.
var ErrInvalidClue = errors.New("discovery: missing area, beast, or text")

// Field names written into every recorded clue.
const (
	FieldID        = "id"
	FieldArea      = "area"
	FieldBeast     = "beast"
	FieldText      = "text"
	FieldTimestamp = "timestamp"
)

// Clue is a free-form clue record. Consumers only rely on the "text" field;
// all other attributes are carried through untouched.
type Clue map[string]any

// Text returns the clue's text attribute, or "" when absent or not a string.
func (c Clue) Text() string {
	s, _ := c[FieldText].(string)
	return s
}

// Clone returns a deep copy of c. Nested maps and slices are copied so the
// result can be mutated without affecting the source.
func (c Clue) Clone() Clue {
	if c == nil {
		return nil
	}
	out := make(Clue, len(c))
	for k, v := range c {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies JSON-shaped values (maps, slices, scalars).
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = CloneValue(inner)
		}
		return m
	case Clue:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = CloneValue(inner)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// CloneAll deep-copies a clue list. A nil input yields an empty, non-nil
// slice so that it serialises as [].
func CloneAll(clues []Clue) []Clue {
	out := make([]Clue, 0, len(clues))
	for _, c := range clues {
		out = append(out, c.Clone())
	}
	return out
}

// Submission is a clue reported by the exploration client.
type Submission struct {
	Area  string `json:"area"`
	Beast string `json:"beast"`
	Text  string `json:"text"`
}

// Validate reports [ErrInvalidClue] when any field is blank.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.Area) == "" || strings.TrimSpace(s.Beast) == "" || strings.TrimSpace(s.Text) == "" {
		return ErrInvalidClue
	}
	return nil
}

// Log is the storage contract for the discovery log. Implementations must be
// safe for concurrent use and must return entries in insertion order.
type Log interface {
	// Append stores c at the end of the log.
	Append(ctx context.Context, c Clue) error

	// List returns every stored clue in insertion order. An empty log
	// yields an empty slice.
	List(ctx context.Context) ([]Clue, error)

	// Reset removes every stored clue.
	Reset(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Journal stamps submissions and writes them to a [Log].
type Journal struct {
	log     Log
	now     func() time.Time
	ids     func() string
	metrics *observe.Metrics
}

// JournalOption configures a [Journal].
type JournalOption func(*Journal)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) JournalOption {
	return func(j *Journal) { j.now = now }
}

// WithIDs overrides the clue ID generator.
func WithIDs(ids func() string) JournalOption {
	return func(j *Journal) { j.ids = ids }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) JournalOption {
	return func(j *Journal) { j.metrics = m }
}

// NewJournal creates a [Journal] writing to log.
func NewJournal(log Log, opts ...JournalOption) *Journal {
	j := &Journal{
		log: log,
		now: time.Now,
		ids: uuid.NewString,
	}
	for _, o := range opts {
		o(j)
	}
	if j.metrics == nil {
		j.metrics = observe.DefaultMetrics()
	}
	return j
}

// Append validates s, stamps it with an ID and a UTC timestamp and appends it
// to the log. The stored record is returned.
func (j *Journal) Append(ctx context.Context, s Submission) (Clue, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	c := Clue{
		FieldID:        j.ids(),
		FieldArea:      s.Area,
		FieldBeast:     s.Beast,
		FieldText:      s.Text,
		FieldTimestamp: j.now().UTC().Format(time.RFC3339Nano),
	}
	if err := j.log.Append(ctx, c); err != nil {
		return nil, fmt.Errorf("discovery: append: %w", err)
	}
	j.metrics.CluesAppended.Add(ctx, 1)
	observe.Logger(ctx).Info("discovery: clue recorded", "id", c[FieldID], "area", s.Area, "beast", s.Beast)
	return c.Clone(), nil
}

// List returns the full discovery log.
func (j *Journal) List(ctx context.Context) ([]Clue, error) {
	clues, err := j.log.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery: list: %w", err)
	}
	return clues, nil
}

// Reset clears the discovery log.
func (j *Journal) Reset(ctx context.Context) error {
	if err := j.log.Reset(ctx); err != nil {
		return fmt.Errorf("discovery: reset: %w", err)
	}
	j.metrics.DiscoveryResets.Add(ctx, 1)
	observe.Logger(ctx).Info("discovery: log reset")
	return nil
}
