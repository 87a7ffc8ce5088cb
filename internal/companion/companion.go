// Package companion implements free-form chat outside the tribunal: the Baize
// guide, who answers questions about the bestiary, and direct conversation
// with any known character.
package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/moonlit/internal/character"
	"github.com/MrWong99/moonlit/internal/observe"
)

// GuideID is the NPC id answered by the Baize guide rather than a record.
const GuideID = "baize"

// ContextMessages is how many trailing chat messages are quoted in prompts.
const ContextMessages = 3

var (
	// ErrMissingInput is returned when the NPC id or the message is blank.
	ErrMissingInput = errors.New("companion: missing npc_id or message")

	// ErrUnknownNPC is returned for an NPC id with no character record.
	ErrUnknownNPC = errors.New("companion: unknown npc")
)

// UnknownNPCError names the NPC that could not be found. It matches
// [ErrUnknownNPC] with errors.Is.
type UnknownNPCError struct{ ID string }

func (e *UnknownNPCError) Error() string { return fmt.Sprintf("companion: unknown npc %q", e.ID) }

// Is makes errors.Is(err, ErrUnknownNPC) true.
func (e *UnknownNPCError) Is(target error) bool { return target == ErrUnknownNPC }

// TextGenerator produces model text; failures come back as text.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) string
}

// Characters is the read side of the character store.
type Characters interface {
	Get(ctx context.Context, id string) (*character.Record, error)
	List(ctx context.Context) ([]character.Record, error)
}

// NameMatcher recovers misspelled character names in free text.
type NameMatcher interface {
	Scan(text string, names []string) (name string, confidence float64, matched bool)
}

// Message is one line of a chat history as sent by the client.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Service answers chat messages.
type Service struct {
	text    TextGenerator
	chars   Characters
	matcher NameMatcher
}

// Option configures a [Service].
type Option func(*Service)

// WithNameMatcher enables fuzzy lookup of characters the guide is asked
// about, used when no id or name appears verbatim.
func WithNameMatcher(m NameMatcher) Option {
	return func(s *Service) { s.matcher = m }
}

// New creates a [Service].
func New(text TextGenerator, chars Characters, opts ...Option) *Service {
	s := &Service{text: text, chars: chars}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Chat answers message as npcID. history is the raw client history; only
// its last [ContextMessages] entries are used.
func (s *Service) Chat(ctx context.Context, npcID, message string, history any) (string, error) {
	if strings.TrimSpace(npcID) == "" || strings.TrimSpace(message) == "" {
		return "", ErrMissingInput
	}

	ctx, span := observe.StartSpan(ctx, "companion.chat", trace.WithAttributes(
		attribute.String("companion.npc_id", npcID),
	))
	defer span.End()

	recent := ParseHistory(history, ContextMessages)
	if npcID == GuideID {
		return s.guide(ctx, message, recent)
	}

	rec, err := s.chars.Get(ctx, npcID)
	if err != nil {
		return "", fmt.Errorf("companion: load %q: %w", npcID, err)
	}
	if rec == nil {
		return "", &UnknownNPCError{ID: npcID}
	}
	return s.text.GenerateText(ctx, npcPrompt(rec, message, recent)), nil
}

func (s *Service) guide(ctx context.Context, message string, recent []Message) (string, error) {
	rec, err := s.lookup(ctx, message)
	if err != nil {
		return "", err
	}
	if rec != nil {
		observe.Logger(ctx).Debug("companion: guide answering about character", "character", rec.ID)
	}
	return s.text.GenerateText(ctx, guidePrompt(rec, message, recent)), nil
}

// lookup finds the first character whose id or name occurs in query, ignoring
// case. Without a verbatim hit the name matcher, if any, gets a try.
func (s *Service) lookup(ctx context.Context, query string) (*character.Record, error) {
	recs, err := s.chars.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("companion: list characters: %w", err)
	}
	lower := strings.ToLower(query)
	for i := range recs {
		r := &recs[i]
		if strings.Contains(lower, strings.ToLower(r.ID)) ||
			(r.Name != "" && strings.Contains(lower, strings.ToLower(r.Name))) {
			return r, nil
		}
	}

	if s.matcher == nil || len(recs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	id, conf, ok := s.matcher.Scan(query, ids)
	if !ok {
		return nil, nil
	}
	observe.Logger(ctx).Debug("companion: fuzzy character match", "character", id, "confidence", conf)
	for i := range recs {
		if recs[i].ID == id {
			return &recs[i], nil
		}
	}
	return nil, nil
}

// ParseHistory keeps the last n entries of a raw client history. Objects
// without a string role get "unknown"; a missing text becomes empty.
// Entries that are not objects are skipped.
func ParseHistory(raw any, n int) []Message {
	var items []any
	switch h := raw.(type) {
	case []any:
		items = h
	case []Message:
		if len(h) > n {
			h = h[len(h)-n:]
		}
		return append([]Message(nil), h...)
	default:
		return nil
	}
	if len(items) > n {
		items = items[len(items)-n:]
	}
	out := make([]Message, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		msg := Message{Role: "unknown"}
		if r, ok := m["role"].(string); ok {
			msg.Role = r
		}
		if t, ok := m["text"].(string); ok {
			msg.Text = t
		}
		out = append(out, msg)
	}
	return out
}
