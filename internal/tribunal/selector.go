package tribunal

import (
	"context"
	"fmt"
	"strings"
)

// TextGenerator is the single language-model boundary. Implementations never
// fail; a failed call comes back as an error-shaped string.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) string
}

// NameMatcher locates one of names inside free text. It backs the optional
// fuzzy fallback of the [Selector].
type NameMatcher interface {
	Scan(text string, names []string) (name string, confidence float64, matched bool)
}

// Selection outcomes reported in [Selection.Outcome].
const (
	OutcomeNamed   = "named"
	OutcomeFuzzy   = "fuzzy"
	OutcomeDefault = "default"
)

// Selection is the result of [Selector.Select].
type Selection struct {
	// Speaker is always a member of the event roster, or "" for an empty
	// roster.
	Speaker string

	// Outcome records how the moderator reply was interpreted.
	Outcome string

	// Rotated is true when the anti-repeat rule moved the pick to the next
	// roster entry.
	Rotated bool
}

// Selector asks the moderator prompt who speaks next.
type Selector struct {
	text    TextGenerator
	window  int
	matcher NameMatcher
}

// SelectorOption configures a [Selector].
type SelectorOption func(*Selector)

// WithSelectionWindow sets how many trailing transcript entries the
// moderator sees. Default: [DefaultSelectionWindow].
func WithSelectionWindow(n int) SelectorOption {
	return func(s *Selector) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithNameMatcher enables fuzzy name recovery when the moderator reply
// contains no exact roster ID. Nil disables it.
func WithNameMatcher(m NameMatcher) SelectorOption {
	return func(s *Selector) { s.matcher = m }
}

// NewSelector creates a [Selector] backed by text.
func NewSelector(text TextGenerator, opts ...SelectorOption) *Selector {
	s := &Selector{text: text, window: DefaultSelectionWindow}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Select picks the next speaker for ev. It never fails: unusable model output
// falls back to the first roster entry. When the pick equals the speaker of
// the last history entry and the roster has more than one member, the next
// roster entry (wrapping around) is chosen instead.
func (s *Selector) Select(ctx context.Context, ev *Event, history []Entry) Selection {
	if len(ev.Roster) == 0 {
		return Selection{Outcome: OutcomeDefault}
	}

	reply := s.text.GenerateText(ctx, selectionPrompt(ev, tail(history, s.window)))

	sel := Selection{Speaker: ev.Roster[0], Outcome: OutcomeDefault}
	if id, ok := rightmostMention(reply, ev.Roster); ok {
		sel.Speaker, sel.Outcome = id, OutcomeNamed
	} else if s.matcher != nil {
		if id, _, ok := s.matcher.Scan(reply, ev.Roster); ok {
			sel.Speaker, sel.Outcome = id, OutcomeFuzzy
		}
	}

	if len(history) > 0 && len(ev.Roster) > 1 && sel.Speaker == history[len(history)-1].Speaker {
		sel.Speaker = nextInRoster(ev.Roster, sel.Speaker)
		sel.Rotated = true
	}
	return sel
}

// rightmostMention scans roster in order and returns the ID whose last
// case-insensitive occurrence in reply sits furthest right. On equal
// positions the earlier roster entry is kept.
func rightmostMention(reply string, roster []string) (string, bool) {
	lower := strings.ToLower(reply)
	best, bestIdx := "", -1
	for _, id := range roster {
		if id == "" {
			continue
		}
		if idx := strings.LastIndex(lower, strings.ToLower(id)); idx > bestIdx {
			best, bestIdx = id, idx
		}
	}
	return best, bestIdx >= 0
}

// nextInRoster returns the entry after the first occurrence of id, wrapping
// around.
func nextInRoster(roster []string, id string) string {
	for i, r := range roster {
		if r == id {
			return roster[(i+1)%len(roster)]
		}
	}
	return roster[0]
}

func selectionPrompt(ev *Event, window []Entry) string {
	transcript := renderTranscript(window)
	if transcript == "" {
		transcript = "No dialogue yet."
	}
	return fmt.Sprintf(`You are Monokuma-style moderator of the Moonlit Tribunal "%s".
Recent dialogue:
%s

Available speakers (mythic suspects): %s.

Rules:
- Rotate speakers dramatically; avoid the same NPC twice.
- Prioritize characters recently accused or mentioned.
- If the Judge just spoke, pick the NPC they pressured.

Respond ONLY with the id of your selection.
`, ev.Name, transcript, strings.Join(ev.Roster, ", "))
}
