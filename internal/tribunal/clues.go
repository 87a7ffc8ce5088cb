package tribunal

import (
	"fmt"

	"github.com/MrWong99/moonlit/internal/discovery"
)

// ResolveClues computes the effective clue list of def.
//
// When any raw entry equals placeholder, the whole list is replaced by a
// copy of discovered (literal clues next to the placeholder are dropped).
// Otherwise the literal clues are returned, copied. Bare strings other than
// the placeholder become {"text": s}. def and discovered are never
// modified.
func ResolveClues(def Definition, discovered []discovery.Clue, placeholder string) []discovery.Clue {
	if placeholder == "" {
		placeholder = DefaultCluePlaceholder
	}

	literal := make([]discovery.Clue, 0, len(def.Clues))
	for _, raw := range def.Clues {
		if s, ok := raw.(string); ok && s == placeholder {
			return discovery.CloneAll(discovered)
		}
		if c := literalClue(raw); c != nil {
			literal = append(literal, c)
		}
	}
	return literal
}

func literalClue(raw any) discovery.Clue {
	switch v := raw.(type) {
	case nil:
		return nil
	case discovery.Clue:
		return v.Clone()
	case map[string]any:
		return discovery.Clue(v).Clone()
	case string:
		return discovery.Clue{discovery.FieldText: v}
	default:
		return discovery.Clue{discovery.FieldText: fmt.Sprint(v)}
	}
}

// Resolve turns def into an [Event] with resolved clues. The result shares no
// memory with def or discovered.
func Resolve(def Definition, discovered []discovery.Clue, placeholder string) *Event {
	logs := append([]Entry{}, def.GameLogs...)
	return &Event{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Roster:      append([]string{}, def.Roster...),
		Clues:       ResolveClues(def, discovered, placeholder),
		GameLogs:    logs,
	}
}
