// Package character provides the persona records the tribunal and the chat
// companions speak through. A [Record] carries the prompt material for one
// mythic entity (persona text, abilities, emotion cue) plus presentation
// data such as its display name and portrait.
//
// Records are loaded from a JSON or YAML file keyed by character ID
// ([LoadFile]) and served from a [Store]. [MemStore] holds a file-loaded
// snapshot; [PostgresStore] keeps them in a characters table using JSONB
// for list and map fields.
package character

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrNotFound is returned by [Require] when no record exists for an ID.
var ErrNotFound = errors.New("character: not found")

// DefaultEmotion is the emotion cue used when a record does not set one.
const DefaultEmotion = "neutral"

// Record is the persona definition of a single character.
type Record struct {
	// ID is the unique, lowercase identifier used in event rosters.
	ID string `json:"id" yaml:"id"`

	// Name is the in-world display name (e.g., "Kui, the One-Legged Thunder Ox").
	Name string `json:"name" yaml:"name"`

	// SystemPrompt is the free-text persona description fed to the model.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`

	// Abilities lists signature powers, rendered comma-separated in prompts.
	Abilities []string `json:"abilities" yaml:"abilities"`

	// EmotionState is a short mood cue such as "defiant" or "anxious".
	EmotionState string `json:"emotion_state,omitempty" yaml:"emotion_state"`

	// Appearance describes how the character looks.
	Appearance string `json:"appearance,omitempty" yaml:"appearance"`

	// Purpose is the character's motive in the story.
	Purpose string `json:"purpose,omitempty" yaml:"purpose"`

	// Portrait overrides the default portrait path when non-empty.
	Portrait string `json:"portrait,omitempty" yaml:"portrait"`

	// Attributes holds any additional metadata.
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes"`
}

// Validate checks that the record has the fields every consumer relies on.
func (r *Record) Validate() error {
	var errs []error
	if strings.TrimSpace(r.ID) == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	for i, a := range r.Abilities {
		if strings.TrimSpace(a) == "" {
			errs = append(errs, fmt.Errorf("abilities[%d] must not be empty", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("character: invalid record %q: %w", r.ID, errors.Join(errs...))
	}
	return nil
}

// Emotion returns the emotion cue, defaulting to [DefaultEmotion].
func (r *Record) Emotion() string {
	if r == nil || r.EmotionState == "" {
		return DefaultEmotion
	}
	return r.EmotionState
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Abilities = append([]string(nil), r.Abilities...)
	if r.Attributes != nil {
		cp.Attributes = make(map[string]any, len(r.Attributes))
		for k, v := range r.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}

// DisplayName returns rec.Name when set, otherwise the ID in title case
// ("jiuweihu" becomes "Jiuweihu").
func DisplayName(id string, rec *Record) string {
	if rec != nil && rec.Name != "" {
		return rec.Name
	}
	return cases.Title(language.Und).String(id)
}
