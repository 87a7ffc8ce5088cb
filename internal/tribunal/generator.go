package tribunal

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/moonlit/internal/character"
	"github.com/MrWong99/moonlit/internal/observe"
)

// PersonaSource looks up character records. It returns (nil, nil) for an
// unknown ID; [character.Store] satisfies it.
type PersonaSource interface {
	Get(ctx context.Context, id string) (*character.Record, error)
}

// Generator produces one line of dialogue for a speaker.
type Generator struct {
	text     TextGenerator
	personas PersonaSource
	window   int
}

// NewGenerator creates a [Generator]. window is the number of trailing
// transcript entries included in the prompt; <= 0 selects
// [DefaultGenerationWindow].
func NewGenerator(text TextGenerator, personas PersonaSource, window int) *Generator {
	if window <= 0 {
		window = DefaultGenerationWindow
	}
	return &Generator{text: text, personas: personas, window: window}
}

// Generate returns speaker's next line. The result is never empty: a blank
// model reply becomes [EmptyUtterancePlaceholder]. Model failures arrive as
// error-shaped text and are returned as the line itself; there is no retry.
func (g *Generator) Generate(ctx context.Context, ev *Event, speaker string, history []Entry) string {
	rec := g.persona(ctx, speaker)
	line := strings.TrimSpace(g.text.GenerateText(ctx, utterancePrompt(ev, speaker, rec, tail(history, g.window))))
	if line == "" {
		return EmptyUtterancePlaceholder
	}
	return line
}

// persona fetches the speaker's record. Lookup failures degrade to an empty
// persona so that generation still happens.
func (g *Generator) persona(ctx context.Context, id string) *character.Record {
	if g.personas == nil {
		return nil
	}
	rec, err := g.personas.Get(ctx, id)
	if err != nil {
		observe.Logger(ctx).Warn("tribunal: persona lookup failed", "speaker", id, "err", err)
		return nil
	}
	return rec
}

func utterancePrompt(ev *Event, speaker string, rec *character.Record, window []Entry) string {
	var persona string
	var abilities []string
	if rec != nil {
		persona = rec.SystemPrompt
		abilities = rec.Abilities
	}
	abilityText := strings.Join(abilities, ", ")
	if abilityText == "" {
		abilityText = "unknown"
	}

	var clueLines []string
	for _, c := range ev.Clues {
		if t := c.Text(); t != "" {
			clueLines = append(clueLines, "- "+t)
		}
	}
	clueText := strings.Join(clueLines, "\n")
	if clueText == "" {
		clueText = "- (none)"
	}

	transcript := renderTranscript(window)
	if transcript == "" {
		transcript = "No conversation yet."
	}

	return fmt.Sprintf(`You are %s, a Shan Hai Jing entity in a Danganronpa-style showdown.
Persona: %s
Emotion cue: %s
Signature abilities: %s

Case: %s
Description: %s
Unlocked clues:
%s

Last exchanges:
%s

Speak in 1-3 short sentences (≤80 words). Reference a clue or emotion when possible.
If accused, defend; if another NPC was mentioned, react sharply. End with tension.
`, speaker, persona, rec.Emotion(), abilityText, ev.Name, ev.Description, clueText, transcript)
}
