package tribunal

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/moonlit/internal/character"
	"github.com/MrWong99/moonlit/internal/discovery"
	"github.com/MrWong99/moonlit/internal/observe"
)

// scriptedText is a TextGenerator whose replies come from a function. All
// prompts are recorded.
type scriptedText struct {
	mu      sync.Mutex
	reply   func(prompt string) string
	prompts []string
}

func replyAlways(s string) *scriptedText {
	return &scriptedText{reply: func(string) string { return s }}
}

func (s *scriptedText) GenerateText(_ context.Context, prompt string) string {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	return s.reply(prompt)
}

func (s *scriptedText) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// isSelectionPrompt distinguishes moderator prompts from line prompts.
func isSelectionPrompt(p string) bool { return strings.Contains(p, "Respond ONLY with the id") }

// staticDefs is an in-memory Definitions.
type staticDefs []Definition

func (d staticDefs) Definition(id string) (Definition, bool) {
	for _, def := range d {
		if def.ID == id {
			return def, true
		}
	}
	return Definition{}, false
}

func (d staticDefs) Definitions() []Definition { return d }

// clueList is a fixed ClueSource.
type clueList struct {
	clues []discovery.Clue
	err   error
	reads int
}

func (c *clueList) List(context.Context) ([]discovery.Clue, error) {
	c.reads++
	if c.err != nil {
		return nil, c.err
	}
	return c.clues, nil
}

// failingPersonas always errors.
type failingPersonas struct{}

func (failingPersonas) Get(context.Context, string) (*character.Record, error) {
	return nil, errors.New("persona store offline")
}

func noopMetrics() *observe.Metrics {
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic(err)
	}
	return m
}

func newTestEngine(defs staticDefs, clues ClueSource, personas PersonaSource, text TextGenerator, opts ...Option) *Engine {
	opts = append([]Option{WithMetrics(noopMetrics())}, opts...)
	return New(defs, clues, personas, text, opts...)
}
