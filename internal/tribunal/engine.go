package tribunal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/moonlit/internal/character"
	"github.com/MrWong99/moonlit/internal/discovery"
	"github.com/MrWong99/moonlit/internal/observe"
)

// Definitions serves the statically configured events.
type Definitions interface {
	// Definition returns the event with the given ID.
	Definition(id string) (Definition, bool)

	// Definitions returns all events in configuration order.
	Definitions() []Definition
}

// ClueSource reads the discovery log.
type ClueSource interface {
	List(ctx context.Context) ([]discovery.Clue, error)
}

// PortraitResolver maps a speaker to its presentation image.
type PortraitResolver interface {
	Resolve(id string, rec *character.Record) string
}

// Settings are the tunables of an [Engine]. They may be swapped at runtime
// via [Engine.UpdateSettings].
type Settings struct {
	// HistoryCap bounds both sanitised input and returned transcripts.
	HistoryCap int

	// SelectionWindow is how many trailing entries the moderator sees.
	SelectionWindow int

	// GenerationWindow is how many trailing entries the speaker sees.
	GenerationWindow int

	// JudgeSpeaker is the speaker ID recorded for player lines.
	JudgeSpeaker string

	// CluePlaceholder is the literal clue entry replaced by the discovery log.
	CluePlaceholder string

	// FuzzySpeakerMatch enables phonetic recovery of misspelled speaker IDs
	// in moderator replies. Off by default.
	FuzzySpeakerMatch bool
}

// DefaultSettings returns the stock tunables.
func DefaultSettings() Settings {
	return Settings{
		HistoryCap:       DefaultHistoryCap,
		SelectionWindow:  DefaultSelectionWindow,
		GenerationWindow: DefaultGenerationWindow,
		JudgeSpeaker:     DefaultJudgeSpeaker,
		CluePlaceholder:  DefaultCluePlaceholder,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.HistoryCap <= 0 {
		s.HistoryCap = d.HistoryCap
	}
	if s.SelectionWindow <= 0 {
		s.SelectionWindow = d.SelectionWindow
	}
	if s.GenerationWindow <= 0 {
		s.GenerationWindow = d.GenerationWindow
	}
	if s.JudgeSpeaker == "" {
		s.JudgeSpeaker = d.JudgeSpeaker
	}
	if s.CluePlaceholder == "" {
		s.CluePlaceholder = d.CluePlaceholder
	}
	return s
}

// Engine composes clue resolution, speaker selection and line generation
// into single turns. It holds no per-event state and is safe for concurrent
// use; callers serialise turns of the same event themselves.
type Engine struct {
	defs      Definitions
	clues     ClueSource
	personas  PersonaSource
	text      TextGenerator
	portraits PortraitResolver
	matcher   NameMatcher
	metrics   *observe.Metrics
	settings  atomic.Pointer[Settings]
}

// Option configures an [Engine].
type Option func(*Engine)

// WithSettings sets the initial tunables. Zero fields take their defaults.
func WithSettings(s Settings) Option {
	return func(e *Engine) {
		s = s.withDefaults()
		e.settings.Store(&s)
	}
}

// WithPortraits overrides the portrait resolver. Default: "images/<id>.png"
// unless the record names a portrait.
func WithPortraits(p PortraitResolver) Option {
	return func(e *Engine) { e.portraits = p }
}

// WithMatcher installs the matcher used when [Settings.FuzzySpeakerMatch] is
// enabled.
func WithMatcher(m NameMatcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an [Engine].
func New(defs Definitions, clues ClueSource, personas PersonaSource, text TextGenerator, opts ...Option) *Engine {
	e := &Engine{
		defs:      defs,
		clues:     clues,
		personas:  personas,
		text:      text,
		portraits: character.NewPortraits("", nil),
	}
	d := DefaultSettings()
	e.settings.Store(&d)
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Settings returns the current tunables.
func (e *Engine) Settings() Settings { return *e.settings.Load() }

// UpdateSettings atomically replaces the tunables. Turns already in flight
// keep the values they started with.
func (e *Engine) UpdateSettings(s Settings) {
	s = s.withDefaults()
	e.settings.Store(&s)
}

// ResolveEvent returns the event with the given ID, its clue list resolved
// against the current discovery log. Returns [ErrEventNotFound] for an
// unknown ID.
func (e *Engine) ResolveEvent(ctx context.Context, id string) (*Event, error) {
	def, ok := e.defs.Definition(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEventNotFound, id)
	}
	discovered, err := e.discovered(ctx, def)
	if err != nil {
		return nil, err
	}
	return Resolve(def, discovered, e.Settings().CluePlaceholder), nil
}

// Events resolves every configured event. The discovery log is read once.
func (e *Engine) Events(ctx context.Context) ([]*Event, error) {
	defs := e.defs.Definitions()
	placeholder := e.Settings().CluePlaceholder

	var discovered []discovery.Clue
	for _, def := range defs {
		if usesPlaceholder(def, placeholder) {
			var err error
			if discovered, err = e.clues.List(ctx); err != nil {
				return nil, fmt.Errorf("tribunal: load discovery log: %w", err)
			}
			break
		}
	}

	events := make([]*Event, 0, len(defs))
	for _, def := range defs {
		events = append(events, Resolve(def, discovered, placeholder))
	}
	return events, nil
}

func (e *Engine) discovered(ctx context.Context, def Definition) ([]discovery.Clue, error) {
	if !usesPlaceholder(def, e.Settings().CluePlaceholder) {
		return nil, nil
	}
	clues, err := e.clues.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("tribunal: load discovery log: %w", err)
	}
	return clues, nil
}

func usesPlaceholder(def Definition, placeholder string) bool {
	for _, raw := range def.Clues {
		if s, ok := raw.(string); ok && s == placeholder {
			return true
		}
	}
	return false
}

// OrchestrateTurn performs one tribunal turn.
//
// The event is resolved first ([ErrEventNotFound]). For [ActionPlayer] a
// blank player input fails with a [*ValidationError]; otherwise the Judge's
// line is appended before selection. [ActionChoose] takes the speaker hint
// (or the first roster entry when blank) and skips the moderator; every
// other action lets the moderator pick. A speaker outside the roster is
// remapped to the first roster entry. Generation failures never surface as
// errors; they show up as degraded text in the returned line.
func (e *Engine) OrchestrateTurn(ctx context.Context, req TurnRequest) (res *TurnResult, err error) {
	st := e.Settings()
	action := normaliseAction(req.Action)

	ctx, span := observe.StartSpan(ctx, "tribunal.turn", trace.WithAttributes(
		attribute.String("tribunal.event_id", req.EventID),
		attribute.String("tribunal.action", string(action)),
	))
	start := time.Now()
	e.metrics.ActiveTurns.Add(ctx, 1)
	defer func() {
		e.metrics.ActiveTurns.Add(ctx, -1)
		status := "ok"
		if err != nil {
			status = "error"
		}
		observe.FailSpan(span, err)
		e.metrics.RecordTurn(ctx, string(action), status, time.Since(start).Seconds())
		span.End()
	}()

	ev, err := e.ResolveEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if len(ev.Roster) == 0 {
		return nil, fmt.Errorf("tribunal: event %q has an empty roster", ev.ID)
	}

	history := Sanitize(req.History, st.HistoryCap)

	if action == ActionPlayer {
		input := strings.TrimSpace(req.PlayerInput)
		if input == "" {
			return nil, &ValidationError{Reason: "Player input required"}
		}
		history = append(history, Entry{Speaker: st.JudgeSpeaker, Text: input})
	}

	var speaker string
	if action == ActionChoose {
		speaker = strings.TrimSpace(req.SpeakerHint)
		if speaker == "" {
			speaker = ev.Roster[0]
		}
	} else {
		sel := e.selector(st).Select(ctx, ev, history)
		e.metrics.RecordSelection(ctx, sel.Outcome)
		speaker = sel.Speaker
		observe.Logger(ctx).Debug("tribunal: speaker selected",
			"event_id", ev.ID, "speaker", speaker, "outcome", sel.Outcome, "rotated", sel.Rotated)
	}

	if !inRoster(ev.Roster, speaker) {
		observe.Logger(ctx).Debug("tribunal: speaker outside roster, using first entry",
			"event_id", ev.ID, "speaker", speaker, "fallback", ev.Roster[0])
		speaker = ev.Roster[0]
	}
	span.SetAttributes(attribute.String("tribunal.speaker", speaker))

	line := NewGenerator(e.text, e.personas, st.GenerationWindow).Generate(ctx, ev, speaker, history)
	history = append(history, Entry{Speaker: speaker, Text: line})
	e.metrics.RecordUtterance(ctx, speaker)

	rec := e.lookup(ctx, speaker)
	res = &TurnResult{
		Speaker:     speaker,
		SpeakerName: character.DisplayName(speaker, rec),
		Message:     line,
		History:     tail(history, st.HistoryCap),
		Portrait:    e.portraits.Resolve(speaker, rec),
	}

	observe.Logger(ctx).LogAttrs(ctx, slog.LevelInfo, "tribunal: turn complete",
		slog.String("event_id", ev.ID),
		slog.String("action", string(action)),
		slog.String("speaker", speaker),
		slog.Int("history_len", len(res.History)),
	)
	return res, nil
}

func (e *Engine) selector(st Settings) *Selector {
	opts := []SelectorOption{WithSelectionWindow(st.SelectionWindow)}
	if st.FuzzySpeakerMatch && e.matcher != nil {
		opts = append(opts, WithNameMatcher(e.matcher))
	}
	return NewSelector(e.text, opts...)
}

func (e *Engine) lookup(ctx context.Context, id string) *character.Record {
	if e.personas == nil {
		return nil
	}
	rec, err := e.personas.Get(ctx, id)
	if err != nil {
		observe.Logger(ctx).Warn("tribunal: character lookup failed", "speaker", id, "err", err)
		return nil
	}
	return rec
}

// normaliseAction maps blank and unrecognised actions to [ActionAuto].
func normaliseAction(a Action) Action {
	switch a {
	case ActionPlayer, ActionChoose:
		return a
	default:
		return ActionAuto
	}
}

func inRoster(roster []string, id string) bool {
	for _, r := range roster {
		if r == id {
			return true
		}
	}
	return false
}
