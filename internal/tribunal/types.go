// Package tribunal runs the turn-based trial dialogue: it decides which
// suspect speaks next, asks the language model for that suspect's line, and
// returns the extended transcript.
//
// The package is transport-agnostic. [Engine.OrchestrateTurn] performs
// exactly one turn per call and keeps no per-event state; the caller owns
// transcript persistence and must serialise turns per event (see
// [TurnLocks]). Event clue lists are resolved against the live discovery
// log on every read.
package tribunal

import (
	"errors"
	"fmt"

	"github.com/MrWong99/moonlit/internal/discovery"
)

// Defaults for [Settings].
const (
	DefaultHistoryCap         = 30
	DefaultSelectionWindow    = 8
	DefaultGenerationWindow   = 10
	DefaultJudgeSpeaker       = "Judge"
	DefaultCluePlaceholder    = "discovered_clues.json"
	EmptyUtterancePlaceholder = "..."
)

// ErrEventNotFound is returned when an event ID does not resolve.
var ErrEventNotFound = errors.New("tribunal: event not found")

// ErrValidation is the sentinel matched by every [*ValidationError].
var ErrValidation = errors.New("tribunal: validation failed")

// ValidationError reports a request the engine refused to act on. No state
// is mutated when it is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Is makes errors.Is(err, ErrValidation) true for every ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Entry is one transcript line.
type Entry struct {
	Speaker string `json:"speaker" yaml:"speaker"`
	Text    string `json:"text" yaml:"text"`
}

func (e Entry) String() string { return fmt.Sprintf("%s: %s", e.Speaker, e.Text) }

// Definition is a statically configured event as authored in the events
// file. Clues holds raw entries: clue objects, or the discovery placeholder
// string.
type Definition struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Roster      []string `json:"npcs" yaml:"npcs"`
	Clues       []any    `json:"p_clues" yaml:"p_clues"`
	GameLogs    []Entry  `json:"game_logs,omitempty" yaml:"game_logs"`
}

// Event is a [Definition] with its clue list resolved. It is always a fresh
// copy that callers may modify freely.
type Event struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Roster      []string         `json:"npcs"`
	Clues       []discovery.Clue `json:"p_clues"`
	GameLogs    []Entry          `json:"game_logs"`
}

// Action selects how a turn picks its speaker.
type Action string

const (
	// ActionAuto lets the moderator pick the speaker.
	ActionAuto Action = "auto"

	// ActionPlayer records the Judge's line first, then behaves like auto.
	ActionPlayer Action = "player"

	// ActionChoose uses the caller's speaker hint without consulting the
	// moderator.
	ActionChoose Action = "choose"
)

// TurnRequest is the input of one orchestration call.
type TurnRequest struct {
	EventID string
	Action  Action

	// SpeakerHint is only consulted for [ActionChoose].
	SpeakerHint string

	// PlayerInput is required for [ActionPlayer]; surrounding whitespace is
	// ignored.
	PlayerInput string

	// History is the raw, untrusted transcript as received from the client,
	// typically the result of decoding JSON into any.
	History any
}

// TurnResult is the outcome of one orchestration call.
type TurnResult struct {
	Speaker     string  `json:"speaker"`
	SpeakerName string  `json:"speaker_name"`
	Message     string  `json:"message"`
	History     []Entry `json:"history"`
	Portrait    string  `json:"portrait"`
}
