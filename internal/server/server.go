// Package server exposes the tribunal, the discovery log, the character
// records and companion chat over HTTP with JSON bodies.
//
// Every error response has the shape {"success": false, "error": "..."}.
// Validation failures answer 400, unknown events and characters 404, and
// anything else 500.
package server

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/MrWong99/moonlit/internal/character"
	"github.com/MrWong99/moonlit/internal/discovery"
	"github.com/MrWong99/moonlit/internal/observe"
	"github.com/MrWong99/moonlit/internal/tribunal"
)

// defaultMaxBody caps request bodies.
const defaultMaxBody = 1 << 20

// Tribunal is the turn engine.
type Tribunal interface {
	OrchestrateTurn(ctx context.Context, req tribunal.TurnRequest) (*tribunal.TurnResult, error)
	ResolveEvent(ctx context.Context, id string) (*tribunal.Event, error)
	Events(ctx context.Context) ([]*tribunal.Event, error)
}

// Journal is the discovery log.
type Journal interface {
	Append(ctx context.Context, s discovery.Submission) (discovery.Clue, error)
	List(ctx context.Context) ([]discovery.Clue, error)
	Reset(ctx context.Context) error
}

// Characters is the read side of the character store.
type Characters interface {
	Get(ctx context.Context, id string) (*character.Record, error)
	List(ctx context.Context) ([]character.Record, error)
}

// Chat answers free-form companion and NPC messages.
type Chat interface {
	Chat(ctx context.Context, npcID, message string, history any) (string, error)
}

// Server routes HTTP requests to the Moonlit services.
type Server struct {
	tribunal Tribunal
	journal  Journal
	chars    Characters
	chat     Chat

	locks   tribunal.TurnLocks
	origins []string
	maxBody int64
	metrics *observe.Metrics
	extra   []func(*http.ServeMux)
}

// Option configures a [Server].
type Option func(*Server)

// WithCORSOrigins sets the allowed origins. "*" allows any origin and is the
// default.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithMaxBodyBytes caps request bodies. Default: 1 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRoutes lets callers mount additional handlers (probes, /metrics) on
// the same mux.
func WithRoutes(register func(*http.ServeMux)) Option {
	return func(s *Server) { s.extra = append(s.extra, register) }
}

// New creates a [Server].
func New(t Tribunal, j Journal, chars Characters, chat Chat, opts ...Option) *Server {
	s := &Server{
		tribunal: t,
		journal:  j,
		chars:    chars,
		chat:     chat,
		origins:  []string{"*"},
		maxBody:  defaultMaxBody,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the complete HTTP handler: routes wrapped in CORS and the
// observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	for _, register := range s.extra {
		register(mux)
	}
	return s.cors(observe.Middleware(s.metrics)(mux))
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/tribunal/act", s.handleAct)
	mux.HandleFunc("GET /api/tribunal/events", s.handleEvents)
	mux.HandleFunc("GET /api/tribunal/event/{id}", s.handleEvent)

	mux.HandleFunc("POST /api/clues/log", s.handleLogClue)
	mux.HandleFunc("POST /api/clues/reset", s.handleResetClues)
	mux.HandleFunc("GET /api/clues", s.handleListClues)

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/characters", s.handleCharacters)
	mux.HandleFunc("GET /api/character/{id}", s.handleCharacter)
}

// cors answers preflight requests and stamps the allow headers.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowOrigin(r.Header.Get("Origin")); origin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if origin != "*" {
				h.Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	if slices.Contains(s.origins, "*") {
		return "*"
	}
	if origin == "" {
		return ""
	}
	for _, o := range s.origins {
		if strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
