// Package app wires the Moonlit subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithDiscoveryLog,
// WithCharacterStore, etc.). When an option is not provided, New creates the
// real implementation selected by the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/moonlit/internal/casebook"
	"github.com/MrWong99/moonlit/internal/character"
	"github.com/MrWong99/moonlit/internal/companion"
	"github.com/MrWong99/moonlit/internal/config"
	"github.com/MrWong99/moonlit/internal/discovery"
	"github.com/MrWong99/moonlit/internal/health"
	"github.com/MrWong99/moonlit/internal/observe"
	"github.com/MrWong99/moonlit/internal/phonetic"
	"github.com/MrWong99/moonlit/internal/resilience"
	"github.com/MrWong99/moonlit/internal/server"
	"github.com/MrWong99/moonlit/internal/textgen"
	"github.com/MrWong99/moonlit/internal/tribunal"
	"github.com/MrWong99/moonlit/pkg/provider/llm"
)

// Thresholds for fuzzy character lookup in companion chat. Stricter than the
// matcher defaults because a false hit puts the wrong fact sheet in the prompt.
const (
	companionPhoneticThreshold = 0.9
	companionFuzzyThreshold    = 0.92
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	llm     llm.Provider
	metrics *observe.Metrics
	level   *slog.LevelVar

	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	pool      *pgxpool.Pool
	clueLog   discovery.Log
	journal   *discovery.Journal
	chars     character.Store
	catalog   *casebook.Catalog
	portraits *portraitSwap
	text      *textgen.Generator
	engine    *tribunal.Engine
	chat      *companion.Service
	http      *server.Server
	health    *health.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDiscoveryLog injects a discovery log instead of opening the configured backend.
func WithDiscoveryLog(l discovery.Log) Option {
	return func(a *App) { a.clueLog = l }
}

// WithCharacterStore injects a character store instead of creating one from config.
func WithCharacterStore(s character.Store) Option {
	return func(a *App) { a.chars = s }
}

// WithPool injects a PostgreSQL pool instead of dialling storage.postgres_dsn.
// The App does not close an injected pool.
func WithPool(p *pgxpool.Pool) Option {
	return func(a *App) { a.pool = p }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets what GET /metrics serves. Default: the global
// Prometheus registry via promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar hands the process log level to the App so config reloads can
// change it.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. p is the text
// generation backend, usually the failover chain from [BuildLLM]. It may be
// nil for callers that only touch events, clues and characters.
func New(ctx context.Context, cfg *config.Config, p llm.Provider, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, llm: p}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 1. Storage ────────────────────────────────────────────────────────
	if err := a.initPool(ctx); err != nil {
		return nil, fmt.Errorf("app: init postgres: %w", err)
	}
	if err := a.initDiscovery(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init discovery: %w", err)
	}
	if err := a.initCharacters(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init characters: %w", err)
	}

	// ── 2. Event definitions ──────────────────────────────────────────────
	defs, err := casebook.LoadFile(cfg.Casebook.EventsFile)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: load events: %w", err)
	}
	if a.catalog, err = casebook.NewCatalog(defs); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: load events: %w", err)
	}
	slog.Info("events loaded", "path", cfg.Casebook.EventsFile, "count", a.catalog.Len())

	// ── 3. Text generation and the turn engine ────────────────────────────
	a.text = textgen.New(p,
		textgen.WithProviderName(providerLabel(p)),
		textgen.WithTimeout(cfg.Tribunal.TurnTimeout),
		textgen.WithTemperature(cfg.Tribunal.Temperature),
		textgen.WithMaxTokens(cfg.Tribunal.MaxTokens),
		textgen.WithMetrics(a.metrics),
	)
	a.portraits = newPortraitSwap(cfg.Characters)
	a.engine = tribunal.New(a.catalog, a.journal, a.chars, a.text,
		tribunal.WithSettings(cfg.Tribunal.Settings()),
		tribunal.WithPortraits(a.portraits),
		tribunal.WithMatcher(phonetic.New()),
		tribunal.WithMetrics(a.metrics),
	)
	a.chat = companion.New(a.text, a.chars, companion.WithNameMatcher(phonetic.New(
		phonetic.WithPhoneticThreshold(companionPhoneticThreshold),
		phonetic.WithFuzzyThreshold(companionFuzzyThreshold),
	)))

	// ── 4. HTTP ───────────────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)
	a.http = server.New(a.engine, a.journal, a.chars, a.chat,
		server.WithCORSOrigins(cfg.Server.CORSOrigins...),
		server.WithMetrics(a.metrics),
		server.WithRoutes(a.health.Register),
		server.WithRoutes(func(mux *http.ServeMux) {
			if cfg.Observability.Metrics() {
				mux.Handle("GET /metrics", a.metricsHandler)
			}
		}),
	)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) needsPostgres() bool {
	return a.cfg.Discovery.Backend == config.DiscoveryPostgres ||
		a.cfg.Characters.Backend == config.CharactersPostgres
}

// initPool dials PostgreSQL when a backend needs it and no pool was injected.
func (a *App) initPool(ctx context.Context) error {
	if a.pool != nil || !a.needsPostgres() {
		return nil
	}
	if (a.clueLog != nil || a.cfg.Discovery.Backend != config.DiscoveryPostgres) &&
		(a.chars != nil || a.cfg.Characters.Backend != config.CharactersPostgres) {
		return nil // every postgres-backed store was injected
	}
	pool, err := pgxpool.New(ctx, a.cfg.Storage.PostgresDSN)
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// initDiscovery opens the configured discovery log unless one was injected.
func (a *App) initDiscovery(ctx context.Context) error {
	if a.clueLog == nil {
		switch a.cfg.Discovery.Backend {
		case config.DiscoverySQLite:
			l, err := discovery.OpenSQLite(a.cfg.Discovery.Path)
			if err != nil {
				return err
			}
			a.clueLog = l
		case config.DiscoveryPostgres:
			l := discovery.NewPostgresLog(a.pool)
			if err := l.Migrate(ctx); err != nil {
				return err
			}
			a.clueLog = l
		default:
			a.clueLog = discovery.NewFileLog(a.cfg.Discovery.Path)
		}
		a.closers = append(a.closers, a.clueLog.Close)
		slog.Info("discovery log ready", "backend", a.cfg.Discovery.Backend, "path", a.cfg.Discovery.Path)
	}
	a.journal = discovery.NewJournal(a.clueLog, discovery.WithMetrics(a.metrics))
	return nil
}

// initCharacters creates the configured character store unless one was injected.
func (a *App) initCharacters(ctx context.Context) error {
	if a.chars != nil {
		return nil
	}
	if a.cfg.Characters.Backend == config.CharactersPostgres {
		s := character.NewPostgresStore(a.pool)
		if err := s.Migrate(ctx); err != nil {
			return err
		}
		a.chars = s
		return nil
	}

	recs, err := character.LoadFile(a.cfg.Characters.File)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("character file not found, starting without personas", "path", a.cfg.Characters.File)
	case err != nil:
		return err
	}
	a.chars = character.NewMemStore(recs...)
	slog.Info("characters loaded", "path", a.cfg.Characters.File, "count", len(recs))
	return nil
}

// checkers returns the readiness probes of the wired dependencies.
func (a *App) checkers() []health.Checker {
	checks := []health.Checker{{
		Name: "discovery",
		Check: func(ctx context.Context) error {
			_, err := a.journal.List(ctx)
			return err
		},
	}}
	if a.pool != nil {
		checks = append(checks, health.Checker{Name: "postgres", Check: a.pool.Ping})
	}
	if fb, ok := a.llm.(*resilience.LLMFallback); ok {
		checks = append(checks, health.Checker{
			Name: "llm",
			Check: func(context.Context) error {
				for _, name := range fb.Backends() {
					if fb.Breaker(name).State() != resilience.StateOpen {
						return nil
					}
				}
				return resilience.ErrAllFailed
			},
		})
	}
	return checks
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the turn engine.
func (a *App) Engine() *tribunal.Engine { return a.engine }

// Journal returns the discovery journal.
func (a *App) Journal() *discovery.Journal { return a.journal }

// Characters returns the character store.
func (a *App) Characters() character.Store { return a.chars }

// Catalog returns the loaded event definitions.
func (a *App) Catalog() *casebook.Catalog { return a.catalog }

// Handler returns the full HTTP handler.
func (a *App) Handler() http.Handler { return a.http.Handler() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on server.listen_addr and blocks until ctx is cancelled or
// the listener fails. The server is drained gracefully on cancellation.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.cfg.Server.ListenAddr,
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change. Sections
// that need a restart are logged and ignored.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TribunalChanged {
		a.engine.UpdateSettings(new.Tribunal.Settings())
		slog.Info("tribunal settings reloaded")
	}
	if d.PortraitsChanged {
		a.portraits.set(new.Characters)
		slog.Info("portrait mapping reloaded")
	}
	if d.EventsChanged {
		a.ReloadEvents(new.Casebook.EventsFile)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// ReloadEvents replaces the event definitions from path. On error the
// previous definitions stay in place.
func (a *App) ReloadEvents(path string) {
	if err := a.catalog.Reload(path); err != nil {
		slog.Warn("event reload failed, keeping previous events", "path", path, "err", err)
		return
	}
	slog.Info("events reloaded", "path", path, "count", a.catalog.Len())
}

// ─── Migrate ─────────────────────────────────────────────────────────────────

// ImportCharacters upserts every record of characters.file into the store.
// It is how a PostgreSQL store gets seeded.
func (a *App) ImportCharacters(ctx context.Context) (int, error) {
	recs, err := character.LoadFile(a.cfg.Characters.File)
	if err != nil {
		return 0, fmt.Errorf("app: import characters: %w", err)
	}
	return character.Import(ctx, a.chars, recs)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far when New fails half-way.
func (a *App) closeAll() {
	_ = a.Shutdown(context.Background())
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel converts a config level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func providerLabel(p llm.Provider) string {
	if fb, ok := p.(*resilience.LLMFallback); ok {
		if names := fb.Backends(); len(names) == 1 {
			return names[0]
		}
		return "llm-chain"
	}
	return "llm"
}

// portraitSwap lets the portrait mapping change while the engine runs.
type portraitSwap struct {
	p atomic.Pointer[character.Portraits]
}

func newPortraitSwap(cc config.CharactersConfig) *portraitSwap {
	s := &portraitSwap{}
	s.set(cc)
	return s
}

func (s *portraitSwap) set(cc config.CharactersConfig) {
	s.p.Store(character.NewPortraits(cc.PortraitDir, cc.Portraits))
}

func (s *portraitSwap) Resolve(id string, rec *character.Record) string {
	return s.p.Load().Resolve(id, rec)
}
