package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/moonlit/internal/tribunal"
)

// Defaults filled in by [ApplyDefaults].
const (
	DefaultListenAddr     = ":5001"
	DefaultLLMProvider    = "genai"
	DefaultLLMModel       = "gemini-2.5-flash"
	DefaultEventsFile     = "events.json"
	DefaultCharactersFile = "characters.json"
	DefaultPortraitDir    = "images"
	DefaultDiscoveryPath  = "discovered_clues.json"
	DefaultSQLitePath     = "moonlit.db"
	DefaultServiceName    = "moonlit"
)

// ValidLLMProviders lists the provider names registered by default.
// Used by [Validate] to warn about unrecognised provider names.
var ValidLLMProviders = []string{
	"genai", "openai-native",
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// envOverrides are the environment variables that take precedence over the
// YAML file. Empty values leave the file's setting untouched.
type envOverrides struct {
	ListenAddr       string `env:"MOONLIT_LISTEN_ADDR"`
	LogLevel         string `env:"MOONLIT_LOG_LEVEL"`
	LLMProvider      string `env:"MOONLIT_LLM_PROVIDER"`
	LLMModel         string `env:"MOONLIT_LLM_MODEL"`
	LLMAPIKey        string `env:"MOONLIT_LLM_API_KEY"`
	GoogleAPIKey     string `env:"GOOGLE_API_KEY"`
	DiscoveryBackend string `env:"MOONLIT_DISCOVERY_BACKEND"`
	PostgresDSN      string `env:"MOONLIT_POSTGRES_DSN"`
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies the process
// environment and defaults, and validates the result. An empty document is a
// valid config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses YAML from r without applying overrides or defaults. Unknown
// keys are rejected.
func Decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays MOONLIT_* environment variables onto cfg. When environ is
// nil the process environment is used. MOONLIT_LLM_API_KEY wins over the
// file; GOOGLE_API_KEY only fills an API key that is still empty.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.ListenAddr, o.ListenAddr)
	set((*string)(&cfg.Server.LogLevel), strings.ToLower(o.LogLevel))
	set(&cfg.Providers.LLM.Name, o.LLMProvider)
	set(&cfg.Providers.LLM.Model, o.LLMModel)
	set(&cfg.Providers.LLM.APIKey, o.LLMAPIKey)
	if cfg.Providers.LLM.APIKey == "" {
		cfg.Providers.LLM.APIKey = o.GoogleAPIKey
	}
	set((*string)(&cfg.Discovery.Backend), o.DiscoveryBackend)
	set(&cfg.Storage.PostgresDSN, o.PostgresDSN)
	return nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	def := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}

	def(&cfg.Server.ListenAddr, DefaultListenAddr)
	def((*string)(&cfg.Server.LogLevel), string(LogInfo))
	def((*string)(&cfg.Server.LogFormat), string(LogFormatText))
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}

	def(&cfg.Providers.LLM.Name, DefaultLLMProvider)
	if cfg.Providers.LLM.Model == "" && cfg.Providers.LLM.Name == DefaultLLMProvider {
		cfg.Providers.LLM.Model = DefaultLLMModel
	}

	t := &cfg.Tribunal
	if t.HistoryCap == 0 {
		t.HistoryCap = tribunal.DefaultHistoryCap
	}
	if t.SelectionWindow == 0 {
		t.SelectionWindow = tribunal.DefaultSelectionWindow
	}
	if t.GenerationWindow == 0 {
		t.GenerationWindow = tribunal.DefaultGenerationWindow
	}
	def(&t.JudgeSpeaker, tribunal.DefaultJudgeSpeaker)
	def(&t.Placeholder, tribunal.DefaultCluePlaceholder)

	def(&cfg.Casebook.EventsFile, DefaultEventsFile)

	def(&cfg.Characters.File, DefaultCharactersFile)
	def((*string)(&cfg.Characters.Backend), string(CharactersMemory))
	def(&cfg.Characters.PortraitDir, DefaultPortraitDir)

	def((*string)(&cfg.Discovery.Backend), string(DiscoveryFile))
	switch cfg.Discovery.Backend {
	case DiscoveryFile:
		def(&cfg.Discovery.Path, DefaultDiscoveryPath)
	case DiscoverySQLite:
		def(&cfg.Discovery.Path, DefaultSQLitePath)
	}

	def(&cfg.Observability.ServiceName, DefaultServiceName)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("providers.llm", cfg.Providers.LLM.Name)
	seen := map[string]string{cfg.Providers.LLM.Name + "/" + cfg.Providers.LLM.Model: "providers.llm"}
	for i, fb := range cfg.Providers.LLMFallbacks {
		prefix := fmt.Sprintf("providers.llm_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb.Name)
		key := fb.Name + "/" + fb.Model
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s duplicates %s", prefix, prev))
		}
		seen[key] = prefix
	}

	// Tribunal
	t := cfg.Tribunal
	if t.HistoryCap < 0 || t.SelectionWindow < 0 || t.GenerationWindow < 0 {
		errs = append(errs, errors.New("tribunal window sizes must not be negative"))
	}
	if t.SelectionWindow > t.HistoryCap && t.HistoryCap > 0 {
		slog.Warn("tribunal.selection_window exceeds history_cap; the moderator never sees more than the cap",
			"selection_window", t.SelectionWindow, "history_cap", t.HistoryCap)
	}
	if t.TurnTimeout < 0 {
		errs = append(errs, fmt.Errorf("tribunal.turn_timeout %s must not be negative", t.TurnTimeout))
	}
	if t.Temperature < 0 || t.Temperature > 2 {
		errs = append(errs, fmt.Errorf("tribunal.temperature %.2f is out of range [0, 2]", t.Temperature))
	}
	if t.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("tribunal.max_tokens %d must not be negative", t.MaxTokens))
	}

	// Storage backends
	if b := cfg.Characters.Backend; b != "" && !b.IsValid() {
		errs = append(errs, fmt.Errorf("characters.backend %q is invalid; valid values: memory, postgres", b))
	}
	if b := cfg.Discovery.Backend; b != "" && !b.IsValid() {
		errs = append(errs, fmt.Errorf("discovery.backend %q is invalid; valid values: file, sqlite, postgres", b))
	}
	needsPG := cfg.Characters.Backend == CharactersPostgres || cfg.Discovery.Backend == DiscoveryPostgres
	if needsPG && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when a backend is postgres"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not one of
// [ValidLLMProviders].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidLLMProviders, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidLLMProviders,
	)
}
