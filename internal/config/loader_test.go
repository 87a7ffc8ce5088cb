package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/moonlit/internal/config"
	"github.com/MrWong99/moonlit/internal/tribunal"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string // substring; empty means valid
	}{
		{name: "invalid log level", yaml: "server:\n  log_level: verbose\n", wantErr: "server.log_level"},
		{name: "invalid log format", yaml: "server:\n  log_format: xml\n", wantErr: "server.log_format"},
		{name: "tls without key", yaml: "server:\n  tls:\n    cert_file: c.pem\n", wantErr: "cert_file and key_file"},
		{name: "fallback without name", yaml: "providers:\n  llm_fallbacks:\n    - model: x\n", wantErr: "llm_fallbacks[0].name"},
		{
			name:    "duplicate fallback",
			yaml:    "providers:\n  llm:\n    name: openai\n    model: a\n  llm_fallbacks:\n    - name: openai\n      model: a\n",
			wantErr: "duplicates providers.llm",
		},
		{name: "negative window", yaml: "tribunal:\n  history_cap: -1\n", wantErr: "window sizes"},
		{name: "negative timeout", yaml: "tribunal:\n  turn_timeout: -5s\n", wantErr: "turn_timeout"},
		{name: "temperature range", yaml: "tribunal:\n  temperature: 3\n", wantErr: "temperature"},
		{name: "unknown discovery backend", yaml: "discovery:\n  backend: redis\n", wantErr: "discovery.backend"},
		{name: "unknown character backend", yaml: "characters:\n  backend: ldap\n", wantErr: "characters.backend"},
		{name: "postgres needs dsn", yaml: "discovery:\n  backend: postgres\n", wantErr: "storage.postgres_dsn"},
		{
			name: "postgres with dsn",
			yaml: "discovery:\n  backend: postgres\nstorage:\n  postgres_dsn: postgres://localhost/moonlit\n",
		},
		{name: "unknown provider only warns", yaml: "providers:\n  llm:\n    name: my-proxy\n    model: x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
discovery:
  backend: redis
tribunal:
  max_tokens: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "discovery.backend", "max_tokens"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	if cfg.Server.ListenAddr != ":5001" {
		t.Errorf("listen_addr: got %q, want :5001", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.LogFormatText {
		t.Errorf("logging: got %q/%q, want info/text", cfg.Server.LogLevel, cfg.Server.LogFormat)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "*" {
		t.Errorf("cors_origins: got %v, want [*]", cfg.Server.CORSOrigins)
	}
	if cfg.Providers.LLM.Name != "genai" || cfg.Providers.LLM.Model != "gemini-2.5-flash" {
		t.Errorf("llm: got %q/%q", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	}
	if got := cfg.Tribunal.Settings(); got != tribunal.DefaultSettings() {
		t.Errorf("tribunal settings: got %+v, want %+v", got, tribunal.DefaultSettings())
	}
	if cfg.Casebook.EventsFile != "events.json" {
		t.Errorf("events_file: got %q", cfg.Casebook.EventsFile)
	}
	if cfg.Characters.Backend != config.CharactersMemory || cfg.Characters.PortraitDir != "images" {
		t.Errorf("characters: got %+v", cfg.Characters)
	}
	if cfg.Discovery.Backend != config.DiscoveryFile || cfg.Discovery.Path != "discovered_clues.json" {
		t.Errorf("discovery: got %+v", cfg.Discovery)
	}
}

func TestApplyDefaults_KeepsExplicitModel(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai"}}}
	config.ApplyDefaults(cfg)
	if cfg.Providers.LLM.Model != "" {
		t.Errorf("model for non-default provider should stay empty, got %q", cfg.Providers.LLM.Model)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    config.Config
		environ map[string]string
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name:    "overrides file values",
			file:    config.Config{Server: config.ServerConfig{ListenAddr: ":9000"}},
			environ: map[string]string{"MOONLIT_LISTEN_ADDR": ":7000", "MOONLIT_LOG_LEVEL": "DEBUG"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.ListenAddr != ":7000" {
					t.Errorf("listen_addr: got %q, want :7000", cfg.Server.ListenAddr)
				}
				if cfg.Server.LogLevel != config.LogDebug {
					t.Errorf("log_level: got %q, want debug", cfg.Server.LogLevel)
				}
			},
		},
		{
			name:    "unset variables keep file values",
			file:    config.Config{Storage: config.StorageConfig{PostgresDSN: "postgres://file"}},
			environ: map[string]string{},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Storage.PostgresDSN != "postgres://file" {
					t.Errorf("postgres_dsn: got %q", cfg.Storage.PostgresDSN)
				}
			},
		},
		{
			name:    "google key fills empty api key",
			environ: map[string]string{"GOOGLE_API_KEY": "g-key"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Providers.LLM.APIKey != "g-key" {
					t.Errorf("api_key: got %q, want g-key", cfg.Providers.LLM.APIKey)
				}
			},
		},
		{
			name:    "google key does not replace file key",
			file:    config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{APIKey: "file-key"}}},
			environ: map[string]string{"GOOGLE_API_KEY": "g-key"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Providers.LLM.APIKey != "file-key" {
					t.Errorf("api_key: got %q, want file-key", cfg.Providers.LLM.APIKey)
				}
			},
		},
		{
			name: "moonlit key wins over google key",
			environ: map[string]string{
				"GOOGLE_API_KEY":      "g-key",
				"MOONLIT_LLM_API_KEY": "m-key",
			},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Providers.LLM.APIKey != "m-key" {
					t.Errorf("api_key: got %q, want m-key", cfg.Providers.LLM.APIKey)
				}
			},
		},
		{
			name: "provider and storage",
			environ: map[string]string{
				"MOONLIT_LLM_PROVIDER":      "anthropic",
				"MOONLIT_LLM_MODEL":         "claude-x",
				"MOONLIT_DISCOVERY_BACKEND": "postgres",
				"MOONLIT_POSTGRES_DSN":      "postgres://env",
			},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Providers.LLM.Name != "anthropic" || cfg.Providers.LLM.Model != "claude-x" {
					t.Errorf("llm: got %+v", cfg.Providers.LLM)
				}
				if cfg.Discovery.Backend != config.DiscoveryPostgres || cfg.Storage.PostgresDSN != "postgres://env" {
					t.Errorf("storage: got %+v / %+v", cfg.Discovery, cfg.Storage)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.file
			if err := config.ApplyEnv(&cfg, tt.environ); err != nil {
				t.Fatalf("ApplyEnv: %v", err)
			}
			tt.check(t, &cfg)
		})
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "moonlit.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Casebook.EventsFile != "data/events.yaml" {
		t.Errorf("events_file: got %q", cfg.Casebook.EventsFile)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
