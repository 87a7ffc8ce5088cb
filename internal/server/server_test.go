package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/moonlit/internal/casebook"
	"github.com/MrWong99/moonlit/internal/character"
	"github.com/MrWong99/moonlit/internal/companion"
	"github.com/MrWong99/moonlit/internal/discovery"
	"github.com/MrWong99/moonlit/internal/observe"
	"github.com/MrWong99/moonlit/internal/tribunal"
)

// textFunc adapts a function to the text generator interfaces.
type textFunc func(prompt string) string

func (f textFunc) GenerateText(_ context.Context, prompt string) string { return f(prompt) }

func isSelection(p string) bool { return strings.Contains(p, "Respond ONLY with the id") }

type fixture struct {
	handler http.Handler
	journal *discovery.Journal
}

func newFixture(t *testing.T, text textFunc, opts ...Option) *fixture {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}

	catalog, err := casebook.NewCatalog([]tribunal.Definition{
		{
			ID:          "stolen_pearl",
			Name:        "The Stolen Pearl",
			Description: "The Dragon King's pearl vanished.",
			Roster:      []string{"kui", "bifang"},
			Clues:       []any{map[string]any{"text": "wet footprints"}},
			GameLogs:    []tribunal.Entry{{Speaker: "kui", Text: "I was asleep."}},
		},
		{
			ID:     "burning_grove",
			Name:   "The Burning Grove",
			Roster: []string{"bifang"},
			Clues:  []any{"discovered_clues.json"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	chars := character.NewMemStore(
		character.Record{ID: "kui", Name: "Kui", SystemPrompt: "a thunder ox", Abilities: []string{"thunder"}},
		character.Record{ID: "bifang", Name: "Bifang", SystemPrompt: "a fire crane"},
	)
	journal := discovery.NewJournal(discovery.NewFileLog(filepath.Join(t.TempDir(), "clues.json")),
		discovery.WithMetrics(metrics))
	engine := tribunal.New(catalog, journal, chars, text,
		tribunal.WithMetrics(metrics),
		tribunal.WithPortraits(character.NewPortraits("images", map[string]string{"baize": "images/Baize.png"})),
	)
	chat := companion.New(text, chars)

	opts = append([]Option{WithMetrics(metrics)}, opts...)
	s := New(engine, journal, chars, chat, opts...)
	return &fixture{handler: s.Handler(), journal: journal}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestAct_AutoTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(p string) string {
		if isSelection(p) {
			return "bifang"
		}
		return "I saw nothing, Judge."
	})
	rec, body := f.do(t, http.MethodPost, "/api/tribunal/act", map[string]any{
		"event_id": "stolen_pearl",
		"history":  []any{map[string]any{"speaker": "kui", "text": "Ask the bird."}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["success"] != true || body["speaker"] != "bifang" || body["speaker_name"] != "Bifang" ||
		body["message"] != "I saw nothing, Judge." || body["portrait"] != "images/bifang.png" {
		t.Errorf("body = %v", body)
	}
	history, _ := body["history"].([]any)
	if len(history) != 2 {
		t.Fatalf("history = %v", body["history"])
	}
	last := history[1].(map[string]any)
	if last["speaker"] != "bifang" || last["text"] != "I saw nothing, Judge." {
		t.Errorf("last entry = %v", last)
	}
}

func TestAct_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(string) string { return "kui" })
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantError  string
	}{
		{"unknown event", map[string]any{"event_id": "ghost", "action": "player"}, http.StatusNotFound, "Event ghost not found"},
		{"missing player input", map[string]any{"event_id": "stolen_pearl", "action": "player", "player_input": "  "}, http.StatusBadRequest, "Player input required"},
		{"malformed json", `{"event_id":`, http.StatusBadRequest, "invalid JSON"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := f.do(t, http.MethodPost, "/api/tribunal/act", tc.body)
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if body["success"] != false || body["error"] != tc.wantError {
				t.Errorf("body = %v, want error %q", body, tc.wantError)
			}
		})
	}
}

func TestAct_TooLarge(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(string) string { return "kui" }, WithMaxBodyBytes(16))
	rec, _ := f.do(t, http.MethodPost, "/api/tribunal/act", map[string]any{"event_id": "stolen_pearl", "history": []any{}})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestAct_SerialisesSameEvent(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	inside, peak := 0, 0
	f := newFixture(t, func(p string) string {
		mu.Lock()
		inside++
		peak = max(peak, inside)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inside--
		mu.Unlock()
		return "kui"
	})

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.do(t, http.MethodPost, "/api/tribunal/act", map[string]any{"event_id": "stolen_pearl", "action": "choose"})
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Errorf("peak concurrent generations = %d, want 1", peak)
	}
}

func TestEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(string) string { return "" })
	if _, err := f.journal.Append(context.Background(), discovery.Submission{Area: "grove", Beast: "bifang", Text: "ash"}); err != nil {
		t.Fatal(err)
	}

	rec, body := f.do(t, http.MethodGet, "/api/tribunal/events", nil)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("events = %d %v", rec.Code, body)
	}
	events := body["events"].([]any)
	if len(events) != 2 {
		t.Fatalf("events = %v", events)
	}
	grove := events[1].(map[string]any)
	clues := grove["p_clues"].([]any)
	if len(clues) != 1 || clues[0].(map[string]any)["text"] != "ash" {
		t.Errorf("grove clues = %v", clues)
	}
	if logs, ok := grove["game_logs"].([]any); !ok || len(logs) != 0 {
		t.Errorf("grove game_logs = %#v, want []", grove["game_logs"])
	}
}

func TestEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(string) string { return "" })

	rec, body := f.do(t, http.MethodGet, "/api/tribunal/event/stolen_pearl", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	ev := body["event"].(map[string]any)
	if ev["id"] != "stolen_pearl" || ev["name"] != "The Stolen Pearl" {
		t.Errorf("event = %v", ev)
	}
	history := body["history"].([]any)
	if len(history) != 1 || history[0].(map[string]any)["text"] != "I was asleep." {
		t.Errorf("history = %v", history)
	}

	rec, body = f.do(t, http.MethodGet, "/api/tribunal/event/ghost", nil)
	if rec.Code != http.StatusNotFound || body["error"] != "Event ghost not found" {
		t.Errorf("unknown event = %d %v", rec.Code, body)
	}
}

func TestClues(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(string) string { return "" })

	rec, body := f.do(t, http.MethodPost, "/api/clues/log", map[string]string{"area": "shore", "beast": "kui", "text": "hoofprint"})
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("log = %d %v", rec.Code, body)
	}
	clue := body["clue"].(map[string]any)
	if clue["text"] != "hoofprint" || clue["id"] == "" {
		t.Errorf("clue = %v", clue)
	}
	if ts, _ := clue["timestamp"].(string); !strings.HasSuffix(ts, "Z") {
		t.Errorf("timestamp = %q, want UTC", ts)
	}

	rec, body = f.do(t, http.MethodPost, "/api/clues/log", map[string]string{"area": "shore", "text": "x"})
	if rec.Code != http.StatusBadRequest || body["error"] != "Missing area, beast, or text" {
		t.Errorf("invalid clue = %d %v", rec.Code, body)
	}

	_, body = f.do(t, http.MethodGet, "/api/clues", nil)
	if clues := body["clues"].([]any); len(clues) != 1 {
		t.Errorf("clues = %v", clues)
	}

	rec, body = f.do(t, http.MethodPost, "/api/clues/reset", nil)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Errorf("reset = %d %v", rec.Code, body)
	}
	_, body = f.do(t, http.MethodGet, "/api/clues", nil)
	if clues, ok := body["clues"].([]any); !ok || len(clues) != 0 {
		t.Errorf("clues after reset = %#v, want []", body["clues"])
	}
}

func TestCharacters(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(string) string { return "" })

	rec, body := f.do(t, http.MethodGet, "/api/characters", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	chars := body["characters"].(map[string]any)
	if len(chars) != 2 || chars["kui"].(map[string]any)["name"] != "Kui" {
		t.Errorf("characters = %v", chars)
	}

	_, body = f.do(t, http.MethodGet, "/api/character/bifang", nil)
	if body["character"].(map[string]any)["system_prompt"] != "a fire crane" {
		t.Errorf("character = %v", body)
	}

	rec, body = f.do(t, http.MethodGet, "/api/character/taotie", nil)
	if rec.Code != http.StatusNotFound || body["error"] != "Character taotie not found" {
		t.Errorf("missing character = %d %v", rec.Code, body)
	}
}

func TestChat(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(p string) string {
		if strings.HasPrefix(p, "You are Baize") {
			return "Purr."
		}
		return "Rumble."
	})
	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		want       string
	}{
		{"guide", map[string]any{"npc_id": "baize", "message": "hello"}, http.StatusOK, "Purr."},
		{"npc", map[string]any{"npc_id": "kui", "message": "hello", "history": []any{}}, http.StatusOK, "Rumble."},
		{"missing message", map[string]any{"npc_id": "kui"}, http.StatusBadRequest, "Missing npc_id or message"},
		{"unknown npc", map[string]any{"npc_id": "taotie", "message": "hi"}, http.StatusNotFound, "Unknown NPC: taotie"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := f.do(t, http.MethodPost, "/api/chat", tc.body)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", rec.Code, tc.wantStatus, body)
			}
			if tc.wantStatus == http.StatusOK {
				if body["response"] != tc.want || body["npc_id"] != tc.body["npc_id"] || body["success"] != true {
					t.Errorf("body = %v", body)
				}
			} else if body["error"] != tc.want {
				t.Errorf("error = %v, want %q", body["error"], tc.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(string) string { return "" })
	req := httptest.NewRequest(http.MethodOptions, "/api/tribunal/act", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}

	restricted := newFixture(t, func(string) string { return "" }, WithCORSOrigins("http://localhost:5173"))
	for origin, want := range map[string]string{
		"http://localhost:5173": "http://localhost:5173",
		"http://evil.example":   "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/characters", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		restricted.handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %q: allow = %q, want %q", origin, got, want)
		}
	}
}

func TestWithRoutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(string) string { return "" }, WithRoutes(func(mux *http.ServeMux) {
		mux.HandleFunc("GET /extra", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, okResponse{Success: true})
		})
	}))
	rec, body := f.do(t, http.MethodGet, "/extra", nil)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Errorf("extra route = %d %v", rec.Code, body)
	}
}

// failingTribunal returns err from every call.
type failingTribunal struct{ err error }

func (f failingTribunal) OrchestrateTurn(context.Context, tribunal.TurnRequest) (*tribunal.TurnResult, error) {
	return nil, f.err
}
func (f failingTribunal) ResolveEvent(context.Context, string) (*tribunal.Event, error) {
	return nil, f.err
}
func (f failingTribunal) Events(context.Context) ([]*tribunal.Event, error) { return nil, f.err }

func TestInternalErrors(t *testing.T) {
	t.Parallel()

	metrics, _ := observe.NewMetrics(noop.NewMeterProvider())
	s := New(failingTribunal{err: errors.New("discovery log unreadable")}, nil, nil, nil, WithMetrics(metrics))
	h := s.Handler()

	for _, path := range []string{"/api/tribunal/events", "/api/tribunal/event/x"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "discovery log unreadable") {
			t.Errorf("%s = %d %s", path, rec.Code, rec.Body.String())
		}
	}
}
