package tribunal

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/moonlit/internal/discovery"
)

func TestResolveClues(t *testing.T) {
	t.Parallel()

	discovered := []discovery.Clue{
		{"text": "burnt feather", "area": "Peak"},
		{"text": "scale", "area": "Lake"},
	}

	tests := []struct {
		name  string
		clues []any
		want  []discovery.Clue
	}{
		{
			name:  "placeholder only",
			clues: []any{"discovered_clues.json"},
			want:  discovered,
		},
		{
			name: "placeholder replaces literal clues",
			clues: []any{
				map[string]any{"text": "static"},
				"discovered_clues.json",
				map[string]any{"text": "also static"},
			},
			want: discovered,
		},
		{
			name:  "no placeholder keeps literals",
			clues: []any{map[string]any{"text": "a", "weight": 2.0}, map[string]any{"text": "b"}},
			want:  []discovery.Clue{{"text": "a", "weight": 2.0}, {"text": "b"}},
		},
		{
			name:  "bare string becomes text clue",
			clues: []any{"a torn sleeve"},
			want:  []discovery.Clue{{"text": "a torn sleeve"}},
		},
		{
			name:  "empty",
			clues: nil,
			want:  []discovery.Clue{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ResolveClues(Definition{Clues: tc.clues}, discovered, DefaultCluePlaceholder)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ResolveClues() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveClues_PlaceholderWithEmptyLog(t *testing.T) {
	t.Parallel()

	got := ResolveClues(Definition{Clues: []any{map[string]any{"text": "x"}, "discovered_clues.json"}}, nil, "")
	if got == nil || len(got) != 0 {
		t.Errorf("ResolveClues() = %#v, want empty non-nil list", got)
	}
}

func TestResolveClues_CustomPlaceholder(t *testing.T) {
	t.Parallel()

	def := Definition{Clues: []any{"@discoveries", "discovered_clues.json"}}
	got := ResolveClues(def, []discovery.Clue{{"text": "live"}}, "@discoveries")
	if diff := cmp.Diff([]discovery.Clue{{"text": "live"}}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	def := Definition{
		ID:       "case-1",
		Roster:   []string{"kui", "bifang"},
		Clues:    []any{map[string]any{"text": "literal", "tags": []any{"a"}}},
		GameLogs: []Entry{{"Judge", "Begin."}},
	}
	log := []discovery.Clue{{"text": "live"}}

	ev := Resolve(def, log, DefaultCluePlaceholder)
	ev.Roster[0] = "mutated"
	ev.Clues[0]["text"] = "mutated"
	ev.Clues[0]["tags"].([]any)[0] = "mutated"
	ev.GameLogs[0].Text = "mutated"

	if def.Roster[0] != "kui" {
		t.Error("roster shared with definition")
	}
	lit := def.Clues[0].(map[string]any)
	if lit["text"] != "literal" || lit["tags"].([]any)[0] != "a" {
		t.Error("literal clue shared with definition")
	}
	if def.GameLogs[0].Text != "Begin." {
		t.Error("game log shared with definition")
	}

	dyn := Resolve(Definition{Clues: []any{DefaultCluePlaceholder}}, log, DefaultCluePlaceholder)
	dyn.Clues[0]["text"] = "mutated"
	if log[0]["text"] != "live" {
		t.Error("resolved clue shares memory with the discovery log")
	}
}

func TestResolve_FreshPerDiscoveryLog(t *testing.T) {
	t.Parallel()

	def := Definition{ID: "case", Clues: []any{DefaultCluePlaceholder}}

	first := Resolve(def, []discovery.Clue{{"text": "one"}}, DefaultCluePlaceholder)
	second := Resolve(def, []discovery.Clue{{"text": "one"}, {"text": "two"}}, DefaultCluePlaceholder)
	third := Resolve(def, []discovery.Clue{{"text": "one"}}, DefaultCluePlaceholder)

	if len(first.Clues) != 1 || len(second.Clues) != 2 {
		t.Fatalf("resolution did not follow the log: %d, %d", len(first.Clues), len(second.Clues))
	}
	if diff := cmp.Diff(first, third); diff != "" {
		t.Errorf("same log resolved differently (-first +third):\n%s", diff)
	}
	if len(def.Clues) != 1 || def.Clues[0] != DefaultCluePlaceholder {
		t.Errorf("definition mutated: %v", def.Clues)
	}
}
