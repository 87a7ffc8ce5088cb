package tribunal

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/moonlit/internal/phonetic"
)

func TestSelector_Select(t *testing.T) {
	t.Parallel()

	roster := []string{"kui", "bifang", "qiongqi"}

	tests := []struct {
		name        string
		reply       string
		history     []Entry
		want        string
		wantOutcome string
		wantRotated bool
	}{
		{name: "exact id", reply: "bifang", want: "bifang", wantOutcome: OutcomeNamed},
		{name: "case insensitive", reply: "QIONGQI!", want: "qiongqi", wantOutcome: OutcomeNamed},
		{name: "rightmost mention wins", reply: "Not qiongqi... no, kui, then finally bifang", want: "bifang", wantOutcome: OutcomeNamed},
		{name: "last occurrence counts", reply: "bifang kui bifang", want: "bifang", wantOutcome: OutcomeNamed},
		{name: "garbage falls back to first", reply: "The court is silent.", want: "kui", wantOutcome: OutcomeDefault},
		{name: "empty reply falls back", reply: "", want: "kui", wantOutcome: OutcomeDefault},
		{name: "error text falls back", reply: "Error: upstream timeout", want: "kui", wantOutcome: OutcomeDefault},
		{
			name:        "anti repeat advances",
			reply:       "bifang",
			history:     []Entry{{"bifang", "I did nothing."}},
			want:        "qiongqi",
			wantOutcome: OutcomeNamed,
			wantRotated: true,
		},
		{
			name:        "anti repeat wraps around",
			reply:       "qiongqi",
			history:     []Entry{{"qiongqi", "Lies!"}},
			want:        "kui",
			wantOutcome: OutcomeNamed,
			wantRotated: true,
		},
		{
			name:        "anti repeat applies to fallback",
			reply:       "???",
			history:     []Entry{{"kui", "Thunder."}},
			want:        "bifang",
			wantOutcome: OutcomeDefault,
			wantRotated: true,
		},
		{
			name:        "judge as last speaker does not rotate",
			reply:       "kui",
			history:     []Entry{{"kui", "x"}, {"Judge", "Kui, explain."}},
			want:        "kui",
			wantOutcome: OutcomeNamed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewSelector(replyAlways(tc.reply))
			got := s.Select(context.Background(), &Event{Name: "case", Roster: roster}, tc.history)
			if got.Speaker != tc.want {
				t.Errorf("Speaker = %q, want %q", got.Speaker, tc.want)
			}
			if got.Outcome != tc.wantOutcome {
				t.Errorf("Outcome = %q, want %q", got.Outcome, tc.wantOutcome)
			}
			if got.Rotated != tc.wantRotated {
				t.Errorf("Rotated = %v, want %v", got.Rotated, tc.wantRotated)
			}
		})
	}
}

func TestSelector_TieKeepsEarlierRosterEntry(t *testing.T) {
	t.Parallel()

	// "kuiniu" contains "kui" at the same index; the earlier roster entry
	// keeps the position because later entries must be strictly further
	// right to win.
	s := NewSelector(replyAlways("kuiniu"))
	got := s.Select(context.Background(), &Event{Roster: []string{"kui", "kuiniu"}}, nil)
	if got.Speaker != "kui" {
		t.Errorf("Speaker = %q, want kui", got.Speaker)
	}

	s = NewSelector(replyAlways("kuiniu"))
	got = s.Select(context.Background(), &Event{Roster: []string{"kuiniu", "kui"}}, nil)
	if got.Speaker != "kuiniu" {
		t.Errorf("Speaker = %q, want kuiniu", got.Speaker)
	}
}

func TestSelector_SingleMemberRosterNeverRotates(t *testing.T) {
	t.Parallel()

	s := NewSelector(replyAlways("kui"))
	got := s.Select(context.Background(), &Event{Roster: []string{"kui"}}, []Entry{{"kui", "again"}})
	if got.Speaker != "kui" || got.Rotated {
		t.Errorf("Select() = %+v, want kui without rotation", got)
	}
}

func TestSelector_AlwaysReturnsRosterMember(t *testing.T) {
	t.Parallel()

	roster := []string{"xiangliu", "yingzhao", "xingxing"}
	replies := []string{
		"", " ", "null", "{}", "Error: 429", "XIANGLIU yingzhao", "xingxingxing",
		"\x00\xff", strings.Repeat("zz", 500), "the judge", "baize",
	}
	histories := [][]Entry{
		nil,
		{{"xiangliu", "a"}},
		{{"yingzhao", "b"}},
		{{"xingxing", "c"}},
		{{"Judge", "d"}},
	}
	for _, r := range replies {
		for _, h := range histories {
			got := NewSelector(replyAlways(r)).Select(context.Background(), &Event{Roster: roster}, h)
			if !inRoster(roster, got.Speaker) {
				t.Fatalf("reply %q history %v: speaker %q not in roster", r, h, got.Speaker)
			}
			if len(h) > 0 && got.Speaker == h[len(h)-1].Speaker {
				t.Fatalf("reply %q: repeated previous speaker %q", r, got.Speaker)
			}
		}
	}
}

func TestSelector_EmptyRoster(t *testing.T) {
	t.Parallel()

	text := replyAlways("kui")
	got := NewSelector(text).Select(context.Background(), &Event{}, nil)
	if got.Speaker != "" {
		t.Errorf("Speaker = %q, want empty", got.Speaker)
	}
	if len(text.calls()) != 0 {
		t.Error("model consulted for an empty roster")
	}
}

func TestSelector_FuzzyFallback(t *testing.T) {
	t.Parallel()

	roster := []string{"kui", "bifang", "jiuweihu"}
	ev := &Event{Roster: roster}

	strict := NewSelector(replyAlways("I pick Bifnag."))
	if got := strict.Select(context.Background(), ev, nil); got.Speaker != "kui" {
		t.Errorf("without matcher Speaker = %q, want fallback kui", got.Speaker)
	}

	fuzzy := NewSelector(replyAlways("I pick Bifnag."), WithNameMatcher(phonetic.New()))
	got := fuzzy.Select(context.Background(), ev, nil)
	if got.Speaker != "bifang" || got.Outcome != OutcomeFuzzy {
		t.Errorf("with matcher Select() = %+v, want bifang/fuzzy", got)
	}

	// Exact mentions still take precedence over fuzzy hits.
	fuzzy = NewSelector(replyAlways("bifnag? no: jiuweihu"), WithNameMatcher(phonetic.New()))
	if got := fuzzy.Select(context.Background(), ev, nil); got.Speaker != "jiuweihu" || got.Outcome != OutcomeNamed {
		t.Errorf("Select() = %+v, want jiuweihu/named", got)
	}
}

func TestSelector_PromptWindow(t *testing.T) {
	t.Parallel()

	var history []Entry
	for i := range 12 {
		history = append(history, Entry{Speaker: "kui", Text: "line-" + string(rune('a'+i))})
	}
	text := replyAlways("bifang")
	NewSelector(text).Select(context.Background(), &Event{Name: "The Stolen Pearl", Roster: []string{"kui", "bifang"}}, history)

	prompt := text.calls()[0]
	for _, want := range []string{
		`Moonlit Tribunal "The Stolen Pearl"`,
		"Available speakers (mythic suspects): kui, bifang.",
		"kui: line-e",
		"kui: line-l",
		"Respond ONLY with the id of your selection.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "line-d") {
		t.Error("prompt includes entries outside the 8-entry window")
	}

	text = replyAlways("kui")
	NewSelector(text).Select(context.Background(), &Event{Roster: []string{"kui"}}, nil)
	if !strings.Contains(text.calls()[0], "No dialogue yet.") {
		t.Error("empty transcript marker missing")
	}
}
