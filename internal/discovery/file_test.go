package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFileLog_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	l := NewFileLog(filepath.Join(t.TempDir(), "none.json"))
	clues, err := l.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(clues) != 0 {
		t.Errorf("List() = %v, want empty", clues)
	}
}

func TestFileLog_CorruptFileIsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "clues.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := NewFileLog(path)

	clues, err := l.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(clues) != 0 {
		t.Errorf("List() = %v, want empty", clues)
	}

	// A write after corruption starts a fresh array.
	if err := l.Append(context.Background(), Clue{"text": "fresh"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	clues, _ = l.List(context.Background())
	if diff := cmp.Diff([]Clue{{"text": "fresh"}}, clues); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestFileLog_PreservesOrderAndAttributes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "clues.json")
	l := NewFileLog(path)

	in := []Clue{
		{"text": "first", "area": "Lake"},
		{"text": "second", "weight": 2.5},
	}
	for _, c := range in {
		if err := l.Append(ctx, c); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// A second instance on the same path sees the persisted entries.
	got, err := NewFileLog(path).List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestFileLog_ResetWritesEmptyArray(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "clues.json")
	l := NewFileLog(path)
	_ = l.Append(context.Background(), Clue{"text": "x"})

	if err := l.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("file content = %q, want []", data)
	}
}

func TestFileLog_ConcurrentAppends(t *testing.T) {
	t.Parallel()
	l := NewFileLog(filepath.Join(t.TempDir(), "clues.json"))

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Append(context.Background(), Clue{"text": "c"}); err != nil {
				t.Errorf("Append: %v", err)
			}
		}()
	}
	wg.Wait()

	clues, _ := l.List(context.Background())
	if len(clues) != n {
		t.Errorf("len(List()) = %d, want %d", len(clues), n)
	}
}
