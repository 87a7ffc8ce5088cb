package character

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return nil }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error { return scanInto(r.data[r.idx-1], dest) }

func scanInto(row []any, dest []any) error {
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			*d = v.([]byte)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func kuiRow() []any {
	return []any{
		"kui", "Kui", "Thunder ox.", []byte(`["thunder"]`), "angry",
		"grey", "revenge", "", []byte(`{"legs":1}`),
	}
}

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()

	db := &mockDB{queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
		if args[0] != "kui" {
			return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
		}
		return &mockRow{scanFunc: func(dest ...any) error { return scanInto(kuiRow(), dest) }}
	}}
	s := NewPostgresStore(db)

	got, err := s.Get(context.Background(), "kui")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := &Record{
		ID: "kui", Name: "Kui", SystemPrompt: "Thunder ox.", Abilities: []string{"thunder"},
		EmotionState: "angry", Appearance: "grey", Purpose: "revenge",
		Attributes: map[string]any{"legs": float64(1)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}

	missing, err := s.Get(context.Background(), "ghost")
	if err != nil || missing != nil {
		t.Errorf("Get(ghost) = %v, %v; want nil, nil", missing, err)
	}
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()

	rows := &mockRows{data: [][]any{kuiRow()}}
	db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) { return rows, nil }}

	recs, err := NewPostgresStore(db).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "kui" {
		t.Errorf("List() = %+v", recs)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

func TestPostgresStore_ListSharesConcurrentQuery(t *testing.T) {
	t.Parallel()

	var queries atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
		if queries.Add(1) == 1 {
			close(started)
		}
		<-release
		return &mockRows{data: [][]any{kuiRow()}}, nil
	}}
	store := NewPostgresStore(db)

	results := make([][]Record, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = store.List(context.Background())
	}()
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = store.List(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := queries.Load(); n != 1 {
		t.Errorf("queries = %d, want 1", n)
	}
	for i, recs := range results {
		if len(recs) != 1 || recs[0].ID != "kui" {
			t.Fatalf("caller %d got %+v", i, recs)
		}
	}
	results[0][0].Abilities[0] = "mutated"
	if results[1][0].Abilities[0] != "thunder" {
		t.Error("callers share record memory")
	}
}

func TestPostgresStore_Upsert(t *testing.T) {
	t.Parallel()

	var gotSQL string
	var gotArgs []any
	db := &mockDB{execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		gotSQL, gotArgs = sql, args
		return pgconn.CommandTag{}, nil
	}}
	s := NewPostgresStore(db)

	if err := s.Upsert(context.Background(), &Record{ID: "kui", Name: "Kui"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !strings.Contains(gotSQL, "ON CONFLICT (id) DO UPDATE") {
		t.Errorf("Upsert SQL = %q", gotSQL)
	}
	if string(gotArgs[3].([]byte)) != "[]" {
		t.Errorf("abilities arg = %s, want []", gotArgs[3])
	}
	if string(gotArgs[8].([]byte)) != "{}" {
		t.Errorf("attributes arg = %s, want {}", gotArgs[8])
	}

	if err := s.Upsert(context.Background(), &Record{ID: "kui"}); err == nil {
		t.Error("Upsert(invalid) = nil, want validation error")
	}
}

func TestPostgresStore_ErrorsWrapped(t *testing.T) {
	t.Parallel()
	boom := errors.New("db down")
	db := &mockDB{
		queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(...any) error { return boom }}
		},
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) { return nil, boom },
		execFunc:  func(context.Context, string, ...any) (pgconn.CommandTag, error) { return pgconn.CommandTag{}, boom },
	}
	s := NewPostgresStore(db)
	ctx := context.Background()

	if _, err := s.Get(ctx, "kui"); !errors.Is(err, boom) {
		t.Errorf("Get error = %v", err)
	}
	if _, err := s.List(ctx); !errors.Is(err, boom) {
		t.Errorf("List error = %v", err)
	}
	if err := s.Delete(ctx, "kui"); !errors.Is(err, boom) {
		t.Errorf("Delete error = %v", err)
	}
	if err := s.Migrate(ctx); !errors.Is(err, boom) {
		t.Errorf("Migrate error = %v", err)
	}
}
