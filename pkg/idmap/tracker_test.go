package idmap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/adapters/sqlite"
)

func openSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()

	e, err := sqlite.Open(ctx, adapters.Config{DSN: filepath.Join(t.TempDir(), "tracking.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	sqlEngine, _ := adapters.AsSQL(e)
	store, err := NewSQLStore(ctx, sqlEngine)
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	return store
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sql":    openSQLStore(t),
	}
}

func TestTracker_CommitAndResolve(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			tr := NewTracker(store, "exec-1")
			for i, src := range []string{"DE", "FR", "IT"} {
				tr.Record("countries", "code", src, "id", string(rune('1'+i)))
			}
			// повтор ключа заменяет прежнее соответствие
			tr.Record("countries", "code", "IT", "id", "30")

			if _, ok, _ := tr.Resolve(ctx, "countries", "DE"); ok {
				t.Fatal("pending mappings must not be visible before commit")
			}

			n, err := tr.Commit(ctx, "countries")
			if err != nil || n != 3 {
				t.Fatalf("Commit = %d, %v; want 3", n, err)
			}

			got, ok, err := tr.Resolve(ctx, "countries", "IT")
			if err != nil || !ok || got != "30" {
				t.Errorf("Resolve(IT) = %q, %v, %v", got, ok, err)
			}
			if count, _ := tr.Count(ctx, "countries"); count != 3 {
				t.Errorf("Count = %d, want 3", count)
			}

			// другое выполнение не видит чужие соответствия
			other := NewTracker(store, "exec-2")
			if count, _ := other.Count(ctx, "countries"); count != 0 {
				t.Errorf("foreign execution count = %d, want 0", count)
			}
		})
	}
}

func TestTracker_Discard(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore(), "exec-1")

	tr.Record("products", "id", "1", "id", "100")
	if tr.Pending("products") != 1 {
		t.Fatalf("expected 1 pending mapping")
	}
	tr.Discard("products")

	if n, _ := tr.Commit(ctx, "products"); n != 0 {
		t.Errorf("discarded mappings must not be committed, got %d", n)
	}
	if count, _ := tr.Count(ctx, "products"); count != 0 {
		t.Errorf("Count = %d, want 0", count)
	}
}

func TestTracker_Attachments(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			tr := NewTracker(store, "exec-1")
			recs := []AttachmentRecord{
				{Table: "docs", DocumentID: "b", AttachmentName: "x.pdf", SourceURL: "couchdb://docs/b/x.pdf", Size: 10, Status: AttachmentMigrated, Attempts: 1, MigratedAt: time.Now()},
				{Table: "docs", DocumentID: "a", AttachmentName: "y.png", SourceURL: "couchdb://docs/a/y.png", Status: AttachmentFailed, Attempts: 3, Error: "timeout", MigratedAt: time.Now()},
			}
			for _, r := range recs {
				if err := tr.RecordAttachment(ctx, r); err != nil {
					t.Fatalf("RecordAttachment: %v", err)
				}
			}

			got, err := tr.Attachments(ctx)
			if err != nil {
				t.Fatalf("Attachments: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 records, got %d", len(got))
			}
			if got[0].DocumentID != "a" || got[0].Status != AttachmentFailed || got[0].Attempts != 3 {
				t.Errorf("unexpected first record: %+v", got[0])
			}
			if got[1].ExecutionID != "exec-1" || got[1].Size != 10 {
				t.Errorf("unexpected second record: %+v", got[1])
			}
		})
	}
}
