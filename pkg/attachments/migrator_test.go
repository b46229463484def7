package attachments

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/idmap"
	"github.com/ruslano69/tdtp-migrator/pkg/resilience"
	"github.com/ruslano69/tdtp-migrator/pkg/retry"
)

type fakeSource struct {
	files    map[string]string
	failures map[string]int
	opened   map[string]int
}

func (f *fakeSource) ListAttachments(_ context.Context, table string) ([]adapters.AttachmentRef, error) {
	var refs []adapters.AttachmentRef
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		if _, ok := f.files[name]; ok {
			refs = append(refs, adapters.AttachmentRef{Table: table, DocumentID: "doc1", Name: name, SourceURL: "fake://" + name, Size: -1})
		}
	}
	return refs, nil
}

func (f *fakeSource) OpenAttachment(_ context.Context, ref adapters.AttachmentRef) (io.ReadCloser, error) {
	f.opened[ref.Name]++
	if f.failures[ref.Name] > 0 {
		f.failures[ref.Name]--
		return nil, errors.New("connection reset")
	}
	return io.NopCloser(strings.NewReader(f.files[ref.Name])), nil
}

func TestMigrator_Migrate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	r, _ := retry.NewRetryer(retry.Config{Attempts: 3})
	tracker := idmap.NewTracker(idmap.NewMemoryStore(), "exec-1")

	src := &fakeSource{
		files:    map[string]string{"a.txt": "hello", "b.txt": "flaky", "c.txt": "broken"},
		failures: map[string]int{"b.txt": 2, "c.txt": 5},
		opened:   map[string]int{},
	}

	m := &Migrator{Source: src, Store: store, Retryer: r, Tracker: tracker, Prefix: "att", Logger: zerolog.Nop()}
	sum, err := m.Migrate(ctx, "docs")
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if sum.Migrated != 2 || sum.Failed != 1 {
		t.Errorf("summary = %+v, want 2 migrated and 1 failed", sum)
	}
	if src.opened["b.txt"] != 3 || src.opened["c.txt"] != 3 {
		t.Errorf("expected 3 attempts for flaky and broken, got %v", src.opened)
	}

	data, err := os.ReadFile(filepath.Join(dir, "att", "docs", "doc1", "a.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("uploaded content = %q, %v", data, err)
	}

	recs, _ := tracker.Attachments(ctx)
	if len(recs) != 3 {
		t.Fatalf("expected 3 attachment records, got %d", len(recs))
	}
	for _, rec := range recs {
		switch rec.AttachmentName {
		case "a.txt":
			if rec.Status != idmap.AttachmentMigrated || rec.Size != 5 || len(rec.Checksum) != 16 || rec.Attempts != 1 {
				t.Errorf("unexpected record: %+v", rec)
			}
		case "c.txt":
			if rec.Status != idmap.AttachmentFailed || rec.Attempts != 3 || rec.Error == "" {
				t.Errorf("unexpected record: %+v", rec)
			}
		}
	}
}

func TestFileStore_RejectsEscapingKey(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	if _, err := store.Put(context.Background(), "../evil", strings.NewReader("x"), 1, ""); err == nil {
		t.Error("expected error for key escaping the directory")
	}
}

func TestNewStore_Unsupported(t *testing.T) {
	if _, err := NewStore(context.Background(), StoreConfig{Type: "ftp"}); err == nil {
		t.Error("expected error for unsupported store type")
	}
}

type downStore struct{ puts int }

func (s *downStore) Put(_ context.Context, _ string, r io.Reader, _ int64, _ string) (string, error) {
	s.puts++
	io.Copy(io.Discard, r)
	return "", errors.New("503 service unavailable")
}

func TestMigrator_BreakerStopsUploads(t *testing.T) {
	ctx := context.Background()
	store := &downStore{}
	r, _ := retry.NewRetryer(retry.Config{Attempts: 2})
	breaker, err := resilience.New(resilience.Config{Name: "store", MaxFailures: 2, OpenTimeoutMs: 60000})
	if err != nil {
		t.Fatalf("resilience.New: %v", err)
	}

	src := &fakeSource{
		files:  map[string]string{"a.txt": "1", "b.txt": "2", "c.txt": "3"},
		opened: map[string]int{},
	}
	m := &Migrator{Source: src, Store: store, Retryer: r, Breaker: breaker, Logger: zerolog.Nop()}

	sum, err := m.Migrate(ctx, "docs")
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if sum.Failed != 3 || sum.Migrated != 0 {
		t.Errorf("summary = %+v, want 3 failed", sum)
	}
	// a.txt: две попытки размыкают цепь, дальше хранилище не вызывается
	if store.puts != 2 {
		t.Errorf("store called %d times, want 2", store.puts)
	}
	if breaker.State() != resilience.StateOpen {
		t.Errorf("breaker state = %v, want open", breaker.State())
	}
}
