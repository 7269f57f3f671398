package notes

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n := &Note{Title: "Groceries", Transcript: "milk and bread", AudioPath: "/tmp/a.flac"}
	if err := s.Insert(ctx, n); err != nil {
		t.Fatal(err)
	}
	if n.ID == "" {
		t.Fatal("ID not assigned")
	}
	if n.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not assigned")
	}

	got, err := s.Get(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Groceries" || got.Transcript != "milk and bread" || got.AudioPath != "/tmp/a.flac" {
		t.Errorf("got %+v", got)
	}
	if got.CreatedAt.UnixMilli() != n.CreatedAt.UnixMilli() {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, n.CreatedAt)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestInsertReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	n := &Note{ID: "fixed", Title: "one", Transcript: "a"}
	s.Insert(ctx, n)
	n2 := &Note{ID: "fixed", Title: "two", Transcript: "b"}
	if err := s.Insert(ctx, n2); err != nil {
		t.Fatal(err)
	}
	all, _ := s.All(ctx)
	if len(all) != 1 || all[0].Title != "two" {
		t.Errorf("all = %+v", all)
	}
	if all[0].AudioPath != "" {
		t.Errorf("empty audio path should round trip as empty, got %q", all[0].AudioPath)
	}
}

func TestIDsAreTimeOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		n := &Note{Title: "n"}
		s.Insert(ctx, n)
		ids = append(ids, n.ID)
		time.Sleep(2 * time.Millisecond)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("id %d (%s) not after %s", i, ids[i], ids[i-1])
		}
	}
}

func TestUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	n := &Note{Title: "draft", Transcript: "x"}
	s.Insert(ctx, n)

	n.Transcript = "edited"
	if err := s.Update(ctx, n); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, n.ID)
	if got.Transcript != "edited" {
		t.Errorf("transcript = %q", got.Transcript)
	}

	if err := s.Update(ctx, &Note{ID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestAllNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	for i, title := range []string{"old", "mid", "new"} {
		s.Insert(ctx, &Note{Title: title, CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	all, err := s.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Title != "new" || all[2].Title != "old" {
		t.Errorf("order wrong: %+v", all)
	}
}

func TestForDay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)
	s.Insert(ctx, &Note{Title: "before", CreatedAt: day.Add(-time.Millisecond)})
	s.Insert(ctx, &Note{Title: "midnight", CreatedAt: day})
	s.Insert(ctx, &Note{Title: "evening", CreatedAt: day.Add(23 * time.Hour)})
	s.Insert(ctx, &Note{Title: "next", CreatedAt: day.AddDate(0, 0, 1)})

	got, err := s.ForDay(ctx, day.Add(15*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Title != "evening" || got[1].Title != "midnight" {
		t.Errorf("ForDay = %+v", got)
	}
}

func TestSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Insert(ctx, &Note{Title: "Meeting", Transcript: "discuss budget"})
	s.Insert(ctx, &Note{Title: "Shopping", Transcript: "buy 100% juice"})
	s.Insert(ctx, &Note{Title: "file_name", Transcript: "nothing"})
	s.Insert(ctx, &Note{Title: "filename", Transcript: "nothing"})

	tests := []struct {
		q    string
		want int
	}{
		{"budget", 1},
		{"meet", 1},
		{"100%", 1},
		{"%", 1},
		{"_", 1},
		{"file_", 1},
		{"", 4},
		{"absent", 0},
	}
	for _, tt := range tests {
		got, err := s.Search(ctx, tt.q)
		if err != nil {
			t.Fatalf("Search(%q): %v", tt.q, err)
		}
		if len(got) != tt.want {
			t.Errorf("Search(%q) = %d notes, want %d", tt.q, len(got), tt.want)
		}
	}
}

func TestDeleteRemovesAudio(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	var ids []string
	var paths []string
	for _, name := range []string{"a.flac", "b.flac", "c.flac"} {
		p := filepath.Join(dir, name)
		os.WriteFile(p, []byte("x"), 0o644)
		n := &Note{Title: name, AudioPath: p}
		s.Insert(ctx, n)
		ids = append(ids, n.ID)
		paths = append(paths, p)
	}

	if err := s.DeleteByID(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Error("audio file of deleted note still exists")
	}

	if err := s.DeleteByIDs(ctx, []string{ids[1], ids[2], "unknown"}); err != nil {
		t.Fatal(err)
	}
	for _, p := range paths[1:] {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists", p)
		}
	}
	all, _ := s.All(ctx)
	if len(all) != 0 {
		t.Errorf("%d notes left", len(all))
	}
}

func TestDeleteMissingAudioFile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	n := &Note{Title: "gone", AudioPath: filepath.Join(t.TempDir(), "never.flac")}
	s.Insert(ctx, n)
	if err := s.DeleteByID(ctx, n.ID); err != nil {
		t.Errorf("missing audio file should not fail delete: %v", err)
	}
	if err := s.DeleteByIDs(ctx, nil); err != nil {
		t.Error(err)
	}
}

func TestChanges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ch := s.Changes()

	n := &Note{Title: "x"}
	s.Insert(ctx, n)
	s.Update(ctx, n)
	s.DeleteByID(ctx, n.ID)

	want := []ChangeKind{Inserted, Updated, Deleted}
	for _, k := range want {
		select {
		case c := <-ch:
			if c.Kind != k || len(c.IDs) != 1 || c.IDs[0] != n.ID {
				t.Errorf("change = %+v, want %s of %s", c, k, n.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s change", k)
		}
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Insert(context.Background(), &Note{ID: "keep", Title: "persisted"})
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(context.Background(), "keep")
	if err != nil || got.Title != "persisted" {
		t.Errorf("reopen: %+v, %v", got, err)
	}
}
