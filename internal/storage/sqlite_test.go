package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/hiddenthread/internal/apperr"
	"github.com/hyperjump/hiddenthread/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "sub", "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStorage_Notes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note := &models.Note{
		ID:             "n1",
		Content:        "I need a quiet place to read",
		Sentiments:     []string{"tired"},
		Needs:          []string{"quiet reading space"},
		Availabilities: nil,
	}
	if err := store.CreateNote(ctx, note); err != nil {
		t.Fatal(err)
	}
	if note.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if err := store.CreateNote(ctx, note); apperr.KindOf(err) != apperr.KindDuplicateID {
		t.Errorf("expected duplicate_id, got %v", err)
	}

	got, err := store.GetNote(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Needs[0] != "quiet reading space" || len(got.Availabilities) != 0 || got.Availabilities == nil {
		t.Errorf("got %+v", got)
	}

	if _, err := store.GetNote(ctx, "missing"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("expected not_found, got %v", err)
	}

	list, err := store.ListNotes(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 note, got %d", len(list))
	}
}

func TestSQLiteStorage_Fragments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	frags := []*models.Fragment{
		{Text: "quiet reading space", Category: models.CategoryNeed, NoteID: "n1", Embedding: []float32{1, 0}},
		{Text: "library study room", Category: models.CategoryAvailable, NoteID: "n2", Embedding: []float32{0.6, 0.8}},
		{Text: "chunk", Category: models.CategoryChunk, NoteID: "doc", Embedding: []float32{0, 1}},
	}
	if err := store.CreateFragments(ctx, frags); err != nil {
		t.Fatal(err)
	}
	if frags[0].ID == 0 || frags[1].ID <= frags[0].ID || frags[2].ID <= frags[1].ID {
		t.Fatalf("ids not monotonic: %d %d %d", frags[0].ID, frags[1].ID, frags[2].ID)
	}

	got, err := store.GetFragment(ctx, frags[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != models.CategoryAvailable || got.Embedding[1] != 0.8 {
		t.Errorf("got %+v", got)
	}

	page, err := store.ListFragments(ctx, frags[0].ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != frags[1].ID {
		t.Errorf("page = %+v", page)
	}

	byNote, _ := store.FragmentsByNote(ctx, "n1")
	if len(byNote) != 1 || byNote[0].Text != "quiet reading space" {
		t.Errorf("byNote = %+v", byNote)
	}

	if _, err := store.GetFragment(ctx, 999); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestSQLiteStorage_EmbeddingsAppendOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.LoadEmbedding(ctx, "k"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := store.SaveEmbedding(ctx, "k", []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveEmbedding(ctx, "k", []float32{0, 1}); err != nil {
		t.Fatal(err)
	}
	v, ok, err := store.LoadEmbedding(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if v[0] != 1 {
		t.Errorf("existing key was overwritten: %v", v)
	}
}

func TestSQLiteStorage_Suggestions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &models.Suggestion{ID: "s1", Text: "first", Match: models.Match{NeedNoteID: "a", AvailableNoteID: "b", Score: 0.9}}
	second := &models.Suggestion{ID: "s2", Text: "second", Match: models.Match{NeedNoteID: "c", AvailableNoteID: "a", Score: 0.5}}
	third := &models.Suggestion{ID: "s3", Text: "third", Match: models.Match{NeedNoteID: "c", AvailableNoteID: "d", Score: 0.4}}
	if err := store.CreateSuggestions(ctx, []*models.Suggestion{first, second}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateSuggestions(ctx, []*models.Suggestion{third}); err != nil {
		t.Fatal(err)
	}

	all, err := store.ListSuggestions(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "s3" || all[2].ID != "s1" {
		t.Errorf("expected newest first, got %v", ids(all))
	}

	forA, _ := store.ListSuggestions(ctx, "a", 10)
	if len(forA) != 2 {
		t.Errorf("suggestions for a = %v", ids(forA))
	}

	if err := store.CreateSuggestions(ctx, []*models.Suggestion{first}); apperr.KindOf(err) != apperr.KindDuplicateID {
		t.Errorf("expected duplicate_id, got %v", err)
	}
}

func TestSQLiteStorage_DocumentsAndStats(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.CreateDocument(ctx, &models.Document{ID: "d1", Title: "Guide", Chunks: 2}); err != nil {
		t.Fatal(err)
	}
	doc, err := store.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "Guide" || doc.Chunks != 2 {
		t.Errorf("doc = %+v", doc)
	}
	if _, err := store.GetDocument(ctx, "nope"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("expected not_found, got %v", err)
	}

	_ = store.SaveEmbedding(ctx, "k", []float32{1})
	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Documents != 1 || st.Embeddings != 1 || st.Fragments != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func ids(list []*models.Suggestion) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}
