// Package indexer is the single write path into the engine: it embeds, persists and
// commits fragments for raw fragments, notes, documents and inbox files, and rebuilds
// the in-memory corpus from storage on startup.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/hiddenthread/internal/apperr"
	"github.com/hyperjump/hiddenthread/internal/config"
	"github.com/hyperjump/hiddenthread/internal/corpus"
	"github.com/hyperjump/hiddenthread/internal/embedding"
	"github.com/hyperjump/hiddenthread/internal/extract"
	"github.com/hyperjump/hiddenthread/internal/fileid"
	"github.com/hyperjump/hiddenthread/internal/keyword"
	"github.com/hyperjump/hiddenthread/internal/llm"
	"github.com/hyperjump/hiddenthread/internal/metrics"
	"github.com/hyperjump/hiddenthread/internal/models"
	"github.com/hyperjump/hiddenthread/internal/storage"
)

// restorePageSize is how many fragments Restore reads from storage per query.
const restorePageSize = 1000

// Indexer serializes ingestion. One batch at a time runs embed, persist, insert,
// compare and connect; queries keep running against the corpus meanwhile.
type Indexer struct {
	mu sync.Mutex

	// pending holds note ids claimed by ingestions that have not stored their note yet.
	pendingMu sync.Mutex
	pending   map[string]struct{}

	storage   storage.Storage
	cache     *embedding.Cache
	corpus    *corpus.Corpus
	keywords  keyword.FragmentIndex
	notes     *llm.NoteExtractor
	files     *extract.Extractor
	chunker   *Chunker
	extension []string
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(idx *Indexer) { idx.metrics = m }
}

// WithKeywordIndex keeps a full-text index in step with committed fragments.
func WithKeywordIndex(k keyword.FragmentIndex) IndexerOption {
	return func(idx *Indexer) { idx.keywords = k }
}

// WithNoteExtractor enables IngestNote. Without it notes fail with generation_unavailable.
func WithNoteExtractor(e *llm.NoteExtractor) IndexerOption {
	return func(idx *Indexer) { idx.notes = e }
}

// WithFileExtractor replaces the default file extractor.
func WithFileExtractor(e *extract.Extractor) IndexerOption {
	return func(idx *Indexer) { idx.files = e }
}

// WithExtensions restricts IngestFile and IndexDirectory to the given extensions.
func WithExtensions(exts []string) IndexerOption {
	return func(idx *Indexer) { idx.extension = exts }
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(store storage.Storage, cache *embedding.Cache, c *corpus.Corpus, cfg *config.EngineConfig, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		storage: store,
		cache:   cache,
		corpus:  c,
		files:   extract.NewExtractor(),
		chunker: NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Ingest embeds and commits a single fragment.
func (idx *Indexer) Ingest(ctx context.Context, text string, category models.Category, noteID string) (*models.Fragment, error) {
	frags, err := idx.IngestBatch(ctx, []models.FragmentInput{{Text: text, Category: category, NoteID: noteID}})
	if err != nil {
		return nil, err
	}
	return frags[0], nil
}

// IngestBatch embeds every input, persists the fragments (assigning ids in input order)
// and commits them to the corpus. An invalid input or an embedding failure aborts the
// batch before anything is stored. A structural failure during commit is returned after
// the fragments were persisted; the next Restore completes their edges. inputs is not
// modified.
func (idx *Indexer) IngestBatch(ctx context.Context, inputs []models.FragmentInput) ([]*models.Fragment, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	prepared, err := prepareInputs(inputs)
	if err != nil {
		return nil, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.ingestLocked(ctx, prepared)
}

// prepareInputs preprocesses and validates a copy of inputs.
func prepareInputs(inputs []models.FragmentInput) ([]models.FragmentInput, error) {
	prepared := make([]models.FragmentInput, len(inputs))
	for i, in := range inputs {
		in.Text = Preprocess(in.Text)
		if err := in.Validate(); err != nil {
			return nil, err
		}
		prepared[i] = in
	}
	return prepared, nil
}

func (idx *Indexer) ingestLocked(ctx context.Context, inputs []models.FragmentInput) ([]*models.Fragment, error) {
	frags := make([]*models.Fragment, len(inputs))
	for i, in := range inputs {
		vec, err := idx.cache.GetOrCompute(ctx, in.Text)
		if err != nil {
			return nil, err
		}
		frags[i] = &models.Fragment{Text: in.Text, Category: in.Category, NoteID: in.NoteID, Embedding: vec}
	}
	if err := idx.storage.CreateFragments(ctx, frags); err != nil {
		return nil, fmt.Errorf("failed to store fragments: %w", err)
	}
	if err := idx.commitLocked(ctx, frags); err != nil {
		return frags, err
	}
	idx.logger.Debug("Ingested fragments", zap.Int("count", len(frags)), zap.Int64("first_id", frags[0].ID))
	return frags, nil
}

// commitLocked commits persisted fragments to the corpus and the keyword index.
func (idx *Indexer) commitLocked(ctx context.Context, frags []*models.Fragment) error {
	res, err := idx.corpus.Commit(ctx, frags)
	for _, f := range frags[:res.Inserted] {
		idx.metrics.FragmentCommitted(string(f.Category))
	}
	idx.metrics.EdgesAdded(res.Edges)
	info := idx.corpus.Info()
	idx.metrics.CorpusSize(info.NodeCount, info.EdgeCount)
	if err != nil {
		idx.logger.Error("Corpus commit failed", zap.Int("committed", res.Inserted), zap.Error(err))
		return err
	}
	if idx.keywords != nil {
		if err := idx.keywords.IndexFragments(ctx, frags); err != nil {
			// The corpus is authoritative; keyword hits are a convenience.
			idx.logger.Warn("Keyword indexing failed", zap.Error(err))
		}
	}
	return nil
}

// IngestNote extracts needs and availabilities from a raw note, ingests them as one
// batch and stores the note record. Notes with an existing id are rejected.
func (idx *Indexer) IngestNote(ctx context.Context, in models.NoteInput) (*models.Note, []*models.Fragment, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	notes, frags, err := idx.ingestNotes(ctx, []models.NoteInput{in})
	if err != nil {
		return nil, frags, err
	}
	return notes[0], frags, nil
}

// IngestNotes extracts every note first, then ingests all of their fragments as a single
// batch so ids are assigned in note order, and finally stores the note records. Any
// extraction failure or existing id aborts the whole batch before anything is stored.
func (idx *Indexer) IngestNotes(ctx context.Context, in models.NoteBatchInput) ([]*models.Note, []*models.Fragment, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	return idx.ingestNotes(ctx, in.Notes)
}

func (idx *Indexer) ingestNotes(ctx context.Context, ins []models.NoteInput) ([]*models.Note, []*models.Fragment, error) {
	if idx.notes == nil {
		return nil, nil, apperr.New(apperr.KindGenerationUnavailable, "note extraction is not configured")
	}
	ids := make([]string, len(ins))
	for i, in := range ins {
		ids[i] = in.ID
		if ids[i] == "" {
			ids[i] = uuid.New().String()
		}
	}
	release, err := idx.reserveNotes(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	extracted := make([]*llm.Extraction, len(ins))
	var inputs []models.FragmentInput
	for i, in := range ins {
		ex, err := idx.notes.Extract(ctx, in.Content)
		if err != nil {
			return nil, nil, err
		}
		extracted[i] = ex
		for _, n := range ex.Needs {
			inputs = append(inputs, models.FragmentInput{Text: n, Category: models.CategoryNeed, NoteID: ids[i]})
		}
		for _, a := range ex.Availabilities {
			inputs = append(inputs, models.FragmentInput{Text: a, Category: models.CategoryAvailable, NoteID: ids[i]})
		}
	}
	frags, err := idx.IngestBatch(ctx, inputs)
	if err != nil {
		return nil, frags, err
	}

	now := time.Now().UTC()
	notes := make([]*models.Note, len(ins))
	for i, in := range ins {
		ex := extracted[i]
		notes[i] = &models.Note{
			ID:             ids[i],
			Content:        in.Content,
			Sentiments:     ex.Sentiments,
			Needs:          ex.Needs,
			Availabilities: ex.Availabilities,
			CreatedAt:      now,
		}
		if err := idx.storage.CreateNote(ctx, notes[i]); err != nil {
			return nil, frags, err
		}
		idx.logger.Info("Ingested note", zap.String("note_id", ids[i]),
			zap.Int("needs", len(ex.Needs)), zap.Int("availabilities", len(ex.Availabilities)))
	}
	return notes, frags, nil
}

// reserveNotes claims note ids until release is called. An id that is stored or claimed
// by an ingestion still in flight is a duplicate.
func (idx *Indexer) reserveNotes(ctx context.Context, ids []string) (release func(), err error) {
	idx.pendingMu.Lock()
	defer idx.pendingMu.Unlock()
	if idx.pending == nil {
		idx.pending = make(map[string]struct{})
	}
	for _, id := range ids {
		if _, ok := idx.pending[id]; ok {
			return nil, apperr.New(apperr.KindDuplicateID, "note %q already exists", id)
		}
		if err := idx.ensureNewNote(ctx, id); err != nil {
			return nil, err
		}
	}
	for _, id := range ids {
		idx.pending[id] = struct{}{}
	}
	return func() {
		idx.pendingMu.Lock()
		defer idx.pendingMu.Unlock()
		for _, id := range ids {
			delete(idx.pending, id)
		}
	}, nil
}

func (idx *Indexer) ensureNewNote(ctx context.Context, id string) error {
	_, err := idx.storage.GetNote(ctx, id)
	switch {
	case err == nil:
		return apperr.New(apperr.KindDuplicateID, "note %q already exists", id)
	case apperr.KindOf(err) == apperr.KindNotFound:
		return nil
	default:
		return err
	}
}

// IngestDocument chunks a document into word windows and ingests them as chunk
// fragments in one batch.
func (idx *Indexer) IngestDocument(ctx context.Context, in models.DocumentInput) (*models.Document, []*models.Fragment, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	return idx.ingestDocument(ctx, in.ID, in.Title, "", in.Content)
}

func (idx *Indexer) ingestDocument(ctx context.Context, id, title, source, content string) (*models.Document, []*models.Fragment, error) {
	if _, err := idx.storage.GetDocument(ctx, id); err == nil {
		return nil, nil, apperr.New(apperr.KindDuplicateID, "document %q already exists", id)
	} else if apperr.KindOf(err) != apperr.KindNotFound {
		return nil, nil, err
	}
	chunks := idx.chunker.Chunk(Preprocess(content))
	if len(chunks) == 0 {
		return nil, nil, apperr.New(apperr.KindValidation, "document %q has no text", id)
	}
	inputs := make([]models.FragmentInput, len(chunks))
	for i, ch := range chunks {
		inputs[i] = models.FragmentInput{Text: ch, Category: models.CategoryChunk, NoteID: id}
	}
	frags, err := idx.IngestBatch(ctx, inputs)
	if err != nil {
		return nil, frags, err
	}
	doc := &models.Document{ID: id, Title: title, Source: source, Chunks: len(frags), CreatedAt: time.Now().UTC()}
	if err := idx.storage.CreateDocument(ctx, doc); err != nil {
		return nil, frags, fmt.Errorf("failed to store document: %w", err)
	}
	idx.logger.Info("Ingested document", zap.String("doc_id", id), zap.String("title", title), zap.Int("chunks", len(frags)))
	return doc, frags, nil
}

// IngestFile extracts a file's text and ingests it as a document whose id is derived
// from the absolute path. A file that was already ingested is skipped and reported with
// skipped=true.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (doc *models.Document, skipped bool, err error) {
	absPath, err := idx.checkFile(path)
	if err != nil {
		return nil, false, err
	}
	docID := fileid.FileDocID(absPath)
	if existing, err := idx.storage.GetDocument(ctx, docID); err == nil {
		idx.logger.Debug("Skipping ingested file", zap.String("path", absPath))
		return existing, true, nil
	}
	text, err := idx.files.Extract(absPath)
	if err != nil {
		return nil, false, fmt.Errorf("extract content: %w", err)
	}
	doc, _, err = idx.ingestDocument(ctx, docID, filepath.Base(absPath), absPath, text)
	return doc, false, err
}

// IngestNoteFile reads a note file and ingests its content as a note. The note id
// depends on path and content, so an edited file becomes a new note and an unchanged
// one is skipped.
func (idx *Indexer) IngestNoteFile(ctx context.Context, path string) (note *models.Note, skipped bool, err error) {
	absPath, err := idx.checkFile(path)
	if err != nil {
		return nil, false, err
	}
	text, err := idx.files.Extract(absPath)
	if err != nil {
		return nil, false, fmt.Errorf("extract content: %w", err)
	}
	id := fileid.NoteID(absPath, []byte(text))
	if existing, err := idx.storage.GetNote(ctx, id); err == nil {
		return existing, true, nil
	}
	note, _, err = idx.IngestNote(ctx, models.NoteInput{ID: id, Content: text})
	return note, false, err
}

func (idx *Indexer) checkFile(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if !extract.Supported(ext) || (len(idx.extension) > 0 && !extensionAllowed(ext, idx.extension)) {
		return "", apperr.New(apperr.KindValidation, "extension %q is not supported", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", apperr.New(apperr.KindValidation, "not a regular file: %s", absPath)
	}
	return absPath, nil
}

// IndexDirectory walks dir recursively and ingests each supported regular file as a
// document. Returns the number of newly ingested files and the first error encountered.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !extract.Supported(ext) || (len(idx.extension) > 0 && !extensionAllowed(ext, idx.extension)) {
			return nil
		}
		_, skipped, ingestErr := idx.IngestFile(ctx, path)
		if ingestErr != nil {
			return fmt.Errorf("%s: %w", path, ingestErr)
		}
		if !skipped {
			n++
		}
		return nil
	})
	return n, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// Restore rebuilds the corpus from persisted fragments in id order without re-embedding.
// When snapshotPath names a vector index snapshot it is loaded first so vectors need not
// be re-inserted; a snapshot that disagrees with storage is discarded. Returns the number
// of fragments restored.
func (idx *Indexer) Restore(ctx context.Context, snapshotPath string) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var all []*models.Fragment
	var after int64
	for {
		page, err := idx.storage.ListFragments(ctx, after, restorePageSize)
		if err != nil {
			return 0, fmt.Errorf("failed to load fragments: %w", err)
		}
		all = append(all, page...)
		if len(page) < restorePageSize {
			break
		}
		after = page[len(page)-1].ID
	}

	if err := idx.corpus.Reset(); err != nil {
		return 0, err
	}
	usedSnapshot := false
	if snapshotPath != "" {
		if err := idx.corpus.LoadSnapshot(snapshotPath); err != nil {
			idx.logger.Warn("Ignoring vector snapshot", zap.String("path", snapshotPath), zap.Error(err))
			if err := idx.corpus.Reset(); err != nil {
				return 0, err
			}
		} else {
			usedSnapshot = idx.corpus.Size() > 0
		}
	}

	_, err := idx.corpus.Commit(ctx, all)
	if usedSnapshot && (err != nil || idx.corpus.Size() != len(all)) {
		idx.logger.Warn("Vector snapshot does not match storage, rebuilding", zap.Error(err))
		if err := idx.corpus.Reset(); err != nil {
			return 0, err
		}
		_, err = idx.corpus.Commit(ctx, all)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to restore corpus: %w", err)
	}

	if idx.keywords != nil && len(all) > 0 {
		if n, countErr := idx.keywords.DocCount(); countErr != nil || n < uint64(len(all)) {
			if err := idx.keywords.IndexFragments(ctx, all); err != nil {
				idx.logger.Warn("Keyword reindex failed", zap.Error(err))
			}
		}
	}
	info := idx.corpus.Info()
	idx.metrics.CorpusSize(info.NodeCount, info.EdgeCount)
	idx.logger.Info("Restored corpus", zap.Int("fragments", len(all)), zap.Int("edges", info.EdgeCount),
		zap.Bool("snapshot", usedSnapshot))
	return len(all), nil
}

// Snapshot writes the vector index to path.
func (idx *Indexer) Snapshot(path string) error {
	if path == "" {
		return nil
	}
	if err := idx.corpus.SaveSnapshot(path); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// RunSnapshots saves a snapshot every interval until ctx is done, then saves once more.
func (idx *Indexer) RunSnapshots(ctx context.Context, path string, interval time.Duration) {
	if path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := idx.Snapshot(path); err != nil {
				idx.logger.Error("Final snapshot failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := idx.Snapshot(path); err != nil {
				idx.logger.Error("Snapshot failed", zap.Error(err))
				continue
			}
			idx.logger.Debug("Saved vector snapshot", zap.String("path", path))
		}
	}
}
