package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/hiddenthread/internal/apperr"
	"github.com/hyperjump/hiddenthread/internal/models"
	"github.com/hyperjump/hiddenthread/internal/vector"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a private
// in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps one in-memory database and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		sentiments TEXT NOT NULL DEFAULT '[]',
		needs TEXT NOT NULL DEFAULT '[]',
		availabilities TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_notes_created_at ON notes(created_at);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT,
		source TEXT,
		chunks INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS fragments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL,
		category TEXT NOT NULL,
		note_id TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_fragments_note_id ON fragments(note_id);

	CREATE TABLE IF NOT EXISTS embeddings (
		key TEXT PRIMARY KEY,
		dimensions INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS suggestions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		need_id INTEGER NOT NULL,
		available_id INTEGER NOT NULL,
		need_text TEXT NOT NULL,
		available_text TEXT NOT NULL,
		need_note_id TEXT NOT NULL,
		available_note_id TEXT NOT NULL,
		score REAL NOT NULL,
		text TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_suggestions_need_note ON suggestions(need_note_id);
	CREATE INDEX IF NOT EXISTS idx_suggestions_available_note ON suggestions(available_note_id);
	`
	_, err := db.Exec(schema)
	return err
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// CreateNote inserts a note. A second note with the same ID is a duplicate_id error.
func (s *SQLiteStorage) CreateNote(ctx context.Context, note *models.Note) error {
	sentiments, err := marshalList(note.Sentiments)
	if err != nil {
		return err
	}
	needs, err := marshalList(note.Needs)
	if err != nil {
		return err
	}
	avail, err := marshalList(note.Availabilities)
	if err != nil {
		return err
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notes (id, content, sentiments, needs, availabilities, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		note.ID, note.Content, sentiments, needs, avail, note.CreatedAt,
	)
	if isConstraint(err) {
		return apperr.New(apperr.KindDuplicateID, "note %s already exists", note.ID)
	}
	return err
}

// GetNote returns a note by ID.
func (s *SQLiteStorage) GetNote(ctx context.Context, id string) (*models.Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, sentiments, needs, availabilities, created_at
		 FROM notes WHERE id = ?`, id)
	note, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, "note not found: %s", id)
	}
	return note, err
}

// ListNotes returns notes newest first with offset and limit.
func (s *SQLiteStorage) ListNotes(ctx context.Context, offset, limit int) ([]*models.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, sentiments, needs, availabilities, created_at
		 FROM notes ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []*models.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNote(row scanner) (*models.Note, error) {
	var note models.Note
	var sentiments, needs, avail string
	if err := row.Scan(&note.ID, &note.Content, &sentiments, &needs, &avail, &note.CreatedAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{{sentiments, &note.Sentiments}, {needs, &note.Needs}, {avail, &note.Availabilities}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal note %s: %w", note.ID, err)
		}
	}
	return &note, nil
}

func marshalList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to marshal list: %w", err)
	}
	return string(b), nil
}

// CreateDocument records a chunked document.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, source, chunks, created_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Source, doc.Chunks, doc.CreatedAt,
	)
	if isConstraint(err) {
		return apperr.New(apperr.KindDuplicateID, "document %s already exists", doc.ID)
	}
	return err
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	var title, source sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, source, chunks, created_at FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &title, &source, &doc.Chunks, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, "document not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	doc.Title = title.String
	doc.Source = source.String
	return &doc, nil
}

// CreateFragments inserts fragments in a transaction and sets their IDs and CreatedAt.
// IDs come from an AUTOINCREMENT key and are never reused.
func (s *SQLiteStorage) CreateFragments(ctx context.Context, fragments []*models.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fragments (text, category, note_id, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	ids := make([]int64, len(fragments))
	for i, f := range fragments {
		res, err := stmt.ExecContext(ctx, f.Text, string(f.Category), f.NoteID, vector.EncodeVector(f.Embedding), now)
		if err != nil {
			return err
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for i, f := range fragments {
		f.ID = ids[i]
		f.CreatedAt = now
	}
	return nil
}

const fragmentColumns = `id, text, category, note_id, embedding, created_at`

func scanFragment(row scanner) (*models.Fragment, error) {
	var f models.Fragment
	var category string
	var blob []byte
	if err := row.Scan(&f.ID, &f.Text, &category, &f.NoteID, &blob, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Category = models.Category(category)
	f.Embedding = vector.DecodeVector(blob)
	return &f, nil
}

func (s *SQLiteStorage) queryFragments(ctx context.Context, query string, args ...interface{}) ([]*models.Fragment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Fragment
	for rows.Next() {
		f, err := scanFragment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFragment returns a fragment by ID.
func (s *SQLiteStorage) GetFragment(ctx context.Context, id int64) (*models.Fragment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fragmentColumns+` FROM fragments WHERE id = ?`, id)
	f, err := scanFragment(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, "fragment not found: %d", id)
	}
	return f, err
}

// ListFragments returns up to limit fragments with ID greater than afterID, in ID order.
func (s *SQLiteStorage) ListFragments(ctx context.Context, afterID int64, limit int) ([]*models.Fragment, error) {
	return s.queryFragments(ctx,
		`SELECT `+fragmentColumns+` FROM fragments WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
}

// FragmentsByNote returns the fragments owned by noteID in ID order.
func (s *SQLiteStorage) FragmentsByNote(ctx context.Context, noteID string) ([]*models.Fragment, error) {
	return s.queryFragments(ctx,
		`SELECT `+fragmentColumns+` FROM fragments WHERE note_id = ? ORDER BY id`, noteID)
}

// LoadEmbedding returns the vector stored under key.
func (s *SQLiteStorage) LoadEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE key = ?`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return vector.DecodeVector(blob), true, nil
}

// SaveEmbedding stores vector under key unless the key already exists.
func (s *SQLiteStorage) SaveEmbedding(ctx context.Context, key string, vec []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO embeddings (key, dimensions, vector, created_at) VALUES (?, ?, ?, ?)`,
		key, len(vec), vector.EncodeVector(vec), time.Now(),
	)
	return err
}

// CreateSuggestions inserts suggestions in a transaction, preserving their order.
func (s *SQLiteStorage) CreateSuggestions(ctx context.Context, suggestions []*models.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO suggestions (id, need_id, available_id, need_text, available_text,
		 need_note_id, available_note_id, score, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sg := range suggestions {
		if sg.CreatedAt.IsZero() {
			sg.CreatedAt = time.Now()
		}
		m := sg.Match
		_, err := stmt.ExecContext(ctx, sg.ID, m.NeedID, m.AvailableID, m.NeedText, m.AvailableText,
			m.NeedNoteID, m.AvailableNoteID, m.Score, sg.Text, sg.CreatedAt)
		if isConstraint(err) {
			return apperr.New(apperr.KindDuplicateID, "suggestion %s already exists", sg.ID)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListSuggestions returns stored suggestions newest first. A non-empty noteID restricts
// the result to suggestions whose match involves that note.
func (s *SQLiteStorage) ListSuggestions(ctx context.Context, noteID string, limit int) ([]*models.Suggestion, error) {
	query := `SELECT id, need_id, available_id, need_text, available_text, need_note_id,
		available_note_id, score, text, created_at FROM suggestions`
	var args []interface{}
	if noteID != "" {
		query += ` WHERE need_note_id = ? OR available_note_id = ?`
		args = append(args, noteID, noteID)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Suggestion
	for rows.Next() {
		var sg models.Suggestion
		m := &sg.Match
		if err := rows.Scan(&sg.ID, &m.NeedID, &m.AvailableID, &m.NeedText, &m.AvailableText,
			&m.NeedNoteID, &m.AvailableNoteID, &m.Score, &sg.Text, &sg.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sg)
	}
	return out, rows.Err()
}

// Stats returns record counts.
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dst   *int64
	}{
		{"notes", &st.Notes},
		{"documents", &st.Documents},
		{"fragments", &st.Fragments},
		{"embeddings", &st.Embeddings},
		{"suggestions", &st.Suggestions},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return &st, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
