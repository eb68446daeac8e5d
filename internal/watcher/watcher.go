// Package watcher watches note and document inbox directories with fsnotify and hands
// new or changed files to an ingest handler after a short debounce.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Handler ingests one file. A failing file is logged and the watcher keeps running.
type Handler func(ctx context.Context, path string) error

// Inbox is a watched directory and the handler for files that land in it.
type Inbox struct {
	Dir    string
	Handle Handler
}

// Watcher watches inbox directories and invokes their handlers on file changes.
// Removals are ignored: ingested fragments are never retracted.
type Watcher struct {
	inboxes    []Inbox
	extensions []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	fsw      *fsnotify.Watcher
	pending  map[string]*time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for file events and handler failures.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is handled.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher over inboxes. extensions filters which files are handled
// (empty = all).
func NewWatcher(inboxes []Inbox, extensions []string, recursive bool, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		extensions: extensions,
		recursive:  recursive,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, in := range inboxes {
		in.Dir = filepath.Clean(in.Dir)
		w.inboxes = append(w.inboxes, in)
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start creates missing inbox directories and starts watching. It runs until ctx is
// cancelled or Stop is called. Handlers receive ctx.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	for _, in := range w.inboxes {
		if err := w.addTreeLocked(in.Dir, true); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.started = true
	w.logger.Info("Watching inbox directories",
		zap.Strings("directories", w.Directories()), zap.Strings("extensions", w.extensions), zap.Bool("recursive", w.recursive))
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	path := ev.Name
	if _, ok := w.inboxFor(path); !ok {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		w.handleNewDirectory(path)
		return
	}
	if matchExtension(path, w.extensions) {
		w.schedule(path)
	}
}

// handleNewDirectory starts watching a directory created (or moved) inside an inbox
// and handles the files already in it.
func (w *Watcher) handleNewDirectory(dir string) {
	if !w.recursive {
		return
	}
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	if err := w.addTreeLocked(dir, false); err != nil {
		w.logger.Warn("Failed to watch new directory", zap.String("path", dir), zap.Error(err))
	}
	w.mu.Unlock()
	w.syncDirectory(dir)
}

func (w *Watcher) addTreeLocked(root string, create bool) error {
	if create {
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	}
	if !w.recursive {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
}

// inboxFor returns the innermost inbox containing path.
func (w *Watcher) inboxFor(path string) (Inbox, bool) {
	clean := filepath.Clean(path)
	var best Inbox
	found := false
	for _, in := range w.inboxes {
		if !inDir(in.Dir, clean) {
			continue
		}
		if !found || len(in.Dir) > len(best.Dir) {
			best, found = in, true
		}
	}
	return best, found
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.handle(path)
	})
}

func (w *Watcher) handle(path string) {
	in, ok := w.inboxFor(path)
	if !ok || in.Handle == nil {
		return
	}
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := in.Handle(ctx, path); err != nil {
		w.logger.Warn("Failed to ingest inbox file", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Debug("Ingested inbox file", zap.String("path", path))
}

func (w *Watcher) syncDirectory(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, w.extensions) {
			w.handle(path)
		}
		return nil
	})
}

// Directories returns the watched inbox directories.
func (w *Watcher) Directories() []string {
	out := make([]string, len(w.inboxes))
	for i, in := range w.inboxes {
		out[i] = in.Dir
	}
	return out
}

// SyncExistingFiles handles every matching file already present in the inboxes.
// Call it after Start to pick up files dropped while the server was down.
func (w *Watcher) SyncExistingFiles() {
	for _, in := range w.inboxes {
		w.syncDirectory(in.Dir)
	}
}

// Stop stops the watcher and releases resources. Pending debounced files are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
