package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hiddenthread/internal/cli"
	"github.com/hyperjump/hiddenthread/internal/config"
	"github.com/hyperjump/hiddenthread/internal/keyword"
	"github.com/hyperjump/hiddenthread/internal/models"
	"github.com/hyperjump/hiddenthread/internal/search"
	"github.com/hyperjump/hiddenthread/internal/server"
	"github.com/hyperjump/hiddenthread/internal/storage"
	"github.com/hyperjump/hiddenthread/internal/watcher"
	"github.com/hyperjump/hiddenthread/pkg/utils"
)

// commonFlags are shared by the client commands.
type commonFlags struct {
	configPath *string
	serverURL  *string
	output     *string
}

func newFlagSet(name string, withServer bool) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cf := &commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		output:     fs.String("output", "text", "output format: text or json"),
	}
	if withServer {
		cf.serverURL = fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	} else {
		empty := ""
		cf.serverURL = &empty
	}
	return fs, cf
}

func (cf *commonFlags) format() cli.OutputFormat {
	switch *cf.output {
	case "json":
		return cli.OutputJSON
	case "text":
		return cli.OutputText
	}
	fail("Unknown output format %q; use text or json", *cf.output)
	return cli.OutputText
}

func (cf *commonFlags) remote() *apiClient {
	if *cf.serverURL == "" {
		return nil
	}
	return newAPIClient(*cf.serverURL)
}

// withComponents loads config, opens storage directly and runs fn.
func withComponents(cf *commonFlags, fn func(ctx context.Context, cfg *config.Config, c *Components) error) {
	cfg, _, err := loadConfig(*cf.configPath)
	if err != nil {
		fail("Failed to load config: %v", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug)
	if err != nil {
		fail("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		fail("Failed to initialize: %v", err)
	}
	defer components.Close()
	err = fn(ctx, cfg, components)
	if snapErr := components.Indexer.Snapshot(cfg.Storage.IndexPath); snapErr != nil {
		logger.Warn("Vector snapshot failed", zap.Error(snapErr))
	}
	if err != nil {
		fail("%v", err)
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fail("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fail("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("Config loaded", zap.String("config_path", resolvedConfigPath), zap.Bool("debug", debugMode))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()
	idx := components.Indexer

	var inboxes []watcher.Inbox
	for _, dir := range cfg.Watch.Directories {
		inboxes = append(inboxes, watcher.Inbox{Dir: dir, Handle: func(ctx context.Context, path string) error {
			_, _, err := idx.IngestFile(ctx, path)
			return err
		}})
	}
	for _, dir := range cfg.Watch.NoteDirectories {
		inboxes = append(inboxes, watcher.Inbox{Dir: dir, Handle: func(ctx context.Context, path string) error {
			_, _, err := idx.IngestNoteFile(ctx, path)
			return err
		}})
	}
	watchSvc := watcher.NewWatcher(inboxes, cfg.Watch.Extensions, cfg.Watch.RecursiveOrDefault(), watcher.WithLogger(logger))
	if len(inboxes) > 0 {
		if err := watchSvc.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
		go watchSvc.SyncExistingFiles()
	}

	snapshotsDone := make(chan struct{})
	go func() {
		defer close(snapshotsDone)
		idx.RunSnapshots(ctx, cfg.Storage.IndexPath, cfg.Storage.SnapshotInterval)
	}()

	srv := server.NewServer(server.Deps{
		Indexer:     idx,
		Engine:      components.Engine,
		Matcher:     components.Matcher,
		Suggestions: components.Suggestions,
		Corpus:      components.Corpus,
		Storage:     components.Storage,
		Metrics:     components.Metrics,
		Watch:       watchSvc,
		Breaker:     components.Guard,
		Config:      cfg,
	}, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	// RunSnapshots writes a final snapshot once ctx is done.
	<-snapshotsDone
}

func runIngest(args []string) {
	fs, cf := newFlagSet("ingest", false)
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 1 {
		fail("Usage: hiddenthread ingest [flags] <file-or-directory>")
	}
	path := fs.Arg(0)
	withComponents(cf, func(ctx context.Context, cfg *config.Config, c *Components) error {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat path: %w", err)
		}
		if info.IsDir() {
			n, err := c.Indexer.IndexDirectory(ctx, path)
			if err != nil {
				return fmt.Errorf("indexing directory failed: %w", err)
			}
			fmt.Printf("Ingested %d file(s) from %s\n", n, absPath(path))
			return nil
		}
		doc, skipped, err := c.Indexer.IngestFile(ctx, path)
		if err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}
		if skipped {
			fmt.Printf("Already ingested: %s\n", path)
			return nil
		}
		fmt.Printf("Ingested %s as %s (%d chunks)\n", path, doc.ID, doc.Chunks)
		return nil
	})
}

func runNote(args []string) {
	fs, cf := newFlagSet("note", true)
	id := fs.String("id", "", "note id")
	_ = fs.Parse(reorderArgs(args))
	text := joinArgs(fs.Args())
	if text == "" {
		fail("Usage: hiddenthread note [flags] <file | text>")
	}
	in := models.NoteInput{ID: *id, Content: text}
	if info, err := os.Stat(text); err == nil && !info.IsDir() {
		raw, err := os.ReadFile(text)
		if err != nil {
			fail("Failed to read note: %v", err)
		}
		in.Content = string(raw)
	}

	var resp struct {
		Note      *models.Note       `json:"note"`
		Fragments []*models.Fragment `json:"fragments"`
	}
	if client := cf.remote(); client != nil {
		if err := client.post("/api/v1/notes", in, &resp); err != nil {
			fail("Note failed: %v", err)
		}
	} else {
		withComponents(cf, func(ctx context.Context, _ *config.Config, c *Components) error {
			var err error
			resp.Note, resp.Fragments, err = c.Indexer.IngestNote(ctx, in)
			return err
		})
	}
	if cf.format() == cli.OutputJSON {
		_ = cli.WriteJSON(os.Stdout, resp)
		return
	}
	fmt.Printf("Note %s: %d needs, %d availabilities\n", resp.Note.ID, len(resp.Note.Needs), len(resp.Note.Availabilities))
	for _, f := range resp.Fragments {
		fmt.Printf("  #%d [%s] %s\n", f.ID, f.Category, cli.Truncate(f.Text, 100))
	}
}

func runMatch(args []string) {
	fs, cf := newFlagSet("match", true)
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 1 {
		fail("Usage: hiddenthread match [flags] <note-id>")
	}
	noteID := fs.Arg(0)
	var matches []models.Match
	if client := cf.remote(); client != nil {
		var resp struct {
			Matches []models.Match `json:"matches"`
		}
		if err := client.get("/api/v1/notes/"+url.PathEscape(noteID)+"/matches", nil, &resp); err != nil {
			fail("Match failed: %v", err)
		}
		matches = resp.Matches
	} else {
		withComponents(cf, func(ctx context.Context, _ *config.Config, c *Components) error {
			var err error
			matches, err = c.Matcher.MatchNote(ctx, noteID)
			return err
		})
	}
	_ = cli.WriteMatches(os.Stdout, matches, cf.format())
}

func runSuggest(args []string) {
	fs, cf := newFlagSet("suggest", true)
	list := fs.Bool("list", false, "list stored suggestions instead of drafting")
	limit := fs.Int("limit", 20, "number of stored suggestions to list")
	_ = fs.Parse(reorderArgs(args))
	noteID := fs.Arg(0)
	if noteID == "" && !*list {
		fail("Usage: hiddenthread suggest [flags] <note-id>")
	}

	var suggestions []*models.Suggestion
	failed := 0
	if client := cf.remote(); client != nil {
		var err error
		if *list {
			var resp struct {
				Suggestions []*models.Suggestion `json:"suggestions"`
			}
			q := url.Values{"limit": {strconv.Itoa(*limit)}}
			if noteID != "" {
				q.Set("note_id", noteID)
			}
			err = client.get("/api/v1/suggestions", q, &resp)
			suggestions = resp.Suggestions
		} else {
			var resp struct {
				Suggestions []*models.Suggestion `json:"suggestions"`
				Failures    []interface{}        `json:"failures"`
			}
			err = client.post("/api/v1/notes/"+url.PathEscape(noteID)+"/suggestions", nil, &resp)
			suggestions, failed = resp.Suggestions, len(resp.Failures)
		}
		if err != nil {
			fail("Suggest failed: %v", err)
		}
	} else {
		withComponents(cf, func(ctx context.Context, _ *config.Config, c *Components) error {
			if *list {
				var err error
				suggestions, err = c.Suggestions.List(ctx, noteID, *limit)
				return err
			}
			drafted, failures, err := c.Suggestions.ForNote(ctx, noteID)
			suggestions, failed = drafted, len(failures)
			return err
		})
	}
	_ = cli.WriteSuggestions(os.Stdout, suggestions, cf.format())
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d match(es) could not be drafted\n", failed)
	}
}

func runQuery(args []string) {
	fs, cf := newFlagSet("query", true)
	topK := fs.Int("top-k", -1, "seed fragments (-1 = config default)")
	maxDepth := fs.Int("max-depth", -1, "traversal rounds (-1 = config default)")
	_ = fs.Parse(reorderArgs(args))
	req := models.QueryRequest{Query: joinArgs(fs.Args())}
	if *topK >= 0 {
		req.TopK = models.IntPtr(*topK)
	}
	if *maxDepth >= 0 {
		req.MaxDepth = models.IntPtr(*maxDepth)
	}
	if req.Query == "" {
		fail("Usage: hiddenthread query [flags] <question>")
	}

	var res models.QueryResult
	if client := cf.remote(); client != nil {
		if err := client.post("/api/v1/query", req, &res); err != nil {
			fail("Query failed: %v", err)
		}
	} else {
		withComponents(cf, func(ctx context.Context, _ *config.Config, c *Components) error {
			out, err := c.Engine.Query(ctx, req)
			if err == nil {
				res = *out
			}
			return err
		})
	}
	_ = cli.WriteQueryResult(os.Stdout, &res, cf.format())
}

func runSearch(args []string) {
	fs, cf := newFlagSet("search", true)
	limit := fs.Int("limit", 10, "number of results")
	fuzzy := fs.Bool("fuzzy", false, "enable typo tolerance")
	category := fs.String("category", "", "restrict to need, available or chunk")
	_ = fs.Parse(reorderArgs(args))
	q := joinArgs(fs.Args())
	if q == "" {
		fail("Usage: hiddenthread search [flags] <keywords>")
	}

	var hits []search.FragmentHit
	if client := cf.remote(); client != nil {
		var resp struct {
			Results []search.FragmentHit `json:"results"`
		}
		params := url.Values{"q": {q}, "limit": {strconv.Itoa(*limit)}}
		if *fuzzy {
			params.Set("fuzzy", "true")
		}
		if *category != "" {
			params.Set("category", *category)
		}
		if err := client.get("/api/v1/fragments/search", params, &resp); err != nil {
			fail("Search failed: %v", err)
		}
		hits = resp.Results
	} else {
		withComponents(cf, func(ctx context.Context, _ *config.Config, c *Components) error {
			var err error
			hits, err = c.Engine.Lookup(ctx, q, *limit, &keyword.SearchOptions{
				Category: models.Category(*category), FuzzyEnabled: *fuzzy,
			})
			return err
		})
	}
	_ = cli.WriteFragmentHits(os.Stdout, hits, cf.format())
}

// statusResponse mirrors the fields of GET /api/v1/status the CLI prints.
type statusResponse struct {
	Storage         *storage.Stats         `json:"storage"`
	Graph           models.GraphInfo       `json:"graph"`
	VectorIndexSize int                    `json:"vector_index_size"`
	Dimensions      int                    `json:"dimensions"`
	Breaker         string                 `json:"summarizer_breaker,omitempty"`
	DiskUsage       *storage.DiskFootprint `json:"disk_usage,omitempty"`
}

func runStatus(args []string) {
	fs, cf := newFlagSet("status", true)
	_ = fs.Parse(args)

	var status statusResponse
	if client := cf.remote(); client != nil {
		if err := client.get("/api/v1/status", nil, &status); err != nil {
			fail("Status failed: %v", err)
		}
	} else {
		withComponents(cf, func(ctx context.Context, cfg *config.Config, c *Components) error {
			stats, err := c.Storage.Stats(ctx)
			if err != nil {
				return err
			}
			status = statusResponse{
				Storage:         stats,
				Graph:           c.Corpus.Info(),
				VectorIndexSize: c.Corpus.Size(),
				Dimensions:      c.Corpus.Dimensions(),
				Breaker:         c.Guard.State(),
			}
			if fp, err := storage.Footprint(cfg.Storage.DatabasePath, cfg.Storage.IndexPath, cfg.Storage.KeywordIndexPath); err == nil {
				status.DiskUsage = &fp
			}
			return nil
		})
	}

	if cf.format() == cli.OutputJSON {
		_ = cli.WriteJSON(os.Stdout, status)
		return
	}
	if s := status.Storage; s != nil {
		fmt.Printf("notes:              %d\n", s.Notes)
		fmt.Printf("documents:          %d\n", s.Documents)
		fmt.Printf("fragments:          %d\n", s.Fragments)
		fmt.Printf("suggestions:        %d\n", s.Suggestions)
		fmt.Printf("cached_embeddings:  %d\n", s.Embeddings)
	}
	fmt.Printf("vector_index_size:  %d   # dimensions %d\n", status.VectorIndexSize, status.Dimensions)
	fmt.Printf("graph:              %d nodes, %d edges, density %.4f\n", status.Graph.NodeCount, status.Graph.EdgeCount, status.Graph.Density)
	if status.Breaker != "" {
		fmt.Printf("summarizer_breaker: %s\n", status.Breaker)
	}
	if d := status.DiskUsage; d != nil {
		fmt.Printf("disk_usage_bytes:   %d   # database %d, snapshot %d, keyword index %d\n", d.Total(), d.Database, d.Snapshot, d.KeywordIndex)
	}
}

// absPath resolves p for messages; errors fall back to p.
func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
