package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/hiddenthread/internal/models"
)

// BleveIndex implements FragmentIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// fragmentDoc is the document shape stored in Bleve.
type fragmentDoc struct {
	Text     string `json:"text"`
	Category string `json:"category"`
	NoteID   string `json:"note_id"`
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) keeps short need/availability
	// phrases matching on the words people actually typed.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("category", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("note_id", keywordFieldMapping)
	im.AddDocumentMapping("fragment", docMapping)
	im.DefaultType = "fragment"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an
// in-memory index. If you change the index mapping in code, remove the index
// directory; it is rebuilt from storage on restore.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexFragments indexes fragments in one Bleve batch. Re-indexing an id overwrites it
// with identical content, so replays are harmless.
func (b *BleveIndex) IndexFragments(ctx context.Context, fragments []*models.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, f := range fragments {
		doc := fragmentDoc{Text: f.Text, Category: string(f.Category), NoteID: f.NoteID}
		if err := batch.Index(strconv.FormatInt(f.ID, 10), doc); err != nil {
			return fmt.Errorf("failed to add fragment %d to batch: %w", f.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index fragments: %w", err)
	}
	return nil
}

// Search runs a match (or fuzzy) query over fragment text and returns up to limit results
// ordered by score.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		limit = 10
	}
	fuzziness := 1
	var textQuery blevequery.Query
	if opts != nil && opts.FuzzyEnabled {
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
		textQuery = buildFuzzyQuery(query, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("text")
		textQuery = mq
	}

	q := textQuery
	if opts != nil && (opts.Category != "" || opts.NoteID != "") {
		must := []blevequery.Query{textQuery}
		if opts.Category != "" {
			tq := bleve.NewTermQuery(string(opts.Category))
			tq.SetField("category")
			must = append(must, tq)
		}
		if opts.NoteID != "" {
			tq := bleve.NewTermQuery(opts.NoteID)
			tq.SetField("note_id")
			must = append(must, tq)
		}
		q = bleve.NewConjunctionQuery(must...)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, &KeywordResult{ID: id, Score: hit.Score})
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries over the text field, one per term.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField("text")
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("text")
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DocCount returns the total number of fragments in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
