package matcher

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/hiddenthread/internal/apperr"
	"github.com/hyperjump/hiddenthread/internal/corpus"
	"github.com/hyperjump/hiddenthread/internal/models"
	"github.com/hyperjump/hiddenthread/internal/vector"
)

func unit(v ...float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	n := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x / n)
	}
	return out
}

func newCorpus(t *testing.T, frags ...*models.Fragment) *corpus.Corpus {
	t.Helper()
	idx, err := vector.NewMemoryIndex(0)
	require.NoError(t, err)
	c := corpus.New(idx, 0.2)
	_, err = c.Commit(context.Background(), frags)
	require.NoError(t, err)
	return c
}

func frag(id int64, text string, cat models.Category, note string, vec []float32) *models.Fragment {
	return &models.Fragment{ID: id, Text: text, Category: cat, NoteID: note, Embedding: vec}
}

func TestFindMatches_scenario(t *testing.T) {
	a := frag(1, "need: quiet reading space", models.CategoryNeed, "1", unit(1, 0, 0))
	b := frag(2, "available: library membership nearby", models.CategoryAvailable, "2",
		unit(0.42, math.Sqrt(1-0.42*0.42), 0))
	m := New(newCorpus(t, a, b), 0.3)

	matches, err := m.FindMatches(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(1), matches[0].NeedID)
	assert.Equal(t, int64(2), matches[0].AvailableID)
	assert.InDelta(t, 0.42, matches[0].Score, 1e-6)
	assert.Equal(t, "available: library membership nearby", matches[0].AvailableText)

	// The availability side sees the same pair.
	back, err := m.FindMatches(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, matches[0].NeedID, back[0].NeedID)
	assert.Equal(t, matches[0].AvailableID, back[0].AvailableID)
}

func TestFindMatches_filters(t *testing.T) {
	need := frag(1, "need", models.CategoryNeed, "n1", unit(1, 0))
	sameNote := frag(2, "own availability", models.CategoryAvailable, "n1", unit(1, 0))
	otherNeed := frag(3, "other need", models.CategoryNeed, "n2", unit(1, 0))
	chunk := frag(4, "chunk", models.CategoryChunk, "doc", unit(1, 0))
	below := frag(5, "far availability", models.CategoryAvailable, "n3", unit(0.1, 1))
	good := frag(6, "close availability", models.CategoryAvailable, "n4", unit(1, 0.1))
	m := New(newCorpus(t, need, sameNote, otherNeed, chunk, below, good), 0.3)

	matches, err := m.FindMatches(context.Background(), need)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(6), matches[0].AvailableID)

	none, err := m.FindMatches(context.Background(), chunk)
	require.NoError(t, err)
	assert.Empty(t, none, "chunks never match")
}

func TestFindMatches_tiesByCandidateID(t *testing.T) {
	need := frag(1, "need", models.CategoryNeed, "n1", unit(1, 0))
	c := newCorpus(t, need,
		frag(9, "x", models.CategoryAvailable, "n3", unit(1, 1)),
		frag(4, "y", models.CategoryAvailable, "n2", unit(1, 1)),
		frag(7, "z", models.CategoryAvailable, "n4", unit(1, 0)),
	)
	matches, err := New(c, 0.3).FindMatches(context.Background(), need)
	require.NoError(t, err)
	ids := make([]int64, len(matches))
	for i, mt := range matches {
		ids[i] = mt.AvailableID
	}
	assert.Equal(t, []int64{7, 4, 9}, ids)
}

func randomCorpus(t *testing.T, n int, seed int64) (*corpus.Corpus, []*models.Fragment) {
	r := rand.New(rand.NewSource(seed))
	frags := make([]*models.Fragment, n)
	for i := range frags {
		v := make([]float64, 5)
		for j := range v {
			v[j] = r.NormFloat64()
		}
		cat := models.CategoryNeed
		if r.Intn(2) == 0 {
			cat = models.CategoryAvailable
		}
		note := string(rune('a' + r.Intn(4)))
		frags[i] = frag(int64(i+1), "t", cat, note, unit(v...))
	}
	return newCorpus(t, frags...), frags
}

func TestFindMatches_properties(t *testing.T) {
	ctx := context.Background()
	c, frags := randomCorpus(t, 40, 11)
	prev := math.MaxInt
	for _, threshold := range []float64{-0.5, 0, 0.2, 0.4, 0.6, 0.9} {
		m := New(c, threshold)
		total := 0
		for _, f := range frags {
			matches, err := m.FindMatches(ctx, f)
			require.NoError(t, err)
			for _, mt := range matches {
				assert.NotEqual(t, mt.NeedNoteID, mt.AvailableNoteID, "no self-match")
				assert.GreaterOrEqual(t, mt.Score, threshold)
				assert.LessOrEqual(t, mt.Score, 1.0)
			}
			total += len(matches)
		}
		assert.LessOrEqual(t, total, prev, "raising the threshold at %v added matches", threshold)
		prev = total
	}
}

func TestMatchNote(t *testing.T) {
	ctx := context.Background()
	c := newCorpus(t,
		frag(1, "need a desk", models.CategoryNeed, "me", unit(1, 0, 0)),
		frag(2, "need a lamp", models.CategoryNeed, "me", unit(0, 1, 0)),
		frag(3, "spare desk", models.CategoryAvailable, "you", unit(1, 0.2, 0)),
		frag(4, "spare lamp", models.CategoryAvailable, "them", unit(0.1, 1, 0)),
		frag(5, "have a bike", models.CategoryAvailable, "me", unit(0, 0, 1)),
	)
	m := New(c, 0.3)

	matches, err := m.MatchNote(ctx, "me")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
	pairs := map[[2]int64]bool{}
	for _, mt := range matches {
		pairs[[2]int64{mt.NeedID, mt.AvailableID}] = true
	}
	assert.True(t, pairs[[2]int64{1, 3}])
	assert.True(t, pairs[[2]int64{2, 4}])

	// Both sides of one note pair yield the same match once.
	c2 := newCorpus(t,
		frag(1, "need", models.CategoryNeed, "x", unit(1, 0)),
		frag(2, "have", models.CategoryAvailable, "x", unit(0, 1)),
		frag(3, "have", models.CategoryAvailable, "y", unit(1, 0.1)),
		frag(4, "need", models.CategoryNeed, "y", unit(0.1, 1)),
	)
	matches, err = New(c2, 0.3).MatchNote(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	_, err = m.MatchNote(ctx, "nobody")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = m.FindMatchesByID(ctx, 42)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
