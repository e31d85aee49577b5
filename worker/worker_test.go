package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/mock"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
	"github.com/poiesic/folio/storage/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "folio.db"))
}

func openTestStore(t *testing.T, path string) storage.Store {
	t.Helper()
	store, err := sqlstore.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestWorker(t *testing.T, store storage.Store, provider *mock.MockProvider, mutate func(*Config)) *Worker {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	w, err := New(store, provider.Embedder(), provider.ConceptExtractor(),
		WithConfig(cfg), WithTruncator(ai.NewTruncator("no-such-encoding")))
	require.NoError(t, err)
	t.Cleanup(w.Release)
	return w
}

func ingestTexts(t *testing.T, store storage.Store, key string, texts ...string) *core.Source {
	t.Helper()
	chunks := make([]*core.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &core.Chunk{Position: i, Text: text, StartUnit: 1, EndUnit: 1, CharCount: len(text)}
	}
	src, err := store.ReplaceSource(context.Background(), &core.Source{
		NaturalKey: key,
		Title:      "Title of " + key,
		Type:       core.DocumentTypePDF,
		UnitCount:  3,
	}, chunks)
	require.NoError(t, err)
	return src
}

func numberedTexts(prefix string, n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("%s chunk %d", prefix, i)
	}
	return texts
}

// conceptPerText extracts one concept named after the text's last word
// modulo 3, related to the next one.
func conceptPerText(ctx context.Context, text string) (*ai.Extraction, error) {
	n, err := strconv.Atoi(text[strings.LastIndex(text, " ")+1:])
	if err != nil {
		return nil, err
	}
	a, b := fmt.Sprintf("concept %d", n%3), fmt.Sprintf("concept %d", (n+1)%3)
	return &ai.Extraction{
		Concepts: []ai.ExtractedConcept{
			{Name: a, Category: "pattern", Description: "about " + a},
			{Name: b, Category: "pattern"},
		},
		Relationships: []ai.ExtractedRelationship{{From: a, To: b, Type: "enables"}},
	}, nil
}

func newProviderWithConcepts() *mock.MockProvider {
	provider := mock.NewMockProvider()
	provider.GetMockExtractor().ExtractConceptsFunc = conceptPerText
	return provider
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNew_RequiresDependencies(t *testing.T) {
	store := newTestStore(t)
	provider := mock.NewMockProvider()

	_, err := New(nil, provider.Embedder(), provider.ConceptExtractor())
	assert.ErrorIs(t, err, ErrStoreRequired)
	_, err = New(store, nil, provider.ConceptExtractor())
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = New(store, provider.Embedder(), nil)
	assert.ErrorIs(t, err, ErrExtractorRequired)

	bad := DefaultConfig()
	bad.ConceptBatchSize = 0
	_, err = New(store, provider.Embedder(), provider.ConceptExtractor(), WithConfig(bad))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWorker_RunIdle(t *testing.T) {
	store := newTestStore(t)
	provider := mock.NewMockProvider()
	w := newTestWorker(t, store, provider, nil)

	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Idle())
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 0, provider.GetMockEmbedder().CallCount())
}

func TestWorker_RunCompletesSource(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	provider := mock.NewMockProvider()
	provider.GetMockExtractor().ExtractConceptsFunc = conceptPerText
	w := newTestWorker(t, store, provider, nil)
	src := ingestTexts(t, store, "book.pdf", numberedTexts("book", 3)...)

	summary, err := w.Run(ctx)
	require.NoError(t, err)
	assert.NoError(t, summary.Errors)
	assert.Equal(t, 3, summary.Embedded)
	assert.Equal(t, 3, summary.Extracted)
	assert.Equal(t, 1, summary.SourcesCompleted)
	assert.Equal(t, 0, summary.Released)
	assert.False(t, summary.BudgetExceeded)

	stored, err := store.GetSource(ctx, src.Id)
	require.NoError(t, err)
	assert.Equal(t, core.SourceComplete, stored.Status)

	chunks, err := store.GetChunks(ctx, src.Id)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, core.StatusComplete, c.EmbeddingStatus)
		assert.Equal(t, core.StatusExtracted, c.ConceptStatus)
		assert.Equal(t, mock.DeterministicVector(c.Text, mock.DefaultDimensions), c.Vector)
	}

	covers, err := store.CoversForSource(ctx, src.Id)
	require.NoError(t, err)
	assert.Len(t, covers, 3)

	t.Run("next run is idle", func(t *testing.T) {
		summary, err := w.Run(ctx)
		require.NoError(t, err)
		assert.True(t, summary.Idle())
	})
}

func TestWorker_EmbeddingFailuresDoNotBlockCompletion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	provider := mock.NewMockProvider()
	texts := numberedTexts("report", 7)
	broken := map[string]bool{texts[2]: true, texts[5]: true}
	provider.GetMockEmbedder().EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		if broken[text] {
			return nil, fmt.Errorf("%w: upstream 503", ai.ErrUnavailable)
		}
		return mock.DeterministicVector(text, mock.DefaultDimensions), nil
	}
	w := newTestWorker(t, store, provider, nil)
	src := ingestTexts(t, store, "report.pdf", texts...)

	for i := 0; i < 3; i++ {
		_, err := w.Run(ctx)
		require.NoError(t, err)
	}

	stored, err := store.GetSource(ctx, src.Id)
	require.NoError(t, err)
	assert.Equal(t, core.SourceComplete, stored.Status)

	progress, err := store.SourceProgress(ctx, src.Id)
	require.NoError(t, err)
	assert.Equal(t, 7, progress.Total)
	assert.Equal(t, 5, progress.EmbeddingComplete)
	assert.Equal(t, 2, progress.EmbeddingFailed)
	assert.True(t, progress.Terminal())

	chunks, err := store.GetChunks(ctx, src.Id)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotEqual(t, core.StatusPending, c.EmbeddingStatus)
		assert.NotEqual(t, core.StatusPending, c.ConceptStatus)
		if broken[c.Text] {
			assert.Equal(t, core.StatusFailed, c.EmbeddingStatus)
			assert.Contains(t, c.EmbeddingError, "upstream 503")
			assert.Equal(t, core.StatusFailed, c.ConceptStatus)
		}
	}
	assert.Equal(t, 5, provider.GetMockExtractor().CallCount())
}

func TestWorker_EmbeddingFailureSummary(t *testing.T) {
	store := newTestStore(t)
	provider := mock.NewMockProvider()
	provider.GetMockEmbedder().EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, ai.ErrRateLimited
	}
	w := newTestWorker(t, store, provider, nil)
	ingestTexts(t, store, "a.pdf", "one", "two")

	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.EmbeddingFailures)
	assert.ErrorIs(t, summary.Errors, ai.ErrRateLimited)
	assert.Equal(t, 1, summary.SourcesCompleted)
}

func TestWorker_BoundedExtractionRetries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	provider := mock.NewMockProvider()
	provider.GetMockExtractor().ExtractConceptsFunc = func(ctx context.Context, text string) (*ai.Extraction, error) {
		return nil, fmt.Errorf("%w: not json", ai.ErrMalformedResponse)
	}
	w := newTestWorker(t, store, provider, func(c *Config) { c.MaxExtractionAttempts = 3 })
	src := ingestTexts(t, store, "a.pdf", "only chunk")

	for attempt := 1; attempt <= 3; attempt++ {
		summary, err := w.Run(ctx)
		require.NoError(t, err)

		chunks, err := store.GetChunks(ctx, src.Id)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, attempt, chunks[0].ExtractionAttempts)
		assert.Contains(t, chunks[0].ExtractionError, "not json")

		if attempt < 3 {
			assert.Equal(t, 1, summary.ExtractionRetries)
			assert.Equal(t, core.StatusPending, chunks[0].ConceptStatus)
		} else {
			assert.Equal(t, 1, summary.ExtractionFailures)
			assert.Equal(t, core.StatusFailed, chunks[0].ConceptStatus)
			assert.Equal(t, 1, summary.SourcesCompleted)
		}
	}

	summary, err := w.Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Idle())
	assert.Equal(t, 3, provider.GetMockExtractor().CallCount())
}

func TestWorker_TruncatesOverlongInput(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	provider := mock.NewMockProvider()
	embedder := provider.GetMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		if len(text) > 20 {
			return nil, ai.ErrInputTooLong
		}
		return []float32{1, 2}, nil
	}
	w := newTestWorker(t, store, provider, func(c *Config) { c.MaxEmbeddingTokens = 5 })
	ingestTexts(t, store, "long.pdf", strings.Repeat("x", 100))

	summary, err := w.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Embedded)
	assert.Equal(t, 1, summary.Truncated)

	texts := embedder.Texts()
	require.Len(t, texts, 2)
	assert.Len(t, texts[1], 20)
}

func TestWorker_DataMeshScenario(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	provider := mock.NewMockProvider()
	names := map[string]string{"first": "data mesh", "second": "Data Mesh", "third": "DATA MESH"}
	provider.GetMockExtractor().ExtractConceptsFunc = func(ctx context.Context, text string) (*ai.Extraction, error) {
		return &ai.Extraction{Concepts: []ai.ExtractedConcept{{Name: names[text], Category: "principle"}}}, nil
	}
	w := newTestWorker(t, store, provider, nil)
	ingestTexts(t, store, "mesh.md", "first", "second", "third")

	_, err := w.Run(ctx)
	require.NoError(t, err)

	concepts, err := store.ListConcepts(ctx)
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.Equal(t, "data mesh", concepts[0].Name)

	mentions, err := store.MentionsForConcept(ctx, concepts[0].Id)
	require.NoError(t, err)
	assert.Len(t, mentions, 3)
}

// graphSnapshot is an id-independent view of the concept graph.
type graphSnapshot struct {
	Concepts  []string
	Relations []string
	Mentions  int
	Statuses  []core.SourceStatus
}

func snapshot(t *testing.T, store storage.Store) graphSnapshot {
	t.Helper()
	ctx := context.Background()
	var snap graphSnapshot

	concepts, err := store.ListConcepts(ctx)
	require.NoError(t, err)
	names := make(map[core.ID]string, len(concepts))
	for _, c := range concepts {
		names[c.Id] = c.Name
		snap.Concepts = append(snap.Concepts, c.Name+"|"+c.Description)
		mentions, err := store.MentionsForConcept(ctx, c.Id)
		require.NoError(t, err)
		snap.Mentions += len(mentions)
	}
	relations, err := store.ListRelations(ctx)
	require.NoError(t, err)
	for _, r := range relations {
		snap.Relations = append(snap.Relations, names[r.FromId]+" "+r.Type+" "+names[r.ToId])
	}
	sources, err := store.ListSources(ctx, "")
	require.NoError(t, err)
	for _, s := range sources {
		snap.Statuses = append(snap.Statuses, s.Status)
	}

	slices.Sort(snap.Concepts)
	slices.Sort(snap.Relations)
	return snap
}

func TestWorker_Resumability(t *testing.T) {
	ctx := context.Background()
	load := func(store storage.Store) {
		ingestTexts(t, store, "one.pdf", numberedTexts("one", 5)...)
		ingestTexts(t, store, "two.pdf", numberedTexts("two", 4)...)
	}

	single := newTestStore(t)
	load(single)
	provider := mock.NewMockProvider()
	provider.GetMockExtractor().ExtractConceptsFunc = conceptPerText
	_, err := newTestWorker(t, single, provider, nil).Run(ctx)
	require.NoError(t, err)

	split := newTestStore(t)
	load(split)
	provider = mock.NewMockProvider()
	provider.GetMockExtractor().ExtractConceptsFunc = conceptPerText
	w := newTestWorker(t, split, provider, func(c *Config) {
		c.EmbeddingBatchSize = 3
		c.ConceptBatchSize = 2
	})
	runs := 0
	for ; runs < 20; runs++ {
		summary, err := w.Run(ctx)
		require.NoError(t, err)
		if summary.Idle() {
			break
		}
	}
	assert.Greater(t, runs, 1)

	want := snapshot(t, single)
	assert.Equal(t, []core.SourceStatus{core.SourceComplete, core.SourceComplete}, want.Statuses)
	assert.Len(t, want.Concepts, 3)
	assert.Equal(t, want, snapshot(t, split))
}

func TestWorker_SoftBudgetReleasesClaims(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	provider := mock.NewMockProvider()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var once sync.Once
	provider.GetMockEmbedder().EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		once.Do(func() { clock.Advance(10 * time.Minute) })
		return []float32{1, 0}, nil
	}
	w := newTestWorker(t, store, provider, func(c *Config) { c.EmbeddingConcurrency = 1 })
	w.now = clock.Now
	src := ingestTexts(t, store, "big.pdf", numberedTexts("big", 6)...)

	summary, err := w.Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.BudgetExceeded)
	assert.GreaterOrEqual(t, summary.Embedded, 1)
	assert.LessOrEqual(t, summary.Embedded, 2)
	assert.Equal(t, 6-summary.Embedded, summary.Released)
	assert.Equal(t, 0, provider.GetMockExtractor().CallCount())

	chunks, err := store.GetChunks(ctx, src.Id)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotEqual(t, core.StatusInProgress, c.EmbeddingStatus, "no chunk left claimed")
	}

	summary, err = w.Run(ctx)
	require.NoError(t, err)
	assert.False(t, summary.BudgetExceeded)
	assert.Equal(t, 1, summary.SourcesCompleted)
}

func TestWorker_ConcurrentWorkersShareNothing(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	first, second := openTestStore(t, path), openTestStore(t, path)
	ingestTexts(t, first, "shared.pdf", numberedTexts("shared", 8)...)

	provider := mock.NewMockProvider()
	workers := []*Worker{
		newTestWorker(t, first, provider, func(c *Config) { c.EmbeddingBatchSize = 4 }),
		newTestWorker(t, second, provider, func(c *Config) { c.EmbeddingBatchSize = 4 }),
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			_, err := w.Run(ctx)
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()

	for i := 0; i < 3; i++ {
		_, err := workers[0].Run(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, 8, provider.GetMockEmbedder().CallCount(), "every chunk embedded exactly once")
	assert.Equal(t, 8, provider.GetMockExtractor().CallCount(), "every chunk extracted exactly once")
	stats, err := first.PendingStats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Empty())
}
