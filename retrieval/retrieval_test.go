package retrieval

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/companion-core/memory"
	memstore "github.com/becomeliminal/companion-core/memory/store/mem"
)

func newService(t *testing.T, now func() time.Time) *memory.Service {
	t.Helper()
	svc := memory.NewService(memstore.New(),
		memory.WithLogger(slog.New(slog.NewTextHandler(testWriter{t}, nil))),
		memory.WithClock(now),
	)
	return svc
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func add(t *testing.T, svc *memory.Service, p memory.AddParams) *memory.Memory {
	t.Helper()
	m, err := svc.Add(context.Background(), p)
	require.NoError(t, err)
	return m
}

func TestRetrieveCoffeeScenario(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	svc := newService(t, func() time.Time { return now })
	ctx := context.Background()

	now = base.Add(-48 * time.Hour)
	coffee := add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "user loves oat milk coffee in the morning",
		Tier:       memory.TierMedium,
		Importance: 9,
	})
	now = base
	weak := add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "mentioned the weather once",
		Tier:       memory.TierLong,
		Importance: 2,
	})
	summary := add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "session recap: planned the week",
		Tier:       memory.TierLong,
		Source:     memory.SourceActivitySummary,
		Importance: 5,
	})

	r := New(svc)
	results, err := r.Retrieve(ctx, "u1", "coffee", 10, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, coffee.ID, results[0].Memory.ID)
	assert.Equal(t, summary.ID, results[1].Memory.ID)
	for _, res := range results {
		assert.NotEqual(t, weak.ID, res.Memory.ID)
		assert.Greater(t, res.Score, DefaultThreshold)
	}
	// Keyword 0.2 + importance 9/20 beats the summary's flat terms.
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestRetrieveEmptyCandidates(t *testing.T) {
	svc := newService(t, time.Now)
	r := New(svc)

	results, err := r.Retrieve(context.Background(), "nobody", "anything", 5, Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveEmptyQueryScoresOnImportance(t *testing.T) {
	svc := newService(t, time.Now)
	ctx := context.Background()

	high := add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "user plays chess on weekends",
		Tier:       memory.TierLong,
		Importance: 10,
	})
	add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "low priority detail",
		Tier:       memory.TierShort,
		Importance: 1,
	})

	r := New(svc)
	results, err := r.Retrieve(ctx, "u1", "", 10, Options{})
	require.NoError(t, err)

	// importance 10 yields exactly 0.5, above threshold; importance 1
	// yields 0.05 and is dropped.
	require.Len(t, results, 1)
	assert.Equal(t, high.ID, results[0].Memory.ID)
	assert.InDelta(t, 0.5, results[0].Score, 1e-9)
}

func TestRetrieveShortTokensIgnored(t *testing.T) {
	svc := newService(t, time.Now)
	ctx := context.Background()

	add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "the cat sat on the mat",
		Tier:       memory.TierShort,
		Importance: 1,
	})

	r := New(svc)
	// All tokens are length <= 3, so the keyword term contributes
	// nothing and importance 1 scores 0.05.
	results, err := r.Retrieve(ctx, "u1", "the cat sat", 10, Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveActivityScope(t *testing.T) {
	svc := newService(t, time.Now)
	ctx := context.Background()

	tagged := add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "roleplay scene is set in a lighthouse",
		Tier:       memory.TierMedium,
		Importance: 5,
		ActivityID: "task-a",
	})
	other := add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "lighthouse trivia from another game",
		Tier:       memory.TierMedium,
		Importance: 5,
		ActivityID: "task-b",
	})
	summary := add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "summary of the lighthouse arc",
		Tier:       memory.TierLong,
		Source:     memory.SourceActivitySummary,
		Importance: 5,
	})

	r := New(svc)
	results, err := r.Retrieve(ctx, "u1", "lighthouse", 10, Options{
		ActivityScope: true,
		ActivityID:    "task-a",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The differently-tagged memory is scoped out entirely; the summary
	// survives scoping unpenalized.
	ids := []string{results[0].Memory.ID, results[1].Memory.ID}
	assert.Contains(t, ids, tagged.ID)
	assert.Contains(t, ids, summary.ID)
	assert.NotContains(t, ids, other.ID)

	// The in-scope memory carries the activity boost and ranks first.
	assert.Equal(t, tagged.ID, results[0].Memory.ID)
}

func TestRetrieveScopedNoActiveTask(t *testing.T) {
	svc := newService(t, time.Now)
	ctx := context.Background()

	unscoped := add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "general preference about music",
		Tier:       memory.TierLong,
		Importance: 8,
	})
	add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "music used during a game session",
		Tier:       memory.TierMedium,
		Importance: 8,
		ActivityID: "task-b",
	})

	r := New(svc)
	results, err := r.Retrieve(ctx, "u1", "music", 10, Options{ActivityScope: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, unscoped.ID, results[0].Memory.ID)
}

func TestRetrieveCrossTaskNeverOutranksUnscoped(t *testing.T) {
	svc := newService(t, time.Now)
	ctx := context.Background()

	add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "painting supplies shopping list",
		Tier:       memory.TierMedium,
		Importance: 9,
		ActivityID: "task-b",
	})

	r := New(svc)
	unscoped, err := r.Retrieve(ctx, "u1", "painting", 10, Options{})
	require.NoError(t, err)
	require.Len(t, unscoped, 1)

	// Scoped to a different task the memory is filtered; it can never
	// come back with a higher score than the unscoped run.
	scoped, err := r.Retrieve(ctx, "u1", "painting", 10, Options{
		ActivityScope: true,
		ActivityID:    "task-a",
	})
	require.NoError(t, err)
	assert.Empty(t, scoped)
}

func TestRetrieveSortTiesBreakOnRecency(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	svc := newService(t, func() time.Time { return now })
	ctx := context.Background()

	older := add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "enjoys hiking trails",
		Tier:       memory.TierLong,
		Importance: 6,
	})
	now = base.Add(time.Hour)
	newer := add(t, svc, memory.AddParams{
		UserID:     "u1",
		Text:       "enjoys hiking in autumn",
		Tier:       memory.TierLong,
		Importance: 6,
	})

	r := New(svc)
	results, err := r.Retrieve(ctx, "u1", "hiking", 10, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, newer.ID, results[0].Memory.ID)
	assert.Equal(t, older.ID, results[1].Memory.ID)
}

func TestRetrieveLimit(t *testing.T) {
	svc := newService(t, time.Now)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		add(t, svc, memory.AddParams{
			UserID:     "u1",
			Text:       "gardening note about tomato plants",
			Tier:       memory.TierMedium,
			Importance: 7,
		})
	}

	r := New(svc)
	results, err := r.Retrieve(ctx, "u1", "gardening tomato", 3, Options{})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestLexicalScorerCountsRepeatedMatches(t *testing.T) {
	s := LexicalScorer{}
	ms := []*memory.Memory{
		{Text: "coffee coffee beans"},
		{Text: "nothing relevant"},
	}
	scores, err := s.Score(context.Background(), "coffee beans", ms)
	require.NoError(t, err)
	// Two matching tokens for the first memory, none for the second.
	assert.InDelta(t, 0.4, scores[0], 1e-9)
	assert.Zero(t, scores[1])
}
