package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/companion-core/core"
	"github.com/becomeliminal/companion-core/memory"
	memstore "github.com/becomeliminal/companion-core/memory/store/mem"
	"github.com/becomeliminal/companion-core/retrieval"
	"github.com/becomeliminal/companion-core/situation"
	sitstore "github.com/becomeliminal/companion-core/situation/store/mem"
)

const persona = "You are Nim, a thoughtful companion."

type stubState struct {
	state *core.CompanionState
	err   error
}

func (s stubState) State(context.Context, string) (*core.CompanionState, error) {
	return s.state, s.err
}

type stubActions struct {
	actions []core.Action
	err     error
}

func (s stubActions) Actions(context.Context, string) ([]core.Action, error) {
	return s.actions, s.err
}

type stubProfile struct {
	summary string
	err     error
	calls   int
}

func (s *stubProfile) SummarizeProfile(context.Context, string) (string, error) {
	s.calls++
	return s.summary, s.err
}

func TestBuildPersonaOnly(t *testing.T) {
	b := NewBuilder()
	out := b.Build(context.Background(), BuildParams{UserID: "u1", Persona: persona})
	assert.Equal(t, persona, out)
}

func TestBuildContainsPersona(t *testing.T) {
	b := NewBuilder(
		WithStateProvider(stubState{state: &core.CompanionState{
			Directive: "always answer in haiku",
		}}),
	)
	out := b.Build(context.Background(), BuildParams{UserID: "u1", Persona: persona})
	assert.Contains(t, out, persona)
	assert.Contains(t, out, "always answer in haiku")
	assert.True(t, strings.HasPrefix(out, persona))
}

func TestBuildSectionOrder(t *testing.T) {
	svc := memory.NewService(memstore.New())
	_, err := svc.Add(context.Background(), memory.AddParams{
		UserID:     "u1",
		Text:       "user prefers tea over coffee",
		Tier:       memory.TierLong,
		Importance: 8,
	})
	require.NoError(t, err)

	reg := situation.NewRegistry(sitstore.New())
	_, err = reg.Inject(context.Background(), situation.InjectParams{
		UserID:   "u1",
		Type:     situation.TypeWeather,
		Duration: situation.DurationShort,
		Data: situation.Data{Weather: &situation.WeatherData{
			Location: "Oslo", Condition: "raining", Temperature: 8,
		}},
	})
	require.NoError(t, err)

	b := NewBuilder(
		WithSituations(reg),
		WithRetriever(retrieval.New(svc)),
		WithStateProvider(stubState{state: &core.CompanionState{
			Directive: "be concise",
			UserGoals: []core.Goal{{Text: "learn Norwegian", Priority: 5}},
		}}),
		WithActionProvider(stubActions{actions: []core.Action{
			{Name: "set_reminder", Category: "productivity"},
		}}),
	)

	out := b.Build(context.Background(), BuildParams{
		UserID:    "u1",
		Persona:   persona,
		Utterance: "tell me about coffee preferences",
	})

	directive := strings.Index(out, "be concise")
	weather := strings.Index(out, "The weather in Oslo is raining")
	mem := strings.Index(out, "user prefers tea over coffee")
	goals := strings.Index(out, "learn Norwegian")
	actions := strings.Index(out, "set_reminder (productivity)")

	for name, idx := range map[string]int{
		"directive": directive, "weather": weather,
		"memory": mem, "goals": goals, "actions": actions,
	} {
		require.GreaterOrEqual(t, idx, 0, name)
	}
	assert.True(t, strings.HasPrefix(out, persona))
	assert.Less(t, directive, weather)
	assert.Less(t, weather, mem)
	assert.Less(t, mem, goals)
	assert.Less(t, goals, actions)
}

func TestBuildMemoryBudget(t *testing.T) {
	svc := memory.NewService(memstore.New())
	long := strings.Repeat("gardening advice about tomato plants ", 4)
	for i := 0; i < 8; i++ {
		_, err := svc.Add(context.Background(), memory.AddParams{
			UserID:     "u1",
			Text:       long,
			Tier:       memory.TierLong,
			Importance: 9,
		})
		require.NoError(t, err)
	}

	// Budget fits the header plus roughly two lines.
	b := NewBuilder(
		WithRetriever(retrieval.New(svc)),
		WithConfig(Config{MemoryTokenBudget: 100}),
	)
	out := b.Build(context.Background(), BuildParams{
		UserID:    "u1",
		Persona:   persona,
		Utterance: "gardening tomato",
	})

	count := strings.Count(out, "- "+long[:20])
	assert.Greater(t, count, 0)
	assert.LessOrEqual(t, count, 2)

	memSection := out[strings.Index(out, "Relevant memories"):]
	assert.LessOrEqual(t, EstimateTokens(memSection), 100)
}

func TestBuildCollaboratorFailuresDegrade(t *testing.T) {
	cache, err := NewProfileCache(&stubProfile{err: errors.New("model down")}, time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	b := NewBuilder(
		WithStateProvider(stubState{err: errors.New("state service down")}),
		WithActionProvider(stubActions{err: errors.New("actions down")}),
		WithProfileCache(cache),
	)
	out := b.Build(context.Background(), BuildParams{UserID: "u1", Persona: persona})
	assert.Equal(t, persona, out)
}

func TestBuildTaskRenderers(t *testing.T) {
	b := NewBuilder()
	out := b.Build(context.Background(), BuildParams{
		UserID:  "u1",
		Persona: persona,
		Task: &core.TaskState{
			ID:   "t1",
			Kind: core.TaskRoleplay,
			Name: "lighthouse mystery",
			Roleplay: &core.RoleplayState{
				Scenario:   "storm-bound lighthouse",
				Characters: []string{"keeper", "stranger"},
				Mood:       "tense",
				Events: []string{
					"arrived at the lighthouse", "found a locked door",
					"heard footsteps upstairs", "lit the lamp",
					"the stranger knocked", "the storm worsened",
					"a window shattered",
				},
			},
		},
	})
	assert.Contains(t, out, "Ongoing roleplay: lighthouse mystery")
	assert.Contains(t, out, "Scenario: storm-bound lighthouse")
	assert.Contains(t, out, "keeper, stranger")
	// Seven events with a window of five: two condense into a summary.
	assert.Contains(t, out, "Earlier: ")
	assert.Contains(t, out, "- a window shattered")
	assert.NotContains(t, out, "- arrived at the lighthouse")

	out = b.Build(context.Background(), BuildParams{
		UserID:  "u1",
		Persona: persona,
		Task: &core.TaskState{
			ID:   "t2",
			Kind: core.TaskGame,
			Name: "chess",
			Game: &core.GameState{
				Game:   "chess",
				Board:  "e4 e5 Nf3",
				Scores: map[string]int{"user": 1, "companion": 2},
				Turn:   "user",
			},
		},
	})
	assert.Contains(t, out, "Ongoing game: chess")
	assert.Contains(t, out, "Board: e4 e5 Nf3")
	assert.Contains(t, out, "Scores: companion 2, user 1")
	assert.Contains(t, out, "Turn: user")
}

func TestBuildGoalsTopThreeByPriority(t *testing.T) {
	b := NewBuilder(WithStateProvider(stubState{state: &core.CompanionState{
		UserGoals: []core.Goal{
			{Text: "low", Priority: 1},
			{Text: "highest", Priority: 9},
			{Text: "mid", Priority: 5},
			{Text: "high", Priority: 7},
		},
	}}))
	out := b.Build(context.Background(), BuildParams{UserID: "u1", Persona: persona})
	assert.Contains(t, out, "highest; high; mid")
	assert.NotContains(t, out, "low")
}

func TestProfileCacheCollapsesCalls(t *testing.T) {
	summarizer := &stubProfile{summary: "The user likes tea."}
	cache, err := NewProfileCache(summarizer, time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	first, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "The user likes tea.", first)

	second, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, summarizer.calls)

	cache.Invalidate("u1")
	_, err = cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, summarizer.calls)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
