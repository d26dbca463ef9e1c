package situation_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/companion-core/situation"
	"github.com/becomeliminal/companion-core/situation/store/mem"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newRegistry() (*situation.Registry, *clock) {
	c := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	return situation.NewRegistry(mem.New(), situation.WithClock(c.Now)), c
}

func TestInjectComputesExpiry(t *testing.T) {
	reg, c := newRegistry()
	ctx := context.Background()

	it, err := reg.Inject(ctx, situation.InjectParams{
		UserID:   "u1",
		Type:     situation.TypeTime,
		Duration: situation.DurationImmediate,
		Data:     situation.Data{Time: &situation.TimeData{Local: c.Now()}},
	})
	require.NoError(t, err)
	assert.True(t, it.Active)
	require.NotNil(t, it.ExpiresAt)
	assert.Equal(t, 5*time.Minute, it.ExpiresAt.Sub(it.CreatedAt))

	perm, err := reg.Inject(ctx, situation.InjectParams{
		UserID:   "u1",
		Type:     situation.TypeCustom,
		Duration: situation.DurationPermanent,
		Data: situation.Data{Custom: &situation.CustomData{
			Kind: situation.CustomKindDesire, Fields: map[string]string{"text": "learn piano"},
		}},
	})
	require.NoError(t, err)
	assert.Nil(t, perm.ExpiresAt)
}

func TestInjectValidation(t *testing.T) {
	reg, _ := newRegistry()
	ctx := context.Background()

	_, err := reg.Inject(ctx, situation.InjectParams{
		Type: situation.TypeTime, Duration: situation.DurationShort,
	})
	assert.Error(t, err)

	_, err = reg.Inject(ctx, situation.InjectParams{
		UserID: "u1", Type: "vibes", Duration: situation.DurationShort,
	})
	assert.Error(t, err)

	_, err = reg.Inject(ctx, situation.InjectParams{
		UserID: "u1", Type: situation.TypeTime, Duration: "forever",
	})
	assert.Error(t, err)

	extra := make(map[string]string)
	for i := 0; i <= situation.MaxExtraFields; i++ {
		extra[fmt.Sprintf("k%d", i)] = "v"
	}
	_, err = reg.Inject(ctx, situation.InjectParams{
		UserID:   "u1",
		Type:     situation.TypeCustom,
		Duration: situation.DurationShort,
		Data:     situation.Data{Extra: extra},
	})
	assert.Error(t, err)
}

func TestExpiredItemExcludedBeforeSweep(t *testing.T) {
	reg, c := newRegistry()
	ctx := context.Background()

	it, err := reg.Inject(ctx, situation.InjectParams{
		UserID:   "u1",
		Type:     situation.TypeTime,
		Duration: situation.DurationImmediate,
		Data:     situation.Data{Time: &situation.TimeData{Local: c.Now()}},
	})
	require.NoError(t, err)

	// Six minutes later the item is past its five-minute horizon. The
	// active-only read excludes it even though no sweep has run.
	c.Advance(6 * time.Minute)

	live, err := reg.List(ctx, "u1", situation.Filter{})
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := reg.List(ctx, "u1", situation.Filter{IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, it.ID, all[0].ID)
	assert.True(t, all[0].Active, "sweep has not run, so the flag is untouched")

	n, err := reg.Sweep(ctx, c.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err = reg.List(ctx, "u1", situation.Filter{IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Active)

	// Idempotent.
	n, err = reg.Sweep(ctx, c.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateDurationRecomputesFromCreation(t *testing.T) {
	reg, c := newRegistry()
	ctx := context.Background()

	it, err := reg.Inject(ctx, situation.InjectParams{
		UserID:   "u1",
		Type:     situation.TypeWeather,
		Duration: situation.DurationShort,
		Data: situation.Data{Weather: &situation.WeatherData{
			Location: "Kyoto", Condition: "clear", Temperature: 18,
		}},
	})
	require.NoError(t, err)

	c.Advance(30 * time.Minute)
	d := situation.DurationMedium
	updated, err := reg.Update(ctx, it.ID, situation.Patch{Duration: &d})
	require.NoError(t, err)
	require.NotNil(t, updated)

	// Expiry anchors to the original creation time, not the update time.
	require.NotNil(t, updated.ExpiresAt)
	assert.Equal(t, it.CreatedAt.Add(24*time.Hour), *updated.ExpiresAt)
}

func TestUpdateMissingReturnsNil(t *testing.T) {
	reg, _ := newRegistry()
	got, err := reg.Update(context.Background(), "nope", situation.Patch{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeactivateKeepsItem(t *testing.T) {
	reg, _ := newRegistry()
	ctx := context.Background()

	it, err := reg.Inject(ctx, situation.InjectParams{
		UserID:   "u1",
		Type:     situation.TypeEmotion,
		Duration: situation.DurationShort,
		Data: situation.Data{Emotion: &situation.EmotionData{
			Subject: "user", Mood: "excited", Intensity: 0.8,
		}},
	})
	require.NoError(t, err)

	ok, err := reg.Deactivate(ctx, it.ID)
	require.NoError(t, err)
	require.True(t, ok)

	live, err := reg.List(ctx, "u1", situation.Filter{})
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := reg.List(ctx, "u1", situation.Filter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	ok, err = reg.Remove(ctx, it.ID)
	require.NoError(t, err)
	require.True(t, ok)

	all, err = reg.List(ctx, "u1", situation.Filter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListSortedNewestFirst(t *testing.T) {
	reg, c := newRegistry()
	ctx := context.Background()

	first, err := reg.Inject(ctx, situation.InjectParams{
		UserID:   "u1",
		Type:     situation.TypeLocation,
		Duration: situation.DurationMedium,
		Data:     situation.Data{Location: &situation.LocationData{Place: "library"}},
	})
	require.NoError(t, err)

	c.Advance(time.Minute)
	second, err := reg.Inject(ctx, situation.InjectParams{
		UserID:   "u1",
		Type:     situation.TypeLocation,
		Duration: situation.DurationMedium,
		Data:     situation.Data{Location: &situation.LocationData{Place: "cafe"}},
	})
	require.NoError(t, err)

	items, err := reg.List(ctx, "u1", situation.Filter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)
	assert.Equal(t, first.ID, items[1].ID)
}

func TestReturnedItemsAreCopies(t *testing.T) {
	reg, _ := newRegistry()
	ctx := context.Background()

	it, err := reg.Inject(ctx, situation.InjectParams{
		UserID:   "u1",
		Type:     situation.TypeLocation,
		Duration: situation.DurationMedium,
		Data:     situation.Data{Location: &situation.LocationData{Place: "home"}},
	})
	require.NoError(t, err)

	it.Data.Location.Place = "mutated"

	items, err := reg.List(ctx, "u1", situation.Filter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "home", items[0].Data.Location.Place)
}
