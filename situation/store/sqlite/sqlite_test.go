package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/companion-core/memory"
	"github.com/becomeliminal/companion-core/situation"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sample(userID string) *situation.Item {
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(time.Hour)
	return &situation.Item{
		ID:       memory.NewID(),
		UserID:   userID,
		Type:     situation.TypeWeather,
		Duration: situation.DurationShort,
		Data: situation.Data{
			Weather: &situation.WeatherData{
				Location: "Lisbon", Condition: "windy", Temperature: 19,
			},
			Extra: map[string]string{"humidity": "60"},
		},
		Source:    "weather-service",
		Metadata:  map[string]string{"request": "abc"},
		Active:    true,
		CreatedAt: created,
		ExpiresAt: &expires,
	}
}

func TestInsertGetRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	want := sample("u1")
	require.NoError(t, s.Insert(ctx, want))

	got, err := s.Get(ctx, want.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, want.Duration, got.Duration)
	require.NotNil(t, got.Data.Weather)
	assert.Equal(t, *want.Data.Weather, *got.Data.Weather)
	assert.Equal(t, want.Data.Extra, got.Data.Extra)
	assert.Equal(t, want.Metadata, got.Metadata)
	assert.Equal(t, want.CreatedAt, got.CreatedAt)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, *want.ExpiresAt, *got.ExpiresAt)
	assert.True(t, got.Active)
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	got, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateAndDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	it := sample("u1")
	require.NoError(t, s.Insert(ctx, it))

	it.Active = false
	it.Duration = situation.DurationMedium
	ok, err := s.Update(ctx, it)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, situation.DurationMedium, got.Duration)

	ok, err = s.Delete(ctx, it.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, it.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListByUser(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	active := sample("u1")
	require.NoError(t, s.Insert(ctx, active))

	inactive := sample("u1")
	inactive.Active = false
	require.NoError(t, s.Insert(ctx, inactive))

	typed := sample("u1")
	typed.Type = situation.TypeLocation
	typed.Data = situation.Data{Location: &situation.LocationData{Place: "harbor"}}
	require.NoError(t, s.Insert(ctx, typed))

	require.NoError(t, s.Insert(ctx, sample("u2")))

	list, err := s.ListByUser(ctx, "u1", situation.Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = s.ListByUser(ctx, "u1", situation.Filter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = s.ListByUser(ctx, "u1", situation.Filter{Type: situation.TypeLocation})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, typed.ID, list[0].ID)
}

func TestListExpiredActive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	it := sample("u1")
	require.NoError(t, s.Insert(ctx, it))

	swept := sample("u1")
	swept.Active = false
	require.NoError(t, s.Insert(ctx, swept))

	permanent := sample("u1")
	permanent.Duration = situation.DurationPermanent
	permanent.ExpiresAt = nil
	require.NoError(t, s.Insert(ctx, permanent))

	expired, err := s.ListExpiredActive(ctx, it.CreatedAt.Add(30*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = s.ListExpiredActive(ctx, it.CreatedAt.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, it.ID, expired[0].ID)
}
