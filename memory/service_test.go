package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/companion-core/memory"
	"github.com/becomeliminal/companion-core/memory/store/mem"
)

func newService(opts ...memory.Option) (*memory.Service, *clock) {
	c := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	opts = append(opts, memory.WithClock(c.Now))
	return memory.NewService(mem.New(), opts...), c
}

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

func TestAddComputesExpiry(t *testing.T) {
	svc, c := newService()
	ctx := context.Background()

	cases := []struct {
		tier    memory.Tier
		horizon time.Duration
	}{
		{memory.TierShort, time.Hour},
		{memory.TierMedium, 7 * 24 * time.Hour},
		{memory.TierLong, 90 * 24 * time.Hour},
	}
	for _, tc := range cases {
		m, err := svc.Add(ctx, memory.AddParams{
			UserID: "u1", Text: "note", Tier: tc.tier, Importance: 5,
		})
		require.NoError(t, err)
		require.NotNil(t, m.ExpiresAt, tc.tier)
		assert.Equal(t, tc.horizon, m.ExpiresAt.Sub(m.CreatedAt), tc.tier)
	}

	perm, err := svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "forever", Tier: memory.TierPermanent, Importance: 5,
	})
	require.NoError(t, err)
	assert.Nil(t, perm.ExpiresAt)
	assert.Equal(t, c.Now(), perm.CreatedAt)
}

func TestAddValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.Add(ctx, memory.AddParams{Text: "no user", Tier: memory.TierShort})
	assert.Error(t, err)

	_, err = svc.Add(ctx, memory.AddParams{UserID: "u1", Text: "bad tier", Tier: "eternal"})
	assert.Error(t, err)

	// Importance clamps instead of failing.
	m, err := svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "too big", Tier: memory.TierShort, Importance: 99,
	})
	require.NoError(t, err)
	assert.Equal(t, memory.ImportanceMax, m.Importance)
}

func TestDecayedImportance(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m := &memory.Memory{Importance: 10, CreatedAt: now}

	assert.InDelta(t, 10, memory.DecayedImportance(m, now), 1e-9)
	assert.InDelta(t, 9, memory.DecayedImportance(m, now.Add(24*time.Hour)), 1e-9)
	assert.InDelta(t, 8.1, memory.DecayedImportance(m, now.Add(48*time.Hour)), 1e-9)

	// Monotonically non-increasing, floored at the minimum.
	prev := 10.0
	for day := 1; day <= 120; day++ {
		cur := memory.DecayedImportance(m, now.Add(time.Duration(day)*24*time.Hour))
		assert.LessOrEqual(t, cur, prev)
		assert.GreaterOrEqual(t, cur, memory.ImportanceMin)
		prev = cur
	}
	assert.Equal(t, memory.ImportanceMin, memory.DecayedImportance(m, now.Add(120*24*time.Hour)))
}

func TestSoftDeleteRoundTrip(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	m, err := svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "likes jazz", Tier: memory.TierLong, Importance: 6,
		Metadata: map[string]string{"origin": "chat"},
	})
	require.NoError(t, err)

	ok, err := svc.SoftDelete(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, ok)

	visible, err := svc.ListByUser(ctx, "u1", memory.Filter{})
	require.NoError(t, err)
	assert.Empty(t, visible)

	hidden, err := svc.ListByUser(ctx, "u1", memory.Filter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, hidden, 1)
	assert.True(t, hidden[0].Deleted)

	ok, err = svc.Restore(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, ok)

	restored, err := svc.ListByUser(ctx, "u1", memory.Filter{})
	require.NoError(t, err)
	require.Len(t, restored, 1)

	// Identical field values after the round trip.
	assert.Equal(t, m.Text, restored[0].Text)
	assert.Equal(t, m.Importance, restored[0].Importance)
	assert.Equal(t, m.Metadata, restored[0].Metadata)
	assert.Equal(t, m.CreatedAt, restored[0].CreatedAt)
	assert.False(t, restored[0].Deleted)
}

func TestDeleteMissingIsNoOp(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	ok, err := svc.SoftDelete(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.Delete(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	m, err := svc.Update(ctx, "nope", memory.UpdatePatch{})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestUpdatePatchesFields(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	m, err := svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "old text", Tier: memory.TierMedium, Importance: 5,
	})
	require.NoError(t, err)

	text := "new text"
	imp := 9.0
	updated, err := svc.Update(ctx, m.ID, memory.UpdatePatch{
		Text:       &text,
		Importance: &imp,
		Metadata:   map[string]string{"edited": "true"},
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "new text", updated.Text)
	assert.Equal(t, 9.0, updated.Importance)
	assert.Equal(t, "true", updated.Metadata["edited"])
	assert.Equal(t, m.CreatedAt, updated.CreatedAt)
}

func TestSweepSoftDeletesExpired(t *testing.T) {
	svc, c := newService()
	ctx := context.Background()

	short, err := svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "short lived", Tier: memory.TierShort, Importance: 5,
	})
	require.NoError(t, err)
	_, err = svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "durable", Tier: memory.TierLong, Importance: 5,
	})
	require.NoError(t, err)

	c.Advance(2 * time.Hour)

	n, err := svc.Sweep(ctx, c.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Idempotent: a second pass finds nothing.
	n, err = svc.Sweep(ctx, c.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	visible, err := svc.ListByUser(ctx, "u1", memory.Filter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "durable", visible[0].Text)

	hidden, err := svc.ListByUser(ctx, "u1", memory.Filter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, hidden, 2)
	_ = short
}

func TestCapPrunesLowestDecayedImportance(t *testing.T) {
	svc, c := newService(memory.WithConfig(&memory.Config{MaxPerUser: 3}))
	ctx := context.Background()

	_, err := svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "keystone", Tier: memory.TierPermanent, Importance: 0.2,
	})
	require.NoError(t, err)
	weak, err := svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "weak", Tier: memory.TierLong, Importance: 1,
	})
	require.NoError(t, err)
	_, err = svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "strong", Tier: memory.TierLong, Importance: 9,
	})
	require.NoError(t, err)

	c.Advance(time.Minute)
	_, err = svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "newcomer", Tier: memory.TierLong, Importance: 5,
	})
	require.NoError(t, err)

	visible, err := svc.ListByUser(ctx, "u1", memory.Filter{})
	require.NoError(t, err)
	require.Len(t, visible, 3)
	for _, m := range visible {
		assert.NotEqual(t, weak.ID, m.ID)
	}
	// The permanent memory survives even at lower importance.
	texts := []string{visible[0].Text, visible[1].Text, visible[2].Text}
	assert.Contains(t, texts, "keystone")
}

func TestListSortedByImportanceThenRecency(t *testing.T) {
	svc, c := newService()
	ctx := context.Background()

	_, err := svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "older equal", Tier: memory.TierLong, Importance: 5,
	})
	require.NoError(t, err)
	c.Advance(time.Hour)
	_, err = svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "newer equal", Tier: memory.TierLong, Importance: 5,
	})
	require.NoError(t, err)
	_, err = svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "top", Tier: memory.TierLong, Importance: 8,
	})
	require.NoError(t, err)

	mems, err := svc.ListByUser(ctx, "u1", memory.Filter{})
	require.NoError(t, err)
	require.Len(t, mems, 3)
	assert.Equal(t, "top", mems[0].Text)
	assert.Equal(t, "newer equal", mems[1].Text)
	assert.Equal(t, "older equal", mems[2].Text)
}

func TestReturnedMemoriesAreCopies(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	m, err := svc.Add(ctx, memory.AddParams{
		UserID: "u1", Text: "original", Tier: memory.TierLong, Importance: 5,
	})
	require.NoError(t, err)

	m.Text = "mutated by caller"

	mems, err := svc.ListByUser(ctx, "u1", memory.Filter{})
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "original", mems[0].Text)
}
