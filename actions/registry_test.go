package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/companion-core/core"
)

func TestRegisterPreservesOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(core.Action{Name: "set_reminder", Category: "productivity"}))
	require.NoError(t, r.Register(core.Action{Name: "play_music", Category: "entertainment"}))
	require.NoError(t, r.Register(core.Action{Name: "check_weather", Category: "information"}))

	got, err := r.Actions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "set_reminder", got[0].Name)
	assert.Equal(t, "play_music", got[1].Name)
	assert.Equal(t, "check_weather", got[2].Name)
}

func TestRegisterReplacesInPlace(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(core.Action{Name: "set_reminder", Category: "productivity"}))
	require.NoError(t, r.Register(core.Action{Name: "play_music", Category: "entertainment"}))
	require.NoError(t, r.Register(core.Action{
		Name: "set_reminder", Category: "productivity", Description: "updated",
	}))

	got, err := r.Actions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "set_reminder", got[0].Name)
	assert.Equal(t, "updated", got[0].Description)
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(core.Action{Category: "misc"}))
	assert.Error(t, r.Register(core.Action{Name: "orphan"}))
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(core.Action{Name: "set_reminder", Category: "productivity"}))

	assert.True(t, r.Unregister("set_reminder"))
	assert.False(t, r.Unregister("set_reminder"))

	got, err := r.Actions(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestByCategory(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(core.Action{Name: "zebra", Category: "misc"}))
	require.NoError(t, r.Register(core.Action{Name: "apple", Category: "misc"}))
	require.NoError(t, r.Register(core.Action{Name: "play_music", Category: "entertainment"}))

	groups := r.ByCategory()
	require.Len(t, groups, 2)
	require.Len(t, groups["misc"], 2)
	assert.Equal(t, "apple", groups["misc"][0].Name)
}
