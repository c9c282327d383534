package wobot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFeatures(t testing.TB, bot *WoBot, guildID string, count int) {
	t.Helper()
	for n := 1; n <= count; n++ {
		state := FeatureStateToDo
		if n%2 == 0 {
			state = FeatureStateImplemented
		}
		require.NoError(t, bot.db.Create(&Feature{
			GuildID:     guildID,
			Title:       fmt.Sprintf("suggestion %d", n),
			State:       state,
			SuggestedBy: "user-1",
		}).Error)
	}
}

func TestFeaturePage(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	seedFeatures(t, bot, "guild-1", 12)
	// another guild's rows never leak into the page
	seedFeatures(t, bot, "guild-2", 3)

	view := &featureView{
		filter:    FeatureStateAll,
		paginator: Paginator{PageSize: 5},
	}

	features, err := bot.featurePage(ctx, "guild-1", view)
	require.NoError(t, err)
	require.Len(t, features, 5)
	assert.Equal(t, 12, view.paginator.Total)
	assert.Equal(t, "suggestion 1", features[0].Title)

	view.paginator.Next()
	view.paginator.Next()
	features, err = bot.featurePage(ctx, "guild-1", view)
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, "suggestion 11", features[0].Title)

	view.filter = FeatureStateImplemented
	view.paginator.Offset = 0
	features, err = bot.featurePage(ctx, "guild-1", view)
	require.NoError(t, err)
	require.Len(t, features, 5)
	assert.Equal(t, 6, view.paginator.Total)
	for _, f := range features {
		assert.Equal(t, FeatureStateImplemented, f.State)
	}
}

func TestRenderFeatureEmbed(t *testing.T) {
	view := &featureView{
		filter:    FeatureStateAll,
		paginator: Paginator{PageSize: 5, Total: 12},
	}
	features := []Feature{
		{ModelUintID: ModelUintID{ID: 1}, Title: "dark mode", State: FeatureStateToDo},
		{
			ModelUintID: ModelUintID{ID: 2},
			Title:       "emoji stats",
			Description: "per-guild usage counts",
			State:       FeatureStateImplemented,
		},
	}

	embed := renderFeatureEmbed(view, features)
	assert.Equal(t, "Suggestions: All", embed.Title)
	assert.Contains(t, embed.Description, "**#1** dark mode (To do)")
	assert.Contains(t, embed.Description, "**#2** emoji stats (Implemented)")
	assert.Contains(t, embed.Description, "per-guild usage counts")
	assert.Equal(t, "1-5 of 12", embed.Footer.Text)

	empty := renderFeatureEmbed(
		&featureView{filter: FeatureStateRejected}, nil,
	)
	assert.Contains(t, empty.Description, "Nothing here yet")
}

func TestFeatureComponents(t *testing.T) {
	collector := newCollector("corr-", time.Minute, nil, controlNext)
	view := &featureView{filter: FeatureStateToDo}

	components := featureComponents(collector, view)
	require.Len(t, components, 2)

	selectRow, ok := components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	menu, ok := selectRow.Components[0].(discordgo.SelectMenu)
	require.True(t, ok)
	assert.Equal(t, "corr-filter", menu.CustomID)
	require.Len(t, menu.Options, len(featureFilterStates))
	for _, opt := range menu.Options {
		assert.Equal(t, opt.Value == string(FeatureStateToDo), opt.Default)
	}

	buttonRow, ok := components[1].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, buttonRow.Components, 3)
	prev, ok := buttonRow.Components[0].(discordgo.Button)
	require.True(t, ok)
	assert.Equal(t, "corr-prev", prev.CustomID)
}
