package wobot

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func betInteraction(guildID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction-1",
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   guildID,
			ChannelID: "channel-1",
			Member:    &discordgo.Member{User: &discordgo.User{ID: "user-1"}},
			Data: discordgo.ApplicationCommandInteractionData{
				Name: DiscordSlashCommandBet,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Name:  "title",
						Type:  discordgo.ApplicationCommandOptionString,
						Value: "Who wins?",
					},
					{
						Name:  "options",
						Type:  discordgo.ApplicationCommandOptionString,
						Value: "red;blue",
					},
					{
						Name:  "closes",
						Type:  discordgo.ApplicationCommandOptionString,
						Value: "in 2 hours",
					},
				},
			},
		},
	}
}

func nextInteractionResponse(
	t testing.TB,
	mock *mockDiscordSession,
) *discordgo.InteractionResponse {
	t.Helper()
	select {
	case resp := <-mock.interactionResponses:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("no interaction response")
		return nil
	}
}

// TestBetUnreadablePickIsAcknowledged sends a select-menu click whose
// value isn't a valid option index. The session has to answer the
// click anyway; a dropped component interaction shows as a failure
// client-side.
func TestBetUnreadablePickIsAcknowledged(t *testing.T) {
	bot, mock := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.cmdBet(ctx, betInteraction("guild-1"))
	}()

	announce := nextInteractionResponse(t, mock)
	require.NotNil(t, announce.Data)
	require.NotEmpty(t, announce.Data.Components)
	row, ok := announce.Data.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	menu, ok := row.Components[0].(discordgo.SelectMenu)
	require.True(t, ok)

	click := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      "interaction-2",
			Type:    discordgo.InteractionMessageComponent,
			GuildID: "guild-1",
			Member:  &discordgo.Member{User: &discordgo.User{ID: "user-2"}},
			Data: discordgo.MessageComponentInteractionData{
				CustomID: menu.CustomID,
				Values:   []string{"not-a-number"},
			},
		},
	}
	require.Eventually(t, func() bool {
		return bot.collectors.Dispatch(click)
	}, 2*time.Second, 10*time.Millisecond)

	resp := nextInteractionResponse(t, mock)
	assert.Equal(
		t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type,
	)
	require.NotNil(t, resp.Data)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	assert.Contains(t, resp.Data.Content, "Couldn't read")

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bet session did not end")
	}
}
