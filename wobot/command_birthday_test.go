package wobot

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func birthdaySetInteraction(
	guildID string,
	userID string,
	month int,
	day int,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      "interaction-1",
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: guildID,
			Member:  &discordgo.Member{User: &discordgo.User{ID: userID}},
			Data: discordgo.ApplicationCommandInteractionData{
				Name: DiscordSlashCommandBirthday,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Name: "set",
						Type: discordgo.ApplicationCommandOptionSubCommand,
						Options: []*discordgo.ApplicationCommandInteractionDataOption{
							{
								Name:  "month",
								Type:  discordgo.ApplicationCommandOptionInteger,
								Value: float64(month),
							},
							{
								Name:  "day",
								Type:  discordgo.ApplicationCommandOptionInteger,
								Value: float64(day),
							},
						},
					},
				},
			},
		},
	}
}

func TestBirthdaySetTwice(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	bot.cmdBirthday(ctx, birthdaySetInteraction("guild-1", "user-1", 3, 14))

	var birthdays []Birthday
	require.NoError(t, bot.db.Find(&birthdays).Error)
	require.Len(t, birthdays, 1)
	assert.Equal(t, 3, birthdays[0].Month)
	assert.Equal(t, 14, birthdays[0].Day)

	// changing the date replaces the row instead of erroring on the
	// (guild, user) unique index
	bot.cmdBirthday(ctx, birthdaySetInteraction("guild-1", "user-1", 7, 2))

	birthdays = nil
	require.NoError(t, bot.db.Find(&birthdays).Error)
	require.Len(t, birthdays, 1)
	assert.Equal(t, "user-1", birthdays[0].UserID)
	assert.Equal(t, 7, birthdays[0].Month)
	assert.Equal(t, 2, birthdays[0].Day)
}

func TestBirthdayValidMonthDay(t *testing.T) {
	assert.True(t, validMonthDay(2, 29))
	assert.True(t, validMonthDay(12, 31))
	assert.False(t, validMonthDay(2, 30))
	assert.False(t, validMonthDay(4, 31))
	assert.False(t, validMonthDay(0, 1))
	assert.False(t, validMonthDay(13, 1))
	assert.False(t, validMonthDay(1, 0))
}
