package wobot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandEmojiUsage = "emoji_usage"

	emojiUsageTopN = 20
)

func appCommandEmojiUsage() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandEmojiUsage,
		Description: "Show this server's most used emojis",
		Type:        discordgo.ChatApplicationCommand,
	}
}

func (w *WoBot) cmdEmojiUsage(ctx context.Context, i *discordgo.InteractionCreate) {
	logger := w.logger.With(interactionLogAttrs(*i)...)
	session := w.discord.session

	var rows []EmojiUsage
	err := w.db.WithContext(ctx).Where("guild_id = ?", i.GuildID).
		Order("count desc").Limit(emojiUsageTopN).Find(&rows).Error
	if err != nil {
		logger.Error("error loading emoji usage", tint.Err(err))
		_ = respondText(session, i, "Something went wrong", true)
		return
	}
	if len(rows) == 0 {
		_ = respondText(session, i, "No emoji usage recorded yet", true)
		return
	}

	var b strings.Builder
	for rank, row := range rows {
		rendered := w.emoji.Render(
			ctx, session, i.GuildID, EmojiIdentity(row.EmojiIdentity),
		)
		fmt.Fprintf(&b, "%d. %s x%d\n", rank+1, rendered, row.Count)
	}
	_ = respondText(session, i, truncate(b.String(), discordMaxMessageLength), false)
}
