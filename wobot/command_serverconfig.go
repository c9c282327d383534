package wobot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const DiscordSlashCommandServerConfig = "server_config"

func appCommandServerConfig() *discordgo.ApplicationCommand {
	manageGuild := int64(discordgo.PermissionManageServer)
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandServerConfig,
		Description:              "Configure the bot for this server",
		Type:                     discordgo.ChatApplicationCommand,
		DefaultMemberPermissions: &manageGuild,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Set channels, role ladder and inactivity threshold",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionChannel,
						Name:        "event_channel",
						Description: "Channel for birthday and bet announcements",
					},
					{
						Type:        discordgo.ApplicationCommandOptionChannel,
						Name:        "log_channel",
						Description: "Channel for operational notices",
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "descending_roles",
						Description: "Comma-separated role IDs, highest first",
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "inactivity_days",
						Description: "Days without activity before demotion",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "show",
				Description: "Show the current configuration",
			},
		},
	}
}

// guildConfig loads the configuration row for a guild, returning the
// zero value (not an error) when none exists yet.
func (w *WoBot) guildConfig(ctx context.Context, guildID string) (GuildConfig, error) {
	var cfg GuildConfig
	err := w.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return GuildConfig{GuildID: guildID}, nil
	}
	return cfg, err
}

func (w *WoBot) cmdServerConfig(ctx context.Context, i *discordgo.InteractionCreate) {
	logger := w.logger.With(interactionLogAttrs(*i)...)
	session := w.discord.session
	sub, opts := subcommandOptions(i)

	cfg, err := w.guildConfig(ctx, i.GuildID)
	if err != nil {
		logger.Error("error loading guild config", tint.Err(err))
		_ = respondText(session, i, "Something went wrong", true)
		return
	}

	switch sub {
	case "set":
		if opt, ok := opts["event_channel"]; ok {
			cfg.EventChannelID = opt.ChannelValue(nil).ID
		}
		if opt, ok := opts["log_channel"]; ok {
			cfg.LogChannelID = opt.ChannelValue(nil).ID
		}
		if opt, ok := opts["descending_roles"]; ok {
			cfg.DescendingRoles = strings.TrimSpace(opt.StringValue())
		}
		if opt, ok := opts["inactivity_days"]; ok {
			cfg.InactivityDays = int(opt.IntValue())
		}
		if _, err = w.writeDB.Save(ctx, &cfg); err != nil {
			logger.Error("error saving guild config", tint.Err(err))
			_ = respondText(session, i, "Something went wrong saving that", true)
			return
		}
		_ = respondText(session, i, "Configuration updated", true)
	case "show":
		var b strings.Builder
		fmt.Fprintf(&b, "Event channel: %s\n", channelMentionOrUnset(cfg.EventChannelID))
		fmt.Fprintf(&b, "Log channel: %s\n", channelMentionOrUnset(cfg.LogChannelID))
		fmt.Fprintf(&b, "Role ladder: %s\n", orUnset(cfg.DescendingRoles))
		fmt.Fprintf(&b, "Inactivity days: %d\n", cfg.InactivityDays)
		_ = respondText(session, i, b.String(), true)
	default:
		logger.Warn("unknown subcommand", "subcommand", sub)
		_ = respondText(session, i, "Unknown subcommand", true)
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}

func channelMentionOrUnset(channelID string) string {
	if channelID == "" {
		return "(unset)"
	}
	return fmt.Sprintf("<#%s>", channelID)
}
