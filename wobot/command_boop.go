package wobot

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const DiscordSlashCommandBoop = "boop"

// BoopCount is a per-guild running tally of boops.
type BoopCount struct {
	ModelUintID
	ModelUnixTime
	GuildID      string `json:"guild_id" gorm:"uniqueIndex;not null"`
	Count        int64  `json:"count"`
	LastBoopedBy string `json:"last_booped_by" gorm:"type:string"`
}

func appCommandBoop() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandBoop,
		Description: "Boop the bot",
		Type:        discordgo.ChatApplicationCommand,
	}
}

func (w *WoBot) boop(ctx context.Context, guildID, userID string) (int64, error) {
	var row BoopCount
	err := w.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			e := tx.Where("guild_id = ?", guildID).First(&row).Error
			if errors.Is(e, gorm.ErrRecordNotFound) {
				row = BoopCount{GuildID: guildID}
			} else if e != nil {
				return e
			}
			row.Count++
			row.LastBoopedBy = userID
			return tx.Save(&row).Error
		},
	)
	return row.Count, err
}

func boopComponents(c *Collector) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					CustomID: c.CustomID(controlBoop),
					Label:    "Boop",
					Style:    discordgo.PrimaryButton,
					Emoji:    &discordgo.ComponentEmoji{Name: "👉"},
				},
			},
		},
	}
}

// cmdBoop increments the tally and leaves a button so bystanders can
// pile on until the session goes idle.
func (w *WoBot) cmdBoop(ctx context.Context, i *discordgo.InteractionCreate) {
	logger := w.logger.With(interactionLogAttrs(*i)...)
	session := w.discord.session

	user := getDiscordUser(i)
	if user == nil {
		_ = respondText(session, i, "Couldn't tell who's asking", true)
		return
	}

	count, err := w.boop(ctx, i.GuildID, user.ID)
	if err != nil {
		logger.Error("error booping", tint.Err(err))
		_ = respondText(session, i, "The boop was lost to the void", true)
		return
	}

	correlation, err := generateRandomHexString(discordComponentCustomIDLength)
	if err != nil {
		logger.Error("error generating correlation id", tint.Err(err))
		_ = respondText(session, i, fmt.Sprintf("Boop! That's %d", count), false)
		return
	}
	collector := newCollector(
		correlation, w.config.Collector.IdleTimeout, logger, controlBoop,
	)
	w.collectors.Register(collector)
	defer w.collectors.Unregister(collector)

	if err = respondComponents(
		session, i,
		fmt.Sprintf("Boop! That's %d", count),
		nil,
		boopComponents(collector),
	); err != nil {
		logger.Error("error responding to boop", tint.Err(err))
		return
	}

	for {
		outcome := collector.Next(ctx)
		switch outcome.Kind {
		case CollectorTimeout:
			if err = teardownMessage(session, i.Interaction); err != nil {
				logger.Warn("error freezing boop message", tint.Err(err))
			}
			return
		case CollectorUnrelated:
			continue
		case CollectorRecognized:
		}

		booper := getDiscordUser(outcome.Interaction)
		booperID := ""
		if booper != nil {
			booperID = booper.ID
		}
		count, err = w.boop(ctx, i.GuildID, booperID)
		if err != nil {
			logger.Error("error booping", tint.Err(err))
			continue
		}
		if err = respondMessageUpdate(
			session, outcome.Interaction,
			fmt.Sprintf("Boop! That's %d", count),
			nil,
			boopComponents(collector),
		); err != nil {
			logger.Warn("error updating boop message", tint.Err(err))
		}
	}
}
