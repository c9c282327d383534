package wobot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const DiscordSlashCommandBirthday = "birthday"

// Birthday stores a member's birthday as month and day. The year is
// deliberately not collected. LastCongratulated guards against a
// member being congratulated twice in one year when sweeps overlap or
// the process restarts mid-day.
type Birthday struct {
	ModelUintID
	ModelUnixTime
	GuildID string `json:"guild_id" gorm:"uniqueIndex:idx_birthday_guild_user;not null"`
	UserID  string `json:"user_id" gorm:"uniqueIndex:idx_birthday_guild_user;not null"`
	Month   int    `json:"month" gorm:"not null"`
	Day     int    `json:"day" gorm:"not null"`

	// LastCongratulated is the year of the most recent congratulation
	LastCongratulated int `json:"last_congratulated"`
}

func appCommandBirthday() *discordgo.ApplicationCommand {
	minValue, maxDay := 1.0, 31.0
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandBirthday,
		Description: "Birthday announcements",
		Type:        discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Save your birthday",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "month",
						Description: "Month (1-12)",
						Required:    true,
						MinValue:    &minValue,
						MaxValue:    12,
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "day",
						Description: "Day (1-31)",
						Required:    true,
						MinValue:    &minValue,
						MaxValue:    maxDay,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "forget",
				Description: "Remove your birthday",
			},
		},
	}
}

func (w *WoBot) cmdBirthday(ctx context.Context, i *discordgo.InteractionCreate) {
	logger := w.logger.With(interactionLogAttrs(*i)...)
	session := w.discord.session
	sub, opts := subcommandOptions(i)

	user := getDiscordUser(i)
	if user == nil {
		_ = respondText(session, i, "Couldn't tell who's asking", true)
		return
	}

	switch sub {
	case "set":
		month := int(opts["month"].IntValue())
		day := int(opts["day"].IntValue())
		if !validMonthDay(month, day) {
			_ = respondText(session, i, "That's not a real date", true)
			return
		}

		birthday := Birthday{
			GuildID: i.GuildID,
			UserID:  user.ID,
			Month:   month,
			Day:     day,
		}
		err := w.writeDB.Transaction(
			ctx, func(tx *gorm.DB) error {
				// hard delete, or the tombstone keeps holding the
				// (guild, user) unique index and the re-create fails
				if err := tx.Unscoped().Where(
					"guild_id = ? AND user_id = ?", i.GuildID, user.ID,
				).Delete(&Birthday{}).Error; err != nil {
					return err
				}
				return tx.Create(&birthday).Error
			},
		)
		if err != nil {
			logger.Error("error saving birthday", tint.Err(err))
			_ = respondText(session, i, "Something went wrong saving that", true)
			return
		}
		_ = respondText(
			session, i,
			fmt.Sprintf("Saved! You'll get a shoutout on %02d-%02d", month, day),
			true,
		)
	case "forget":
		if _, err := w.writeDB.Delete(
			&Birthday{},
			"guild_id = ? AND user_id = ?", i.GuildID, user.ID,
		); err != nil {
			logger.Error("error deleting birthday", tint.Err(err))
			_ = respondText(session, i, "Something went wrong", true)
			return
		}
		_ = respondText(session, i, "Forgotten", true)
	default:
		logger.Warn("unknown subcommand", "subcommand", sub)
		_ = respondText(session, i, "Unknown subcommand", true)
	}
}

// validMonthDay accepts 29 February, since the sweep congratulates
// leap-day birthdays on 1 March in common years.
func validMonthDay(month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	daysIn := [...]int{31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	return day <= daysIn[month-1]
}
