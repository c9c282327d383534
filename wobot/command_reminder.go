package wobot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandRemind = "remind"

	reminderMaxLength = 500
	reminderListLimit = 25
)

// Reminder is a single scheduled message. Rows are deleted when the
// sweep picks them up, whether or not delivery succeeds.
type Reminder struct {
	ModelUintID
	ModelUnixTime
	GuildID   string `json:"guild_id" gorm:"type:string"`
	ChannelID string `json:"channel_id" gorm:"not null"`
	UserID    string `json:"user_id" gorm:"not null"`
	Message   string `json:"message" gorm:"not null"`
	DueAt     int64  `json:"due_at" gorm:"index;not null"`
}

func appCommandRemind() *discordgo.ApplicationCommand {
	maxLength := reminderMaxLength
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandRemind,
		Description: "Get pinged later",
		Type:        discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "add",
				Description: "Schedule a reminder",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "when",
						Description: "Like 'in 20 minutes' or 'friday at 9am'",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "message",
						Description: "What to remind you of",
						Required:    true,
						MaxLength:   maxLength,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "Show your pending reminders",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "delete",
				Description: "Cancel one of your reminders",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "id",
						Description: "Reminder ID, see /remind list",
						Required:    true,
					},
				},
			},
		},
	}
}

func (w *WoBot) cmdRemind(ctx context.Context, i *discordgo.InteractionCreate) {
	logger := w.logger.With(interactionLogAttrs(*i)...)
	sub, opts := subcommandOptions(i)

	user := getDiscordUser(i)
	if user == nil {
		_ = respondText(w.discord.session, i, "Couldn't tell who's asking", true)
		return
	}

	switch sub {
	case "add":
		w.reminderAdd(ctx, i, user, opts, logger)
	case "list":
		w.reminderList(ctx, i, user, logger)
	case "delete":
		w.reminderDelete(ctx, i, user, opts, logger)
	default:
		logger.Warn("unknown subcommand", "subcommand", sub)
		_ = respondText(w.discord.session, i, "Unknown subcommand", true)
	}
}

func (w *WoBot) reminderAdd(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	logger *slog.Logger,
) {
	session := w.discord.session

	now := time.Now()
	dueAt, err := w.timeParser.ParseDate(opts["when"].StringValue(), now)
	if err != nil || dueAt == nil {
		_ = respondText(session, i, "Couldn't understand that time", true)
		return
	}
	if dueAt.Before(now) {
		_ = respondText(session, i, "That time is in the past", true)
		return
	}

	reminder := Reminder{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		UserID:    user.ID,
		Message:   opts["message"].StringValue(),
		DueAt:     dueAt.UnixMilli(),
	}
	if _, err = w.writeDB.Create(ctx, &reminder); err != nil {
		logger.Error("error creating reminder", tint.Err(err))
		_ = respondText(session, i, "Something went wrong saving that reminder", true)
		return
	}

	logger.Info("created reminder", "reminder_id", reminder.ID, "due_at", dueAt)
	_ = respondText(
		session, i,
		fmt.Sprintf("Will remind you <t:%d:R>", dueAt.Unix()),
		true,
	)
}

func (w *WoBot) reminderList(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	logger *slog.Logger,
) {
	session := w.discord.session

	var reminders []Reminder
	if err := w.db.WithContext(ctx).Where(
		"user_id = ?", user.ID,
	).Order("due_at").Limit(reminderListLimit).Find(&reminders).Error; err != nil {
		logger.Error("error listing reminders", tint.Err(err))
		_ = respondText(session, i, "Something went wrong loading your reminders", true)
		return
	}
	if len(reminders) == 0 {
		_ = respondText(session, i, "No pending reminders", true)
		return
	}

	var b strings.Builder
	for _, r := range reminders {
		fmt.Fprintf(
			&b, "**#%d** <t:%d:R> %s\n",
			r.ID, r.DueAt/1000, truncate(r.Message, 80),
		)
	}
	_ = respondText(session, i, b.String(), true)
}

func (w *WoBot) reminderDelete(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	logger *slog.Logger,
) {
	session := w.discord.session
	id := uint(opts["id"].IntValue())

	// scoped to the caller so nobody can cancel someone else's reminder
	rowsAffected, err := w.writeDB.Delete(
		&Reminder{}, "id = ? AND user_id = ?", id, user.ID,
	)
	if err != nil {
		logger.Error("error deleting reminder", tint.Err(err))
		_ = respondText(session, i, "Something went wrong deleting that", true)
		return
	}
	if rowsAffected == 0 {
		_ = respondText(
			session, i,
			fmt.Sprintf("No reminder #%d of yours", id), true,
		)
		return
	}
	_ = respondText(session, i, fmt.Sprintf("Reminder #%d cancelled", id), true)
}
