package wobot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm/clause"
)

const (
	DiscordSlashCommandBet = "bet"

	betOptionSeparator = ";"
	betMaxOptions      = 10
)

// Bet is an open wager with a fixed set of options and a closing time.
// The bet sweep resolves bets whose closing time has passed.
type Bet struct {
	ModelUintID
	ModelUnixTime
	GuildID   string `json:"guild_id" gorm:"index;not null"`
	ChannelID string `json:"channel_id" gorm:"not null"`
	Title     string `json:"title" gorm:"not null"`

	// Options holds the option labels joined by betOptionSeparator
	Options   string `json:"options" gorm:"not null"`
	CreatedBy string `json:"created_by" gorm:"type:string"`
	ClosesAt  int64  `json:"closes_at" gorm:"index;not null"`
}

// OptionLabels splits the stored option string back into labels.
func (b Bet) OptionLabels() []string {
	return strings.Split(b.Options, betOptionSeparator)
}

// BetParticipant records one member's pick on one bet. Re-picking
// overwrites the previous choice.
type BetParticipant struct {
	ModelUintID
	ModelUnixTime
	BetID  uint   `json:"bet_id" gorm:"uniqueIndex:idx_bet_participant;not null"`
	UserID string `json:"user_id" gorm:"uniqueIndex:idx_bet_participant;not null"`
	Choice int    `json:"choice" gorm:"not null"`
}

func appCommandBet() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandBet,
		Description: "Open a bet",
		Type:        discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "title",
				Description: "What's the bet about?",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "options",
				Description: "Options, separated by ;",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "closes",
				Description: "When the bet closes, like 'in 2 hours' or 'tomorrow at noon'",
				Required:    true,
			},
		},
	}
}

func renderBetContent(bet Bet, counts map[int]int64) string {
	var b strings.Builder
	fmt.Fprintf(
		&b, "**%s**\ncloses <t:%d:R>\n", bet.Title, bet.ClosesAt/1000,
	)
	for idx, label := range bet.OptionLabels() {
		fmt.Fprintf(&b, "%d. %s", idx+1, label)
		if n := counts[idx]; n > 0 {
			fmt.Fprintf(&b, " (%d)", n)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func betComponents(c *Collector, bet Bet) []discordgo.MessageComponent {
	labels := bet.OptionLabels()
	options := make([]discordgo.SelectMenuOption, 0, len(labels))
	for idx, label := range labels {
		options = append(
			options,
			discordgo.SelectMenuOption{
				Label: label,
				Value: fmt.Sprintf("%d", idx),
			},
		)
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					CustomID:    c.CustomID(controlJoin),
					Placeholder: "Place your bet",
					Options:     options,
				},
			},
		},
	}
}

func (w *WoBot) betChoiceCounts(ctx context.Context, betID uint) (map[int]int64, error) {
	type choiceCount struct {
		Choice int
		N      int64
	}
	var rows []choiceCount
	err := w.db.WithContext(ctx).Model(&BetParticipant{}).
		Select("choice, count(*) as n").
		Where("bet_id = ?", betID).
		Group("choice").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[int]int64, len(rows))
	for _, row := range rows {
		counts[row.Choice] = row.N
	}
	return counts, nil
}

// cmdBet opens a bet and runs a collector session so members can pick
// an option while the announcement is fresh. The bet itself outlives
// the session; the sweep resolves it at closing time.
func (w *WoBot) cmdBet(ctx context.Context, i *discordgo.InteractionCreate) {
	logger := w.logger.With(interactionLogAttrs(*i)...)
	session := w.discord.session
	opts := discordInteractionOptions(i)

	title := opts["title"].StringValue()
	labels := strings.Split(opts["options"].StringValue(), betOptionSeparator)
	cleaned := make([]string, 0, len(labels))
	for _, label := range labels {
		if label = strings.TrimSpace(label); label != "" {
			cleaned = append(cleaned, label)
		}
	}
	if len(cleaned) < 2 || len(cleaned) > betMaxOptions {
		_ = respondText(
			session, i,
			fmt.Sprintf("A bet needs between 2 and %d options", betMaxOptions),
			true,
		)
		return
	}

	closesAt, err := w.timeParser.ParseDate(opts["closes"].StringValue(), time.Now())
	if err != nil || closesAt == nil {
		_ = respondText(session, i, "Couldn't understand that closing time", true)
		return
	}
	if closesAt.Before(time.Now()) {
		_ = respondText(session, i, "That closing time is in the past", true)
		return
	}

	bet := Bet{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Title:     title,
		Options:   strings.Join(cleaned, betOptionSeparator),
		ClosesAt:  closesAt.UnixMilli(),
	}
	if user := getDiscordUser(i); user != nil {
		bet.CreatedBy = user.ID
	}
	if _, err = w.writeDB.Create(ctx, &bet); err != nil {
		logger.Error("error creating bet", tint.Err(err))
		_ = respondText(session, i, "Something went wrong opening the bet", true)
		return
	}

	correlation, err := generateRandomHexString(discordComponentCustomIDLength)
	if err != nil {
		logger.Error("error generating correlation id", tint.Err(err))
		_ = respondText(session, i, "Something went wrong", true)
		return
	}
	collector := newCollector(
		correlation, w.config.Collector.IdleTimeout, logger, controlJoin,
	)
	w.collectors.Register(collector)
	defer w.collectors.Unregister(collector)

	if err = respondComponents(
		session, i,
		renderBetContent(bet, nil),
		nil,
		betComponents(collector, bet),
	); err != nil {
		logger.Error("error announcing bet", tint.Err(err))
		return
	}

	for {
		outcome := collector.Next(ctx)
		switch outcome.Kind {
		case CollectorTimeout:
			if err = teardownMessage(session, i.Interaction); err != nil {
				logger.Warn("error freezing bet message", tint.Err(err))
			}
			return
		case CollectorUnrelated:
			continue
		case CollectorRecognized:
		}

		// every recognized click gets a response, or the client shows
		// "interaction failed"
		interaction := outcome.Interaction
		values := interaction.MessageComponentData().Values
		user := getDiscordUser(interaction)
		if len(values) == 0 || user == nil {
			_ = respondEphemeral(session, interaction, "Couldn't read that pick")
			continue
		}
		var choice int
		if _, err = fmt.Sscanf(values[0], "%d", &choice); err != nil {
			_ = respondEphemeral(session, interaction, "Couldn't read that pick")
			continue
		}

		participant := BetParticipant{
			BetID:  bet.ID,
			UserID: user.ID,
			Choice: choice,
		}
		rv := w.writeDB.DB().WithContext(ctx).Clauses(
			clause.OnConflict{
				Columns: []clause.Column{
					{Name: "bet_id"},
					{Name: "user_id"},
				},
				DoUpdates: clause.Assignments(map[string]any{"choice": choice}),
			},
		).Create(&participant)
		if rv.Error != nil {
			logger.Error("error recording bet pick", tint.Err(rv.Error))
			_ = respondEphemeral(session, interaction, "Something went wrong recording that")
			continue
		}

		counts, countErr := w.betChoiceCounts(ctx, bet.ID)
		if countErr != nil {
			logger.Warn("error counting picks", tint.Err(countErr))
		}
		if err = respondMessageUpdate(
			session, interaction,
			renderBetContent(bet, counts),
			nil,
			betComponents(collector, bet),
		); err != nil {
			logger.Warn("error updating bet message", tint.Err(err))
		}
	}
}
