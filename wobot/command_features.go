package wobot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const DiscordSlashCommandFeature = "feature"

// FeatureState tracks where a suggestion is in its lifecycle.
type FeatureState string

const (
	// FeatureStateAll is a filter value only, never stored
	FeatureStateAll FeatureState = "all"

	FeatureStateToDo        FeatureState = "todo"
	FeatureStateImplemented FeatureState = "implemented"
	FeatureStateRejected    FeatureState = "rejected"
	FeatureStatePostponed   FeatureState = "postponed"
)

var featureFilterStates = []FeatureState{
	FeatureStateAll,
	FeatureStateToDo,
	FeatureStateImplemented,
	FeatureStateRejected,
	FeatureStatePostponed,
}

func (s FeatureState) Label() string {
	switch s {
	case FeatureStateAll:
		return "All"
	case FeatureStateToDo:
		return "To do"
	case FeatureStateImplemented:
		return "Implemented"
	case FeatureStateRejected:
		return "Rejected"
	case FeatureStatePostponed:
		return "Postponed"
	default:
		return string(s)
	}
}

// Feature is a user-suggested feature or bug report.
type Feature struct {
	ModelUintID
	ModelUnixTime
	GuildID     string       `json:"guild_id" gorm:"index;not null"`
	Title       string       `json:"title" gorm:"not null"`
	Description string       `json:"description" gorm:"type:string"`
	State       FeatureState `json:"state" gorm:"type:string;default:todo"`
	SuggestedBy string       `json:"suggested_by" gorm:"type:string"`
}

func appCommandFeature() *discordgo.ApplicationCommand {
	maxTitle := 100
	stateChoices := make(
		[]*discordgo.ApplicationCommandOptionChoice, 0, len(featureFilterStates)-1,
	)
	for _, s := range featureFilterStates[1:] {
		stateChoices = append(
			stateChoices,
			&discordgo.ApplicationCommandOptionChoice{
				Name:  s.Label(),
				Value: string(s),
			},
		)
	}

	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandFeature,
		Description: "Track feature suggestions",
		Type:        discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "add",
				Description: "Suggest a feature",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "title",
						Description: "Short summary",
						Required:    true,
						MaxLength:   maxTitle,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "description",
						Description: "Details",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "Browse suggestions",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "delete",
				Description: "Delete a suggestion",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "id",
						Description: "Suggestion ID",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set_state",
				Description: "Move a suggestion to another state",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "id",
						Description: "Suggestion ID",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "state",
						Description: "New state",
						Required:    true,
						Choices:     stateChoices,
					},
				},
			},
		},
	}
}

func (w *WoBot) cmdFeature(ctx context.Context, i *discordgo.InteractionCreate) {
	logger := w.logger.With(interactionLogAttrs(*i)...)
	sub, opts := subcommandOptions(i)

	switch sub {
	case "add":
		w.featureAdd(ctx, i, opts, logger)
	case "list":
		w.featureList(ctx, i, logger)
	case "delete":
		w.featureDelete(ctx, i, opts, logger)
	case "set_state":
		w.featureSetState(ctx, i, opts, logger)
	default:
		logger.Warn("unknown subcommand", "subcommand", sub)
		_ = respondText(w.discord.session, i, "Unknown subcommand", true)
	}
}

func (w *WoBot) featureAdd(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	logger *slog.Logger,
) {
	feature := Feature{
		GuildID: i.GuildID,
		Title:   opts["title"].StringValue(),
		State:   FeatureStateToDo,
	}
	if opt, ok := opts["description"]; ok {
		feature.Description = opt.StringValue()
	}
	if user := getDiscordUser(i); user != nil {
		feature.SuggestedBy = user.ID
	}

	if _, err := w.writeDB.Create(ctx, &feature); err != nil {
		logger.Error("error creating feature", tint.Err(err))
		_ = respondText(w.discord.session, i, "Something went wrong saving that", true)
		return
	}
	_ = respondText(
		w.discord.session, i,
		fmt.Sprintf("Suggestion #%d recorded: %s", feature.ID, feature.Title),
		false,
	)
}

func (w *WoBot) featureDelete(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	logger *slog.Logger,
) {
	id := uint(opts["id"].IntValue())

	rowsAffected, err := w.writeDB.Delete(
		&Feature{}, "id = ? AND guild_id = ?", id, i.GuildID,
	)
	if err != nil {
		logger.Error("error deleting feature", tint.Err(err))
		_ = respondText(w.discord.session, i, "Something went wrong deleting that", true)
		return
	}
	if rowsAffected == 0 {
		_ = respondText(
			w.discord.session, i,
			fmt.Sprintf("No suggestion #%d here", id), true,
		)
		return
	}
	_ = respondText(
		w.discord.session, i,
		fmt.Sprintf("Suggestion #%d deleted", id),
		false,
	)
}

func (w *WoBot) featureSetState(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	logger *slog.Logger,
) {
	id := uint(opts["id"].IntValue())
	state := FeatureState(opts["state"].StringValue())

	rowsAffected, err := w.writeDB.UpdatesWhere(
		ctx,
		&Feature{},
		map[string]any{"state": state},
		"id = ? AND guild_id = ?", id, i.GuildID,
	)
	if err != nil {
		logger.Error("error updating feature state", tint.Err(err))
		_ = respondText(w.discord.session, i, "Something went wrong updating that", true)
		return
	}
	if rowsAffected == 0 {
		_ = respondText(
			w.discord.session, i,
			fmt.Sprintf("No suggestion #%d here", id), true,
		)
		return
	}
	_ = respondText(
		w.discord.session, i,
		fmt.Sprintf("Suggestion #%d is now %s", id, state.Label()),
		false,
	)
}

// featureView is the render state of one feature-list session.
type featureView struct {
	filter    FeatureState
	paginator Paginator
}

func (w *WoBot) featurePage(
	ctx context.Context,
	guildID string,
	view *featureView,
) ([]Feature, error) {
	q := w.db.WithContext(ctx).Model(&Feature{}).Where("guild_id = ?", guildID)
	if view.filter != FeatureStateAll {
		q = q.Where("state = ?", view.filter)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}
	view.paginator.Total = int(total)

	start, end := view.paginator.Page()
	var features []Feature
	err := q.Order("id").Offset(start).Limit(end - start).Find(&features).Error
	return features, err
}

func renderFeatureEmbed(view *featureView, features []Feature) *discordgo.MessageEmbed {
	var b strings.Builder
	if len(features) == 0 {
		b.WriteString("Nothing here yet")
	}
	for _, f := range features {
		fmt.Fprintf(&b, "**#%d** %s (%s)\n", f.ID, f.Title, f.State.Label())
		if f.Description != "" {
			fmt.Fprintf(&b, "%s\n", truncate(f.Description, 200))
		}
	}
	start, end := view.paginator.Page()
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Suggestions: %s", view.filter.Label()),
		Description: b.String(),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf(
				"%d-%d of %d", start+1, end, view.paginator.Total,
			),
		},
	}
}

func featureComponents(c *Collector, view *featureView) []discordgo.MessageComponent {
	options := make([]discordgo.SelectMenuOption, 0, len(featureFilterStates))
	for _, s := range featureFilterStates {
		options = append(
			options,
			discordgo.SelectMenuOption{
				Label:   s.Label(),
				Value:   string(s),
				Default: s == view.filter,
			},
		)
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					CustomID: c.CustomID(controlFilter),
					Options:  options,
				},
			},
		},
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					CustomID: c.CustomID(controlPrev),
					Label:    "Prev",
					Style:    discordgo.SecondaryButton,
				},
				discordgo.Button{
					CustomID: c.CustomID(controlNext),
					Label:    "Next",
					Style:    discordgo.SecondaryButton,
				},
				discordgo.Button{
					CustomID: c.CustomID(controlCancel),
					Label:    "Close",
					Style:    discordgo.DangerButton,
				},
			},
		},
	}
}

// featureList runs an interactive browsing session over the guild's
// suggestions: a filter select menu plus prev/next paging, updating
// the original message in place until cancel or idle timeout.
func (w *WoBot) featureList(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	logger *slog.Logger,
) {
	session := w.discord.session
	correlation, err := generateRandomHexString(discordComponentCustomIDLength)
	if err != nil {
		logger.Error("error generating correlation id", tint.Err(err))
		_ = respondText(session, i, "Something went wrong", true)
		return
	}

	collector := newCollector(
		correlation,
		w.config.Collector.IdleTimeout,
		logger,
		controlNext, controlPrev, controlFilter, controlCancel,
	)
	w.collectors.Register(collector)
	defer w.collectors.Unregister(collector)

	view := &featureView{
		filter:    FeatureStateAll,
		paginator: Paginator{PageSize: w.config.Collector.PageSize},
	}
	features, err := w.featurePage(ctx, i.GuildID, view)
	if err != nil {
		logger.Error("error loading features", tint.Err(err))
		_ = respondText(session, i, "Something went wrong loading suggestions", true)
		return
	}

	if err = respondComponents(
		session, i, "",
		[]*discordgo.MessageEmbed{renderFeatureEmbed(view, features)},
		featureComponents(collector, view),
	); err != nil {
		logger.Error("error sending feature list", tint.Err(err))
		return
	}

	for {
		outcome := collector.Next(ctx)
		switch outcome.Kind {
		case CollectorTimeout:
			if err = teardownMessage(session, i.Interaction); err != nil {
				logger.Warn("error freezing feature list", tint.Err(err))
			}
			return
		case CollectorUnrelated:
			continue
		case CollectorRecognized:
		}

		interaction := outcome.Interaction
		switch outcome.Control {
		case controlCancel:
			if err = respondMessageUpdate(
				session, interaction, "",
				[]*discordgo.MessageEmbed{renderFeatureEmbed(view, features)},
				[]discordgo.MessageComponent{},
			); err != nil {
				logger.Warn("error freezing feature list", tint.Err(err))
			}
			return
		case controlNext:
			view.paginator.Next()
		case controlPrev:
			view.paginator.Prev()
		case controlFilter:
			values := interaction.MessageComponentData().Values
			if len(values) == 0 {
				continue
			}
			selected := FeatureState(values[0])
			if selected == view.filter {
				// no recompute, no page reset
				if err = respondEphemeral(
					session, interaction,
					fmt.Sprintf("Already showing %s", selected.Label()),
				); err != nil {
					logger.Warn("error acknowledging filter", tint.Err(err))
				}
				continue
			}
			view.filter = selected
			view.paginator.Offset = 0
		}

		features, err = w.featurePage(ctx, i.GuildID, view)
		if err != nil {
			logger.Error("error loading features", tint.Err(err))
			continue
		}
		if err = respondMessageUpdate(
			session, interaction, "",
			[]*discordgo.MessageEmbed{renderFeatureEmbed(view, features)},
			featureComponents(collector, view),
		); err != nil {
			logger.Warn("error updating feature list", tint.Err(err))
		}
	}
}
