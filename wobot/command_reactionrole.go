package wobot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandReactionRole = "reaction_role"

	reactionRoleOptionMessage = "message"
	reactionRoleOptionEmoji   = "emoji"
	reactionRoleOptionRole    = "role"

	// reactionPickTimeout bounds the add_easy/remove "react to the
	// target message" wait
	reactionPickTimeout = time.Minute
)

func appCommandReactionRole() *discordgo.ApplicationCommand {
	manageRoles := int64(discordgo.PermissionManageRoles)
	messageOption := func(description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        reactionRoleOptionMessage,
			Description: description,
			Required:    true,
		}
	}
	roleOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionRole,
		Name:        reactionRoleOptionRole,
		Description: "Role to grant",
		Required:    true,
	}

	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandReactionRole,
		Description:              "Manage reaction roles",
		Type:                     discordgo.ChatApplicationCommand,
		DefaultMemberPermissions: &manageRoles,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "add",
				Description: "Bind an emoji on a message to a role",
				Options: []*discordgo.ApplicationCommandOption{
					messageOption("Message link or ID"),
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        reactionRoleOptionEmoji,
						Description: "Emoji to react with",
						Required:    true,
					},
					roleOption,
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "add_easy",
				Description: "Bind a role by reacting to the message yourself",
				Options: []*discordgo.ApplicationCommandOption{
					messageOption("Message link or ID"),
					roleOption,
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "remove",
				Description: "Remove a binding by reacting with its emoji",
				Options: []*discordgo.ApplicationCommandOption{
					messageOption("Message link or ID"),
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List this server's reaction roles",
			},
		},
	}
}

func (w *WoBot) cmdReactionRole(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := w.logger.With(interactionLogAttrs(*i)...)
	sub, opts := subcommandOptions(i)

	switch sub {
	case "add":
		w.reactionRoleAdd(ctx, i, opts, logger)
	case "add_easy":
		w.reactionRoleAddEasy(ctx, i, opts, logger)
	case "remove":
		w.reactionRoleRemove(ctx, i, opts, logger)
	case "list":
		w.reactionRoleList(ctx, i, logger)
	default:
		logger.Warn("unknown subcommand", "subcommand", sub)
		_ = respondText(w.discord.session, i, "Unknown subcommand", true)
	}
}

// resolveMessageOption parses the message option into channel and
// message IDs, falling back to the interaction's channel for bare IDs.
func resolveMessageOption(
	i *discordgo.InteractionCreate,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) (channelID, messageID string, err error) {
	opt, ok := opts[reactionRoleOptionMessage]
	if !ok {
		return "", "", errors.New("missing message option")
	}
	guildID, channelID, messageID, err := parseMessageRef(opt.StringValue())
	if err != nil {
		return "", "", err
	}
	if guildID != "" && guildID != i.GuildID {
		return "", "", errors.New("that message belongs to a different server")
	}
	if channelID == "" {
		channelID = i.ChannelID
	}
	return channelID, messageID, nil
}

func (w *WoBot) reactionRoleAdd(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	logger *slog.Logger,
) {
	session := w.discord.session
	channelID, messageID, err := resolveMessageOption(i, opts)
	if err != nil {
		_ = respondText(session, i, err.Error(), true)
		return
	}
	role := opts[reactionRoleOptionRole].RoleValue(nil, "")
	emojiToken := opts[reactionRoleOptionEmoji].StringValue()

	identity, err := w.emoji.ParseToken(ctx, emojiToken)
	if err != nil {
		_ = respondText(session, i, fmt.Sprintf("Couldn't read that emoji: %s", err), true)
		return
	}
	// cross-guild custom emoji can't be reliably reacted with
	if !identity.IsSurrogate() {
		if _, err = w.emoji.ReactionInput(ctx, session, i.GuildID, identity); err != nil {
			_ = respondText(session, i, "That emoji isn't from this server", true)
			return
		}
	}

	w.createBinding(
		ctx, i, logger,
		ReactionRoleBinding{
			GuildID:       i.GuildID,
			ChannelID:     channelID,
			MessageID:     messageID,
			EmojiIdentity: int64(identity),
			RoleID:        role.ID,
		},
	)
}

// reactionRoleAddEasy binds a role using whatever emoji the operator
// reacts with on the target message, so they never have to type emoji
// markup by hand.
func (w *WoBot) reactionRoleAddEasy(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	logger *slog.Logger,
) {
	session := w.discord.session
	channelID, messageID, err := resolveMessageOption(i, opts)
	if err != nil {
		_ = respondText(session, i, err.Error(), true)
		return
	}
	role := opts[reactionRoleOptionRole].RoleValue(nil, "")
	user := getDiscordUser(i)
	if user == nil {
		_ = respondText(session, i, "Couldn't tell who's asking", true)
		return
	}

	if err = respondText(
		session, i,
		"React to the target message with the emoji you want, within a minute",
		true,
	); err != nil {
		logger.Error("error sending prompt", tint.Err(err))
		return
	}

	r, err := w.reactionPicker.Await(ctx, messageID, user.ID, reactionPickTimeout)
	if err != nil {
		logger.Info("no reaction received", tint.Err(err))
		_, _ = session.InteractionResponseEdit(
			i.Interaction,
			&discordgo.WebhookEdit{Content: stringPointer("Timed out waiting for a reaction")},
		)
		return
	}

	identity, err := w.emoji.Resolve(ctx, &r.Emoji)
	if err != nil {
		logger.Error("error resolving picked emoji", tint.Err(err))
		_, _ = session.InteractionResponseEdit(
			i.Interaction,
			&discordgo.WebhookEdit{Content: stringPointer("Couldn't resolve that emoji")},
		)
		return
	}

	binding := ReactionRoleBinding{
		GuildID:       i.GuildID,
		ChannelID:     channelID,
		MessageID:     messageID,
		EmojiIdentity: int64(identity),
		RoleID:        role.ID,
	}
	if _, err = w.reactionRoles.AddBinding(ctx, binding); err != nil {
		msg := "Something went wrong saving that binding"
		if errors.Is(err, ErrDuplicateBinding) {
			msg = "That emoji is already bound on this message"
		} else {
			logger.Error("error creating binding", tint.Err(err))
		}
		_, _ = session.InteractionResponseEdit(
			i.Interaction, &discordgo.WebhookEdit{Content: &msg},
		)
		return
	}
	w.notifyBindingsChanged(ctx)

	// seed the reaction so members have something to click
	if input, seedErr := w.emoji.ReactionInput(
		ctx, session, i.GuildID, identity,
	); seedErr == nil {
		if seedErr = session.MessageReactionAdd(channelID, messageID, input); seedErr != nil {
			logger.Warn("error seeding reaction", tint.Err(seedErr))
		}
	}

	_, _ = session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{
			Content: stringPointer(
				fmt.Sprintf("Bound %s to <@&%s>", r.Emoji.MessageFormat(), role.ID),
			),
		},
	)
}

func (w *WoBot) createBinding(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	logger *slog.Logger,
	binding ReactionRoleBinding,
) {
	session := w.discord.session
	if _, err := w.reactionRoles.AddBinding(ctx, binding); err != nil {
		if errors.Is(err, ErrDuplicateBinding) {
			_ = respondText(
				session, i,
				"That emoji is already bound on this message", true,
			)
			return
		}
		logger.Error("error creating binding", tint.Err(err))
		_ = respondText(session, i, "Something went wrong saving that binding", true)
		return
	}
	w.notifyBindingsChanged(ctx)

	if input, err := w.emoji.ReactionInput(
		ctx, session, binding.GuildID, EmojiIdentity(binding.EmojiIdentity),
	); err == nil {
		if err = session.MessageReactionAdd(
			binding.ChannelID, binding.MessageID, input,
		); err != nil {
			logger.Warn("error seeding reaction", tint.Err(err))
		}
	}

	rendered := w.emoji.Render(
		ctx, session, binding.GuildID, EmojiIdentity(binding.EmojiIdentity),
	)
	_ = respondText(
		session, i,
		fmt.Sprintf("Bound %s to <@&%s>", rendered, binding.RoleID),
		false,
	)
}

// reactionRoleRemove deletes a binding picked by reacting. Absence of
// a matching binding is not an error.
func (w *WoBot) reactionRoleRemove(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	logger *slog.Logger,
) {
	session := w.discord.session
	channelID, messageID, err := resolveMessageOption(i, opts)
	if err != nil {
		_ = respondText(session, i, err.Error(), true)
		return
	}
	user := getDiscordUser(i)
	if user == nil {
		_ = respondText(session, i, "Couldn't tell who's asking", true)
		return
	}

	if err = respondText(
		session, i,
		"React to the target message with the emoji you want to unbind, within a minute",
		true,
	); err != nil {
		logger.Error("error sending prompt", tint.Err(err))
		return
	}

	r, err := w.reactionPicker.Await(ctx, messageID, user.ID, reactionPickTimeout)
	if err != nil {
		logger.Info("no reaction received", tint.Err(err))
		_, _ = session.InteractionResponseEdit(
			i.Interaction,
			&discordgo.WebhookEdit{Content: stringPointer("Timed out waiting for a reaction")},
		)
		return
	}

	// strip the operator's picking reaction, ignoring failures if it's
	// already gone
	if removeErr := session.MessageReactionRemove(
		channelID, messageID, r.Emoji.APIName(), user.ID,
	); removeErr != nil {
		logger.Debug("error removing pick reaction", tint.Err(removeErr))
	}

	identity, err := w.emoji.Resolve(ctx, &r.Emoji)
	if err != nil {
		logger.Error("error resolving picked emoji", tint.Err(err))
		_, _ = session.InteractionResponseEdit(
			i.Interaction,
			&discordgo.WebhookEdit{Content: stringPointer("Couldn't resolve that emoji")},
		)
		return
	}

	removed, err := w.reactionRoles.RemoveBinding(ctx, messageID, identity)
	if err != nil {
		logger.Error("error removing binding", tint.Err(err))
		_, _ = session.InteractionResponseEdit(
			i.Interaction,
			&discordgo.WebhookEdit{Content: stringPointer("Something went wrong removing that binding")},
		)
		return
	}
	msg := fmt.Sprintf("%s wasn't bound on that message", r.Emoji.MessageFormat())
	if removed {
		w.notifyBindingsChanged(ctx)
		msg = fmt.Sprintf("Removed %s from that message", r.Emoji.MessageFormat())
	}
	_, _ = session.InteractionResponseEdit(
		i.Interaction, &discordgo.WebhookEdit{Content: &msg},
	)
}

func (w *WoBot) bindingsPage(
	ctx context.Context,
	guildID string,
	paginator *Paginator,
) ([]ReactionRoleBinding, error) {
	bindings, err := w.reactionRoles.store.ForGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	paginator.Total = len(bindings)
	start, end := paginator.Page()
	return bindings[start:end], nil
}

func (w *WoBot) renderBindingsEmbed(
	ctx context.Context,
	paginator *Paginator,
	bindings []ReactionRoleBinding,
) *discordgo.MessageEmbed {
	var b strings.Builder
	if len(bindings) == 0 {
		b.WriteString("No reaction roles configured here")
	}
	for _, binding := range bindings {
		rendered := w.emoji.Render(
			ctx, w.discord.session, binding.GuildID,
			EmojiIdentity(binding.EmojiIdentity),
		)
		fmt.Fprintf(
			&b,
			"https://discord.com/channels/%s/%s/%s %s -> <@&%s>\n",
			binding.GuildID, binding.ChannelID, binding.MessageID,
			rendered, binding.RoleID,
		)
	}
	start, end := paginator.Page()
	return &discordgo.MessageEmbed{
		Title:       "Reaction roles",
		Description: b.String(),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%d-%d of %d", start+1, end, paginator.Total),
		},
	}
}

func bindingsComponents(c *Collector) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
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

// reactionRoleList pages through the guild's bindings with prev/next
// buttons, updating the original message in place until close or idle
// timeout.
func (w *WoBot) reactionRoleList(
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
		controlNext, controlPrev, controlCancel,
	)
	w.collectors.Register(collector)
	defer w.collectors.Unregister(collector)

	paginator := &Paginator{PageSize: w.config.Collector.PageSize}
	bindings, err := w.bindingsPage(ctx, i.GuildID, paginator)
	if err != nil {
		logger.Error("error listing bindings", tint.Err(err))
		_ = respondText(session, i, "Something went wrong listing bindings", true)
		return
	}

	if err = respondComponents(
		session, i, "",
		[]*discordgo.MessageEmbed{w.renderBindingsEmbed(ctx, paginator, bindings)},
		bindingsComponents(collector),
	); err != nil {
		logger.Error("error sending binding list", tint.Err(err))
		return
	}

	for {
		outcome := collector.Next(ctx)
		switch outcome.Kind {
		case CollectorTimeout:
			if err = teardownMessage(session, i.Interaction); err != nil {
				logger.Warn("error freezing binding list", tint.Err(err))
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
				[]*discordgo.MessageEmbed{w.renderBindingsEmbed(ctx, paginator, bindings)},
				[]discordgo.MessageComponent{},
			); err != nil {
				logger.Warn("error freezing binding list", tint.Err(err))
			}
			return
		case controlNext:
			paginator.Next()
		case controlPrev:
			paginator.Prev()
		}

		bindings, err = w.bindingsPage(ctx, i.GuildID, paginator)
		if err != nil {
			logger.Error("error listing bindings", tint.Err(err))
			continue
		}
		if err = respondMessageUpdate(
			session, interaction, "",
			[]*discordgo.MessageEmbed{w.renderBindingsEmbed(ctx, paginator, bindings)},
			bindingsComponents(collector),
		); err != nil {
			logger.Warn("error updating binding list", tint.Err(err))
		}
	}
}

func stringPointer(s string) *string {
	return &s
}
