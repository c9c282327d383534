package wobot

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandMan = "man"

	manCommandTimeout = 10 * time.Second
)

// manTopicPattern restricts topics to names `man` would accept anyway,
// so no shell metacharacters ever reach the subprocess arguments.
var manTopicPattern = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)

func appCommandMan() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandMan,
		Description: "Read a man page without leaving Discord",
		Type:        discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "topic",
				Description: "Page name, like grep or tar",
				Required:    true,
			},
		},
	}
}

// loadManPage runs `man` for the topic and returns its plain-text
// output split into message-sized chunks.
func loadManPage(ctx context.Context, topic string) ([]string, error) {
	if !manTopicPattern.MatchString(topic) {
		return nil, fmt.Errorf("invalid topic: %q", topic)
	}
	ctx, cancel := context.WithTimeout(ctx, manCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "man", topic)
	cmd.Env = append(cmd.Environ(), "MANPAGER=cat", "MANWIDTH=80")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("man %s: %w", topic, err)
	}
	return chunkString(string(out), manPageChunkLength), nil
}

func manComponents(c *Collector, page, total int) []discordgo.MessageComponent {
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
					Label:    fmt.Sprintf("Next (%d/%d)", page+1, total),
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

func manPageContent(chunks []string, page int) string {
	return fmt.Sprintf("```\n%s\n```", chunks[page])
}

func (w *WoBot) cmdMan(ctx context.Context, i *discordgo.InteractionCreate) {
	logger := w.logger.With(interactionLogAttrs(*i)...)
	session := w.discord.session
	opts := discordInteractionOptions(i)
	topic := opts["topic"].StringValue()

	chunks, err := loadManPage(ctx, topic)
	if err != nil || len(chunks) == 0 {
		logger.Info("no man page", "topic", topic, tint.Err(err))
		_ = respondText(
			session, i, fmt.Sprintf("No manual entry for %s", topic), true,
		)
		return
	}

	correlation, err := generateRandomHexString(discordComponentCustomIDLength)
	if err != nil {
		logger.Error("error generating correlation id", tint.Err(err))
		_ = respondText(session, i, "Something went wrong", true)
		return
	}
	collector := newCollector(
		correlation, w.config.Collector.IdleTimeout, logger,
		controlNext, controlPrev, controlCancel,
	)
	w.collectors.Register(collector)
	defer w.collectors.Unregister(collector)

	page := 0

	if err = respondComponents(
		session, i,
		manPageContent(chunks, page),
		nil,
		manComponents(collector, page, len(chunks)),
	); err != nil {
		logger.Error("error sending man page", tint.Err(err))
		return
	}

	for {
		outcome := collector.Next(ctx)
		switch outcome.Kind {
		case CollectorTimeout:
			if err = teardownMessage(session, i.Interaction); err != nil {
				logger.Warn("error freezing man page", tint.Err(err))
			}
			return
		case CollectorUnrelated:
			continue
		case CollectorRecognized:
		}

		switch outcome.Control {
		case controlCancel:
			if err = respondMessageUpdate(
				session, outcome.Interaction,
				manPageContent(chunks, page),
				nil,
				[]discordgo.MessageComponent{},
			); err != nil {
				logger.Warn("error freezing man page", tint.Err(err))
			}
			return
		case controlNext:
			page = (page + 1) % len(chunks)
		case controlPrev:
			page = (page - 1 + len(chunks)) % len(chunks)
		}

		if err = respondMessageUpdate(
			session, outcome.Interaction,
			manPageContent(chunks, page),
			nil,
			manComponents(collector, page, len(chunks)),
		); err != nil {
			logger.Warn("error updating man page", tint.Err(err))
		}
	}
}
