package wobot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/require"
)

func DefaultTestConfig(t testing.TB) *Config {
	t.Helper()
	tmpdir := t.TempDir()
	cfg := DefaultConfig()

	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", t.Name()))
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second
	cfg.Discord.Token = "test-discord-token"
	cfg.Discord.ApplicationID = "test-application-id"
	cfg.API.CORS.AllowOrigins = []string{"*"}
	cfg.API.Development = true
	cfg.API.Secret = "aksdfjakjsfdajfefIJHShi sfEISHSIDF HSIHDF"

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.Discord.LogLevel.Set(logLevel)
	cfg.Discord.DiscordGoLogLevel.Set(logLevel)
	cfg.DatabaseLogLevel.Set(logLevel)
	cfg.API.LogLevel.Set(logLevel)

	return cfg
}

// newTestBot returns a WoBot with a migrated temp-file sqlite database
// and a mock discord session, without starting Run.
func newTestBot(t testing.TB) (*WoBot, *mockDiscordSession) {
	t.Helper()
	gin.DefaultWriter = io.Discard

	cfg := DefaultTestConfig(t)

	w, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	db, err := CreateDB(ctx, cfg.DatabaseType, cfg.Database)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)

	w.db = db
	w.writeDB = NewDatabase(db, w.logger, false)
	w.emoji = NewEmojiResolver(db, w.logger)
	w.reactionRoles = NewReactionRoles(w.writeDB, w.emoji, w.bindings, w.logger)

	mock := newMockDiscordSession(t)
	w.discord.session = mock
	return w, mock
}

type mockRoleChange struct {
	GuildID string
	UserID  string
	RoleID  string
}

type mockChannelMessage struct {
	ChannelID string
	Content   string
}

// mockDiscordSession is a mock implementation of the
// DiscordSessionHandler interface. Calls with interesting side effects
// are sent into channels so tests can validate them; the rest just log.
type mockDiscordSession struct {
	logger   *slog.Logger
	logLevel *slog.LevelVar

	roleAdds             chan mockRoleChange
	roleRemoves          chan mockRoleChange
	messageSends         chan mockChannelMessage
	interactionResponses chan *discordgo.InteractionResponse
	reactionAdds         chan string
	reactionRemoves      chan string

	mu          sync.Mutex
	guildEmojis []*discordgo.Emoji
	memberRoles map[string][]string
	// channel IDs for which ChannelMessageSend returns an error
	failSendChannels map[string]error
}

func newMockDiscordSession(t testing.TB) *mockDiscordSession {
	t.Helper()
	m := &mockDiscordSession{
		logLevel:             &slog.LevelVar{},
		roleAdds:             make(chan mockRoleChange, 100),
		roleRemoves:          make(chan mockRoleChange, 100),
		messageSends:         make(chan mockChannelMessage, 100),
		interactionResponses: make(chan *discordgo.InteractionResponse, 100),
		reactionAdds:         make(chan string, 100),
		reactionRemoves:      make(chan string, 100),
		failSendChannels:     map[string]error{},
	}
	m.logLevel.Set(slog.LevelWarn)
	m.logger = slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     m.logLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord_session_handler", "test_name", t.Name())
	return m
}

func (d *mockDiscordSession) failSendsTo(channelID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failSendChannels[channelID] = err
}

func (d *mockDiscordSession) setGuildEmojis(emojis []*discordgo.Emoji) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.guildEmojis = emojis
}

func (d *mockDiscordSession) setMemberRoles(userID string, roles []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.memberRoles == nil {
		d.memberRoles = map[string][]string{}
	}
	d.memberRoles[userID] = roles
}

func (d *mockDiscordSession) Open() error {
	d.logger.Info("opened session")
	return nil
}

func (d *mockDiscordSession) Close() error {
	d.logger.Info("closed session")
	return nil
}

func (d *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	sendErr := d.failSendChannels[channelID]
	d.mu.Unlock()
	if sendErr != nil {
		return nil, sendErr
	}
	d.messageSends <- mockChannelMessage{ChannelID: channelID, Content: message}
	return &discordgo.Message{Content: message, ChannelID: channelID}, nil
}

func (d *mockDiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.messageSends <- mockChannelMessage{ChannelID: channelID, Content: content}
	return &discordgo.Message{
		Content:   content,
		ChannelID: channelID,
		GuildID:   reference.GuildID,
	}, nil
}

func (d *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.messageSends <- mockChannelMessage{ChannelID: channelID, Content: data.Content}
	return &discordgo.Message{Content: data.Content, ChannelID: channelID}, nil
}

func (d *mockDiscordSession) ChannelMessageEditComplex(
	m *discordgo.MessageEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info("edit message", "channel_id", m.Channel, "message_id", m.ID)
	return &discordgo.Message{ID: m.ID, ChannelID: m.Channel}, nil
}

func (d *mockDiscordSession) ChannelMessage(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (d *mockDiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	_ ...discordgo.RequestOption,
) error {
	d.reactionAdds <- fmt.Sprintf("%s/%s/%s", channelID, messageID, emojiID)
	return nil
}

func (d *mockDiscordSession) MessageReactionRemove(
	channelID string,
	messageID string,
	emojiID string,
	userID string,
	_ ...discordgo.RequestOption,
) error {
	d.reactionRemoves <- fmt.Sprintf("%s/%s/%s/%s", channelID, messageID, emojiID, userID)
	return nil
}

func (d *mockDiscordSession) GuildMember(
	guildID string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	d.mu.Lock()
	roles := d.memberRoles[userID]
	d.mu.Unlock()
	return &discordgo.Member{
		GuildID: guildID,
		User:    &discordgo.User{ID: userID},
		Roles:   roles,
	}, nil
}

func (d *mockDiscordSession) GuildMemberRoleAdd(
	guildID string,
	userID string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	d.roleAdds <- mockRoleChange{GuildID: guildID, UserID: userID, RoleID: roleID}
	return nil
}

func (d *mockDiscordSession) GuildMemberRoleRemove(
	guildID string,
	userID string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	d.roleRemoves <- mockRoleChange{GuildID: guildID, UserID: userID, RoleID: roleID}
	return nil
}

func (d *mockDiscordSession) GuildRoles(
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	d.logger.Info("guild roles", "guild_id", guildID)
	return nil, nil
}

func (d *mockDiscordSession) GuildEmojis(
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Emoji, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.guildEmojis, nil
}

func (d *mockDiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	d.logger.Info(
		"overwrite application commands",
		"app_id", appID,
		"guild_id", guildID,
	)
	cmds := make([]*discordgo.ApplicationCommand, len(commands))
	for i, c := range commands {
		cmds[i] = &discordgo.ApplicationCommand{
			Name:        c.Name,
			Description: c.Description,
		}
	}
	return cmds, nil
}

func (d *mockDiscordSession) UpdateCustomStatus(status string) error {
	d.logger.Info("updating custom status", "status", status)
	return nil
}

func (d *mockDiscordSession) AddHandler(_ any) func() {
	d.logger.Info("added handler")
	return func() {
		d.logger.Info("mock-removed handler function")
	}
}

func (d *mockDiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	d.interactionResponses <- resp
	return nil
}

func (d *mockDiscordSession) InteractionResponse(
	interaction *discordgo.Interaction,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info("mock getting interaction")
	return &discordgo.Message{}, nil
}

func (d *mockDiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info("mock editing interaction")
	return &discordgo.Message{}, nil
}

func (d *mockDiscordSession) InteractionResponseDelete(
	interaction *discordgo.Interaction,
	_ ...discordgo.RequestOption,
) error {
	d.logger.Info("mock deleting interaction")
	return nil
}

func (d *mockDiscordSession) SetHTTPClient(_ *http.Client) {
	d.logger.Info("mock setting http client")
}

func (d *mockDiscordSession) SetIdentify(_ discordgo.Identify) {
	d.logger.Info("mock setting identify")
}

func (d *mockDiscordSession) SetLogLevel(lvl slog.Level) error {
	d.logLevel.Set(lvl)
	return nil
}

func (d *mockDiscordSession) GatewayBot(opts ...discordgo.RequestOption) (
	*discordgo.GatewayBotResponse,
	error,
) {
	d.logger.Info("gateway bot called")
	return &discordgo.GatewayBotResponse{}, nil
}
