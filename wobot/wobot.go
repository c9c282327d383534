package wobot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/sho0pi/naturaltime"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/Friendly-Banana/wobot/wobot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// WoBot is the main application struct. It owns the Discord session,
// the database handles, the reaction-role registry, collector routing
// and the sweep jobs.
type WoBot struct {
	dbNotifier DBNotifier
	config     *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations.
	// The only difference between this and [WoBot.db] is that, when
	// using sqlite, a mutex is used.
	writeDB DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Provides the admin back-end API
	api *API

	// Maps emojis from both namespaces onto EmojiIdentity
	emoji *EmojiResolver

	// Reaction-role registry and handlers
	reactionRoles *ReactionRoles

	// Membership set consulted before any reaction DB work
	bindings *bindingCache

	// Routes component interactions to live collector sessions
	collectors *collectorRouter

	// Parks command handlers waiting on a "pick by reacting" flow
	reactionPicker *reactionPicker

	// Natural-language time parsing for reminders and bets
	timeParser *naturaltime.Parser

	// signalStop enables an explicit stop signal to be sent to the
	// bot, such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished
	// initializing: database migrated, caches loaded, API started,
	// discord session open and commands registered
	signalReady chan struct{}

	// A signal is sent on this channel when [WoBot.shutdown] finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// If true, the bot acknowledges but does not act on new commands
	paused atomic.Bool

	// Indicates whether admin credentials have been set
	pendingSetup atomic.Bool

	// The time Run was called
	startedAt time.Time

	// Signals that the binding membership cache should be reloaded
	// from the database (local writes, or cross-instance NOTIFY)
	triggerBindingReloadCh chan bool

	reactionsHandled atomic.Int64
	rolesGranted     atomic.Int64
	rolesRevoked     atomic.Int64
}

func New(config *Config) (*WoBot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	w := &WoBot{
		config:                 config,
		signalReady:            make(chan struct{}, 1),
		eventShutdown:          make(chan struct{}, 1),
		triggerBindingReloadCh: make(chan bool, 1),
		bindings:               newBindingCache(),
		collectors:             newCollectorRouter(),
		reactionPicker:         newReactionPicker(),
	}

	w.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     w.config.LogLevel,
			AddSource: true,
		},
	)

	w.logger = slog.New(w.logHandler)
	slog.SetDefault(w.logger)

	parser, err := naturaltime.New()
	if err != nil {
		errs = append(errs, fmt.Errorf("error creating time parser: %w", err))
	}
	w.timeParser = parser

	w.config.Discord.httpClient = w.config.HTTPClient

	disc, err := newDiscord(w.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     w.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     w.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.w = w
		w.discord = disc
	}

	api, err := newAPI(w, config.API)
	errs = append(errs, err)
	w.api = api

	return w, errors.Join(errs...)
}

func (w *WoBot) ValidateConfig() error {
	return structValidator.Struct(w.config)
}

// RegisterSlashCommands sends the bot's application commands to the
// Discord bulk overwrite endpoint.
func (w *WoBot) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return w.discord.registerCommands(options...)
}

func newDBNotifier(w *WoBot) (DBNotifier, error) {
	notifyID, err := generateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	log := w.logger.With(loggerNameKey, "db_notifier")
	var notifier DBNotifier
	switch w.config.DatabaseType {
	case dbTypeSQLite:
		notifier = &sqliteNotifier{
			logger:         log,
			w:              w,
			sqliteNotifyID: notifyID,
		}
	case dbTypePostgres:
		notifier = &postgresNotifier{
			w:          w,
			logger:     log,
			pgNotifyID: notifyID,
		}
	default:
		return nil, errors.New("invalid database type")
	}
	return notifier, nil
}

// notifyBindingsChanged tells this instance, and any peers sharing the
// database, to reload the binding membership cache.
func (w *WoBot) notifyBindingsChanged(ctx context.Context) {
	if w.dbNotifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, dbNotifierSendTimeout)
	defer cancel()
	w.dbNotifier.ReloadBindings(notifyCtx)
}

// Run starts the bot and blocks until the context is canceled or a
// stop signal arrives, then shuts down gracefully.
func (w *WoBot) Run(ctx context.Context) error {
	// prevents concurrent runs
	w.runMu.Lock()
	defer w.runMu.Unlock()

	w.signalStop = make(chan struct{}, 1)
	w.startedAt = time.Now()
	logger := w.logger

	if err := w.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	notifier, err := newDBNotifier(w)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	w.dbNotifier = notifier

	ctx = WithLogger(ctx, logger)
	runtimeWG := &sync.WaitGroup{}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", w.config))
	if w.signalReady == nil {
		w.signalReady = make(chan struct{}, 1)
	}

	// the 'runtime' context - canceling it triggers a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-w.signalStop:
			w.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			w.logger.Warn("context canceled, sending stop signal")
			w.signalStop <- struct{}{}
			return
		}
	}()

	go func() {
		httpErr := w.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			w.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, w.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- w.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err = <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			if w.api != nil && w.api.listener != nil {
				go func() {
					if e := w.api.listener.Close(); e != nil {
						logger.ErrorContext(ctx, "error closing listener", tint.Err(e))
					}
				}()
			}
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if discErr := w.initDiscordSession(ctx, runtimeWG); discErr != nil {
		w.logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}

	if openErr := w.discord.session.Open(); openErr != nil {
		return fmt.Errorf("error opening discord connection: %w", openErr)
	}

	if _, cmdErr := w.RegisterSlashCommands(); cmdErr != nil {
		return fmt.Errorf("error registering commands: %w", cmdErr)
	}

	if w.config.Discord.CustomStatus != "" {
		if statusErr := w.discord.updateCustomStatus(
			w.config.Discord.CustomStatus,
		); statusErr != nil {
			logger.Warn("error setting custom status", tint.Err(statusErr))
		}
	}

	w.startBindingCacheRefresher(ctx, runtimeWG)

	sweeps := newSweeper(w)
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		_ = sweeps.Run(ctx)
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if e := w.dbNotifier.Listen(
			ctx, w.dbNotifier.ReloadBindingsChannelName(),
		); e != nil {
			w.logger.ErrorContext(ctx, "error listening to bindings channel", tint.Err(e))
		}
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if e := w.dbNotifier.Listen(
			ctx, w.dbNotifier.StopChannelName(),
		); e != nil {
			w.logger.ErrorContext(ctx, "error listening to stop channel", tint.Err(e))
		}
	}()

	w.signalReady <- struct{}{}
	w.logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context -
	// generally an interrupt, or the `/api/quit` endpoint
	stopCh := make(chan struct{}, 1)
	go func() {
		<-ctx.Done()
		stopCh <- struct{}{}
	}()
	<-stopCh

	return w.shutdown(ctx, runtimeWG)
}

// initRun migrates the database, loads persisted bot state and warms
// the binding cache.
func (w *WoBot) initRun(startCtx context.Context) error {
	w.logger.Debug("initializing DB...")
	if err := w.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	w.logger.Debug("finished initializing DB")

	// load or create persisted bot settings - this keeps the bot
	// paused across a crash/restart
	var settings BotSettings
	getStateErr := w.db.Last(&settings).Error
	if getStateErr != nil {
		if errors.Is(getStateErr, gorm.ErrRecordNotFound) {
			w.pendingSetup.Store(true)
			if _, err := w.writeDB.Create(startCtx, &settings); err != nil {
				return fmt.Errorf("error creating bot settings: %w", err)
			}
		} else {
			return fmt.Errorf("error getting bot settings: %w", getStateErr)
		}
	}
	if settings.AdminUsername == "" || settings.AdminPassword == "" {
		w.pendingSetup.Store(true)
	}
	w.paused.Store(settings.Paused)

	w.emoji = NewEmojiResolver(w.db, w.logger)
	w.reactionRoles = NewReactionRoles(w.writeDB, w.emoji, w.bindings, w.logger)

	if err := w.reactionRoles.LoadCache(startCtx); err != nil {
		return err
	}
	return nil
}

func (w *WoBot) initDB(ctx context.Context) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = w.logger
	}

	handler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     w.config.DatabaseLogLevel,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, w.config.DatabaseSlowThreshold)
	db, err := getDB(w.config.DatabaseType, w.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	w.db = db
	w.writeDB = NewDatabase(db, w.logger, w.config.DatabaseType == dbTypePostgres)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("error getting database connection: %w", err)
	}

	if w.config.DatabaseType == dbTypeSQLite {
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(
				pragmaErrors,
				db.WithContext(ctx).Exec(p).Error,
			)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return pragmaErr
		}
	}

	logger.Debug("migrating database...")
	txn := db.WithContext(ctx).Begin()

	mg := txn.Migrator()
	err = mg.AutoMigrate(
		&BotSettings{},
		&GuildConfig{},
		&UnicodeEmojiSurrogate{},
		&EmojiUsage{},
		&ReactionRoleBinding{},
		&Feature{},
		&Bet{},
		&BetParticipant{},
		&Reminder{},
		&Birthday{},
		&BoopCount{},
		&Activity{},
		&InteractionLog{},
	)
	if err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return fmt.Errorf("error migrating database: %w", err)
	}
	logger.Debug("finished migrating database")

	if commitErr := txn.Commit().Error; commitErr != nil {
		return fmt.Errorf("error committing transaction: %w", commitErr)
	}
	return nil
}

func (w *WoBot) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := w.logger.With(loggerNameKey, "discord_session")

	if w.discord.session == nil {
		disc, discErr := w.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		w.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range w.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	identify := discordgo.Identify{Intents: w.config.Discord.GatewayIntents}
	if w.paused.Load() {
		identify.Presence = discordgo.GatewayStatusUpdate{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	w.discord.session.SetIdentify(identify)

	w.discord.discordgoRemoveHandlerFuncs = []func(){
		w.discord.session.AddHandler(w.discord.handlerConnect()),
		w.discord.session.AddHandler(w.discord.handlerDisconnect()),
		w.discord.session.AddHandler(w.discord.handlerReady()),
		w.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					w.handleInteraction(ctx, i)
				}()
			},
		),
		w.discord.session.AddHandler(
			func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					w.handleReactionAdd(ctx, s, r)
				}()
			},
		),
		w.discord.session.AddHandler(
			func(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					w.handleReactionRemove(ctx, s, r)
				}()
			},
		),
		w.discord.session.AddHandler(
			func(s *discordgo.Session, m *discordgo.MessageCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					w.handleMessageCreate(ctx, s, m)
				}()
			},
		),
	}
	return nil
}

// startBindingCacheRefresher reloads the binding membership cache
// whenever a reload is signaled.
func (w *WoBot) startBindingCacheRefresher(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.triggerBindingReloadCh:
				if err := w.reactionRoles.LoadCache(ctx); err != nil {
					w.logger.ErrorContext(
						ctx, "error reloading binding cache", tint.Err(err),
					)
				}
			}
		}
	}()
}

// botUserID returns the bot's own user ID from session state, or ""
// when state isn't available (mock sessions in tests).
func botUserID(s *discordgo.Session) string {
	if s == nil || s.State == nil || s.State.User == nil {
		return ""
	}
	return s.State.User.ID
}

func (w *WoBot) handleReactionAdd(
	ctx context.Context,
	s *discordgo.Session,
	r *discordgo.MessageReactionAdd,
) {
	defer w.handleRecover(ctx, recover())
	w.reactionsHandled.Add(1)

	botID := botUserID(s)
	if r.UserID == botID || reactorIsBot(r.Member) {
		return
	}

	// "pick by reacting" flows get first claim on the event
	if w.reactionPicker.Dispatch(r) {
		return
	}

	w.reactionRoles.HandleReactionAdd(ctx, w.discord.session, r, botID)

	if identity, err := w.emoji.Resolve(ctx, &r.Emoji); err == nil && r.GuildID != "" {
		if usageErr := recordEmojiUsage(
			ctx, w.writeDB, r.GuildID, []EmojiIdentity{identity},
		); usageErr != nil {
			w.logger.WarnContext(ctx, "error recording emoji usage", tint.Err(usageErr))
		}
	}
	if err := touchActivity(ctx, w.writeDB, r.GuildID, r.UserID, time.Now()); err != nil {
		w.logger.WarnContext(ctx, "error recording activity", tint.Err(err))
	}
}

func (w *WoBot) handleReactionRemove(
	ctx context.Context,
	s *discordgo.Session,
	r *discordgo.MessageReactionRemove,
) {
	defer w.handleRecover(ctx, recover())
	w.reactionsHandled.Add(1)
	w.reactionRoles.HandleReactionRemove(ctx, w.discord.session, r, botUserID(s))
}

func (w *WoBot) handleMessageCreate(
	ctx context.Context,
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	defer w.handleRecover(ctx, recover())

	if m.Author == nil || m.Author.Bot || m.Author.ID == botUserID(s) {
		return
	}

	if identities := w.emoji.messageEmojiIdentities(m.Content); len(identities) > 0 {
		if err := recordEmojiUsage(ctx, w.writeDB, m.GuildID, identities); err != nil {
			w.logger.WarnContext(ctx, "error recording emoji usage", tint.Err(err))
		}
	}
	if err := touchActivity(ctx, w.writeDB, m.GuildID, m.Author.ID, time.Now()); err != nil {
		w.logger.WarnContext(ctx, "error recording activity", tint.Err(err))
	}
}

// handleInteraction dispatches an incoming interaction: slash commands
// go to their handlers, component and modal interactions go to the
// collector router.
func (w *WoBot) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	defer w.handleRecover(ctx, recover())

	user := getDiscordUser(i)
	go func() {
		interactionLog, logErr := newInteractionLog(i, user)
		if logErr != nil {
			w.logger.ErrorContext(ctx, "error creating interaction log", tint.Err(logErr))
			return
		}
		if _, logErr = w.writeDB.Create(context.Background(), interactionLog); logErr != nil {
			w.logger.ErrorContext(ctx, "error saving interaction log", tint.Err(logErr))
		}
	}()

	if user != nil {
		if err := touchActivity(ctx, w.writeDB, i.GuildID, user.ID, time.Now()); err != nil {
			w.logger.WarnContext(ctx, "error recording activity", tint.Err(err))
		}
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		if w.paused.Load() {
			_ = respondText(w.discord.session, i, "Taking a nap, try again later", true)
			return
		}
		w.handleCommand(ctx, i)
	case discordgo.InteractionMessageComponent, discordgo.InteractionModalSubmit:
		if !w.collectors.Dispatch(i) {
			w.logger.InfoContext(
				ctx,
				"component interaction with no live session",
				"custom_id", interactionCustomID(i),
			)
			_ = respondEphemeral(
				w.discord.session, i, "This message is no longer active",
			)
		}
	default:
		w.logger.WarnContext(
			ctx, "unhandled interaction type", "type", i.Type.String(),
		)
	}
}

func (w *WoBot) handleCommand(ctx context.Context, i *discordgo.InteractionCreate) {
	name := i.ApplicationCommandData().Name
	switch name {
	case DiscordSlashCommandReactionRole:
		w.cmdReactionRole(ctx, i)
	case DiscordSlashCommandFeature:
		w.cmdFeature(ctx, i)
	case DiscordSlashCommandBet:
		w.cmdBet(ctx, i)
	case DiscordSlashCommandRemind:
		w.cmdRemind(ctx, i)
	case DiscordSlashCommandBirthday:
		w.cmdBirthday(ctx, i)
	case DiscordSlashCommandBoop:
		w.cmdBoop(ctx, i)
	case DiscordSlashCommandMan:
		w.cmdMan(ctx, i)
	case DiscordSlashCommandEmojiUsage:
		w.cmdEmojiUsage(ctx, i)
	case DiscordSlashCommandServerConfig:
		w.cmdServerConfig(ctx, i)
	default:
		w.logger.WarnContext(ctx, "unknown command", "command", name)
		_ = respondText(w.discord.session, i, "I don't know that one", true)
	}
}

func (*WoBot) handleRecover(ctx context.Context, rc any) {
	if rc == nil {
		return
	}
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic", rc,
		"stack", string(debug.Stack()),
	)
}

// Pause stops the bot from acting on new commands. Reaction-role
// grants keep working while paused. Returns false if already paused.
func (w *WoBot) Pause(ctx context.Context) bool {
	prev := w.paused.Swap(true)
	if prev {
		return false
	}
	if _, err := w.writeDB.UpdatesWhere(
		ctx, &BotSettings{}, map[string]any{"paused": true}, "1 = 1",
	); err != nil {
		w.logger.ErrorContext(ctx, "error persisting paused state", tint.Err(err))
	}
	w.logger.InfoContext(ctx, "paused")
	return true
}

// Resume reverses Pause. Returns false if not paused.
func (w *WoBot) Resume(ctx context.Context) bool {
	prev := w.paused.Swap(false)
	if !prev {
		return false
	}
	if _, err := w.writeDB.UpdatesWhere(
		ctx, &BotSettings{}, map[string]any{"paused": false}, "1 = 1",
	); err != nil {
		w.logger.ErrorContext(ctx, "error persisting paused state", tint.Err(err))
	}
	w.logger.InfoContext(ctx, "resumed")
	return true
}

func (w *WoBot) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	w.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if w.eventShutdown != nil {
			go func() {
				w.eventShutdown <- struct{}{}
			}()
		}
	}()

	shutdownStart := time.Now()
	shutdownTimeout := w.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		w.logger.Warn("immediate shutdown")
		go func() {
			_ = w.api.httpServer.Close()
		}()
		if w.discord != nil && w.discord.session != nil {
			_ = w.discord.session.Close()
		}
		return nil
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	w.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", shutdownTimeout,
		"shutdown_started", shutdownStart,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait() // wait for anything spawned by the main processes
		w.logger.InfoContext(
			ctx,
			"finished handling in-flight events",
			"shutdown_started", shutdownStart,
			"runtime_stop_duration", time.Since(shutdownStart),
		)

		if w.discord != nil && w.discord.session != nil {
			if closeErr := w.discord.session.Close(); closeErr != nil {
				w.logger.Error("error closing discord session", tint.Err(closeErr))
			}
		}
		if w.api != nil && w.api.httpServer != nil {
			if apiErr := w.api.httpServer.Shutdown(closeCtx); apiErr != nil {
				w.logger.Error("error shutting down api server", tint.Err(apiErr))
			}
		}
		gracefulShutdownCh <- struct{}{}
	}()

	select {
	case <-gracefulShutdownCh:
		w.logger.Info("graceful shutdown complete")
		return nil
	case <-closeCtx.Done():
		w.logger.Warn("shutdown deadline passed, closing hard")
		if w.api != nil && w.api.httpServer != nil {
			_ = w.api.httpServer.Close()
		}
		if w.discord != nil && w.discord.session != nil {
			_ = w.discord.session.Close()
		}
		return fmt.Errorf("shutdown timed out after %s", shutdownTimeout)
	}
}
