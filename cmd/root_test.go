package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Friendly-Banana/wobot/wobot"
	"github.com/bwmarrin/discordgo"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test, along with the global
	// viper state other tests may have populated via initConfig
	os.Clearenv()
	viper.Reset()
	t.Cleanup(viper.Reset)

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

WOBOT_DATABASE=/home/foo/wobot.sqlite3
WOBOT_DATABASE_TYPE=sqlite
WOBOT_DATABASE_LOG_LEVEL=INFO
WOBOT_DATABASE_SLOW_THRESHOLD=200ms
WOBOT_LOG_LEVEL=INFO
WOBOT_STARTUP_TIMEOUT=30s
WOBOT_SHUTDOWN_TIMEOUT=60s

# Discord bot config

WOBOT_DISCORD_TOKEN=your-discord-bot-token
WOBOT_DISCORD_APPLICATION_ID=your-discord-bot-app-id
WOBOT_DISCORD_GUILD_ID=
WOBOT_DISCORD_NOTIFICATION_CHANNEL_ID=123456
WOBOT_DISCORD_LOG_LEVEL=WARN
WOBOT_DISCORD_DISCORDGO_LOG_LEVEL=WARN
WOBOT_DISCORD_STARTUP_MESSAGE="I'm here!"
WOBOT_DISCORD_GATEWAY_INTENTS=3243773

# Sweep jobs

WOBOT_SWEEPS_REMINDER_INTERVAL=1m
WOBOT_SWEEPS_BET_INTERVAL=2m
WOBOT_SWEEPS_ACTIVITY_INTERVAL=24h
WOBOT_SWEEPS_INACTIVITY_THRESHOLD=720h
WOBOT_SWEEPS_RATE_PER_SECOND=2

# Collectors

WOBOT_COLLECTOR_IDLE_TIMEOUT=3m
WOBOT_COLLECTOR_PAGE_SIZE=5

# API server

WOBOT_API_LISTEN=127.0.0.1:5000
WOBOT_API_SSL_CERT=/etc/ssl/cert.pem
WOBOT_API_SSL_KEY=/etc/ssl/key.pem
WOBOT_API_SSL_TLS_MIN_VERSION=771
WOBOT_API_SECRET=your-api-secret
WOBOT_API_LOG_LEVEL=DEBUG
WOBOT_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
WOBOT_API_CORS_ALLOW_METHODS=GET POST PUT PATCH DELETE OPTIONS HEAD
WOBOT_API_CORS_ALLOW_HEADERS=Origin Content-Length Content-Type Accept Authorization X-Requested-With Cache-Control X-CSRF-Token X-Request-ID
WOBOT_API_CORS_EXPOSE_HEADERS=Content-Type Content-Length Accept-Encoding X-Request-ID Location ETag Authorization Last-Modified
WOBOT_API_CORS_ALLOW_CREDENTIALS=true
WOBOT_API_CORS_MAX_AGE=12h
WOBOT_API_READ_TIMEOUT=5s
WOBOT_API_READ_HEADER_TIMEOUT=5s
WOBOT_API_WRITE_TIMEOUT=10s
WOBOT_API_IDLE_TIMEOUT=30s
WOBOT_API_SESSION_MAX_AGE=6h
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/wobot.sqlite3", cfg.Database)
	assert.Equal(t, "/home/foo/wobot.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))

	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))

	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(t, "your-discord-bot-app-id", viper.GetString("discord.application_id"))
	assert.Equal(t, "", viper.GetString("discord.guild_id"))
	assert.Equal(t, "123456", viper.GetString("discord.notification_channel_id"))

	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.discordgo_log_level"))
	assert.Equal(t, "I'm here!", viper.GetString("discord.startup_message"))
	assert.Equal(t, 3243773, viper.GetInt("discord.gateway_intents"))

	assert.Equal(t, time.Minute, viper.GetDuration("sweeps.reminder_interval"))
	assert.Equal(t, 2*time.Minute, viper.GetDuration("sweeps.bet_interval"))
	assert.Equal(t, 24*time.Hour, viper.GetDuration("sweeps.activity_interval"))
	assert.Equal(t, 720*time.Hour, viper.GetDuration("sweeps.inactivity_threshold"))
	assert.Equal(t, 2, viper.GetInt("sweeps.rate_per_second"))

	assert.Equal(t, 3*time.Minute, viper.GetDuration("collector.idle_timeout"))
	assert.Equal(t, 5, viper.GetInt("collector.page_size"))

	assert.Equal(t, "127.0.0.1:5000", viper.GetString("api.listen"))
	assert.Equal(t, "/etc/ssl/cert.pem", viper.GetString("api.ssl.cert"))
	assert.Equal(t, "/etc/ssl/key.pem", viper.GetString("api.ssl.key"))
	assert.Equal(t, 771, viper.GetInt("api.ssl.tls_min_version"))
	assert.Equal(t, "your-api-secret", viper.GetString("api.secret"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		cfg.API.CORS.AllowMethods,
	)
	assert.True(t, viper.GetBool("api.cors.allow_credentials"))
	assert.Equal(t, 12*time.Hour, viper.GetDuration("api.cors.max_age"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_timeout"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_header_timeout"))
	assert.Equal(t, 10*time.Second, viper.GetDuration("api.write_timeout"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("api.idle_timeout"))
	assert.Equal(t, 6*time.Hour, viper.GetDuration("api.session_max_age"))

	// Unmarshal the configuration into a wobot.Config struct
	var config wobot.Config
	err = viper.Unmarshal(
		&config, viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
	assert.NoError(t, err)

	// Verify some key fields in the Config struct
	assert.Equal(t, "/home/foo/wobot.sqlite3", config.Database)
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, slog.LevelInfo, config.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, config.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.Equal(t, 30*time.Second, config.StartupTimeout)
	assert.Equal(t, 60*time.Second, config.ShutdownTimeout)

	assert.Equal(t, "your-discord-bot-token", config.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", config.Discord.ApplicationID)
	assert.Equal(t, "", config.Discord.GuildID)
	assert.Equal(t, "123456", config.Discord.NotificationChannelID)
	assert.Equal(t, slog.LevelWarn, config.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, config.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, "I'm here!", config.Discord.StartupMessage)
	assert.Equal(t, discordgo.Intent(3243773), config.Discord.GatewayIntents)

	assert.Equal(t, time.Minute, config.Sweeps.ReminderInterval)
	assert.Equal(t, 2*time.Minute, config.Sweeps.BetInterval)
	assert.Equal(t, 24*time.Hour, config.Sweeps.ActivityInterval)
	assert.Equal(t, 720*time.Hour, config.Sweeps.InactivityThreshold)
	assert.Equal(t, 2, config.Sweeps.RatePerSecond)

	assert.Equal(t, 3*time.Minute, config.Collector.IdleTimeout)
	assert.Equal(t, 5, config.Collector.PageSize)

	assert.Equal(t, "127.0.0.1:5000", config.API.Listen)
	assert.Equal(t, "/etc/ssl/cert.pem", config.API.SSL.Cert)
	assert.Equal(t, "/etc/ssl/key.pem", config.API.SSL.Key)
	assert.Equal(t, uint16(771), config.API.SSL.TLSMinVersion)
	assert.Equal(t, "your-api-secret", config.API.Secret)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		config.API.CORS.AllowOrigins,
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		config.API.CORS.AllowMethods,
	)
}
