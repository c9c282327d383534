// Package wobot implements a Discord community bot built around
// reaction roles, interactive component sessions, and periodic
// background jobs.
//
// WoBot listens for reaction gateway events and grants or revokes
// guild roles according to per-message emoji bindings. Custom and
// unicode emojis are folded into a single identity namespace so a
// binding works the same regardless of which kind it was created with.
//
// Key components of the package include:
//
//   - WoBot: The main struct that encapsulates the bot's core functionality.
//   - Discord: Handles Discord integration and gateway events.
//   - ReactionRoles: The binding registry and reaction handlers.
//   - EmojiResolver: Maps emojis from both namespaces onto EmojiIdentity.
//   - Collector: Awaits follow-up component interactions for a command.
//   - API: Provides a backend API for bot management and monitoring.
//
// Slash commands cover reaction-role management, reminders, bets,
// birthdays, feature suggestions, emoji usage statistics, and per-guild
// configuration. A sweeper runs the periodic jobs: delivering due
// reminders, closing bets, congratulating birthdays, and demoting
// inactive members down a configured role ladder.
//
// The bot runs against SQLite or Postgres. On Postgres, multiple
// instances coordinate through LISTEN/NOTIFY for cache reloads and
// stop signals, and through guarded updates for once-only jobs.
package wobot
