package wobot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// surrogateTagBit marks an emoji identity as a surrogate row ID rather
// than a Discord snowflake. Discord snowflakes are 64-bit unsigned
// values whose high bits encode a millisecond timestamp since the 2015
// Discord epoch, so bit 62 stays clear on real snowflakes for
// millennia. Checking the bit is therefore enough to tell the two
// namespaces apart without guessing from magnitude.
const surrogateTagBit = int64(1) << 62

// EmojiIdentity is a single 64-bit identity for both custom emojis
// (the snowflake ID, tag bit clear) and unicode emojis (a surrogate
// table row ID with the tag bit set).
type EmojiIdentity int64

// IsSurrogate reports whether the identity refers to a unicode emoji
// surrogate row rather than a custom emoji snowflake.
func (e EmojiIdentity) IsSurrogate() bool {
	return int64(e)&surrogateTagBit != 0
}

// SurrogateRowID returns the surrogate table row ID for a tagged
// identity. Only meaningful when IsSurrogate returns true.
func (e EmojiIdentity) SurrogateRowID() uint {
	return uint(int64(e) &^ surrogateTagBit)
}

func (e EmojiIdentity) String() string {
	return strconv.FormatInt(int64(e), 10)
}

// UnicodeEmojiSurrogate assigns a stable numeric ID to a unicode emoji
// grapheme. Rows are append-only; the unique index on the grapheme
// makes concurrent inserts of the same emoji converge on one row.
type UnicodeEmojiSurrogate struct {
	ModelUintID
	Grapheme string `json:"grapheme" gorm:"uniqueIndex;not null"`
}

// EmojiUsage counts how often an emoji has been used per guild, both
// in messages and as reactions.
type EmojiUsage struct {
	ModelUintID
	ModelUnixTime
	GuildID       string `json:"guild_id" gorm:"uniqueIndex:idx_emoji_usage_guild_emoji;not null"`
	EmojiIdentity int64  `json:"emoji_identity" gorm:"uniqueIndex:idx_emoji_usage_guild_emoji;not null"`
	Count         int64  `json:"count"`
}

// customEmojiPattern matches custom emoji markup in message content,
// like `<:partyparrot:1234567890>` or animated `<a:blob:987654>`.
var customEmojiPattern = regexp.MustCompile(`<(a?):([A-Za-z0-9_~]+):(\d+)>`)

// EmojiResolver maps discord emojis, in either reaction-event or
// message-markup form, to a single EmojiIdentity namespace.
type EmojiResolver struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewEmojiResolver(db *gorm.DB, logger *slog.Logger) *EmojiResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmojiResolver{
		db:     db,
		logger: logger.With(loggerNameKey, "emoji_resolver"),
	}
}

// Resolve returns the EmojiIdentity for the given emoji. Custom emojis
// resolve to their snowflake ID without touching the database. Unicode
// emojis are assigned a surrogate row, inserting one on first sight.
//
// The insert uses ON CONFLICT DO NOTHING followed by a select, so two
// goroutines racing on the same never-before-seen grapheme both end up
// with the identity of whichever insert won.
func (r *EmojiResolver) Resolve(
	ctx context.Context,
	emoji *discordgo.Emoji,
) (EmojiIdentity, error) {
	if emoji == nil {
		return 0, fmt.Errorf("nil emoji")
	}
	if emoji.ID != "" {
		id, err := strconv.ParseInt(emoji.ID, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad emoji snowflake %q: %w", emoji.ID, err)
		}
		return EmojiIdentity(id), nil
	}
	if emoji.Name == "" {
		return 0, fmt.Errorf("emoji has neither ID nor name")
	}
	return r.resolveUnicode(ctx, emoji.Name)
}

func (r *EmojiResolver) resolveUnicode(
	ctx context.Context,
	grapheme string,
) (EmojiIdentity, error) {
	surrogate := UnicodeEmojiSurrogate{Grapheme: grapheme}
	rv := r.db.WithContext(ctx).Clauses(
		clause.OnConflict{DoNothing: true},
	).Create(&surrogate)
	if rv.Error != nil {
		return 0, fmt.Errorf("error inserting emoji surrogate: %w", rv.Error)
	}

	// The insert may have been a no-op (RowsAffected == 0, existing
	// row) or may not report the generated ID on conflict, so always
	// read the winning row back.
	var row UnicodeEmojiSurrogate
	if err := r.db.WithContext(ctx).Where(
		"grapheme = ?", grapheme,
	).First(&row).Error; err != nil {
		return 0, fmt.Errorf("error loading emoji surrogate: %w", err)
	}

	return EmojiIdentity(int64(row.ID) | surrogateTagBit), nil
}

// Render returns a string form of the identity suitable for message
// content. Surrogate identities render as their grapheme. Snowflake
// identities render as custom emoji markup when the emoji is found in
// the guild, or the bare ID when it isn't (deleted emoji).
func (r *EmojiResolver) Render(
	ctx context.Context,
	session DiscordSessionHandler,
	guildID string,
	identity EmojiIdentity,
) string {
	if identity.IsSurrogate() {
		var row UnicodeEmojiSurrogate
		err := r.db.WithContext(ctx).First(&row, identity.SurrogateRowID()).Error
		if err != nil {
			r.logger.Warn(
				"missing emoji surrogate row",
				"identity", identity,
				tint.Err(err),
			)
			return fmt.Sprintf("(unknown emoji %d)", int64(identity))
		}
		return row.Grapheme
	}

	snowflake := strconv.FormatInt(int64(identity), 10)
	if session != nil && guildID != "" {
		emojis, err := session.GuildEmojis(guildID)
		if err != nil {
			r.logger.Warn("error listing guild emojis", tint.Err(err))
		} else {
			for _, em := range emojis {
				if em.ID == snowflake {
					return em.MessageFormat()
				}
			}
		}
	}
	return fmt.Sprintf("(deleted emoji %s)", snowflake)
}

// ReactionInput returns the emoji in the `name:id` (custom) or bare
// grapheme (unicode) form expected by reaction endpoints.
func (r *EmojiResolver) ReactionInput(
	ctx context.Context,
	session DiscordSessionHandler,
	guildID string,
	identity EmojiIdentity,
) (string, error) {
	if identity.IsSurrogate() {
		var row UnicodeEmojiSurrogate
		err := r.db.WithContext(ctx).First(&row, identity.SurrogateRowID()).Error
		if err != nil {
			return "", fmt.Errorf("missing emoji surrogate row %d: %w", int64(identity), err)
		}
		return row.Grapheme, nil
	}

	snowflake := strconv.FormatInt(int64(identity), 10)
	if session != nil && guildID != "" {
		emojis, err := session.GuildEmojis(guildID)
		if err == nil {
			for _, em := range emojis {
				if em.ID == snowflake {
					return em.APIName(), nil
				}
			}
		}
	}
	return "", fmt.Errorf("custom emoji %s not found in guild", snowflake)
}

// ParseToken resolves an emoji given as raw user input: either custom
// emoji markup like `<:name:1234>` or a bare unicode grapheme.
func (r *EmojiResolver) ParseToken(
	ctx context.Context,
	token string,
) (EmojiIdentity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, fmt.Errorf("empty emoji")
	}
	if m := customEmojiPattern.FindStringSubmatch(token); m != nil {
		id, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad emoji snowflake %q: %w", m[3], err)
		}
		return EmojiIdentity(id), nil
	}
	if strings.HasPrefix(token, "<") {
		return 0, fmt.Errorf("unrecognized emoji markup: %s", token)
	}
	return r.resolveUnicode(ctx, token)
}

// recordEmojiUsage increments the per-guild usage counter for each of
// the given identities. One counter row per (guild, emoji) pair.
func recordEmojiUsage(
	ctx context.Context,
	writeDB DBI,
	guildID string,
	identities []EmojiIdentity,
) error {
	for _, identity := range identities {
		usage := EmojiUsage{
			GuildID:       guildID,
			EmojiIdentity: int64(identity),
			Count:         1,
		}
		rv := writeDB.DB().WithContext(ctx).Clauses(
			clause.OnConflict{
				Columns: []clause.Column{
					{Name: "guild_id"},
					{Name: "emoji_identity"},
				},
				DoUpdates: clause.Assignments(
					map[string]any{"count": gorm.Expr("count + 1")},
				),
			},
		).Create(&usage)
		if rv.Error != nil {
			return rv.Error
		}
	}
	return nil
}

// messageEmojiIdentities extracts the identities of all emojis used in
// the given message content, deduplicated, in order of first use.
// Unicode emojis in plain message text are deliberately not counted,
// only reactions and custom markup are, since plain-text grapheme
// detection is unreliable without a full emoji table.
func (r *EmojiResolver) messageEmojiIdentities(content string) []EmojiIdentity {
	matches := customEmojiPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(matches))
	identities := make([]EmojiIdentity, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		identities = append(identities, EmojiIdentity(id))
	}
	return identities
}
