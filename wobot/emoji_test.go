package wobot

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCustomEmoji(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	identity, err := bot.emoji.Resolve(
		ctx, &discordgo.Emoji{ID: "123456789012345678", Name: "partyparrot"},
	)
	require.NoError(t, err)
	assert.Equal(t, EmojiIdentity(123456789012345678), identity)
	assert.False(t, identity.IsSurrogate())
}

func TestResolveUnicodeEmoji(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	first, err := bot.emoji.Resolve(ctx, &discordgo.Emoji{Name: "🎉"})
	require.NoError(t, err)
	assert.True(t, first.IsSurrogate())

	// same grapheme again resolves to the same identity
	second, err := bot.emoji.Resolve(ctx, &discordgo.Emoji{Name: "🎉"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// a different grapheme gets a different identity
	other, err := bot.emoji.Resolve(ctx, &discordgo.Emoji{Name: "🔥"})
	require.NoError(t, err)
	assert.True(t, other.IsSurrogate())
	assert.NotEqual(t, first, other)
}

// TestResolveUnicodeEmojiConcurrent races several goroutines on the
// same never-before-seen grapheme; all must converge on one identity.
func TestResolveUnicodeEmojiConcurrent(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	const workers = 8
	identities := make([]EmojiIdentity, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			identities[n], errs[n] = bot.emoji.Resolve(
				ctx, &discordgo.Emoji{Name: "🦆"},
			)
		}(n)
	}
	wg.Wait()

	for n := 0; n < workers; n++ {
		require.NoError(t, errs[n])
		assert.Equal(t, identities[0], identities[n])
		assert.True(t, identities[n].IsSurrogate())
	}

	var count int64
	require.NoError(
		t,
		bot.db.Model(&UnicodeEmojiSurrogate{}).
			Where("grapheme = ?", "🦆").Count(&count).Error,
	)
	assert.Equal(t, int64(1), count)
}

func TestSurrogateTagBitDoesNotCollide(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	surrogate, err := bot.emoji.Resolve(ctx, &discordgo.Emoji{Name: "👍"})
	require.NoError(t, err)
	require.True(t, surrogate.IsSurrogate())

	// the surrogate row ID round-trips through the tagged identity
	assert.Equal(
		t,
		int64(surrogate)&^surrogateTagBit,
		int64(surrogate.SurrogateRowID()),
	)

	// a snowflake identity never carries the tag bit
	snowflake, err := bot.emoji.Resolve(
		ctx, &discordgo.Emoji{ID: "223456789012345678", Name: "blob"},
	)
	require.NoError(t, err)
	assert.False(t, snowflake.IsSurrogate())
}

func TestParseToken(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	t.Run("custom markup", func(t *testing.T) {
		identity, err := bot.emoji.ParseToken(ctx, "<:partyparrot:1234>")
		require.NoError(t, err)
		assert.Equal(t, EmojiIdentity(1234), identity)
	})

	t.Run("animated markup", func(t *testing.T) {
		identity, err := bot.emoji.ParseToken(ctx, "<a:blob:5678>")
		require.NoError(t, err)
		assert.Equal(t, EmojiIdentity(5678), identity)
	})

	t.Run("bare grapheme", func(t *testing.T) {
		identity, err := bot.emoji.ParseToken(ctx, "🎲")
		require.NoError(t, err)
		assert.True(t, identity.IsSurrogate())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := bot.emoji.ParseToken(ctx, "   ")
		require.Error(t, err)
	})

	t.Run("malformed markup", func(t *testing.T) {
		_, err := bot.emoji.ParseToken(ctx, "<#1234>")
		require.Error(t, err)
	})
}

func TestRenderIdentity(t *testing.T) {
	bot, mock := newTestBot(t)
	ctx := context.Background()

	unicode, err := bot.emoji.Resolve(ctx, &discordgo.Emoji{Name: "🎂"})
	require.NoError(t, err)
	assert.Equal(t, "🎂", bot.emoji.Render(ctx, mock, "guild-1", unicode))

	mock.setGuildEmojis(
		[]*discordgo.Emoji{{ID: "4242", Name: "partyparrot"}},
	)
	custom := EmojiIdentity(4242)
	assert.Equal(
		t,
		"<:partyparrot:4242>",
		bot.emoji.Render(ctx, mock, "guild-1", custom),
	)

	// an emoji deleted from the guild renders as a placeholder
	assert.Equal(
		t,
		"(deleted emoji 9999)",
		bot.emoji.Render(ctx, mock, "guild-1", EmojiIdentity(9999)),
	)
}

func TestMessageEmojiIdentities(t *testing.T) {
	bot, _ := newTestBot(t)

	content := "nice <:blob:111> and <a:party:222> and <:blob:111> again 🎉"
	identities := bot.emoji.messageEmojiIdentities(content)

	// custom markup only, deduplicated; unicode in plain text is not
	// scanned
	assert.Equal(
		t,
		[]EmojiIdentity{EmojiIdentity(111), EmojiIdentity(222)},
		identities,
	)

	assert.Nil(t, bot.emoji.messageEmojiIdentities("no emojis here"))
}

func TestRecordEmojiUsage(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	ids := []EmojiIdentity{EmojiIdentity(111), EmojiIdentity(222)}
	require.NoError(t, recordEmojiUsage(ctx, bot.writeDB, "guild-1", ids))
	require.NoError(t, recordEmojiUsage(ctx, bot.writeDB, "guild-1", ids[:1]))

	var usage EmojiUsage
	require.NoError(
		t,
		bot.db.Where(
			"guild_id = ? AND emoji_identity = ?", "guild-1", 111,
		).First(&usage).Error,
	)
	assert.Equal(t, int64(2), usage.Count)

	// reset the destination so the primary key from the previous query
	// is not added to this query's conditions
	usage = EmojiUsage{}
	require.NoError(
		t,
		bot.db.Where(
			"guild_id = ? AND emoji_identity = ?", "guild-1", 222,
		).First(&usage).Error,
	)
	assert.Equal(t, int64(1), usage.Count)
}
