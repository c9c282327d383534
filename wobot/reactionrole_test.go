package wobot

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore wraps a bindingStore and counts Lookup calls, so tests
// can assert which paths touch the database.
type countingStore struct {
	bindingStore
	lookups atomic.Int64
}

func (s *countingStore) Lookup(
	ctx context.Context,
	messageID string,
	emoji EmojiIdentity,
) (*ReactionRoleBinding, error) {
	s.lookups.Add(1)
	return s.bindingStore.Lookup(ctx, messageID, emoji)
}

// blindStore wraps a bindingStore and never finds an existing binding,
// simulating a concurrent add landing between the pre-check and the
// insert.
type blindStore struct {
	bindingStore
}

func (s blindStore) Lookup(
	context.Context,
	string,
	EmojiIdentity,
) (*ReactionRoleBinding, error) {
	return nil, nil
}

func reactionAddEvent(
	guildID string,
	messageID string,
	userID string,
	emoji discordgo.Emoji,
) *discordgo.MessageReactionAdd {
	return &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			GuildID:   guildID,
			ChannelID: "channel-1",
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
		},
	}
}

func reactionRemoveEvent(
	guildID string,
	messageID string,
	userID string,
	emoji discordgo.Emoji,
) *discordgo.MessageReactionRemove {
	return &discordgo.MessageReactionRemove{
		MessageReaction: &discordgo.MessageReaction{
			GuildID:   guildID,
			ChannelID: "channel-1",
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
		},
	}
}

func TestReactionRoleGrantAndRevoke(t *testing.T) {
	bot, mock := newTestBot(t)
	ctx := context.Background()

	_, err := bot.reactionRoles.AddBinding(ctx, ReactionRoleBinding{
		GuildID:       "guild-1",
		ChannelID:     "channel-1",
		MessageID:     "message-1",
		EmojiIdentity: 4242,
		RoleID:        "role-1",
	})
	require.NoError(t, err)

	emoji := discordgo.Emoji{ID: "4242", Name: "partyparrot"}
	bot.reactionRoles.HandleReactionAdd(
		ctx, mock, reactionAddEvent("guild-1", "message-1", "user-1", emoji), "bot-user",
	)

	select {
	case change := <-mock.roleAdds:
		assert.Equal(
			t,
			mockRoleChange{GuildID: "guild-1", UserID: "user-1", RoleID: "role-1"},
			change,
		)
	case <-time.After(time.Second):
		t.Fatal("expected a role grant")
	}

	bot.reactionRoles.HandleReactionRemove(
		ctx, mock, reactionRemoveEvent("guild-1", "message-1", "user-1", emoji), "bot-user",
	)

	select {
	case change := <-mock.roleRemoves:
		assert.Equal(
			t,
			mockRoleChange{GuildID: "guild-1", UserID: "user-1", RoleID: "role-1"},
			change,
		)
	case <-time.After(time.Second):
		t.Fatal("expected a role revocation")
	}
}

// TestReactionUnboundMessageSkipsDatabase asserts the membership cache
// fast path: reactions to messages with no bindings must not cause any
// database lookups.
func TestReactionUnboundMessageSkipsDatabase(t *testing.T) {
	bot, mock := newTestBot(t)
	ctx := context.Background()

	counter := &countingStore{bindingStore: bot.reactionRoles.store}
	bot.reactionRoles.store = counter

	emoji := discordgo.Emoji{Name: "🎉"}
	for n := 0; n < 10; n++ {
		bot.reactionRoles.HandleReactionAdd(
			ctx, mock, reactionAddEvent("guild-1", "unbound-message", "user-1", emoji), "bot-user",
		)
	}

	assert.Equal(t, int64(0), counter.lookups.Load())
	assert.Empty(t, mock.roleAdds)
}

func TestReactionBotUserIgnored(t *testing.T) {
	bot, mock := newTestBot(t)
	ctx := context.Background()

	_, err := bot.reactionRoles.AddBinding(ctx, ReactionRoleBinding{
		GuildID:       "guild-1",
		ChannelID:     "channel-1",
		MessageID:     "message-1",
		EmojiIdentity: 4242,
		RoleID:        "role-1",
	})
	require.NoError(t, err)

	emoji := discordgo.Emoji{ID: "4242", Name: "partyparrot"}
	bot.reactionRoles.HandleReactionAdd(
		ctx, mock, reactionAddEvent("guild-1", "message-1", "bot-user", emoji), "bot-user",
	)
	assert.Empty(t, mock.roleAdds)

	// other bots' reactions are ignored too, not just our own
	event := reactionAddEvent("guild-1", "message-1", "other-bot", emoji)
	event.Member = &discordgo.Member{
		User: &discordgo.User{ID: "other-bot", Bot: true},
	}
	bot.reactionRoles.HandleReactionAdd(ctx, mock, event, "bot-user")
	assert.Empty(t, mock.roleAdds)
}

func TestDuplicateBindingRejected(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	binding := ReactionRoleBinding{
		GuildID:       "guild-1",
		ChannelID:     "channel-1",
		MessageID:     "message-1",
		EmojiIdentity: 4242,
		RoleID:        "role-1",
	}
	_, err := bot.reactionRoles.AddBinding(ctx, binding)
	require.NoError(t, err)

	// same pair bound to a different role is still a duplicate
	binding.RoleID = "role-2"
	existing, err := bot.reactionRoles.AddBinding(ctx, binding)
	require.ErrorIs(t, err, ErrDuplicateBinding)
	assert.Equal(t, "role-1", existing.RoleID)
}

func TestConcurrentDuplicateBinding(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	// with the pre-check blinded, the second add reaches the insert
	// and the unique index has to report the duplicate
	bot.reactionRoles.store = blindStore{bindingStore: bot.reactionRoles.store}

	binding := ReactionRoleBinding{
		GuildID:       "guild-1",
		ChannelID:     "channel-1",
		MessageID:     "message-1",
		EmojiIdentity: 4242,
		RoleID:        "role-1",
	}
	_, err := bot.reactionRoles.AddBinding(ctx, binding)
	require.NoError(t, err)

	binding.RoleID = "role-2"
	_, err = bot.reactionRoles.AddBinding(ctx, binding)
	require.ErrorIs(t, err, ErrDuplicateBinding)
}

func TestRemoveBinding(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	for _, identity := range []int64{100, 200} {
		_, err := bot.reactionRoles.AddBinding(ctx, ReactionRoleBinding{
			GuildID:       "guild-1",
			ChannelID:     "channel-1",
			MessageID:     "message-1",
			EmojiIdentity: identity,
			RoleID:        "role-1",
		})
		require.NoError(t, err)
	}
	require.True(t, bot.bindings.Has("message-1"))

	removed, err := bot.reactionRoles.RemoveBinding(ctx, "message-1", EmojiIdentity(100))
	require.NoError(t, err)
	assert.True(t, removed)

	// one binding left, the message stays cached
	assert.True(t, bot.bindings.Has("message-1"))

	removed, err = bot.reactionRoles.RemoveBinding(ctx, "message-1", EmojiIdentity(200))
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, bot.bindings.Has("message-1"))

	// removing a binding that does not exist is not an error
	removed, err = bot.reactionRoles.RemoveBinding(ctx, "message-1", EmojiIdentity(200))
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRebindAfterRemoval(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	binding := ReactionRoleBinding{
		GuildID:       "guild-1",
		ChannelID:     "channel-1",
		MessageID:     "message-1",
		EmojiIdentity: 4242,
		RoleID:        "role-1",
	}
	_, err := bot.reactionRoles.AddBinding(ctx, binding)
	require.NoError(t, err)

	removed, err := bot.reactionRoles.RemoveBinding(ctx, "message-1", EmojiIdentity(4242))
	require.NoError(t, err)
	require.True(t, removed)

	// the delete must not leave a tombstone holding the unique index
	binding.RoleID = "role-2"
	created, err := bot.reactionRoles.AddBinding(ctx, binding)
	require.NoError(t, err)
	assert.Equal(t, "role-2", created.RoleID)
	assert.True(t, bot.bindings.Has("message-1"))
}

func TestLoadCache(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	for _, messageID := range []string{"message-1", "message-2"} {
		_, err := bot.reactionRoles.AddBinding(ctx, ReactionRoleBinding{
			GuildID:       "guild-1",
			ChannelID:     "channel-1",
			MessageID:     messageID,
			EmojiIdentity: 4242,
			RoleID:        "role-1",
		})
		require.NoError(t, err)
	}

	// simulate a fresh process: empty cache, populated table
	bot.bindings.Replace(nil)
	require.False(t, bot.bindings.Has("message-1"))

	require.NoError(t, bot.reactionRoles.LoadCache(ctx))
	assert.Equal(t, 2, bot.bindings.Len())
	assert.True(t, bot.bindings.Has("message-1"))
	assert.True(t, bot.bindings.Has("message-2"))
}

func TestReactionPicker(t *testing.T) {
	picker := newReactionPicker()
	ctx := context.Background()

	event := reactionAddEvent(
		"guild-1", "message-1", "user-1", discordgo.Emoji{Name: "🎉"},
	)

	// nobody waiting: the event falls through to the registry handlers
	assert.False(t, picker.Dispatch(event))

	got := make(chan *discordgo.MessageReactionAdd, 1)
	errs := make(chan error, 1)
	go func() {
		r, err := picker.Await(ctx, "message-1", "user-1", 5*time.Second)
		errs <- err
		got <- r
	}()

	// the waiter needs to park before the event arrives
	require.Eventually(t, func() bool {
		return picker.Dispatch(event)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, <-errs)
	assert.Equal(t, event, <-got)

	// a waiter whose timeout lapses gets an error
	_, err := picker.Await(ctx, "message-2", "user-1", 20*time.Millisecond)
	require.Error(t, err)
}

func TestBindingsPage(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := bot.reactionRoles.AddBinding(ctx, ReactionRoleBinding{
			GuildID:       "guild-1",
			ChannelID:     "channel-1",
			MessageID:     fmt.Sprintf("message-%d", i),
			EmojiIdentity: int64(1000 + i),
			RoleID:        "role-1",
		})
		require.NoError(t, err)
	}
	_, err := bot.reactionRoles.AddBinding(ctx, ReactionRoleBinding{
		GuildID:       "guild-2",
		ChannelID:     "channel-2",
		MessageID:     "other-guild-message",
		EmojiIdentity: 9999,
		RoleID:        "role-2",
	})
	require.NoError(t, err)

	paginator := &Paginator{PageSize: 5}
	page, err := bot.bindingsPage(ctx, "guild-1", paginator)
	require.NoError(t, err)
	assert.Len(t, page, 5)
	assert.Equal(t, 7, paginator.Total)

	paginator.Next()
	page, err = bot.bindingsPage(ctx, "guild-1", paginator)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	paginator.Next()
	page, err = bot.bindingsPage(ctx, "guild-1", paginator)
	require.NoError(t, err)
	assert.Equal(t, 0, paginator.Offset)
	assert.Len(t, page, 5)
}
