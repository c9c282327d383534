package wobot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// ReactionRoleBinding links one emoji on one message to one role.
// A message may carry many bindings, but each (message, emoji) pair
// maps to at most one role.
type ReactionRoleBinding struct {
	ModelUintID
	ModelUnixTime
	GuildID       string `json:"guild_id" gorm:"not null"`
	ChannelID     string `json:"channel_id" gorm:"not null"`
	MessageID     string `json:"message_id" gorm:"uniqueIndex:idx_binding_message_emoji;not null"`
	EmojiIdentity int64  `json:"emoji_identity" gorm:"uniqueIndex:idx_binding_message_emoji;not null"`
	RoleID        string `json:"role_id" gorm:"not null"`
}

func (b ReactionRoleBinding) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", b.GuildID),
		slog.String("channel_id", b.ChannelID),
		slog.String("message_id", b.MessageID),
		slog.Int64("emoji_identity", b.EmojiIdentity),
		slog.String("role_id", b.RoleID),
	)
}

// ErrDuplicateBinding is returned when a (message, emoji) pair is
// already bound to a role.
var ErrDuplicateBinding = errors.New("emoji already bound on this message")

// bindingCache is the membership set of message IDs that carry at
// least one reaction-role binding. Reaction gateway events are far
// more frequent than binding changes, so reaction handlers consult
// this set first and skip the database entirely for unbound messages.
type bindingCache struct {
	mu       sync.RWMutex
	messages map[string]struct{}
}

func newBindingCache() *bindingCache {
	return &bindingCache{messages: map[string]struct{}{}}
}

// Has reports whether the message is known to carry bindings.
func (c *bindingCache) Has(messageID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.messages[messageID]
	return ok
}

func (c *bindingCache) Mark(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[messageID] = struct{}{}
}

func (c *bindingCache) Unmark(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.messages, messageID)
}

// Replace swaps the entire membership set, used on startup and on
// cross-instance reload notifications.
func (c *bindingCache) Replace(messageIDs []string) {
	next := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		next[id] = struct{}{}
	}
	c.mu.Lock()
	c.messages = next
	c.mu.Unlock()
}

func (c *bindingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// bindingStore is the query surface the reaction handlers use. It
// exists so tests can count or fail lookups.
type bindingStore interface {
	// BoundMessageIDs returns the IDs of all messages with at least
	// one binding
	BoundMessageIDs(ctx context.Context) ([]string, error)

	// Lookup returns the binding for the given (message, emoji) pair,
	// or nil when none exists
	Lookup(ctx context.Context, messageID string, emoji EmojiIdentity) (
		*ReactionRoleBinding,
		error,
	)

	// ForMessage returns all bindings on the given message
	ForMessage(ctx context.Context, messageID string) ([]ReactionRoleBinding, error)

	// ForGuild returns all bindings in the given guild
	ForGuild(ctx context.Context, guildID string) ([]ReactionRoleBinding, error)
}

type gormBindingStore struct {
	db *gorm.DB
}

func (s gormBindingStore) BoundMessageIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&ReactionRoleBinding{}).
		Distinct("message_id").Pluck("message_id", &ids).Error
	return ids, err
}

func (s gormBindingStore) Lookup(
	ctx context.Context,
	messageID string,
	emoji EmojiIdentity,
) (*ReactionRoleBinding, error) {
	var binding ReactionRoleBinding
	err := s.db.WithContext(ctx).Where(
		"message_id = ? AND emoji_identity = ?", messageID, int64(emoji),
	).First(&binding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

func (s gormBindingStore) ForMessage(
	ctx context.Context,
	messageID string,
) ([]ReactionRoleBinding, error) {
	var bindings []ReactionRoleBinding
	err := s.db.WithContext(ctx).Where(
		"message_id = ?", messageID,
	).Order("id").Find(&bindings).Error
	return bindings, err
}

func (s gormBindingStore) ForGuild(
	ctx context.Context,
	guildID string,
) ([]ReactionRoleBinding, error) {
	var bindings []ReactionRoleBinding
	err := s.db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).Order("message_id, id").Find(&bindings).Error
	return bindings, err
}

// ReactionRoles manages the binding registry and applies role changes
// in response to reaction gateway events.
type ReactionRoles struct {
	store   bindingStore
	cache   *bindingCache
	writeDB DBI
	emoji   *EmojiResolver
	logger  *slog.Logger
}

func NewReactionRoles(
	writeDB DBI,
	emoji *EmojiResolver,
	cache *bindingCache,
	logger *slog.Logger,
) *ReactionRoles {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = newBindingCache()
	}
	return &ReactionRoles{
		store:   gormBindingStore{db: writeDB.DB()},
		cache:   cache,
		writeDB: writeDB,
		emoji:   emoji,
		logger:  logger.With(loggerNameKey, "reaction_roles"),
	}
}

// LoadCache replaces the membership cache with the current set of
// bound message IDs from the database.
func (rr *ReactionRoles) LoadCache(ctx context.Context) error {
	ids, err := rr.store.BoundMessageIDs(ctx)
	if err != nil {
		return fmt.Errorf("error loading bound message IDs: %w", err)
	}
	rr.cache.Replace(ids)
	rr.logger.Info("loaded binding cache", "bound_messages", len(ids))
	return nil
}

// AddBinding registers a new (message, emoji) -> role binding. Returns
// ErrDuplicateBinding if the pair is already bound, whether to the
// same role or a different one.
func (rr *ReactionRoles) AddBinding(
	ctx context.Context,
	binding ReactionRoleBinding,
) (ReactionRoleBinding, error) {
	existing, err := rr.store.Lookup(
		ctx, binding.MessageID, EmojiIdentity(binding.EmojiIdentity),
	)
	if err != nil {
		return binding, err
	}
	if existing != nil {
		return *existing, ErrDuplicateBinding
	}
	if _, err = rr.writeDB.Create(ctx, &binding); err != nil {
		// a concurrent add can slip past the pre-check; the unique
		// index is the arbiter
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return binding, ErrDuplicateBinding
		}
		return binding, fmt.Errorf("error creating binding: %w", err)
	}
	rr.cache.Mark(binding.MessageID)
	rr.logger.InfoContext(ctx, "created binding", "binding", binding)
	return binding, nil
}

// RemoveBinding deletes the binding for the given (message, emoji)
// pair. When the deleted binding was the last one on the message, the
// message is also dropped from the membership cache, so later
// reactions on it go back to the zero-query fast path.
func (rr *ReactionRoles) RemoveBinding(
	ctx context.Context,
	messageID string,
	emoji EmojiIdentity,
) (bool, error) {
	rowsAffected, err := rr.writeDB.Delete(
		&ReactionRoleBinding{},
		"message_id = ? AND emoji_identity = ?", messageID, int64(emoji),
	)
	if err != nil {
		return false, fmt.Errorf("error deleting binding: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	remaining, err := rr.store.ForMessage(ctx, messageID)
	if err != nil {
		rr.logger.Warn("error checking remaining bindings", tint.Err(err))
		return true, nil
	}
	if len(remaining) == 0 {
		rr.cache.Unmark(messageID)
	}
	rr.logger.InfoContext(
		ctx,
		"removed binding",
		"message_id", messageID,
		"emoji_identity", emoji,
		"remaining_on_message", len(remaining),
	)
	return true, nil
}

// HandleReactionAdd processes a MessageReactionAdd gateway event,
// granting the bound role if one exists. Unbound messages are rejected
// by the membership cache without any database work.
func (rr *ReactionRoles) HandleReactionAdd(
	ctx context.Context,
	session DiscordSessionHandler,
	r *discordgo.MessageReactionAdd,
	botUserID string,
) {
	if r.UserID == botUserID || reactorIsBot(r.Member) {
		return
	}
	binding := rr.matchReaction(ctx, r.MessageID, &r.Emoji, r.GuildID)
	if binding == nil {
		return
	}
	logger := rr.logger.With("binding", *binding, "user_id", r.UserID)

	if err := session.GuildMemberRoleAdd(
		binding.GuildID, r.UserID, binding.RoleID,
	); err != nil {
		logger.ErrorContext(ctx, "error granting role", tint.Err(err))
		return
	}
	logger.InfoContext(ctx, "granted role")
}

// reactorIsBot reports whether the reacting guild member is a bot
// account. Reaction-remove events carry no member object, so that path
// can only filter the bot's own user ID.
func reactorIsBot(m *discordgo.Member) bool {
	return m != nil && m.User != nil && m.User.Bot
}

// HandleReactionRemove processes a MessageReactionRemove gateway
// event, revoking the bound role if one exists.
func (rr *ReactionRoles) HandleReactionRemove(
	ctx context.Context,
	session DiscordSessionHandler,
	r *discordgo.MessageReactionRemove,
	botUserID string,
) {
	if r.UserID == botUserID {
		return
	}
	binding := rr.matchReaction(ctx, r.MessageID, &r.Emoji, r.GuildID)
	if binding == nil {
		return
	}
	logger := rr.logger.With("binding", *binding, "user_id", r.UserID)

	if err := session.GuildMemberRoleRemove(
		binding.GuildID, r.UserID, binding.RoleID,
	); err != nil {
		logger.ErrorContext(ctx, "error revoking role", tint.Err(err))
		return
	}
	logger.InfoContext(ctx, "revoked role")
}

// reactionPicker implements the "pick by reacting" flow: a command
// handler parks on Await for a specific (message, user) pair, and the
// reaction gateway handler offers every incoming event via Dispatch.
type reactionPicker struct {
	mu      sync.Mutex
	waiters map[string]chan *discordgo.MessageReactionAdd
}

func newReactionPicker() *reactionPicker {
	return &reactionPicker{
		waiters: map[string]chan *discordgo.MessageReactionAdd{},
	}
}

func pickerKey(messageID, userID string) string {
	return messageID + ":" + userID
}

// Dispatch offers a reaction event to a parked waiter. Returns true
// when a waiter consumed it, in which case the registry handlers
// should not also process it.
func (p *reactionPicker) Dispatch(r *discordgo.MessageReactionAdd) bool {
	p.mu.Lock()
	ch, ok := p.waiters[pickerKey(r.MessageID, r.UserID)]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- r:
		return true
	default:
		return false
	}
}

// Await blocks until the given user reacts to the given message, the
// timeout elapses, or the context is canceled.
func (p *reactionPicker) Await(
	ctx context.Context,
	messageID string,
	userID string,
	timeout time.Duration,
) (*discordgo.MessageReactionAdd, error) {
	key := pickerKey(messageID, userID)
	ch := make(chan *discordgo.MessageReactionAdd, 1)

	p.mu.Lock()
	if _, exists := p.waiters[key]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("already waiting on a reaction for this message")
	}
	p.waiters[key] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.waiters, key)
		p.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, context.DeadlineExceeded
	case r := <-ch:
		return r, nil
	}
}

// matchReaction returns the binding for a reaction event, or nil when
// the message is unbound, the emoji resolves to no binding, or
// resolution fails. A cache hit with no matching row is logged at
// warn, since it usually means the cache and table have diverged.
func (rr *ReactionRoles) matchReaction(
	ctx context.Context,
	messageID string,
	emoji *discordgo.Emoji,
	guildID string,
) *ReactionRoleBinding {
	if !rr.cache.Has(messageID) {
		return nil
	}

	identity, err := rr.emoji.Resolve(ctx, emoji)
	if err != nil {
		rr.logger.ErrorContext(ctx, "error resolving reaction emoji", tint.Err(err))
		return nil
	}

	binding, err := rr.store.Lookup(ctx, messageID, identity)
	if err != nil {
		rr.logger.ErrorContext(ctx, "error looking up binding", tint.Err(err))
		return nil
	}
	if binding == nil {
		rr.logger.WarnContext(
			ctx,
			"cached message has no binding for emoji",
			"message_id", messageID,
			"emoji_identity", identity,
			"guild_id", guildID,
		)
		return nil
	}
	return binding
}
