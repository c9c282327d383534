package wobot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouchActivity(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	first := time.Now().Add(-time.Hour)
	require.NoError(t, touchActivity(ctx, bot.writeDB, "guild-1", "user-1", first))

	var row Activity
	require.NoError(
		t,
		bot.db.Where("guild_id = ? AND user_id = ?", "guild-1", "user-1").
			First(&row).Error,
	)
	assert.Equal(t, first.UnixMilli(), row.LastActive)

	// a second touch updates in place rather than adding a row
	second := time.Now()
	require.NoError(t, touchActivity(ctx, bot.writeDB, "guild-1", "user-1", second))

	var count int64
	require.NoError(t, bot.db.Model(&Activity{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, bot.db.First(&row, row.ID).Error)
	assert.Equal(t, second.UnixMilli(), row.LastActive)

	// empty IDs are a silent no-op
	require.NoError(t, touchActivity(ctx, bot.writeDB, "", "user-1", second))
	require.NoError(t, bot.db.Model(&Activity{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestInactiveMembers(t *testing.T) {
	bot, _ := newTestBot(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, touchActivity(ctx, bot.writeDB, "guild-1", "stale", now.Add(-40*24*time.Hour)))
	require.NoError(t, touchActivity(ctx, bot.writeDB, "guild-1", "fresh", now))
	require.NoError(t, touchActivity(ctx, bot.writeDB, "guild-2", "stale-elsewhere", now.Add(-40*24*time.Hour)))

	rows, err := inactiveMembers(bot.db, ctx, "guild-1", now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "stale", rows[0].UserID)
}

func TestRoleLadder(t *testing.T) {
	assert.Nil(t, GuildConfig{}.RoleLadder())
	assert.Equal(
		t,
		[]string{"gold", "silver", "bronze"},
		GuildConfig{DescendingRoles: "gold, silver ,bronze,"}.RoleLadder(),
	)
}

func TestDemoteMember(t *testing.T) {
	bot, mock := newTestBot(t)
	ctx := context.Background()
	ladder := []string{"gold", "silver", "bronze"}

	mock.setMemberRoles("user-1", []string{"silver", "unrelated-role"})
	from, to, err := demoteMember(ctx, mock, "guild-1", "user-1", ladder, bot.logger)
	require.NoError(t, err)
	assert.Equal(t, "silver", from)
	assert.Equal(t, "bronze", to)

	granted := <-mock.roleAdds
	assert.Equal(t, "bronze", granted.RoleID)
	removed := <-mock.roleRemoves
	assert.Equal(t, "silver", removed.RoleID)

	// already at the bottom
	mock.setMemberRoles("user-2", []string{"bronze"})
	from, to, err = demoteMember(ctx, mock, "guild-1", "user-2", ladder, bot.logger)
	require.NoError(t, err)
	assert.Empty(t, from)
	assert.Empty(t, to)

	// holds no ladder role at all
	mock.setMemberRoles("user-3", []string{"unrelated-role"})
	from, to, err = demoteMember(ctx, mock, "guild-1", "user-3", ladder, bot.logger)
	require.NoError(t, err)
	assert.Empty(t, from)
	assert.Empty(t, to)
	assert.Empty(t, mock.roleAdds)
	assert.Empty(t, mock.roleRemoves)
}
