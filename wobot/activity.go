package wobot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Activity records the last time a member was seen doing anything in
// a guild (message, reaction, interaction). One row per member per
// guild, updated in place.
type Activity struct {
	ModelUintID
	ModelUnixTime
	GuildID    string `json:"guild_id" gorm:"uniqueIndex:idx_activity_guild_user;not null"`
	UserID     string `json:"user_id" gorm:"uniqueIndex:idx_activity_guild_user;not null"`
	LastActive int64  `json:"last_active" gorm:"not null"`
}

// touchActivity upserts the member's last-active timestamp. Gateway
// handlers call this on every qualifying event, so it has to stay a
// single statement.
func touchActivity(
	ctx context.Context,
	writeDB DBI,
	guildID string,
	userID string,
	at time.Time,
) error {
	if guildID == "" || userID == "" {
		return nil
	}
	row := Activity{
		GuildID:    guildID,
		UserID:     userID,
		LastActive: at.UnixMilli(),
	}
	rv := writeDB.DB().WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{
				{Name: "guild_id"},
				{Name: "user_id"},
			},
			DoUpdates: clause.Assignments(
				map[string]any{"last_active": row.LastActive},
			),
		},
	).Create(&row)
	return rv.Error
}

// inactiveMembers returns activity rows whose last-active timestamp is
// older than the cutoff, for one guild.
func inactiveMembers(
	db *gorm.DB,
	ctx context.Context,
	guildID string,
	cutoff time.Time,
) ([]Activity, error) {
	var rows []Activity
	err := db.WithContext(ctx).Where(
		"guild_id = ? AND last_active < ?", guildID, cutoff.UnixMilli(),
	).Order("last_active").Find(&rows).Error
	return rows, err
}

// demoteMember moves a member one step down the guild's descending
// role ladder: the highest ladder role they hold is removed and the
// next one down is granted. A member already at the bottom, or holding
// no ladder role, is left unchanged.
//
// Returns the (from, to) role IDs when a demotion happened, or empty
// strings when there was nothing to do.
func demoteMember(
	ctx context.Context,
	session DiscordSessionHandler,
	guildID string,
	userID string,
	ladder []string,
	logger *slog.Logger,
) (fromRole, toRole string, err error) {
	if len(ladder) < 2 {
		return "", "", nil
	}
	member, err := session.GuildMember(guildID, userID)
	if err != nil {
		return "", "", fmt.Errorf("error fetching member: %w", err)
	}
	held := make(map[string]struct{}, len(member.Roles))
	for _, roleID := range member.Roles {
		held[roleID] = struct{}{}
	}

	for rank, roleID := range ladder {
		if _, ok := held[roleID]; !ok {
			continue
		}
		if rank == len(ladder)-1 {
			// already at the bottom
			return "", "", nil
		}
		next := ladder[rank+1]
		if err = session.GuildMemberRoleAdd(guildID, userID, next); err != nil {
			return "", "", fmt.Errorf("error granting demoted role: %w", err)
		}
		if err = session.GuildMemberRoleRemove(guildID, userID, roleID); err != nil {
			logger.ErrorContext(
				ctx,
				"granted lower role but failed removing higher one",
				tint.Err(err),
				"user_id", userID,
				"role_id", roleID,
			)
			return "", "", err
		}
		return roleID, next, nil
	}
	return "", "", nil
}
