package wobot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSweepRemindersConsumedOnSendFailure asserts at-most-once
// delivery: rows are consumed when selected, so a failed send is
// logged and dropped rather than retried forever.
func TestSweepRemindersConsumedOnSendFailure(t *testing.T) {
	bot, mock := newTestBot(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute).UnixMilli()
	require.NoError(t, bot.db.Create(&Reminder{
		GuildID:   "guild-1",
		ChannelID: "good-channel",
		UserID:    "user-1",
		Message:   "water the plants",
		DueAt:     past,
	}).Error)
	require.NoError(t, bot.db.Create(&Reminder{
		GuildID:   "guild-1",
		ChannelID: "bad-channel",
		UserID:    "user-2",
		Message:   "stretch",
		DueAt:     past,
	}).Error)
	require.NoError(t, bot.db.Create(&Reminder{
		GuildID:   "guild-1",
		ChannelID: "good-channel",
		UserID:    "user-3",
		Message:   "not due yet",
		DueAt:     time.Now().Add(time.Hour).UnixMilli(),
	}).Error)

	mock.failSendsTo("bad-channel", errors.New("missing access"))

	require.NoError(t, newSweeper(bot).sweepReminders(ctx))

	// only the delivery that could land was sent
	require.Len(t, mock.messageSends, 1)
	sent := <-mock.messageSends
	assert.Equal(t, "good-channel", sent.ChannelID)
	assert.Equal(t, "<@user-1> Reminder: water the plants", sent.Content)

	// both due rows are gone, failed send included
	var remaining []Reminder
	require.NoError(t, bot.db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "user-3", remaining[0].UserID)
}

func TestSweepBets(t *testing.T) {
	bot, mock := newTestBot(t)
	ctx := context.Background()

	bet := Bet{
		GuildID:   "guild-1",
		ChannelID: "channel-1",
		Title:     "rain tomorrow",
		Options:   "yes;no",
		CreatedBy: "user-1",
		ClosesAt:  time.Now().Add(-time.Minute).UnixMilli(),
	}
	require.NoError(t, bot.db.Create(&bet).Error)
	for _, p := range []BetParticipant{
		{BetID: bet.ID, UserID: "user-1", Choice: 0},
		{BetID: bet.ID, UserID: "user-2", Choice: 0},
		{BetID: bet.ID, UserID: "user-3", Choice: 1},
	} {
		require.NoError(t, bot.db.Create(&p).Error)
	}

	require.NoError(t, newSweeper(bot).sweepBets(ctx))

	require.Len(t, mock.messageSends, 1)
	sent := <-mock.messageSends
	assert.Equal(t, "channel-1", sent.ChannelID)
	assert.Contains(t, sent.Content, "The bet **rain tomorrow** is closed!")
	assert.Contains(t, sent.Content, "yes: 2")
	assert.Contains(t, sent.Content, "no: 1")

	var bets, participants int64
	require.NoError(t, bot.db.Model(&Bet{}).Count(&bets).Error)
	require.NoError(t, bot.db.Model(&BetParticipant{}).Count(&participants).Error)
	assert.Zero(t, bets)
	assert.Zero(t, participants)
}

func TestSweepBetsNoParticipants(t *testing.T) {
	bot, mock := newTestBot(t)
	ctx := context.Background()

	require.NoError(t, bot.db.Create(&Bet{
		GuildID:   "guild-1",
		ChannelID: "channel-1",
		Title:     "lonely bet",
		Options:   "yes;no",
		ClosesAt:  time.Now().Add(-time.Minute).UnixMilli(),
	}).Error)

	require.NoError(t, newSweeper(bot).sweepBets(ctx))

	require.Len(t, mock.messageSends, 1)
	sent := <-mock.messageSends
	assert.Contains(t, sent.Content, "Nobody placed a bet.")
}

func TestSweepBirthdays(t *testing.T) {
	bot, mock := newTestBot(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, bot.db.Create(&GuildConfig{
		GuildID:        "guild-1",
		EventChannelID: "events-channel",
	}).Error)
	birthday := Birthday{
		GuildID:           "guild-1",
		UserID:            "user-1",
		Month:             int(now.Month()),
		Day:               now.Day(),
		LastCongratulated: now.Year() - 1,
	}
	require.NoError(t, bot.db.Create(&birthday).Error)
	// not today
	require.NoError(t, bot.db.Create(&Birthday{
		GuildID: "guild-1",
		UserID:  "user-2",
		Month:   int(now.AddDate(0, 1, 0).Month()),
		Day:     now.Day(),
	}).Error)

	sw := newSweeper(bot)
	require.NoError(t, sw.sweepBirthdays(ctx))

	require.Len(t, mock.messageSends, 1)
	sent := <-mock.messageSends
	assert.Equal(t, "events-channel", sent.ChannelID)
	assert.Equal(t, "Happy birthday <@user-1>! 🎉", sent.Content)

	var updated Birthday
	require.NoError(t, bot.db.First(&updated, birthday.ID).Error)
	assert.Equal(t, now.Year(), updated.LastCongratulated)

	// running the sweep again the same day congratulates nobody
	require.NoError(t, sw.sweepBirthdays(ctx))
	assert.Empty(t, mock.messageSends)
}

// TestSweepBirthdaysNoEventChannel asserts the row is still marked so
// configuring a channel later doesn't produce a stale congratulation.
func TestSweepBirthdaysNoEventChannel(t *testing.T) {
	bot, mock := newTestBot(t)
	ctx := context.Background()

	now := time.Now()
	birthday := Birthday{
		GuildID:           "guild-1",
		UserID:            "user-1",
		Month:             int(now.Month()),
		Day:               now.Day(),
		LastCongratulated: now.Year() - 1,
	}
	require.NoError(t, bot.db.Create(&birthday).Error)

	require.NoError(t, newSweeper(bot).sweepBirthdays(ctx))

	assert.Empty(t, mock.messageSends)
	var updated Birthday
	require.NoError(t, bot.db.First(&updated, birthday.ID).Error)
	assert.Equal(t, now.Year(), updated.LastCongratulated)
}

func TestIsLeapYear(t *testing.T) {
	assert.True(t, isLeapYear(2024))
	assert.True(t, isLeapYear(2000))
	assert.False(t, isLeapYear(2025))
	assert.False(t, isLeapYear(1900))
}
