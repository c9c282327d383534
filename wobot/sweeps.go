package wobot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// sweeper runs the periodic jobs: reminder delivery, bet resolution,
// birthday congratulations and inactivity demotion. Outbound sends
// share one rate limiter so a large backlog can't hammer the API.
type sweeper struct {
	w       *WoBot
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newSweeper(w *WoBot) *sweeper {
	perSecond := w.config.Sweeps.RatePerSecond
	if perSecond <= 0 {
		perSecond = DefaultSweepRatePerSecond
	}
	return &sweeper{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  w.logger.With(loggerNameKey, "sweeper"),
	}
}

// Run starts all sweep jobs and blocks until the context is canceled.
// A job's individual sweep failing is logged and does not stop its
// ticker, and never stops the other jobs.
func (s *sweeper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(
		func() error {
			s.tickFixed(ctx, "reminders", s.w.config.Sweeps.ReminderInterval, s.sweepReminders)
			return nil
		},
	)
	g.Go(
		func() error {
			s.tickFixed(ctx, "bets", s.w.config.Sweeps.BetInterval, s.sweepBets)
			return nil
		},
	)
	g.Go(
		func() error {
			s.tickMidnightAligned(ctx, "birthdays", s.sweepBirthdays)
			return nil
		},
	)
	g.Go(
		func() error {
			s.tickFixed(ctx, "activity", s.w.config.Sweeps.ActivityInterval, s.sweepActivity)
			return nil
		},
	)

	return g.Wait()
}

// tickFixed runs the sweep at a fixed interval from process start.
func (s *sweeper) tickFixed(
	ctx context.Context,
	name string,
	interval time.Duration,
	sweep func(ctx context.Context) error,
) {
	logger := s.logger.With("job", name, "interval", interval)
	logger.InfoContext(ctx, "starting sweep job")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "stopping sweep job")
			return
		case <-ticker.C:
			if err := sweep(ctx); err != nil {
				logger.ErrorContext(ctx, "sweep failed", tint.Err(err))
			}
		}
	}
}

// tickMidnightAligned waits until the next local midnight, then runs
// the sweep every 24 hours.
func (s *sweeper) tickMidnightAligned(
	ctx context.Context,
	name string,
	sweep func(ctx context.Context) error,
) {
	logger := s.logger.With("job", name)
	now := time.Now()
	midnight := time.Date(
		now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location(),
	).AddDate(0, 0, 1)
	delay := midnight.Sub(now)
	logger.InfoContext(ctx, "starting sweep job", "first_run_in", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if err := sweep(ctx); err != nil {
		logger.ErrorContext(ctx, "sweep failed", tint.Err(err))
	}
	s.tickFixed(ctx, name, 24*time.Hour, sweep)
}

// sweepReminders delivers due reminders. Due rows are selected and
// deleted in one transaction before any send, so each reminder is
// attempted at most once: a failed send is logged and the reminder is
// gone regardless.
func (s *sweeper) sweepReminders(ctx context.Context) error {
	var due []Reminder
	err := s.w.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			if e := tx.Where(
				"due_at <= ?", time.Now().UnixMilli(),
			).Order("due_at").Find(&due).Error; e != nil {
				return e
			}
			if len(due) == 0 {
				return nil
			}
			ids := make([]uint, 0, len(due))
			for _, r := range due {
				ids = append(ids, r.ID)
			}
			return tx.Unscoped().Delete(&Reminder{}, ids).Error
		},
	)
	if err != nil {
		return fmt.Errorf("error consuming due reminders: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	s.logger.InfoContext(ctx, "delivering reminders", "count", len(due))

	for _, reminder := range due {
		if err = s.limiter.Wait(ctx); err != nil {
			return err
		}
		content := fmt.Sprintf("<@%s> Reminder: %s", reminder.UserID, reminder.Message)
		if _, sendErr := s.w.discord.session.ChannelMessageSend(
			reminder.ChannelID, content,
		); sendErr != nil {
			s.logger.ErrorContext(
				ctx,
				"error delivering reminder",
				tint.Err(sendErr),
				"reminder_id", reminder.ID,
				"channel_id", reminder.ChannelID,
			)
		}
	}
	return nil
}

// sweepBets resolves bets whose closing time has passed, announcing
// the tally in the bet's channel. Like reminders, a bet is consumed
// when selected, whether or not the announcement lands.
func (s *sweeper) sweepBets(ctx context.Context) error {
	type closedBet struct {
		bet    Bet
		counts map[int]int64
	}
	var closed []closedBet

	err := s.w.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			var due []Bet
			if e := tx.Where(
				"closes_at <= ?", time.Now().UnixMilli(),
			).Order("closes_at").Find(&due).Error; e != nil {
				return e
			}
			for _, bet := range due {
				var participants []BetParticipant
				if e := tx.Where("bet_id = ?", bet.ID).Find(&participants).Error; e != nil {
					return e
				}
				counts := map[int]int64{}
				for _, p := range participants {
					counts[p.Choice]++
				}
				if e := tx.Where("bet_id = ?", bet.ID).Unscoped().
					Delete(&BetParticipant{}).Error; e != nil {
					return e
				}
				if e := tx.Unscoped().Delete(&Bet{}, bet.ID).Error; e != nil {
					return e
				}
				closed = append(closed, closedBet{bet: bet, counts: counts})
			}
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("error consuming closed bets: %w", err)
	}

	for _, c := range closed {
		if err = s.limiter.Wait(ctx); err != nil {
			return err
		}
		var b strings.Builder
		fmt.Fprintf(&b, "The bet **%s** is closed!\n", c.bet.Title)
		var total int64
		for _, n := range c.counts {
			total += n
		}
		if total == 0 {
			b.WriteString("Nobody placed a bet.")
		} else {
			for idx, label := range c.bet.OptionLabels() {
				fmt.Fprintf(&b, "%s: %d\n", label, c.counts[idx])
			}
		}
		if _, sendErr := s.w.discord.session.ChannelMessageSend(
			c.bet.ChannelID, b.String(),
		); sendErr != nil {
			s.logger.ErrorContext(
				ctx,
				"error announcing bet result",
				tint.Err(sendErr),
				"bet_id", c.bet.ID,
			)
		}
	}
	return nil
}

// sweepBirthdays congratulates members whose birthday is today. The
// LastCongratulated year is advanced with a guarded update before
// sending, so overlapping sweeps or a restart mid-day can't produce a
// second congratulation. Leap-day birthdays are congratulated on
// 1 March in common years.
func (s *sweeper) sweepBirthdays(ctx context.Context) error {
	now := time.Now()
	year, month, day := now.Year(), int(now.Month()), now.Day()

	q := s.w.db.WithContext(ctx).Where(
		"month = ? AND day = ? AND last_congratulated < ?", month, day, year,
	)
	if month == 3 && day == 1 && !isLeapYear(year) {
		q = s.w.db.WithContext(ctx).Where(
			"((month = ? AND day = ?) OR (month = 2 AND day = 29))"+
				" AND last_congratulated < ?",
			month, day, year,
		)
	}

	var todays []Birthday
	if err := q.Find(&todays).Error; err != nil {
		return fmt.Errorf("error loading birthdays: %w", err)
	}

	for _, birthday := range todays {
		rowsAffected, err := s.w.writeDB.UpdatesWhere(
			ctx,
			&Birthday{},
			map[string]any{"last_congratulated": year},
			"id = ? AND last_congratulated < ?", birthday.ID, year,
		)
		if err != nil {
			s.logger.ErrorContext(
				ctx, "error marking birthday", tint.Err(err),
				"birthday_id", birthday.ID,
			)
			continue
		}
		if rowsAffected == 0 {
			// another instance got there first
			continue
		}

		cfg, err := s.w.guildConfig(ctx, birthday.GuildID)
		if err != nil || cfg.EventChannelID == "" {
			continue
		}
		if err = s.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, sendErr := s.w.discord.session.ChannelMessageSend(
			cfg.EventChannelID,
			fmt.Sprintf("Happy birthday <@%s>! 🎉", birthday.UserID),
		); sendErr != nil {
			s.logger.ErrorContext(
				ctx,
				"error sending birthday message",
				tint.Err(sendErr),
				"birthday_id", birthday.ID,
			)
		}
	}
	return nil
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// sweepActivity demotes members who have been inactive past the
// threshold, one ladder step per sweep, and reports demotions to the
// guild's log channel.
func (s *sweeper) sweepActivity(ctx context.Context) error {
	var guilds []GuildConfig
	if err := s.w.db.WithContext(ctx).Where(
		"descending_roles <> ''",
	).Find(&guilds).Error; err != nil {
		return fmt.Errorf("error loading guild configs: %w", err)
	}

	for _, cfg := range guilds {
		ladder := cfg.RoleLadder()
		if len(ladder) < 2 {
			continue
		}
		threshold := s.w.config.Sweeps.InactivityThreshold
		if cfg.InactivityDays > 0 {
			threshold = time.Duration(cfg.InactivityDays) * 24 * time.Hour
		}
		cutoff := time.Now().Add(-threshold)

		rows, err := inactiveMembers(s.w.db, ctx, cfg.GuildID, cutoff)
		if err != nil {
			s.logger.ErrorContext(
				ctx, "error loading inactive members", tint.Err(err),
				"guild_id", cfg.GuildID,
			)
			continue
		}

		var demoted []string
		for _, row := range rows {
			if err = s.limiter.Wait(ctx); err != nil {
				return err
			}
			fromRole, toRole, demoteErr := demoteMember(
				ctx, s.w.discord.session,
				cfg.GuildID, row.UserID, ladder, s.logger,
			)
			if demoteErr != nil {
				s.logger.ErrorContext(
					ctx, "error demoting member", tint.Err(demoteErr),
					"guild_id", cfg.GuildID, "user_id", row.UserID,
				)
				continue
			}
			if fromRole == "" {
				continue
			}
			demoted = append(
				demoted,
				fmt.Sprintf("<@%s> <@&%s> -> <@&%s>", row.UserID, fromRole, toRole),
			)
			// demotion counts as a nudge, reset the clock
			if touchErr := touchActivity(
				ctx, s.w.writeDB, cfg.GuildID, row.UserID, time.Now(),
			); touchErr != nil {
				s.logger.WarnContext(ctx, "error resetting activity", tint.Err(touchErr))
			}
		}

		if len(demoted) > 0 && cfg.LogChannelID != "" {
			if err = s.limiter.Wait(ctx); err != nil {
				return err
			}
			if _, sendErr := s.w.discord.session.ChannelMessageSend(
				cfg.LogChannelID,
				"Demoted for inactivity:\n"+strings.Join(demoted, "\n"),
			); sendErr != nil {
				s.logger.ErrorContext(ctx, "error reporting demotions", tint.Err(sendErr))
			}
		}
	}
	return nil
}
