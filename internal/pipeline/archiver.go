// Package pipeline schedules background maintenance work. Its one current
// job is archival: moving closed position and hedge history past the
// retention window out of the primary store into blob storage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// Archiver runs retention passes against the blob-store archiver.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates an Archiver that keeps retentionDays of closed
// history in the primary store.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass: closed positions first, then hedge
// records, everything closed before now minus the retention window.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive pass",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	positions, err := a.blobArchiver.ArchivePositions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archiving positions before %v: %w", cutoff, err)
	}

	hedges, err := a.blobArchiver.ArchiveHedges(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archiving hedges before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive pass complete",
		slog.Int64("positions_archived", positions),
		slog.Int64("hedges_archived", hedges),
	)
	return nil
}

// RunLoop repeats Run on a fixed interval until the context is cancelled.
// A failed pass is logged and retried on the next tick.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	a.logger.InfoContext(ctx, "archiver loop started", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.InfoContext(ctx, "archiver loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunCron runs archive passes on a cron schedule until the context is
// cancelled. Expressions use the standard five fields
// "minute hour day-of-month month day-of-week" with lists, ranges and
// steps ("0 3 1 * *", "*/30 2-4 * * 1,5").
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(time.Now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
		}
		a.logger.InfoContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", time.Until(next)),
		)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// schedule is a parsed cron expression. Each field is a bitmask of the
// allowed values; minute 5 set means bit 5 of minutes is 1.
type schedule struct {
	minutes uint64
	hours   uint64
	days    uint64
	months  uint64
	dows    uint64
}

func (s schedule) matches(t time.Time) bool {
	return s.minutes&(1<<uint(t.Minute())) != 0 &&
		s.hours&(1<<uint(t.Hour())) != 0 &&
		s.days&(1<<uint(t.Day())) != 0 &&
		s.months&(1<<uint(t.Month())) != 0 &&
		s.dows&(1<<uint(t.Weekday())) != 0
}

// next returns the first minute boundary after t that the schedule fires
// on, scanning at most a year ahead.
func (s schedule) next(t time.Time) (time.Time, error) {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	for limit := t.AddDate(1, 0, 1); candidate.Before(limit); candidate = candidate.Add(time.Minute) {
		if s.matches(candidate) {
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("no matching time within a year")
}

// cron field ranges, indexed minute/hour/dom/month/dow.
var cronBounds = [5]struct{ lo, hi int }{
	{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6},
}

func parseCron(expr string) (schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return schedule{}, fmt.Errorf("want 5 fields, got %d", len(fields))
	}

	var masks [5]uint64
	for i, field := range fields {
		mask, err := parseCronField(field, cronBounds[i].lo, cronBounds[i].hi)
		if err != nil {
			return schedule{}, fmt.Errorf("field %d %q: %w", i+1, field, err)
		}
		masks[i] = mask
	}
	return schedule{
		minutes: masks[0],
		hours:   masks[1],
		days:    masks[2],
		months:  masks[3],
		dows:    masks[4],
	}, nil
}

// parseCronField turns one field into a bitmask. Accepted forms per
// comma-separated part: "*", "N", "A-B", and any of those with "/step".
func parseCronField(field string, lo, hi int) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		rangeSpec, step := part, 1
		if base, stepStr, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n < 1 {
				return 0, fmt.Errorf("bad step %q", stepStr)
			}
			rangeSpec, step = base, n
		}

		from, to := lo, hi
		switch {
		case rangeSpec == "*":
		case strings.Contains(rangeSpec, "-"):
			loStr, hiStr, _ := strings.Cut(rangeSpec, "-")
			var err1, err2 error
			from, err1 = strconv.Atoi(loStr)
			to, err2 = strconv.Atoi(hiStr)
			if err1 != nil || err2 != nil || from > to {
				return 0, fmt.Errorf("bad range %q", rangeSpec)
			}
		default:
			n, err := strconv.Atoi(rangeSpec)
			if err != nil {
				return 0, fmt.Errorf("bad value %q", rangeSpec)
			}
			from, to = n, n
		}
		if from < lo || to > hi {
			return 0, fmt.Errorf("value out of range [%d,%d]", lo, hi)
		}

		for v := from; v <= to; v += step {
			mask |= 1 << uint(v)
		}
	}
	if mask == 0 {
		return 0, fmt.Errorf("empty field")
	}
	return mask, nil
}
