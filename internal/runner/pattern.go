package runner

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrEmptyPattern = errors.New("pattern requires daily_at, every_minutes or cron")

// Pattern describes when a recurring run fires within each day of the horizon.
// Any combination of the three forms may be set; coinciding instants are
// instantiated once.
type Pattern struct {
	DailyAt      string `json:"daily_at,omitempty"`      // "HH:MM"
	EveryMinutes int    `json:"every_minutes,omitempty"` // cadence from 00:00
	Cron         string `json:"cron,omitempty"`          // 5-field or descriptor, e.g. "30 6 * * 1-5"

	StartDate time.Time      `json:"-"`
	Location  *time.Location `json:"-"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type compiled struct {
	hasDaily     bool
	hour, minute int
	every        time.Duration
	sched        cron.Schedule
}

// Validate reports whether p can be expanded.
func (p Pattern) Validate() error {
	_, err := compilePattern(p)
	return err
}

func compilePattern(p Pattern) (compiled, error) {
	var c compiled
	if strings.TrimSpace(p.DailyAt) == "" && p.EveryMinutes == 0 && strings.TrimSpace(p.Cron) == "" {
		return c, ErrEmptyPattern
	}
	if s := strings.TrimSpace(p.DailyAt); s != "" {
		h, m, err := parseHHMM(s)
		if err != nil {
			return c, err
		}
		c.hasDaily, c.hour, c.minute = true, h, m
	}
	if p.EveryMinutes < 0 {
		return c, fmt.Errorf("every_minutes must be > 0, got %d", p.EveryMinutes)
	}
	c.every = time.Duration(p.EveryMinutes) * time.Minute
	if expr := strings.TrimSpace(p.Cron); expr != "" {
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return c, fmt.Errorf("invalid cron %q: %w", expr, err)
		}
		c.sched = sched
	}
	return c, nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// MaxInstants bounds how many firing times one recurring run expands to.
// Instants past the bound are dropped; the earliest ones are kept.
const MaxInstants = 5000

// instants lists the earliest firing times in [day0, day0+days), ascending
// and unique, at most MaxInstants of them.
func (c compiled) instants(day0 time.Time, days int) []time.Time {
	loc := day0.Location()
	y, mo, d := day0.Date()
	seen := map[int64]bool{}
	var out []time.Time
	add := func(t time.Time) {
		k := t.UnixNano()
		if !seen[k] {
			seen[k] = true
			out = append(out, t)
		}
	}
	// Days are walked in order and instants never cross a day, so once a
	// whole day brings the count past the bound no later day can displace
	// anything kept.
	for i := 0; i < days && len(out) < MaxInstants; i++ {
		dayStart := time.Date(y, mo, d+i, 0, 0, 0, 0, loc)
		dayEnd := time.Date(y, mo, d+i+1, 0, 0, 0, 0, loc)
		if c.hasDaily {
			add(time.Date(y, mo, d+i, c.hour, c.minute, 0, 0, loc))
		}
		if c.every > 0 {
			for t := dayStart; t.Before(dayEnd); t = t.Add(c.every) {
				add(t)
			}
		}
		if c.sched != nil {
			// Next is strictly after its argument.
			for t := c.sched.Next(dayStart.Add(-time.Second)); !t.IsZero() && t.Before(dayEnd); t = c.sched.Next(t) {
				add(t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	if len(out) > MaxInstants {
		out = out[:MaxInstants]
	}
	return out
}
