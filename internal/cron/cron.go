// Package cron computes next-run timestamps for calendar-masked recurring
// jobs (spec §4.E). There is no string cron syntax here: masks are plain
// int sets over month/day/weekday/hour/minute/second/microsecond, so no
// cron-expression parser from the example corpus applies (see DESIGN.md).
package cron

import "time"

// Entry is one recurring-job definition: a target function plus a
// calendar mask and per-trigger metadata.
type Entry struct {
	Name string
	Func string

	Month       IntSet
	Day         IntSet
	Weekday     IntSet
	Hour        IntSet
	Minute      IntSet
	Second      IntSet
	Microsecond IntSet

	Unique     bool
	KeepResult bool
	Timeout    time.Duration
	MaxTries   int
}

// maxIterations bounds the search so an impossible mask (e.g. day=31 with
// month=February only) gives up instead of looping forever.
const maxIterations = 10_000

// NextRun returns the smallest instant strictly after now whose calendar
// components all satisfy the entry's masks. Second and microsecond
// default to {0} when unset (spec §4.E: "sub-minute fields default to 0");
// every other field defaults to "any". The search increments the largest
// mismatched field and resets every smaller field to its minimum,
// propagating carries via time.Date's own overflow normalization.
func (e Entry) NextRun(now time.Time) time.Time {
	month := e.Month
	day := e.Day
	weekday := e.Weekday
	hour := e.Hour
	minute := e.Minute
	second := orZero(e.Second)
	microsecond := orZero(e.Microsecond)

	t := now.Add(time.Microsecond).Truncate(time.Microsecond)

	for i := 0; i < maxIterations; i++ {
		if !month.Contains(int(t.Month())) {
			t = startOfNextMonth(t)
			continue
		}
		if !day.Contains(t.Day()) || !weekday.Contains(int(t.Weekday())) {
			t = startOfNextDay(t)
			continue
		}
		if !hour.Contains(t.Hour()) {
			t = startOfNextHour(t)
			continue
		}
		if !minute.Contains(t.Minute()) {
			t = startOfNextMinute(t)
			continue
		}
		if !second.Contains(t.Second()) {
			t = startOfNextSecond(t)
			continue
		}

		micro := t.Nanosecond() / 1000
		if !microsecond.Contains(micro) {
			t = startOfNextSecond(t)
			continue
		}

		return t
	}

	return time.Time{}
}

func startOfNextMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, t.Location())
}

func startOfNextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

func startOfNextHour(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour()+1, 0, 0, 0, t.Location())
}

func startOfNextMinute(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute()+1, 0, 0, t.Location())
}

func startOfNextSecond(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second()+1, 0, t.Location())
}
