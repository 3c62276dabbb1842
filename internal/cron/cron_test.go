package cron

import (
	"testing"
	"time"
)

func TestNextRun_SameDayThenNextTrigger(t *testing.T) {
	entry := Entry{
		Name:   "x100",
		Func:   "run_regularly",
		Hour:   Set(9, 12, 18),
		Minute: Set(12),
	}

	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	got := entry.NextRun(now)
	want := time.Date(2026, 7, 30, 12, 12, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	after := time.Date(2026, 7, 30, 12, 12, 0, 1_000, time.UTC) // +1us past the tick
	got2 := entry.NextRun(after)
	want2 := time.Date(2026, 7, 30, 18, 12, 0, 0, time.UTC)
	if !got2.Equal(want2) {
		t.Fatalf("expected %v, got %v", want2, got2)
	}
}

func TestNextRun_SubMinuteFieldsDefaultToZero(t *testing.T) {
	entry := Entry{Name: "x100", Func: "run_cron", Minute: Set(40), Second: Set(50)}
	now := time.Date(2026, 7, 30, 10, 40, 50, 0, time.UTC)
	got := entry.NextRun(now)
	want := time.Date(2026, 7, 30, 11, 40, 50, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNextRun_MonthAndWeekdayMask(t *testing.T) {
	entry := Entry{
		Name:    "month-weekday",
		Func:    "run_regularly",
		Month:   Set(int(time.August)),
		Weekday: Set(int(time.Monday)),
		Hour:    Set(9),
		Minute:  Set(0),
	}
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	got := entry.NextRun(now)

	if got.Month() != time.August {
		t.Fatalf("expected August, got %v", got.Month())
	}
	if got.Weekday() != time.Monday {
		t.Fatalf("expected Monday, got %v", got.Weekday())
	}
	if got.Hour() != 9 || got.Minute() != 0 {
		t.Fatalf("expected 09:00, got %02d:%02d", got.Hour(), got.Minute())
	}
	if !got.After(now) {
		t.Fatalf("expected next run strictly after now")
	}
}

func TestIntSet_NilMeansAny(t *testing.T) {
	var s IntSet
	if !s.Contains(0) || !s.Contains(59) {
		t.Fatalf("nil IntSet should match any value")
	}
}
