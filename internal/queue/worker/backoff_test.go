package worker

import "testing"

func TestExponentialBackoff_Bounds(t *testing.T) {
	capSeconds := 5*60 + 1 // seconds, with slack for jitter
	for attempt := 0; attempt < 12; attempt++ {
		d := ExponentialBackoff(attempt)
		if d <= 0 {
			t.Fatalf("attempt %d: expected positive delay, got %v", attempt, d)
		}
		if d.Seconds() > float64(capSeconds) {
			t.Fatalf("attempt %d: delay %v exceeds cap", attempt, d)
		}
	}
}

func TestExponentialBackoff_Grows(t *testing.T) {
	// jitter is small (<=250ms) relative to the 2s/4s/8s steps, so this
	// should hold comfortably without being flaky.
	if ExponentialBackoff(2) <= ExponentialBackoff(0) {
		t.Fatalf("expected backoff to grow with attempt count")
	}
}

func TestLinearBackoff(t *testing.T) {
	cases := map[int]int64{0: 1, 1: 2, 4: 5}
	for attempt, wantSeconds := range cases {
		got := LinearBackoff(attempt)
		if got.Seconds() != float64(wantSeconds) {
			t.Fatalf("attempt %d: expected %ds, got %v", attempt, wantSeconds, got)
		}
	}
}
