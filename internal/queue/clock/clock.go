// Package clock centralizes the millisecond timestamps the queue stores as
// scores and record fields, plus the small polling helper used by job
// handles that wait on a result.
package clock

import "time"

// NowMS returns the current time as milliseconds since epoch, the unit
// every score and timestamp field in the store uses.
func NowMS() int64 {
	return ToUnixMS(time.Now())
}

// ToMS converts a duration to whole milliseconds.
func ToMS(d time.Duration) int64 {
	return d.Milliseconds()
}

// ToUnixMS converts a wall-clock time to milliseconds since epoch.
func ToUnixMS(t time.Time) int64 {
	return t.UnixMilli()
}

// MSToTime converts a milliseconds-since-epoch score back to a time.Time.
func MSToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// Poll runs fn once immediately and then every interval until it returns
// true or stop is closed, and reports whether fn returned true. Nothing in
// this module calls it: jobhandle.Result runs its own wait loop, and the
// worker's main loop uses a plain time.Ticker directly, the teacher's idiom.
func Poll(stop <-chan struct{}, interval time.Duration, fn func() (done bool)) bool {
	if fn() {
		return true
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return false
		case <-ticker.C:
			if fn() {
				return true
			}
		}
	}
}
