package models

import (
	"testing"
	"time"
)

func TestCountdownUntil(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("splits remaining time", func(t *testing.T) {
		v := CountdownUntil(now.Add(3*time.Hour+25*time.Minute+7*time.Second), now)
		if v.Hours != 3 || v.Minutes != 25 || v.Seconds != 7 {
			t.Fatalf("unexpected value: %+v", v)
		}
	})

	t.Run("never negative", func(t *testing.T) {
		v := CountdownUntil(now.Add(-time.Hour), now)
		if !v.Zero() {
			t.Fatalf("expected zero, got %+v", v)
		}
	})

	t.Run("exact deadline is zero", func(t *testing.T) {
		if v := CountdownUntil(now, now); !v.Zero() {
			t.Fatalf("expected zero, got %+v", v)
		}
	})
}

func TestDailyDeadline(t *testing.T) {
	loc := time.FixedZone("UTC+6", 6*3600)
	now := time.Date(2025, 3, 1, 10, 30, 0, 0, loc)

	d := DailyDeadline(now, loc)
	if d.Hour() != 23 || d.Minute() != 59 || d.Second() != 59 {
		t.Fatalf("unexpected deadline: %v", d)
	}
	if d.Day() != now.Day() {
		t.Fatalf("deadline moved to another day: %v", d)
	}
	if d.Nanosecond() != 999*int(time.Millisecond) {
		t.Fatalf("unexpected sub-second part: %d", d.Nanosecond())
	}
}
