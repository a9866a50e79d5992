package billingcycle

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStartMidCycle(t *testing.T) {
	now := time.Date(2026, time.March, 20, 15, 4, 5, 0, time.UTC)
	got := Start(now, 15, date(2025, time.January, 1))
	if want := date(2026, time.March, 15); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestStartBeforeAnchorRollsToPreviousMonth(t *testing.T) {
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	got := Start(now, 15, date(2025, time.January, 1))
	if want := date(2026, time.February, 15); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestStartClampsToShortMonth(t *testing.T) {
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	got := Start(now, 31, date(2025, time.January, 1))
	// February 2026 has 28 days.
	if want := date(2026, time.February, 28); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestStartFallsBackToCreationDay(t *testing.T) {
	now := time.Date(2026, time.June, 20, 0, 0, 0, 0, time.UTC)
	got := Start(now, 0, date(2024, time.August, 7))
	if want := date(2026, time.June, 7); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestEndIsNextBoundary(t *testing.T) {
	now := time.Date(2026, time.January, 31, 12, 0, 0, 0, time.UTC)
	got := End(now, 31, date(2025, time.January, 1))
	if want := date(2026, time.February, 28); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestEndRecoversFromClampedStart(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	// Start clamps to Feb 28; the next boundary must land on Mar 31.
	got := End(now, 31, date(2025, time.January, 1))
	if want := date(2026, time.March, 31); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestStartEndBracketNow(t *testing.T) {
	anchors := []int{1, 7, 15, 28, 29, 30, 31}
	created := date(2024, time.February, 29)
	for _, anchor := range anchors {
		for day := 1; day <= 28; day += 3 {
			now := time.Date(2026, time.February, day, 6, 0, 0, 0, time.UTC)
			start := Start(now, anchor, created)
			end := End(now, anchor, created)
			if start.After(now) {
				t.Fatalf("anchor %d day %d: start %s after now %s", anchor, day, start, now)
			}
			if !end.After(now) {
				t.Fatalf("anchor %d day %d: end %s not after now %s", anchor, day, end, now)
			}
			if !end.After(start) {
				t.Fatalf("anchor %d day %d: end %s not after start %s", anchor, day, end, start)
			}
		}
	}
}
