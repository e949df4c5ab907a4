package officehours

import (
	"testing"
	"time"

	"github.com/pcosync/pcosync/internal/interval"
)

func TestParseRangesAcceptsCommaSemicolonAndEnDash(t *testing.T) {
	got := ParseRanges("9:00-11:00; 13-14:30,18:00–19:00")
	if len(got) != 3 {
		t.Fatalf("expected 3 ranges, got %d: %#v", len(got), got)
	}
	want0 := interval.LocalRange{Open: interval.Clock{9, 0}, Close: interval.Clock{11, 0}}
	if got[0] != want0 {
		t.Errorf("range 0 = %+v, want %+v", got[0], want0)
	}
}

func TestParseRangesDropsInvalidTokensSilently(t *testing.T) {
	got := ParseRanges("9:00-11:00, garbage, 25:99-1:00, 13:00-14:00")
	if len(got) != 2 {
		t.Fatalf("expected 2 valid ranges survive, got %d: %#v", len(got), got)
	}
}

func TestExpandDisabledYieldsNothing(t *testing.T) {
	oh := &OfficeHours{Enabled: false}
	loc, _ := time.LoadLocation("America/New_York")
	from := time.Date(2026, 2, 23, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 7)
	out := Expand(oh, from, to, loc)
	if len(out) != 0 {
		t.Errorf("expected no windows when disabled, got %#v", out)
	}
}

func TestExpandMondayOfficeDoor(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	oh := &OfficeHours{
		Enabled: true,
		Schedule: map[time.Weekday]DayConfig{
			time.Monday: {Ranges: "09:00-11:00", Doors: []string{"office"}},
		},
	}
	from := time.Date(2026, 2, 23, 0, 0, 0, 0, loc) // Monday
	to := from.AddDate(0, 0, 6)
	out := Expand(oh, from, to, loc)
	windows, ok := out["office"]
	if !ok || len(windows) != 1 {
		t.Fatalf("expected exactly one office window, got %#v", out)
	}
	sl := windows[0].Start.In(loc)
	if sl.Hour() != 9 || sl.Minute() != 0 {
		t.Errorf("window start local = %v, want 09:00", sl)
	}
}
