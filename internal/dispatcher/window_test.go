package dispatcher

import (
	"testing"
	"time"
)

func weekdayWindow() Window {
	return Window{
		Days:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		StartHour: 9,
		EndHour:   18,
		Location:  time.UTC,
	}
}

func TestWindowContains(t *testing.T) {
	w := weekdayWindow()

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"weekday morning", time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC), true}, // Friday
		{"weekday start boundary", time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC), true},
		{"weekday end boundary excluded", time.Date(2026, 8, 28, 18, 0, 0, 0, time.UTC), false},
		{"weekday before start", time.Date(2026, 8, 28, 8, 59, 0, 0, time.UTC), false},
		{"saturday", time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC), false},
		{"sunday", time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := w.Contains(tc.at); got != tc.want {
				t.Fatalf("Contains(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestWindowTimezone(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	w := weekdayWindow()
	w.Location = madrid

	// 08:30 UTC on a summer Friday is 10:30 in Madrid: inside.
	if !w.Contains(time.Date(2026, 8, 28, 8, 30, 0, 0, time.UTC)) {
		t.Fatal("expected 10:30 local to be inside the window")
	}
	// 17:30 UTC is 19:30 in Madrid: outside.
	if w.Contains(time.Date(2026, 8, 28, 17, 30, 0, 0, time.UTC)) {
		t.Fatal("expected 19:30 local to be outside the window")
	}
}
