package condition

import (
	"testing"
	"time"
)

func at(hour, minute int, loc *time.Location) time.Time {
	return time.Date(2024, 3, 14, hour, minute, 0, 0, loc)
}

func TestTimeWindow_Wraparound(t *testing.T) {
	t.Parallel()

	w, err := ParseTimeWindow("22:00-06:00", time.UTC)
	if err != nil {
		t.Fatalf("ParseTimeWindow() error: %v", err)
	}

	tests := []struct {
		hour, minute int
		want         bool
	}{
		{23, 0, true},
		{2, 0, true},
		{12, 0, false},
		{22, 0, true},
		{5, 59, true},
		{6, 0, false},
		{21, 59, false},
		{0, 0, true},
	}
	for _, tt := range tests {
		attrs := Attributes{Timestamp: at(tt.hour, tt.minute, time.UTC)}
		if got := w.Match(attrs); got != tt.want {
			t.Errorf("Match(%02d:%02d) = %v, want %v", tt.hour, tt.minute, got, tt.want)
		}
	}
}

func TestTimeWindow_SameDay(t *testing.T) {
	t.Parallel()

	w, err := ParseTimeWindow(" 09:00 - 18:00 ", time.UTC)
	if err != nil {
		t.Fatalf("ParseTimeWindow() error: %v", err)
	}

	tests := []struct {
		hour, minute int
		want         bool
	}{
		{9, 0, true},
		{12, 30, true},
		{17, 59, true},
		{18, 0, false},
		{8, 59, false},
		{23, 0, false},
	}
	for _, tt := range tests {
		attrs := Attributes{Timestamp: at(tt.hour, tt.minute, time.UTC)}
		if got := w.Match(attrs); got != tt.want {
			t.Errorf("Match(%02d:%02d) = %v, want %v", tt.hour, tt.minute, got, tt.want)
		}
	}
	if got := w.Duration(); got != 9*time.Hour {
		t.Errorf("Duration() = %v, want %v", got, 9*time.Hour)
	}
}

func TestTimeWindow_ReferenceTimezone(t *testing.T) {
	t.Parallel()

	shanghai := time.FixedZone("CST", 8*60*60)
	w, err := ParseTimeWindow("09:00-18:00", shanghai)
	if err != nil {
		t.Fatalf("ParseTimeWindow() error: %v", err)
	}

	// 02:00 UTC is 10:00 in UTC+8.
	if !w.Match(Attributes{Timestamp: at(2, 0, time.UTC)}) {
		t.Error("Match(02:00 UTC) = false, want true in UTC+8")
	}
	// 12:00 UTC is 20:00 in UTC+8.
	if w.Match(Attributes{Timestamp: at(12, 0, time.UTC)}) {
		t.Error("Match(12:00 UTC) = true, want false in UTC+8")
	}
}

func TestTimeWindow_Malformed(t *testing.T) {
	t.Parallel()

	for _, value := range []string{
		"",
		"09:00",
		"9-17",
		"25:00-06:00",
		"09:60-10:00",
		"08:00-08:00",
		"aa:bb-cc:dd",
	} {
		if _, err := ParseTimeWindow(value, time.UTC); err == nil {
			t.Errorf("ParseTimeWindow(%q) error = nil, want error", value)
		}
	}
}

func TestTimeWindow_MissingTimestamp(t *testing.T) {
	t.Parallel()

	w, err := ParseTimeWindow("00:00-23:59", time.UTC)
	if err != nil {
		t.Fatalf("ParseTimeWindow() error: %v", err)
	}
	if w.Match(Attributes{}) {
		t.Error("Match() with zero timestamp = true, want false")
	}
}
