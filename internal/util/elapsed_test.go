package util

import (
	"testing"
	"time"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 seconds"},
		{-time.Second, "0 seconds"},
		{42 * time.Second, "42 seconds"},
		{time.Minute, "00h:01m:00s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01h:02m:03s"},
		{2 * time.Hour, "02h:00m:00s"},
		{27*time.Hour + 5*time.Second, "1d:03h:00m:05s"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.in); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUptime(t *testing.T) {
	d := 2*24*time.Hour + 3*time.Hour + 4*time.Minute + 5*time.Second
	days, hours, mins, secs := Uptime(d)
	if days != 2 || hours != 3 || mins != 4 || secs != 5 {
		t.Fatalf("Uptime(%v) = %d %d %d %d", d, days, hours, mins, secs)
	}
}
