package util

import (
	"fmt"
	"time"
)

// FormatElapsed renders an idle or uptime duration the way Hotline user
// info shows it: "1d:02h:03m:04s", "02h:03m:04s" or "4 seconds".
func FormatElapsed(d time.Duration) string {
	days, hours, mins, secs := Uptime(d)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd:%02dh:%02dm:%02ds", days, hours, mins, secs)
	case hours > 0 || mins > 0:
		return fmt.Sprintf("%02dh:%02dm:%02ds", hours, mins, secs)
	}
	return fmt.Sprintf("%d seconds", secs)
}

// Uptime splits a duration into days, hours, minutes and seconds.
// Negative durations count as zero.
func Uptime(d time.Duration) (days, hours, mins, secs int64) {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	days = total / 86400
	total -= days * 86400
	hours = total / 3600
	total -= hours * 3600
	mins = total / 60
	secs = total - mins*60
	return days, hours, mins, secs
}
