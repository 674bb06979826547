package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDate parses the GTFS YYYYMMDD date format.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a YYYYMMDD date")
	}
	return t, nil
}

// ParseTime converts a GTFS HH:MM:SS value to seconds since midnight.
// Hours past 24 are legal: a 25:30:00 arrival on a post-midnight trip is
// 91800 seconds, not an error.
func ParseTime(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("not an HH:MM:SS time")
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || h < 0 {
		return 0, fmt.Errorf("bad hour %q", parts[0])
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute %q", parts[1])
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("bad second %q", parts[2])
	}
	return h*3600 + m*60 + sec, nil
}

// formatTime renders seconds since midnight back to HH:MM:SS, preserving
// hours past 24.
func formatTime(secs int) string {
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}
