package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"00:00:00", 0},
		{"08:30:15", 30615},
		{"24:00:00", 86400},
		{"25:30:00", 91800},
		{"47:59:59", 172799},
	}
	for _, c := range cases {
		got, err := ParseTime(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseTimeRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "8:30", "08:65:00", "08:00:75", "-1:00:00", "abc", "08:00:00:00"} {
		_, err := ParseTime(in)
		assert.Error(t, err, in)
	}
}

func TestFormatTimeRoundTrip(t *testing.T) {
	for _, secs := range []int{0, 30615, 86400, 91800} {
		got, err := ParseTime(formatTime(secs))
		require.NoError(t, err)
		assert.Equal(t, secs, got)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("20260704")
	require.NoError(t, err)
	assert.Equal(t, "2026-07-04", d.Format("2006-01-02"))

	for _, in := range []string{"", "2026-07-04", "20261332", "4 July 2026"} {
		_, err := ParseDate(in)
		assert.Error(t, err, in)
	}
}
