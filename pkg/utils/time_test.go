package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow(t *testing.T) {
	utilsTime := Now()
	standardTime := time.Now().UTC()

	assert.WithinDuration(t, standardTime, utilsTime, 10*time.Millisecond)
	assert.Equal(t, time.UTC, utilsTime.Location())
}

func TestFormatISO8601(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected string
	}{
		{
			name:     "UTC time",
			input:    time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
			expected: "2021-01-01T00:00:00Z",
		},
		{
			name:     "non-UTC time is converted to UTC",
			input:    time.Date(2021, 1, 1, 0, 0, 0, 0, time.FixedZone("EST", -5*60*60)),
			expected: "2021-01-01T05:00:00Z",
		},
		{
			name:     "sub-second precision truncated",
			input:    time.Date(2021, 1, 1, 0, 0, 0, 123000000, time.UTC),
			expected: "2021-01-01T00:00:00Z",
		},
		{
			name:     "zero time",
			input:    time.Time{},
			expected: "0001-01-01T00:00:00Z",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatISO8601(tc.input))
		})
	}
}
