package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1536, "1.5 KB"},
		{40 * 1024 * 1024, "40.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bytes(tt.in), tt.in)
	}
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "1,234,567", Number(1234567))
	assert.Equal(t, "12", Number(12))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, "45.7%", Percentage(45.678, 1))
	assert.Equal(t, "100%", Percentage(100, 0))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "0s", Duration(0))
	assert.Equal(t, "250ms", Duration(250*time.Millisecond))
	assert.Equal(t, "1.53s", Duration(1530*time.Millisecond))
	assert.Equal(t, "2m5s", Duration(125*time.Second+300*time.Millisecond))
}

func TestCronDescription(t *testing.T) {
	tests := map[string]string{
		"*/30 * * * * *": "Every 30 seconds",
		"0 */5 * * * *":  "Every 5 minutes",
		"0 * * * * *":    "Every minute",
		"0 0 * * * *":    "Every hour",
		"0 15 * * * *":   "Every hour at minute 15",
		"0 0 */6 * * *":  "Every 6 hours",
		"0 30 2 * * *":   "Daily at 02:30",
		"0 0 0 1 * *":    "0 0 0 1 * *",
		"@hourly":        "@hourly",
	}
	for expr, want := range tests {
		assert.Equal(t, want, CronDescription(expr), expr)
	}
}
