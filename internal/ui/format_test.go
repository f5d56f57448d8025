package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		input uint64
		want  string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1000, "1.0 kB"},
		{108_100_000_000, "108.1 GB"},
		{14_000_000_000_000, "14.0 TB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatSize(tt.input))
		})
	}
}

func TestPercentFraction(t *testing.T) {
	assert.InDelta(t, 0.45, PercentFraction("45%"), 1e-9)
	assert.InDelta(t, 1.0, PercentFraction(" 100% "), 1e-9)
	assert.Zero(t, PercentFraction(""))
	assert.Zero(t, PercentFraction("n/a"))
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "▪▪▪▪▪□□□□□", ProgressBar(0.5, 10))
	assert.Equal(t, "□□□□□□□□□□", ProgressBar(0, 10))
	assert.Equal(t, "▪▪▪▪▪▪▪▪▪▪", ProgressBar(1.0, 10))

	assert.Equal(t, "", ProgressBar(0.5, 0))
	assert.Equal(t, "▪▪▪▪▪▪▪▪▪▪", ProgressBar(1.5, 10))
	assert.Equal(t, "□□□□", ProgressBar(-1, 4))
}

func TestBusIndicator(t *testing.T) {
	assert.Equal(t, "▪▪□", BusIndicator(2, 3))
	assert.Equal(t, "□□□□", BusIndicator(0, 4))
	assert.Equal(t, "", BusIndicator(0, 0))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "30s", FormatDuration(30*time.Second))
	assert.Equal(t, "3m 17s", FormatDuration(3*time.Minute+17*time.Second))
	assert.Equal(t, "1h 02m 03s", FormatDuration(1*time.Hour+2*time.Minute+3*time.Second))
}
