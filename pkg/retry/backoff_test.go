package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextAttemptDelay(t *testing.T) {
	base := 30 * time.Second
	max := time.Hour

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "first attempt uses base delay", attempt: 1, want: 30 * time.Second},
		{name: "second attempt doubles", attempt: 2, want: time.Minute},
		{name: "third attempt doubles again", attempt: 3, want: 2 * time.Minute},
		{name: "fifth attempt", attempt: 5, want: 8 * time.Minute},
		{name: "large attempt is capped at max", attempt: 20, want: time.Hour},
		{name: "zero attempt is treated as first", attempt: 0, want: 30 * time.Second},
		{name: "negative attempt is treated as first", attempt: -3, want: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextAttemptDelay(tt.attempt, base, max))
		})
	}
}

func TestNextAttemptDelayMonotonic(t *testing.T) {
	base := time.Second
	max := 5 * time.Minute

	prev := time.Duration(0)
	for attempt := 1; attempt <= 30; attempt++ {
		delay := NextAttemptDelay(attempt, base, max)
		assert.GreaterOrEqual(t, delay, prev, "delay must not decrease at attempt %d", attempt)
		assert.LessOrEqual(t, delay, max)
		prev = delay
	}
	assert.Equal(t, max, prev)
}
