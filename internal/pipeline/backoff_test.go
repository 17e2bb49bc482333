package pipeline

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("bounds per attempt", func(t *testing.T) {
		cases := []struct {
			attempt int
			nominal time.Duration
		}{
			{0, time.Second},
			{1, 2 * time.Second},
			{2, 4 * time.Second},
			{5, 32 * time.Second},
			{20, 5 * time.Minute}, // capped
		}
		for _, tc := range cases {
			for i := 0; i < 50; i++ {
				d := Backoff(tc.attempt)
				lo := time.Duration(float64(tc.nominal) * 0.75)
				hi := time.Duration(float64(tc.nominal) * 1.25)
				if d < lo || d > hi {
					t.Fatalf("Backoff(%d) = %v, want within [%v, %v]", tc.attempt, d, lo, hi)
				}
			}
		}
	})

	t.Run("never negative", func(t *testing.T) {
		for attempt := 0; attempt < 64; attempt++ {
			if d := Backoff(attempt); d < 0 {
				t.Fatalf("Backoff(%d) = %v", attempt, d)
			}
		}
	})
}
