package synth

import (
	"context"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/epicrunze/evocable/internal/stages/audio"
)

// mockCharsPerSecond approximates audiobook narration pace.
const mockCharsPerSecond = 15.0

// Mock is a deterministic offline synthesizer: each text maps to a
// fixed-frequency tone whose length tracks the text length. Useful for
// tests and for running the pipeline without provider credentials.
type Mock struct {
	// SampleRate defaults to audio.DefaultSampleRate.
	SampleRate int
}

var _ Synthesizer = (*Mock)(nil)

// Name implements Synthesizer.
func (m *Mock) Name() string { return "mock" }

// Synthesize implements Synthesizer.
func (m *Mock) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rate := m.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}

	seconds := float64(len(text)) / mockCharsPerSecond
	if seconds < 0.1 {
		seconds = 0.1
	}

	// 200-600 Hz, stable per text.
	freq := 200 + float64(xxhash.Sum64String(text)%400)
	n := audio.FrameCount(seconds, rate)
	pcm := make([]byte, n)
	for i := 0; i < n/2; i++ {
		sample := int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		pcm[2*i] = byte(sample)
		pcm[2*i+1] = byte(sample >> 8)
	}
	return audio.EncodeWAV(pcm, rate), nil
}
