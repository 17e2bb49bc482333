package audio

import (
	"bytes"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	pcm := make([]byte, 4800)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	encoded := EncodeWAV(pcm, 24000)
	got, rate, err := DecodeWAV(encoded)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 24000 {
		t.Errorf("sample rate = %d, want 24000", rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Error("decoded PCM differs from input")
	}
}

func TestDecodeWAVRejects(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"not riff":  []byte("JUNKJUNKJUNKJUNKJUNKJUNKJUNKJUNKJUNKJUNKJUNK"),
		"truncated": EncodeWAV(make([]byte, 100), 24000)[:20],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := DecodeWAV(data); err == nil {
				t.Error("DecodeWAV accepted malformed input")
			}
		})
	}

	t.Run("stereo", func(t *testing.T) {
		data := EncodeWAV(make([]byte, 100), 24000)
		data[22] = 2 // channel count
		if _, _, err := DecodeWAV(data); err == nil {
			t.Error("DecodeWAV accepted stereo input")
		}
	})
}

func TestDuration(t *testing.T) {
	// One second of 16-bit mono at 24 kHz is 48000 bytes.
	if d := Duration(make([]byte, 48000), 24000); d != 1.0 {
		t.Errorf("Duration = %v, want 1.0", d)
	}
	if d := Duration(nil, 24000); d != 0 {
		t.Errorf("Duration(nil) = %v, want 0", d)
	}
}

func TestFrameCount(t *testing.T) {
	if n := FrameCount(1.0, 24000); n != 48000 {
		t.Errorf("FrameCount(1s) = %d, want 48000", n)
	}
	// Always whole frames.
	if n := FrameCount(0.33333, 24000); n%2 != 0 {
		t.Errorf("FrameCount = %d, not frame aligned", n)
	}
}
