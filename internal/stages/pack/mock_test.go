package pack

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/epicrunze/evocable/internal/stages/audio"
)

// writeWAV drops a WAV of the given duration into dir and returns its path.
func writeWAV(t *testing.T, dir, name string, seconds float64, rate int) string {
	t.Helper()
	pcm := make([]byte, audio.FrameCount(seconds, rate))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, audio.EncodeWAV(pcm, rate), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestMockPackage(t *testing.T) {
	ctx := context.Background()
	m := &Mock{}
	rate := audio.DefaultSampleRate

	t.Run("slices into target-length chunks", func(t *testing.T) {
		dir := t.TempDir()
		inputs := []string{
			writeWAV(t, dir, "0.wav", 2.0, rate),
			writeWAV(t, dir, "1.wav", 2.0, rate),
			writeWAV(t, dir, "2.wav", 1.0, rate),
		}
		outDir := filepath.Join(dir, "out")
		os.Mkdir(outDir, 0o755)

		chunks, err := m.Package(ctx, inputs, outDir, 2.0)
		if err != nil {
			t.Fatalf("Package: %v", err)
		}
		// 5 seconds total at a 2 second target: 2 + 2 + 1.
		if len(chunks) != 3 {
			t.Fatalf("got %d chunks, want 3", len(chunks))
		}
		for i, c := range chunks {
			if c.Seq != i {
				t.Errorf("chunk %d has seq %d", i, c.Seq)
			}
		}
		if chunks[0].DurationS != 2.0 || chunks[1].DurationS != 2.0 {
			t.Errorf("full chunk durations = %v, %v; want 2.0", chunks[0].DurationS, chunks[1].DurationS)
		}
		if chunks[2].DurationS != 1.0 {
			t.Errorf("tail chunk duration = %v, want 1.0", chunks[2].DurationS)
		}
	})

	t.Run("chunk files are decodable and sum to input", func(t *testing.T) {
		dir := t.TempDir()
		inputs := []string{writeWAV(t, dir, "0.wav", 3.5, rate)}
		outDir := filepath.Join(dir, "out")
		os.Mkdir(outDir, 0o755)

		chunks, err := m.Package(ctx, inputs, outDir, 1.0)
		if err != nil {
			t.Fatalf("Package: %v", err)
		}
		var total float64
		for _, c := range chunks {
			data, err := os.ReadFile(c.Path)
			if err != nil {
				t.Fatalf("read chunk %d: %v", c.Seq, err)
			}
			pcm, gotRate, err := audio.DecodeWAV(data)
			if err != nil {
				t.Fatalf("chunk %d not decodable: %v", c.Seq, err)
			}
			if gotRate != rate {
				t.Errorf("chunk %d rate = %d, want %d", c.Seq, gotRate, rate)
			}
			total += audio.Duration(pcm, rate)
		}
		if total != 3.5 {
			t.Errorf("chunks sum to %vs, want 3.5s", total)
		}
	})

	t.Run("single short input yields one chunk", func(t *testing.T) {
		dir := t.TempDir()
		inputs := []string{writeWAV(t, dir, "0.wav", 0.5, rate)}
		chunks, err := m.Package(ctx, inputs, dir, 10.0)
		if err != nil {
			t.Fatalf("Package: %v", err)
		}
		if len(chunks) != 1 {
			t.Fatalf("got %d chunks, want 1", len(chunks))
		}
		if chunks[0].DurationS != 0.5 {
			t.Errorf("duration = %v, want 0.5", chunks[0].DurationS)
		}
	})

	t.Run("sample rate mismatch rejected", func(t *testing.T) {
		dir := t.TempDir()
		inputs := []string{
			writeWAV(t, dir, "0.wav", 1.0, 24000),
			writeWAV(t, dir, "1.wav", 1.0, 22050),
		}
		if _, err := m.Package(ctx, inputs, dir, 2.0); err == nil {
			t.Error("Package accepted mixed sample rates")
		}
	})

	t.Run("bad inputs rejected", func(t *testing.T) {
		dir := t.TempDir()
		if _, err := m.Package(ctx, nil, dir, 2.0); err == nil {
			t.Error("Package accepted no inputs")
		}
		wav := writeWAV(t, dir, "0.wav", 1.0, rate)
		if _, err := m.Package(ctx, []string{wav}, dir, 0); err == nil {
			t.Error("Package accepted a zero target duration")
		}
	})
}
