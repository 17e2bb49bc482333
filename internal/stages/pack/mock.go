package pack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/epicrunze/evocable/internal/stages/audio"
)

// Mock is a pure-Go packager: it concatenates the raw PCM and slices it
// into target-length pieces, writing each as a WAV payload under the
// .ogg chunk name. Chunk count, ordering and durations behave exactly
// like the real packager; only the codec differs. For tests and
// ffmpeg-less development.
type Mock struct{}

var _ Packager = (*Mock)(nil)

// Name implements Packager.
func (m *Mock) Name() string { return "mock" }

// Package implements Packager.
func (m *Mock) Package(ctx context.Context, wavPaths []string, outDir string, targetSeconds float64) ([]ChunkFile, error) {
	if len(wavPaths) == 0 {
		return nil, fmt.Errorf("no input files provided")
	}
	if targetSeconds <= 0 {
		return nil, fmt.Errorf("target chunk duration must be positive")
	}

	var (
		pcm  []byte
		rate int
	)
	for _, p := range wavPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		filePCM, fileRate, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", p, err)
		}
		if rate == 0 {
			rate = fileRate
		} else if rate != fileRate {
			return nil, fmt.Errorf("sample rate mismatch: %d vs %d in %s", rate, fileRate, p)
		}
		pcm = append(pcm, filePCM...)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("inputs contain no audio")
	}

	chunkBytes := audio.FrameCount(targetSeconds, rate)
	if chunkBytes <= 0 {
		return nil, fmt.Errorf("target duration too small for sample rate %d", rate)
	}

	var chunks []ChunkFile
	for seq, off := 0, 0; off < len(pcm); seq, off = seq+1, off+chunkBytes {
		end := min(off+chunkBytes, len(pcm))
		piece := pcm[off:end]

		path := filepath.Join(outDir, fmt.Sprintf("%d.ogg", seq))
		if err := os.WriteFile(path, audio.EncodeWAV(piece, rate), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write chunk %d: %w", seq, err)
		}
		chunks = append(chunks, ChunkFile{
			Seq:       seq,
			Path:      path,
			DurationS: audio.Duration(piece, rate),
		})
	}
	return chunks, nil
}
