package pack

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FFmpeg packages audio by shelling out to ffmpeg: concat the raw WAVs
// with the concat demuxer, re-encode to Opus and split into fixed-length
// Ogg chunks in one pass.
type FFmpeg struct {
	// BitrateKbps defaults to 32, plenty for speech.
	BitrateKbps int
}

var _ Packager = (*FFmpeg)(nil)

// Name implements Packager.
func (f *FFmpeg) Name() string { return "ffmpeg" }

// CheckAvailable verifies ffmpeg and ffprobe are on PATH.
func CheckAvailable() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return nil
}

// Package implements Packager.
func (f *FFmpeg) Package(ctx context.Context, wavPaths []string, outDir string, targetSeconds float64) ([]ChunkFile, error) {
	if len(wavPaths) == 0 {
		return nil, fmt.Errorf("no input files provided")
	}
	if targetSeconds <= 0 {
		return nil, fmt.Errorf("target chunk duration must be positive")
	}
	bitrate := f.BitrateKbps
	if bitrate <= 0 {
		bitrate = 32
	}

	// Concat list file; the demuxer requires escaped paths.
	listPath := filepath.Join(outDir, "concat.txt")
	var lines []string
	for _, p := range wavPaths {
		escaped := strings.ReplaceAll(p, "'", "'\\''")
		lines = append(lines, fmt.Sprintf("file '%s'", escaped))
	}
	if err := os.WriteFile(listPath, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return nil, fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listPath)

	pattern := filepath.Join(outDir, "%d.ogg")
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-f", "segment",
		"-segment_time", strconv.FormatFloat(targetSeconds, 'f', -1, 64),
		"-c:a", "libopus",
		"-b:a", fmt.Sprintf("%dk", bitrate),
		"-y",
		pattern,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}

	chunks, err := collectChunks(outDir)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		d, err := probeDuration(ctx, chunks[i].Path)
		if err != nil {
			return nil, err
		}
		chunks[i].DurationS = d
	}
	return chunks, nil
}

// collectChunks lists outDir's ogg files ordered and renumbered by the
// segment index ffmpeg assigned.
func collectChunks(outDir string) ([]ChunkFile, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var chunks []ChunkFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".ogg") {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimSuffix(name, ".ogg"))
		if err != nil {
			continue
		}
		chunks = append(chunks, ChunkFile{Seq: seq, Path: filepath.Join(outDir, name)})
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no chunks")
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Seq < chunks[j].Seq })
	for i := range chunks {
		if chunks[i].Seq != i {
			return nil, fmt.Errorf("chunk sequence has a gap at %d", i)
		}
	}
	return chunks, nil
}

// probeDuration returns an audio file's duration in seconds via ffprobe.
func probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration for %s: %w", path, err)
	}
	return d, nil
}
