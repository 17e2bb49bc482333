package blob

import (
	"fmt"

	"github.com/epicrunze/evocable/internal/types"
)

// Artifact path conventions. Every artifact of a book lives under the
// book id prefix, so deletion is a single DeletePrefix(book_id).

// SourcePath is the raw uploaded document.
func SourcePath(bookID string, format types.Format) string {
	return fmt.Sprintf("%s/source.%s", bookID, format)
}

// TextPath is the extracted UTF-8 text.
func TextPath(bookID string) string {
	return bookID + "/text.txt"
}

// SegmentManifestPath lists how many segments the segmenter produced.
func SegmentManifestPath(bookID string) string {
	return bookID + "/segments/manifest.json"
}

// SegmentPath is one marked segment.
func SegmentPath(bookID string, idx int) string {
	return fmt.Sprintf("%s/segments/%d.mark", bookID, idx)
}

// RawAudioPath is one synthesized intermediate WAV.
func RawAudioPath(bookID string, idx int) string {
	return fmt.Sprintf("%s/raw/%d.wav", bookID, idx)
}

// ChunkPath is one final packaged audio chunk.
func ChunkPath(bookID string, seq int) string {
	return fmt.Sprintf("%s/chunks/%d.ogg", bookID, seq)
}

// BookPrefix is the prefix owning every artifact of a book.
func BookPrefix(bookID string) string {
	return bookID + "/"
}
