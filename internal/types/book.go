// Package types provides shared types used across multiple packages.
// This package has no dependencies on other evocable packages to avoid import cycles.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Format identifies the source document format of a book.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatEPUB Format = "epub"
	FormatTXT  Format = "txt"
)

// ParseFormat converts a string to a Format.
// Returns an error for anything outside {pdf, epub, txt}.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPDF, FormatEPUB, FormatTXT:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported format %q (supported: pdf, epub, txt)", s)
	}
}

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	switch f {
	case FormatPDF, FormatEPUB, FormatTXT:
		return true
	}
	return false
}

// State is a book's position in the processing pipeline.
type State string

const (
	StatePending      State = "pending"
	StateExtracting   State = "extracting"
	StateSegmenting   State = "segmenting"
	StateSynthesizing State = "synthesizing"
	StatePackaging    State = "packaging"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateExtracting, StateSegmenting, StateSynthesizing,
		StatePackaging, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Book is the top-level work unit: one user-submitted document being
// processed into audio.
type Book struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Title           string    `json:"title"`
	Format          Format    `json:"format"`
	State           State     `json:"state"`
	PercentComplete int       `json:"percent_complete"`
	TotalChunks     *int      `json:"total_chunks,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Chunk is one audio segment of a completed book.
// (BookID, Seq) is the unique key; Seq values are contiguous from 0.
type Chunk struct {
	BookID    string    `json:"book_id"`
	Seq       int       `json:"seq"`
	DurationS float64   `json:"duration_s"`
	ByteSize  int64     `json:"byte_size"`
	BlobPath  string    `json:"blob_path"`
	Checksum  uint64    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Owner is a principal that owns books. Registration lives outside the
// core; the store only resolves tokens to owner ids.
type Owner struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// NewID returns a fresh 128-bit identifier for books and owners.
func NewID() string {
	return uuid.NewString()
}
