package endpoints

import (
	"time"

	"github.com/epicrunze/evocable/internal/types"
)

// BookResponse is the wire form of a book.
type BookResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Format          string    `json:"format"`
	State           string    `json:"state"`
	PercentComplete int       `json:"percent_complete"`
	TotalChunks     *int      `json:"total_chunks,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func bookResponse(b *types.Book) BookResponse {
	return BookResponse{
		ID:              b.ID,
		Title:           b.Title,
		Format:          string(b.Format),
		State:           string(b.State),
		PercentComplete: b.PercentComplete,
		TotalChunks:     b.TotalChunks,
		ErrorMessage:    b.ErrorMessage,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}
