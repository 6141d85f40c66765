package challenges

import (
	"strings"

	"finitefield.org/edu-storefront/internal/record"
)

// Challenge is a snapshot of a practice challenge as returned by the backend.
type Challenge struct {
	ID                string        `json:"id"`
	Title             string        `json:"title"`
	Description       string        `json:"description,omitempty"`
	Instructions      string        `json:"instructions,omitempty"`
	IsCompleted       bool          `json:"isCompleted"`
	GeneratedImageURL string        `json:"generatedImageUrl,omitempty"`
	Raw               record.Record `json:"-"`
}

// FromRecord maps a backend challenge record, accepting snake_case and camelCase spellings.
func FromRecord(rec record.Record) Challenge {
	return Challenge{
		ID:                rec.ID(),
		Title:             rec.String("title"),
		Description:       rec.String("description"),
		Instructions:      rec.String("instructions"),
		IsCompleted:       rec.Bool("is_completed", "isCompleted", "completed"),
		GeneratedImageURL: strings.TrimSpace(rec.String("generated_image_url", "generatedImageUrl")),
		Raw:               rec,
	}
}
