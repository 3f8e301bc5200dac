// src/parsers/parser.go
package parsers

import (
	"io"

	"github.com/username/cryptotaxpl/src/models"
)

// Parser turns an uploaded trade file into trades. Rows that cannot be used are
// returned as rejected records; an error means the file as a whole is unreadable.
type Parser interface {
	Parse(file io.Reader) ([]models.Trade, []models.RejectedRecord, error)
}
