// Package csvutil holds the header and number handling shared by the trade CSV parsers.
package csvutil

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrMissingColumn = errors.New("missing required column")

func NewReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return reader
}

// Header maps normalized column names to their position.
type Header map[string]int

func normalize(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	return strings.ToLower(strings.TrimSpace(name))
}

// ReadHeader consumes the first record and checks that every required column is present.
func ReadHeader(reader *csv.Reader, required ...string) (Header, error) {
	record, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	h := make(Header, len(record))
	for i, name := range record {
		h[normalize(name)] = i
	}
	var missing []string
	for _, r := range required {
		if _, ok := h[normalize(r)]; !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return h, nil
}

func (h Header) Has(name string) bool {
	_, ok := h[normalize(name)]
	return ok
}

// Get returns the trimmed value of a column, or "" when the row is short or the column unknown.
func (h Header) Get(record []string, name string) string {
	i, ok := h[normalize(name)]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// ParseDecimal accepts plain decimals as well as a comma decimal separator ("4,3211").
// A single comma followed by exactly three digits ("1,000") could be a thousands
// separator and is rejected. Empty input is an error; callers decide whether a column
// is optional.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return decimal.Zero, errors.New("empty number")
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		if ambiguousComma(s) {
			return decimal.Zero, fmt.Errorf("ambiguous number %q, comma may be a thousands separator", s)
		}
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q", s)
	}
	return d, nil
}

func ambiguousComma(s string) bool {
	if strings.Count(s, ",") != 1 {
		return false
	}
	frac := s[strings.Index(s, ",")+1:]
	if len(frac) != 3 {
		return false
	}
	for _, r := range frac {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// RowHash derives a stable identifier for rows that carry no trade id of their own.
func RowHash(fields ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(hash[:])[:16]
}
