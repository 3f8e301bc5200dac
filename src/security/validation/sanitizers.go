// src/security/validation/sanitizers.go
package validation

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var strictHTMLPolicy = bluemonday.StrictPolicy()

// SanitizeText strips HTML and unprintable characters from free text coming
// from uploaded files or exchange APIs.
func SanitizeText(s string) string {
	// StrictPolicy escapes what it keeps; the text is stored and exported raw.
	return strings.TrimSpace(html.UnescapeString(strictHTMLPolicy.Sanitize(StripUnprintable(s))))
}

// SanitizeForFormulaInjection prepends a single quote if the string starts with a formula character,
// so spreadsheet software treats the cell as text. Apply it to text cells only, never to numbers.
func SanitizeForFormulaInjection(s string) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 {
		return s
	}
	switch trimmed[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

// StripUnprintable removes non-printable characters, keeping tabs and line breaks.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		return -1
	}, s)
}
