// src/parsers/factory.go
package parsers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/username/cryptotaxpl/src/parsers/binance"
	"github.com/username/cryptotaxpl/src/parsers/cryptohub"
	"github.com/username/cryptotaxpl/src/parsers/kraken"
)

var ErrUnknownSource = errors.New("no parser available for source")

// Sources lists the accepted values for GetParser.
var Sources = []string{"cryptohub", "kraken", "binance"}

// GetParser returns the parser for source. loc is the timezone of wall-clock
// times in files that do not state one.
func GetParser(source string, loc *time.Location) (Parser, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "cryptohub", "":
		return cryptohub.NewParser(loc), nil
	case "kraken":
		return kraken.NewParser(), nil
	case "binance":
		return binance.NewParser(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
}
