package utils

import (
	"fmt"
	"time"

	"github.com/username/cryptotaxpl/src/models"
)

// DefaultRateSpanDays is how far back a date range reaches when only its end is given.
const DefaultRateSpanDays = 30

// ParseDateRange reads an optional YYYY-MM-DD start and end. A missing end is
// yesterday relative to today, a missing start is DefaultRateSpanDays before the end.
func ParseDateRange(startStr, endStr string, today time.Time) (time.Time, time.Time, error) {
	end := today.AddDate(0, 0, -1)
	if endStr != "" {
		parsed, err := models.ParseDate(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q, expected YYYY-MM-DD", endStr)
		}
		end = parsed
	}
	start := end.AddDate(0, 0, -DefaultRateSpanDays)
	if startStr != "" {
		parsed, err := models.ParseDate(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q, expected YYYY-MM-DD", startStr)
		}
		start = parsed
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %s is after end date %s",
			start.Format(models.DateLayout), end.Format(models.DateLayout))
	}
	return start, end, nil
}
