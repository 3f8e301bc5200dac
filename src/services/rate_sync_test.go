package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptotaxpl/src/models"
)

type recordingProvider struct {
	stubRates
	failFor string
	windows []string
}

func (r *recordingProvider) GetExchangeRates(ctx context.Context, ccy string, start, end time.Time) (*models.RateTable, error) {
	r.windows = append(r.windows, ccy+" "+start.Format(models.DateLayout)+" "+end.Format(models.DateLayout))
	if ccy == r.failFor {
		return nil, errors.New("upstream down")
	}
	return models.NewRateTable(ccy), nil
}

func TestRateSyncOnce(t *testing.T) {
	provider := &recordingProvider{failFor: "USD"}
	s := NewRateSyncScheduler(context.Background(), provider, []string{"EUR", "USD", "PLN", "CHF"}, time.UTC, quietLogger())
	s.now = func() time.Time { return time.Date(2025, 2, 10, 3, 0, 0, 0, time.UTC) }

	synced := s.SyncOnce(context.Background())

	assert.Equal(t, 2, synced)
	assert.Equal(t, []string{
		"EUR 2024-01-01 2025-02-09",
		"USD 2024-01-01 2025-02-09",
		"CHF 2024-01-01 2025-02-09",
	}, provider.windows)
}

func TestRateSyncSchedule(t *testing.T) {
	s := NewRateSyncScheduler(context.Background(), &recordingProvider{}, []string{"EUR"}, time.UTC, quietLogger())

	_, err := s.Schedule("30 6 * * 1-5")
	require.NoError(t, err)

	_, err = s.Schedule("every tuesday")
	require.Error(t, err)

	s.Start()
	s.Stop()
}
