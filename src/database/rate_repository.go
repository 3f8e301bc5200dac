package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptotaxpl/src/models"
)

// RateRepository persists official exchange rates so past windows are fetched from NBP only once.
// Rates are stored as decimal strings.
type RateRepository struct {
	db *sql.DB
}

func NewRateRepository(db *sql.DB) *RateRepository {
	return &RateRepository{db: db}
}

// SaveRates upserts every entry of table.
func (r *RateRepository) SaveRates(ctx context.Context, table *models.RateTable) error {
	if table == nil || table.Len() == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO exchange_rates (currency, rate_date, rate, reporting_currency, table_no)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (currency, rate_date) DO UPDATE SET
			rate = excluded.rate,
			reporting_currency = excluded.reporting_currency,
			table_no = excluded.table_no`)
	if err != nil {
		return fmt.Errorf("prepare rate upsert: %w", err)
	}
	defer stmt.Close()

	for _, rate := range table.Rates() {
		if _, err := stmt.ExecContext(ctx,
			table.Currency,
			rate.RateDate.Format(models.DateLayout),
			rate.Rate.String(),
			rate.ReportingCurrency,
			rate.TableNo,
		); err != nil {
			return fmt.Errorf("store rate %s %s: %w", table.Currency, rate.RateDate.Format(models.DateLayout), err)
		}
	}
	return tx.Commit()
}

// LoadRates returns the stored rates of currency effective in [start, end].
func (r *RateRepository) LoadRates(ctx context.Context, currency string, start, end time.Time) (*models.RateTable, error) {
	currency = strings.ToUpper(currency)
	rows, err := r.db.QueryContext(ctx, `
		SELECT rate_date, rate, reporting_currency, table_no
		FROM exchange_rates
		WHERE currency = ? AND rate_date BETWEEN ? AND ?
		ORDER BY rate_date`,
		currency, start.Format(models.DateLayout), end.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("query rates for %s: %w", currency, err)
	}
	defer rows.Close()

	table := models.NewRateTable(currency)
	for rows.Next() {
		var dateStr, rateStr, reporting, tableNo string
		if err := rows.Scan(&dateStr, &rateStr, &reporting, &tableNo); err != nil {
			return nil, fmt.Errorf("scan rate row: %w", err)
		}
		date, err := models.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("stored rate date %q: %w", dateStr, err)
		}
		rate, err := decimal.NewFromString(rateStr)
		if err != nil {
			return nil, fmt.Errorf("stored rate %q for %s: %w", rateStr, dateStr, err)
		}
		if err := table.Add(models.ExchangeRate{
			RateDate:          date,
			Rate:              rate,
			Currency:          currency,
			ReportingCurrency: reporting,
			TableNo:           tableNo,
		}); err != nil {
			return nil, err
		}
	}
	return table, rows.Err()
}

// MarkWindowFetched records that NBP was queried for [start, end] so the window can be served locally.
func (r *RateRepository) MarkWindowFetched(ctx context.Context, currency string, start, end time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rate_windows (currency, start_date, end_date, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (currency, start_date, end_date) DO UPDATE SET fetched_at = excluded.fetched_at`,
		strings.ToUpper(currency), start.Format(models.DateLayout), end.Format(models.DateLayout), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record fetched window for %s: %w", currency, err)
	}
	return nil
}

// WindowFetched reports whether a single recorded window covers [start, end].
func (r *RateRepository) WindowFetched(ctx context.Context, currency string, start, end time.Time) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM rate_windows
		WHERE currency = ? AND start_date <= ? AND end_date >= ?`,
		strings.ToUpper(currency), start.Format(models.DateLayout), end.Format(models.DateLayout)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check fetched windows for %s: %w", currency, err)
	}
	return n > 0, nil
}
