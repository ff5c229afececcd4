package fx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// RateRepository reads currency_rates from PostgreSQL.
type RateRepository struct {
	pool *pgxpool.Pool
}

// NewRateRepository constructs the repository.
func NewRateRepository(pool *pgxpool.Pool) *RateRepository {
	return &RateRepository{pool: pool}
}

// RateOn returns the latest rate effective on date, preferring company specific rows.
func (r *RateRepository) RateOn(ctx context.Context, companyID int64, currency string, date time.Time) (decimal.Decimal, bool, error) {
	var rate decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT rate FROM currency_rates
WHERE currency=$1 AND effective_on <= $3 AND (company_id=$2 OR company_id IS NULL)
ORDER BY company_id NULLS LAST, effective_on DESC
LIMIT 1`, currency, companyID, date).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	return rate, true, nil
}
