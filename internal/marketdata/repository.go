// Package marketdata loads closing prices and turns them into aligned return panels.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/egp/internal/contracts"
)

// PriceRepository implements contracts.PriceRepository on PostgreSQL
// ⭐ SSOT: 가격 데이터 조회는 여기서만
type PriceRepository struct {
	pool *pgxpool.Pool
}

var _ contracts.PriceRepository = (*PriceRepository)(nil)

// NewPriceRepository creates a new price repository
func NewPriceRepository(pool *pgxpool.Pool) *PriceRepository {
	return &PriceRepository{pool: pool}
}

const assetPricesQuery = `
	SELECT trade_date, close_price
	FROM data.daily_prices
	WHERE stock_code = $1 AND trade_date BETWEEN $2 AND $3
	  AND close_price IS NOT NULL
	ORDER BY trade_date ASC
`

const indexPricesQuery = `
	SELECT trade_date, close_price
	FROM data.index_prices
	WHERE index_code = $1 AND trade_date BETWEEN $2 AND $3
	  AND close_price IS NOT NULL
	ORDER BY trade_date ASC
`

// AssetPrices retrieves closes for a stock within [from, to]
func (r *PriceRepository) AssetPrices(ctx context.Context, code string, from, to time.Time) ([]contracts.PricePoint, error) {
	points, err := r.queryPoints(ctx, assetPricesQuery, code, from, to)
	if err != nil {
		return nil, fmt.Errorf("load prices for %s: %w", code, err)
	}
	return points, nil
}

// IndexPrices retrieves closes for a market index within [from, to]
func (r *PriceRepository) IndexPrices(ctx context.Context, index string, from, to time.Time) ([]contracts.PricePoint, error) {
	points, err := r.queryPoints(ctx, indexPricesQuery, index, from, to)
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", index, err)
	}
	return points, nil
}

func (r *PriceRepository) queryPoints(ctx context.Context, query, code string, from, to time.Time) ([]contracts.PricePoint, error) {
	rows, err := r.pool.Query(ctx, query, code, from, to)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (contracts.PricePoint, error) {
		var p contracts.PricePoint
		err := row.Scan(&p.Date, &p.Close)
		return p, err
	})
}
