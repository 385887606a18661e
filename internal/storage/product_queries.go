package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	pq "github.com/lib/pq"

	"catalogwatch/pkg/types"
)

const productColumns = `url, retailer, title, price, product_code, image_urls, first_seen, last_updated`

// ProductByURL returns the tracked product with exactly this URL, or nil.
func (s *Store) ProductByURL(ctx context.Context, rawURL string) (*types.ProductRecord, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE url = $1`
	return s.scanOneProduct(ctx, query, rawURL)
}

// ProductByNormalizedURL compares URLs with the query string removed and the
// trailing slash trimmed, which absorbs tracking-parameter churn.
func (s *Store) ProductByNormalizedURL(ctx context.Context, retailer, normURL string) (*types.ProductRecord, error) {
	query := `
        SELECT ` + productColumns + ` FROM products
        WHERE retailer = $1
          AND rtrim(split_part(url, '?', 1), '/') = $2
        LIMIT 1`
	return s.scanOneProduct(ctx, query, retailer, normURL)
}

// ProductByCode returns the product carrying this retailer-issued code.
func (s *Store) ProductByCode(ctx context.Context, retailer, code string) (*types.ProductRecord, error) {
	query := `
        SELECT ` + productColumns + ` FROM products
        WHERE retailer = $1 AND product_code = $2 AND product_code <> ''
        LIMIT 1`
	return s.scanOneProduct(ctx, query, retailer, code)
}

// ProductByTitlePrice matches on case-folded title equality and price within
// a cent of the stored value.
func (s *Store) ProductByTitlePrice(ctx context.Context, retailer, titleFold string, price float64) (*types.ProductRecord, error) {
	query := `
        SELECT ` + productColumns + ` FROM products
        WHERE retailer = $1
          AND lower(btrim(title)) = $2
          AND abs(price - $3) <= 0.01
        LIMIT 1`
	return s.scanOneProduct(ctx, query, retailer, titleFold, price)
}

// CandidateProducts returns up to limit products of the retailer inside the
// given price band, the pre-filter for the fuzzy title strategy.
func (s *Store) CandidateProducts(ctx context.Context, retailer string, priceLow, priceHigh float64, limit int) ([]types.ProductRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
        SELECT ` + productColumns + ` FROM products
        WHERE retailer = $1 AND price >= $2 AND price <= $3
        ORDER BY price
        LIMIT $4`
	return s.scanProducts(ctx, query, retailer, priceLow, priceHigh, limit)
}

// ProductsWithImages returns products of the retailer that carry at least
// one image URL and sit inside the price window, for the image-overlap
// strategy.
func (s *Store) ProductsWithImages(ctx context.Context, retailer string, priceLow, priceHigh float64, limit int) ([]types.ProductRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
        SELECT ` + productColumns + ` FROM products
        WHERE retailer = $1
          AND cardinality(image_urls) > 0
          AND price >= $2 AND price <= $3
        ORDER BY price
        LIMIT $4`
	return s.scanProducts(ctx, query, retailer, priceLow, priceHigh, limit)
}

func (s *Store) scanOneProduct(ctx context.Context, query string, args ...any) (*types.ProductRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialised")
	}
	var record types.ProductRecord
	err := s.retryUndefinedTable(ctx, func() error {
		row := s.db.QueryRowContext(ctx, query, args...)
		return scanProduct(row, &record)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &record, nil
}

func (s *Store) scanProducts(ctx context.Context, query string, args ...any) ([]types.ProductRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialised")
	}
	var records []types.ProductRecord
	err := s.retryUndefinedTable(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		records = records[:0]
		for rows.Next() {
			var record types.ProductRecord
			if err := scanProduct(rows, &record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, record *types.ProductRecord) error {
	var images pq.StringArray
	if err := row.Scan(
		&record.URL,
		&record.Retailer,
		&record.Title,
		&record.Price,
		&record.ProductCode,
		&images,
		&record.FirstSeen,
		&record.LastUpdated,
	); err != nil {
		return err
	}
	record.ImageURLs = []string(images)
	return nil
}
