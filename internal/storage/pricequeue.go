package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogwatch/pkg/types"
)

// EnqueuePriceChanges appends detected changes to the priority update queue.
// The queue consumer owns cross-scan deduplication.
func (s *Store) EnqueuePriceChanges(ctx context.Context, records []types.PriceChangeRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialised")
	}
	if len(records) == 0 {
		return nil
	}
	query := `
        INSERT INTO price_changes
            (product_url, retailer, catalog_price, stored_price, price_difference, priority, detected_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	return s.retryUndefinedTable(ctx, func() error {
		for _, rec := range records {
			detected := rec.DetectedAt
			if detected.IsZero() {
				detected = time.Now().UTC()
			}
			if _, err := s.db.ExecContext(ctx, query,
				rec.ProductURL,
				rec.Retailer,
				rec.CatalogPrice,
				rec.StoredPrice,
				rec.PriceDifference,
				rec.Priority,
				detected,
			); err != nil {
				return fmt.Errorf("enqueue price change: %w", err)
			}
		}
		return nil
	})
}

// OpenPriceChanges lists unprocessed queue rows, highest priority first.
func (s *Store) OpenPriceChanges(ctx context.Context, retailer string, limit int) ([]types.PriceChangeRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialised")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	where := "NOT processed"
	args := []any{}
	if r := strings.TrimSpace(retailer); r != "" {
		args = append(args, r)
		where += fmt.Sprintf(" AND retailer = $%d", len(args))
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
        SELECT product_url, retailer, catalog_price, stored_price, price_difference, priority, detected_at
        FROM price_changes
        WHERE %s
        ORDER BY priority = 'high' DESC, detected_at DESC
        LIMIT $%d`, where, len(args))

	var records []types.PriceChangeRecord
	err := s.retryUndefinedTable(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		records = records[:0]
		for rows.Next() {
			var rec types.PriceChangeRecord
			if err := rows.Scan(
				&rec.ProductURL,
				&rec.Retailer,
				&rec.CatalogPrice,
				&rec.StoredPrice,
				&rec.PriceDifference,
				&rec.Priority,
				&rec.DetectedAt,
			); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list price changes: %w", err)
	}
	return records, nil
}
