package catalog

import (
	"math"
	"time"

	"catalogwatch/internal/config"
	"catalogwatch/pkg/types"
)

// PriceChangeDetector compares catalog prices against the stored price of
// matched products. It only sees entries already classified
// confirmed_existing.
type PriceChangeDetector struct {
	cfg config.PriceChangeConfig
}

// NewPriceChangeDetector builds a detector with the configured tolerance.
func NewPriceChangeDetector(cfg config.PriceChangeConfig) *PriceChangeDetector {
	return &PriceChangeDetector{cfg: cfg}
}

// Detect emits one change record per diverging entry. Within one scan each
// product URL yields at most one record; cross-scan deduplication belongs to
// the queue consumer.
func (d *PriceChangeDetector) Detect(existing []types.ClassifiedEntry, now time.Time) []types.PriceChangeRecord {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	seen := make(map[string]struct{}, len(existing))
	var records []types.PriceChangeRecord
	for _, entry := range existing {
		if entry.Disposition != types.ConfirmedExisting {
			continue
		}
		if entry.Match == nil || entry.Match.Product == nil || entry.Entry.Price == nil {
			continue
		}
		product := entry.Match.Product
		if _, dup := seen[product.URL]; dup {
			continue
		}
		catalogPrice := *entry.Entry.Price
		diff := catalogPrice - product.Price
		if math.Abs(diff) < d.cfg.Tolerance {
			continue
		}
		seen[product.URL] = struct{}{}
		priority := types.PriorityNormal
		if math.Abs(diff) > d.cfg.HighPriorityDelta {
			priority = types.PriorityHigh
		}
		records = append(records, types.PriceChangeRecord{
			ProductURL:      product.URL,
			Retailer:        entry.Entry.Retailer,
			CatalogPrice:    catalogPrice,
			StoredPrice:     product.Price,
			PriceDifference: diff,
			Priority:        priority,
			DetectedAt:      now,
		})
	}
	return records
}
