package catalog

import (
	"context"
	"log/slog"
	"time"

	"catalogwatch/internal/storage"
	"catalogwatch/pkg/types"
)

// SnapshotLog appends one baseline row per crawled entry per scan,
// regardless of disposition, and records match feedback for profile
// learning. The log is strictly append-only: re-running a scan adds rows,
// never mutates prior ones.
type SnapshotLog struct {
	baseline BaselineStore
	profiles ProfileStore
	logger   *slog.Logger
}

// NewSnapshotLog wires the log over the baseline and profile stores.
func NewSnapshotLog(baseline BaselineStore, profiles ProfileStore, logger *slog.Logger) *SnapshotLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotLog{baseline: baseline, profiles: profiles, logger: logger}
}

// Record writes snapshot rows for every classified entry. A failed row is
// logged and skipped; the batch never aborts. Returns the count written.
func (l *SnapshotLog) Record(ctx context.Context, entries []types.ClassifiedEntry, retailer, category string, scanType types.ScanType) int {
	now := time.Now().UTC()
	day := now.Format("2006-01-02")
	written := 0
	for _, classified := range entries {
		if ctx.Err() != nil {
			break
		}
		e := classified.Entry
		row := types.BaselineEntry{
			CatalogURL:     e.CleanURL,
			Retailer:       retailer,
			Category:       category,
			Title:          e.Title,
			Price:          e.Price,
			ProductCode:    e.ProductCode,
			ImageURLs:      e.ImageURLs,
			Fingerprint:    storage.Fingerprint(retailer, e.CleanURL, e.Title, day),
			DiscoveredDate: now,
			ScanType:       scanType,
		}
		if err := l.baseline.InsertBaseline(ctx, row); err != nil {
			l.logger.Warn("snapshot row write failed, skipping", "url", e.CleanURL, "error", err)
			continue
		}
		written++
	}

	if obs := l.collectObservations(entries, retailer, now); len(obs) > 0 {
		if err := l.profiles.RecordLinkObservations(ctx, obs); err != nil {
			l.logger.Warn("link observation write failed", "retailer", retailer, "error", err)
		}
	}
	return written
}

// collectObservations turns completed product links into learning feedback:
// whether the catalog URL diverged from the linked URL (a proxy for URL
// volatility) and whether image URLs still line up.
func (l *SnapshotLog) collectObservations(entries []types.ClassifiedEntry, retailer string, now time.Time) []types.LinkObservation {
	var observations []types.LinkObservation
	for _, classified := range entries {
		if classified.Match == nil || classified.Match.Product == nil {
			continue
		}
		product := classified.Match.Product
		e := classified.Entry
		imagesMatch := true
		if len(e.ImageURLs) > 0 && len(product.ImageURLs) > 0 {
			imagesMatch = imageOverlapRatio(e.ImageURLs, product.ImageURLs) >= 0.5
		}
		observations = append(observations, types.LinkObservation{
			Retailer:       retailer,
			CatalogURL:     e.CleanURL,
			LinkedURL:      product.URL,
			URLChanged:     stripQuery(e.CleanURL) != stripQuery(product.URL),
			ImageURLsMatch: imagesMatch,
			ObservedAt:     now,
		})
	}
	return observations
}
