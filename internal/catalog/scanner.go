package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"catalogwatch/internal/config"
	"catalogwatch/pkg/types"
)

// ErrStoreUnavailable reports that the persistent store could not be
// reached for the entire scan.
var ErrStoreUnavailable = errors.New("persistent store unreachable for the whole scan")

// Engine drives one catalog scan end to end: normalize, match, classify,
// snapshot, and detect price changes.
type Engine struct {
	cfg    config.Config
	stores Stores
	logger *slog.Logger

	normalizer *Normalizer
	limiter    *QueryLimiter
	profiles   *ProfileManager
	snapshot   *SnapshotLog
	detector   *PriceChangeDetector
}

// NewEngine builds a scan engine from configuration.
func NewEngine(cfg config.Config, stores Stores, logger *slog.Logger) (*Engine, error) {
	if stores == nil {
		return nil, errors.New("engine requires stores")
	}
	if logger == nil {
		var err error
		logger, err = BuildLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
	}
	return &Engine{
		cfg:        cfg,
		stores:     stores,
		logger:     logger,
		normalizer: NewNormalizer(cfg.Matching.TrackingParams),
		limiter:    NewQueryLimiter(cfg.Scan.QueryRate),
		profiles:   NewProfileManager(stores, cfg.Matching, logger),
		snapshot:   NewSnapshotLog(stores, stores, logger),
		detector:   NewPriceChangeDetector(cfg.Scan.PriceChange),
	}, nil
}

// Profiles exposes the profile manager for recomputation endpoints.
func (e *Engine) Profiles() *ProfileManager {
	return e.profiles
}

// Scan classifies every entry of one retailer/category crawl. Entries are
// matched concurrently; classification of one entry never depends on
// another entry in the same scan. Per-entry store failures degrade that
// entry to confirmed_new; cancellation or a store outage spanning the
// whole scan fails the scan as a whole.
func (e *Engine) Scan(ctx context.Context, retailer, category string, scanType types.ScanType, entries []types.CatalogEntry) (*types.ScanReport, error) {
	retailer = strings.TrimSpace(retailer)
	if retailer == "" {
		return nil, errors.New("scan requires a retailer")
	}
	if scanType == "" {
		scanType = types.ScanTypeMonitor
	}
	started := time.Now()
	report := &types.ScanReport{
		RunID:     uuid.NewString(),
		Retailer:  retailer,
		Category:  category,
		ScanType:  scanType,
		StartedAt: started,
	}
	logger := e.logger.With("run_id", report.RunID, "retailer", retailer, "category", category)

	if max := e.cfg.Scan.MaxEntries; len(entries) > max {
		logger.Warn("scan input truncated", "entries", len(entries), "max", max)
		entries = entries[:max]
	}

	normalized := e.normalizeAll(entries, report, logger)

	// The profile is read once and cached for the whole scan.
	profile := e.profiles.Load(ctx, retailer)
	cascade := NewCascade(e.cfg.Matching, e.stores, e.stores, profile, e.limiter, logger)

	classified, err := e.matchAll(ctx, cascade, normalized, logger)
	if err != nil {
		return nil, err
	}

	for _, c := range classified {
		switch c.Disposition {
		case types.ConfirmedExisting:
			report.Existing = append(report.Existing, c)
		case types.SuspectedDuplicate:
			report.Suspected = append(report.Suspected, c)
		default:
			report.New = append(report.New, c)
		}
	}

	report.Snapshots = e.snapshot.Record(ctx, classified, retailer, category, scanType)

	// Every entry degrading and zero snapshot rows committing means the
	// store was down for the whole scan, not that the catalog was new.
	if len(classified) > 0 && report.Snapshots == 0 && allDegraded(classified) {
		return nil, fmt.Errorf("scan %s: %w", report.RunID, ErrStoreUnavailable)
	}

	report.PriceChanges = e.detector.Detect(report.Existing, time.Now().UTC())
	if len(report.PriceChanges) > 0 {
		if err := e.stores.EnqueuePriceChanges(ctx, report.PriceChanges); err != nil {
			logger.Error("price change enqueue failed", "records", len(report.PriceChanges), "error", err)
		}
	}

	report.Duration = time.Since(started)
	logger.Info("scan complete",
		"entries", len(entries),
		"new", len(report.New),
		"suspected", len(report.Suspected),
		"existing", len(report.Existing),
		"rejected", len(report.Rejected),
		"price_changes", len(report.PriceChanges),
		"snapshots", report.Snapshots,
		"duration", report.Duration)
	return report, nil
}

func allDegraded(entries []types.ClassifiedEntry) bool {
	for _, c := range entries {
		if !c.Degraded {
			return false
		}
	}
	return true
}

// normalizeAll canonicalises the input, collecting rejects and collapsing
// duplicate URLs seen within the same scan.
func (e *Engine) normalizeAll(entries []types.CatalogEntry, report *types.ScanReport, logger *slog.Logger) []types.NormalizedEntry {
	seen := make(map[string]struct{}, len(entries))
	normalized := make([]types.NormalizedEntry, 0, len(entries))
	for _, raw := range entries {
		entry, err := e.normalizer.Normalize(raw)
		if err != nil {
			logger.Warn("entry rejected", "reason", err.Error())
			report.Rejected = append(report.Rejected, types.RejectedEntry{Entry: raw, Reason: err.Error()})
			continue
		}
		if _, dup := seen[entry.CleanURL]; dup {
			logger.Debug("duplicate entry collapsed", "url", entry.CleanURL)
			continue
		}
		seen[entry.CleanURL] = struct{}{}
		normalized = append(normalized, entry)
	}
	return normalized
}

// matchAll runs the cascade over all entries with a bounded worker pool.
func (e *Engine) matchAll(ctx context.Context, cascade *Cascade, entries []types.NormalizedEntry, logger *slog.Logger) ([]types.ClassifiedEntry, error) {
	classified := make([]types.ClassifiedEntry, len(entries))

	pool, err := NewWorkerPool(ctx, e.cfg.Worker.Concurrency, e.cfg.Worker.QueueSize)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	var wg sync.WaitGroup
	for i := range entries {
		i := i
		entry := entries[i]
		wg.Add(1)
		submitErr := pool.Submit(ctx, func(workerCtx context.Context) {
			defer wg.Done()
			classified[i] = e.matchOne(workerCtx, cascade, entry, logger)
		})
		if submitErr != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("scan cancelled: %w", submitErr)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return classified, nil
}

// matchOne classifies a single entry. A store failure mid-cascade degrades
// the entry to confirmed_new with a warning flag so downstream review can
// reconcile it; uncertainty is never allowed to promote an entry to
// confirmed_existing.
func (e *Engine) matchOne(ctx context.Context, cascade *Cascade, entry types.NormalizedEntry, logger *slog.Logger) types.ClassifiedEntry {
	result, err := cascade.Run(ctx, entry)
	if err != nil {
		logger.Warn("cascade degraded, classifying as new", "url", entry.SourceURL, "error", err)
		return types.ClassifiedEntry{
			Entry:       entry,
			Disposition: types.ConfirmedNew,
			Degraded:    true,
		}
	}
	classified := types.ClassifiedEntry{
		Entry:       entry,
		Disposition: Classify(result),
	}
	if result.Matched() {
		match := result
		classified.Match = &match
	}
	return classified
}

// BuildLogger constructs the engine logger from configuration.
func BuildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
