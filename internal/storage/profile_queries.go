package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"catalogwatch/pkg/types"
)

// Profile returns the learned behaviour row for the retailer. A retailer
// with no history gets a fully trusting default so URL strategies run until
// evidence says otherwise.
func (s *Store) Profile(ctx context.Context, retailer string) (types.RetailerProfile, error) {
	if s == nil || s.db == nil {
		return types.RetailerProfile{}, errors.New("store not initialised")
	}
	profile := types.RetailerProfile{
		Retailer:            retailer,
		URLStabilityScore:   1.0,
		ImageURLsConsistent: true,
	}
	query := `
        SELECT url_stability_score, image_urls_consistent, preferred_strategy, sample_size, updated_at
        FROM retailer_behavior
        WHERE retailer = $1`
	var preferred string
	err := s.retryUndefinedTable(ctx, func() error {
		row := s.db.QueryRowContext(ctx, query, retailer)
		return row.Scan(
			&profile.URLStabilityScore,
			&profile.ImageURLsConsistent,
			&preferred,
			&profile.SampleSize,
			&profile.UpdatedAt,
		)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return profile, nil
		}
		return types.RetailerProfile{}, fmt.Errorf("query retailer profile: %w", err)
	}
	profile.PreferredStrategy = types.Strategy(preferred)
	return profile, nil
}

// UpsertProfile writes the single behaviour row for the retailer in place.
func (s *Store) UpsertProfile(ctx context.Context, profile types.RetailerProfile) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialised")
	}
	query := `
        INSERT INTO retailer_behavior
            (retailer, url_stability_score, image_urls_consistent, preferred_strategy, sample_size, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (retailer) DO UPDATE SET
            url_stability_score = EXCLUDED.url_stability_score,
            image_urls_consistent = EXCLUDED.image_urls_consistent,
            preferred_strategy = EXCLUDED.preferred_strategy,
            sample_size = EXCLUDED.sample_size,
            updated_at = EXCLUDED.updated_at`
	err := s.retryUndefinedTable(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			profile.Retailer,
			profile.URLStabilityScore,
			profile.ImageURLsConsistent,
			string(profile.PreferredStrategy),
			profile.SampleSize,
			time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert retailer profile: %w", err)
	}
	return nil
}

// RecordLinkObservations appends match-feedback rows. Individual failures
// abort the batch; callers treat this as advisory and log rather than fail
// the scan.
func (s *Store) RecordLinkObservations(ctx context.Context, observations []types.LinkObservation) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialised")
	}
	if len(observations) == 0 {
		return nil
	}
	query := `
        INSERT INTO link_observations
            (retailer, catalog_url, linked_url, url_changed, image_urls_match, observed_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	return s.retryUndefinedTable(ctx, func() error {
		for _, obs := range observations {
			observed := obs.ObservedAt
			if observed.IsZero() {
				observed = time.Now().UTC()
			}
			if _, err := s.db.ExecContext(ctx, query,
				obs.Retailer,
				obs.CatalogURL,
				obs.LinkedURL,
				obs.URLChanged,
				obs.ImageURLsMatch,
				observed,
			); err != nil {
				return fmt.Errorf("insert link observation: %w", err)
			}
		}
		return nil
	})
}

// LinkStats aggregates the most recent feedback rows for profile
// recomputation.
type LinkStats struct {
	Sample       int
	URLStable    int
	ImageMatches int
}

// RecentLinkStats summarises up to limit recent observations for the retailer.
func (s *Store) RecentLinkStats(ctx context.Context, retailer string, limit int) (LinkStats, error) {
	if s == nil || s.db == nil {
		return LinkStats{}, errors.New("store not initialised")
	}
	if limit <= 0 {
		limit = 500
	}
	query := `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE NOT url_changed),
               COUNT(*) FILTER (WHERE image_urls_match)
        FROM (
            SELECT url_changed, image_urls_match
            FROM link_observations
            WHERE retailer = $1
            ORDER BY observed_at DESC
            LIMIT $2
        ) recent`
	var stats LinkStats
	err := s.retryUndefinedTable(ctx, func() error {
		row := s.db.QueryRowContext(ctx, query, retailer, limit)
		return row.Scan(&stats.Sample, &stats.URLStable, &stats.ImageMatches)
	})
	if err != nil {
		return LinkStats{}, fmt.Errorf("aggregate link observations: %w", err)
	}
	return stats, nil
}
