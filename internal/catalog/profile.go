package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"catalogwatch/internal/config"
	"catalogwatch/pkg/types"
)

// minProfileSample is how many link observations a retailer needs before the
// engine stops trusting its URLs on weak evidence.
const minProfileSample = 10

// profileHistoryWindow bounds how many recent observations feed a
// recomputation.
const profileHistoryWindow = 500

// ProfileManager loads and recomputes retailer behaviour profiles. Profiles
// are derived from the append-only observation history rather than
// incremented in place, so partial failures cannot drift the score.
type ProfileManager struct {
	store  ProfileStore
	cfg    config.MatchingConfig
	logger *slog.Logger
}

// NewProfileManager wires a manager over the profile store.
func NewProfileManager(store ProfileStore, cfg config.MatchingConfig, logger *slog.Logger) *ProfileManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileManager{store: store, cfg: cfg, logger: logger}
}

// Load reads the retailer profile once for a scan. On store failure it falls
// back to the trusting default so a profile outage never blocks matching.
func (m *ProfileManager) Load(ctx context.Context, retailer string) types.RetailerProfile {
	profile, err := m.store.Profile(ctx, retailer)
	if err != nil {
		m.logger.Warn("profile read failed, using default", "retailer", retailer, "error", err)
		return types.RetailerProfile{
			Retailer:            retailer,
			URLStabilityScore:   1.0,
			ImageURLsConsistent: true,
		}
	}
	return profile
}

// Recompute derives the profile from recent link observations and writes the
// single behaviour row. A retailer with no history keeps its defaults.
func (m *ProfileManager) Recompute(ctx context.Context, retailer string) (types.RetailerProfile, error) {
	stats, err := m.store.RecentLinkStats(ctx, retailer, profileHistoryWindow)
	if err != nil {
		return types.RetailerProfile{}, fmt.Errorf("recompute profile: %w", err)
	}
	profile := types.RetailerProfile{
		Retailer:            retailer,
		URLStabilityScore:   1.0,
		ImageURLsConsistent: true,
		SampleSize:          stats.Sample,
	}
	if stats.Sample > 0 {
		profile.URLStabilityScore = float64(stats.URLStable) / float64(stats.Sample)
		profile.ImageURLsConsistent = float64(stats.ImageMatches)/float64(stats.Sample) >= 0.9
	}
	if stats.Sample >= minProfileSample && profile.URLStabilityScore < m.cfg.URLStabilityFloor {
		profile.PreferredStrategy = types.StrategyFuzzyTitlePrice
	} else {
		profile.PreferredStrategy = types.StrategyExactURL
	}
	if err := m.store.UpsertProfile(ctx, profile); err != nil {
		return types.RetailerProfile{}, fmt.Errorf("recompute profile: %w", err)
	}
	return profile, nil
}
