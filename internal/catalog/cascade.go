package catalog

import (
	"context"
	"log/slog"

	"catalogwatch/internal/config"
	"catalogwatch/pkg/types"
)

// Cascade runs the six strategy matchers in priority order for one scan.
// It is built once per scan with the retailer profile already loaded, so
// matching an entry never touches the profile row.
type Cascade struct {
	cfg      config.MatchingConfig
	products ProductStore
	baseline BaselineStore
	profile  types.RetailerProfile
	limiter  *QueryLimiter
	logger   *slog.Logger
}

// NewCascade wires a cascade against the given stores and profile.
func NewCascade(cfg config.MatchingConfig, products ProductStore, baseline BaselineStore, profile types.RetailerProfile, limiter *QueryLimiter, logger *slog.Logger) *Cascade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cascade{
		cfg:      cfg,
		products: products,
		baseline: baseline,
		profile:  profile,
		limiter:  limiter,
		logger:   logger,
	}
}

type cascadeStep struct {
	strategy  types.Strategy
	threshold float64
	urlBased  bool
	run       func(context.Context, types.NormalizedEntry) (types.MatchResult, error)
}

func (c *Cascade) steps() []cascadeStep {
	return []cascadeStep{
		{types.StrategyExactURL, c.cfg.URLAcceptThreshold, true, c.matchExactURL},
		{types.StrategyNormalizedURL, c.cfg.URLAcceptThreshold, true, c.matchNormalizedURL},
		{types.StrategyProductCode, c.cfg.CodeAcceptThreshold, true, c.matchProductCode},
		{types.StrategyTitlePrice, c.cfg.TitlePriceAcceptThreshold, false, c.matchTitlePrice},
		{types.StrategyFuzzyTitlePrice, c.cfg.FuzzyAcceptThreshold, false, c.matchFuzzyTitlePrice},
		{types.StrategyImageOverlap, c.cfg.ImageAcceptThreshold, false, c.matchImageOverlap},
	}
}

// skipURLStrategies reports whether strategies 1-3 should be bypassed
// because the retailer's URLs are known to be unstable.
func (c *Cascade) skipURLStrategies() bool {
	if c.profile.PreferredStrategy == types.StrategyFuzzyTitlePrice {
		return true
	}
	return c.profile.URLStabilityScore < c.cfg.URLStabilityFloor
}

// Run executes the strategies in order, short-circuiting at the first result
// that clears its own acceptance threshold. No strategy accepting means no
// match. Any store error aborts the remaining strategies and surfaces to the
// caller, which degrades the entry rather than the scan.
func (c *Cascade) Run(ctx context.Context, e types.NormalizedEntry) (types.MatchResult, error) {
	skipURL := c.skipURLStrategies()
	for _, step := range c.steps() {
		if skipURL && step.urlBased {
			continue
		}
		if err := ctx.Err(); err != nil {
			return types.MatchResult{}, err
		}
		if err := c.limiter.Wait(ctx, e.Retailer); err != nil {
			return types.MatchResult{}, err
		}
		result, err := step.run(ctx, e)
		if err != nil {
			return types.MatchResult{}, err
		}
		if !result.Matched() {
			continue
		}
		if result.Confidence < step.threshold {
			c.logger.Debug("match below acceptance threshold",
				"strategy", string(step.strategy),
				"confidence", result.Confidence,
				"url", e.SourceURL)
			continue
		}
		return result, nil
	}
	return types.MatchResult{}, nil
}

// Classify maps a cascade result to a disposition. Exact and near-exact
// strategies merge automatically; fuzzy evidence alone only ever escalates
// to human review. Total: every result maps to exactly one disposition.
func Classify(result types.MatchResult) types.Disposition {
	if !result.Matched() {
		return types.ConfirmedNew
	}
	switch result.Strategy {
	case types.StrategyExactURL, types.StrategyNormalizedURL, types.StrategyProductCode, types.StrategyTitlePrice:
		return types.ConfirmedExisting
	case types.StrategyFuzzyTitlePrice, types.StrategyImageOverlap:
		return types.SuspectedDuplicate
	default:
		return types.ConfirmedNew
	}
}
