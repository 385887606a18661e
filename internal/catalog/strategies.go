package catalog

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"catalogwatch/pkg/types"
)

// matchExactURL checks the raw source URL against both tracked products and
// the historical baseline.
func (c *Cascade) matchExactURL(ctx context.Context, e types.NormalizedEntry) (types.MatchResult, error) {
	product, err := c.products.ProductByURL(ctx, e.SourceURL)
	if err != nil {
		return types.MatchResult{}, fmt.Errorf("exact url lookup: %w", err)
	}
	if product != nil {
		return types.MatchResult{Strategy: types.StrategyExactURL, Confidence: 1.0, Product: product}, nil
	}
	baseline, err := c.baseline.BaselineByURL(ctx, e.Retailer, e.SourceURL)
	if err != nil {
		return types.MatchResult{}, fmt.Errorf("exact url baseline lookup: %w", err)
	}
	if baseline != nil {
		return types.MatchResult{Strategy: types.StrategyExactURL, Confidence: 1.0, Baseline: baseline}, nil
	}
	return types.MatchResult{}, nil
}

// matchNormalizedURL compares URLs with the query string removed and the
// trailing slash trimmed, which catches tracking-parameter churn.
func (c *Cascade) matchNormalizedURL(ctx context.Context, e types.NormalizedEntry) (types.MatchResult, error) {
	if e.NormalizedURL == "" {
		return types.MatchResult{}, nil
	}
	product, err := c.products.ProductByNormalizedURL(ctx, e.Retailer, e.NormalizedURL)
	if err != nil {
		return types.MatchResult{}, fmt.Errorf("normalized url lookup: %w", err)
	}
	if product != nil {
		return types.MatchResult{Strategy: types.StrategyNormalizedURL, Confidence: c.cfg.NormalizedURLConfidence, Product: product}, nil
	}
	baseline, err := c.baseline.BaselineByNormalizedURL(ctx, e.Retailer, e.NormalizedURL)
	if err != nil {
		return types.MatchResult{}, fmt.Errorf("normalized url baseline lookup: %w", err)
	}
	if baseline != nil {
		return types.MatchResult{Strategy: types.StrategyNormalizedURL, Confidence: c.cfg.NormalizedURLConfidence, Baseline: baseline}, nil
	}
	return types.MatchResult{}, nil
}

// matchProductCode matches on the retailer-issued code. When the entry
// carries no code, a SKU-shaped token extracted from the URL path is an
// allowed fallback at slightly lower confidence.
func (c *Cascade) matchProductCode(ctx context.Context, e types.NormalizedEntry) (types.MatchResult, error) {
	code := e.ProductCode
	confidence := c.cfg.ProductCodeConfidence
	if code == "" {
		code = codeFromURL(e.CleanURL)
		confidence = c.cfg.CodeFromURLConfidence
	}
	if code == "" {
		return types.MatchResult{}, nil
	}
	product, err := c.products.ProductByCode(ctx, e.Retailer, code)
	if err != nil {
		return types.MatchResult{}, fmt.Errorf("product code lookup: %w", err)
	}
	if product != nil {
		return types.MatchResult{Strategy: types.StrategyProductCode, Confidence: confidence, Product: product}, nil
	}
	baseline, err := c.baseline.BaselineByCode(ctx, e.Retailer, code)
	if err != nil {
		return types.MatchResult{}, fmt.Errorf("product code baseline lookup: %w", err)
	}
	if baseline != nil {
		return types.MatchResult{Strategy: types.StrategyProductCode, Confidence: confidence, Baseline: baseline}, nil
	}
	return types.MatchResult{}, nil
}

// matchTitlePrice requires case-folded title equality and price within a
// cent. Two independent exact signals agreeing warrants full confidence.
func (c *Cascade) matchTitlePrice(ctx context.Context, e types.NormalizedEntry) (types.MatchResult, error) {
	if e.TitleFold == "" || e.Price == nil {
		return types.MatchResult{}, nil
	}
	product, err := c.products.ProductByTitlePrice(ctx, e.Retailer, e.TitleFold, *e.Price)
	if err != nil {
		return types.MatchResult{}, fmt.Errorf("title+price lookup: %w", err)
	}
	if product != nil {
		return types.MatchResult{Strategy: types.StrategyTitlePrice, Confidence: 1.0, Product: product}, nil
	}
	return types.MatchResult{}, nil
}

// matchFuzzyTitlePrice scans a bounded, price-banded candidate set and keeps
// the best-similarity candidate only.
func (c *Cascade) matchFuzzyTitlePrice(ctx context.Context, e types.NormalizedEntry) (types.MatchResult, error) {
	if e.TitleFold == "" || e.Price == nil {
		return types.MatchResult{}, nil
	}
	price := *e.Price
	low := price * (1 - c.cfg.FuzzyPriceTolerance)
	high := price * (1 + c.cfg.FuzzyPriceTolerance)
	candidates, err := c.products.CandidateProducts(ctx, e.Retailer, low, high, c.cfg.FuzzyCandidateLimit)
	if err != nil {
		return types.MatchResult{}, fmt.Errorf("fuzzy candidate lookup: %w", err)
	}

	var best *types.ProductRecord
	bestSim := 0.0
	for i := range candidates {
		if ctx.Err() != nil {
			return types.MatchResult{}, ctx.Err()
		}
		sim := TitleSimilarity(e.TitleFold, strings.ToLower(strings.TrimSpace(candidates[i].Title)))
		if sim > bestSim {
			bestSim = sim
			best = &candidates[i]
		}
	}
	if best == nil || bestSim < c.cfg.FuzzySimilarityFloor {
		return types.MatchResult{}, nil
	}
	confidence := c.cfg.FuzzyAcceptThreshold + 0.5*(bestSim-c.cfg.FuzzySimilarityFloor)
	if confidence > c.cfg.FuzzyConfidenceCap {
		confidence = c.cfg.FuzzyConfidenceCap
	}
	return types.MatchResult{Strategy: types.StrategyFuzzyTitlePrice, Confidence: confidence, Product: best}, nil
}

// matchImageOverlap is the last-resort signal: a candidate whose stored
// image URLs cover at least half of the catalog images, at a nearby price.
// Confidence scales with the overlap ratio and is damped when the retailer
// is known to rotate image URLs.
func (c *Cascade) matchImageOverlap(ctx context.Context, e types.NormalizedEntry) (types.MatchResult, error) {
	if len(e.ImageURLs) == 0 {
		return types.MatchResult{}, nil
	}
	low, high := 0.0, 1e12
	if e.Price != nil {
		low = *e.Price - c.cfg.ImagePriceWindow
		if low < 0 {
			low = 0
		}
		high = *e.Price + c.cfg.ImagePriceWindow
	}
	candidates, err := c.products.ProductsWithImages(ctx, e.Retailer, low, high, c.cfg.FuzzyCandidateLimit)
	if err != nil {
		return types.MatchResult{}, fmt.Errorf("image candidate lookup: %w", err)
	}

	var best *types.ProductRecord
	bestOverlap := 0.0
	for i := range candidates {
		if ctx.Err() != nil {
			return types.MatchResult{}, ctx.Err()
		}
		overlap := imageOverlapRatio(e.ImageURLs, candidates[i].ImageURLs)
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = &candidates[i]
		}
	}
	if best == nil || bestOverlap < c.cfg.ImageOverlapFloor {
		return types.MatchResult{}, nil
	}
	confidence := 0.65 + 0.30*(bestOverlap-c.cfg.ImageOverlapFloor)/(1-c.cfg.ImageOverlapFloor)
	if !c.profile.ImageURLsConsistent {
		confidence *= 0.85
	}
	return types.MatchResult{Strategy: types.StrategyImageOverlap, Confidence: confidence, Product: best}, nil
}

// imageOverlapRatio is the fraction of catalog image URLs present verbatim
// in the candidate's stored set.
func imageOverlapRatio(catalog, stored []string) float64 {
	if len(catalog) == 0 || len(stored) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(stored))
	for _, u := range stored {
		set[u] = struct{}{}
	}
	hits := 0
	for _, u := range catalog {
		if _, ok := set[u]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(catalog))
}

// skuToken matches SKU-shaped path segments: alphanumeric with at least two
// digits, reasonably short.
var skuToken = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{3,31}$`)

// codeFromURL extracts a SKU-shaped token from the URL path, preferring the
// last plausible segment. Purely structural; no retailer-specific rules.
func codeFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if !skuToken.MatchString(seg) {
			continue
		}
		if digitCount(seg) < 2 {
			continue
		}
		return seg
	}
	return ""
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
