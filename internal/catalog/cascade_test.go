package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"catalogwatch/internal/config"
	"catalogwatch/internal/storage"
	"catalogwatch/pkg/types"
)

// fakeStore is an in-memory Stores implementation for cascade and engine
// tests. Lookup maps are keyed by the value the strategy queries with.
type fakeStore struct {
	mu sync.Mutex

	productsByURL       map[string]*types.ProductRecord
	productsByNorm      map[string]*types.ProductRecord
	productsByCode      map[string]*types.ProductRecord
	productsByTitleFold map[string]*types.ProductRecord
	candidateProducts   []types.ProductRecord
	imageProducts       []types.ProductRecord
	baselineByURL       map[string]*types.BaselineEntry
	baselineByNorm      map[string]*types.BaselineEntry
	baselineByCode      map[string]*types.BaselineEntry

	profile    types.RetailerProfile
	profileErr error
	stats      storage.LinkStats
	lookupErr  error

	urlLookups   int
	inserted     []types.BaselineEntry
	insertErr    error
	observations []types.LinkObservation
	upserted     []types.RetailerProfile
	enqueued     []types.PriceChangeRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		productsByURL:       map[string]*types.ProductRecord{},
		productsByNorm:      map[string]*types.ProductRecord{},
		productsByCode:      map[string]*types.ProductRecord{},
		productsByTitleFold: map[string]*types.ProductRecord{},
		baselineByURL:       map[string]*types.BaselineEntry{},
		baselineByNorm:      map[string]*types.BaselineEntry{},
		baselineByCode:      map[string]*types.BaselineEntry{},
		profile:             types.RetailerProfile{URLStabilityScore: 1.0, ImageURLsConsistent: true},
	}
}

func (f *fakeStore) ProductByURL(_ context.Context, rawURL string) (*types.ProductRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urlLookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.productsByURL[rawURL], nil
}

func (f *fakeStore) ProductByNormalizedURL(_ context.Context, _, normURL string) (*types.ProductRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urlLookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.productsByNorm[normURL], nil
}

func (f *fakeStore) ProductByCode(_ context.Context, _, code string) (*types.ProductRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urlLookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.productsByCode[code], nil
}

func (f *fakeStore) ProductByTitlePrice(_ context.Context, _, titleFold string, price float64) (*types.ProductRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	product := f.productsByTitleFold[titleFold]
	if product == nil || math.Abs(product.Price-price) > 0.01 {
		return nil, nil
	}
	return product, nil
}

func (f *fakeStore) CandidateProducts(_ context.Context, _ string, low, high float64, _ int) ([]types.ProductRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	var out []types.ProductRecord
	for _, p := range f.candidateProducts {
		if p.Price >= low && p.Price <= high {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ProductsWithImages(_ context.Context, _ string, low, high float64, _ int) ([]types.ProductRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	var out []types.ProductRecord
	for _, p := range f.imageProducts {
		if p.Price >= low && p.Price <= high {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertBaseline(_ context.Context, row types.BaselineEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, row)
	return nil
}

func (f *fakeStore) BaselineByURL(_ context.Context, _, rawURL string) (*types.BaselineEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urlLookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.baselineByURL[rawURL], nil
}

func (f *fakeStore) BaselineByNormalizedURL(_ context.Context, _, normURL string) (*types.BaselineEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urlLookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.baselineByNorm[normURL], nil
}

func (f *fakeStore) BaselineByCode(_ context.Context, _, code string) (*types.BaselineEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urlLookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.baselineByCode[code], nil
}

func (f *fakeStore) Profile(_ context.Context, retailer string) (types.RetailerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return types.RetailerProfile{}, f.profileErr
	}
	profile := f.profile
	profile.Retailer = retailer
	return profile, nil
}

func (f *fakeStore) UpsertProfile(_ context.Context, profile types.RetailerProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, profile)
	return nil
}

func (f *fakeStore) RecordLinkObservations(_ context.Context, observations []types.LinkObservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observations = append(f.observations, observations...)
	return nil
}

func (f *fakeStore) RecentLinkStats(_ context.Context, _ string, _ int) (storage.LinkStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, nil
}

func (f *fakeStore) EnqueuePriceChanges(_ context.Context, records []types.PriceChangeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, records...)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCascade(store *fakeStore, profile types.RetailerProfile) *Cascade {
	cfg := config.Default().Matching
	limiter := NewQueryLimiter(config.RateLimitConfig{})
	return NewCascade(cfg, store, store, profile, limiter, testLogger())
}

func trustingProfile() types.RetailerProfile {
	return types.RetailerProfile{URLStabilityScore: 1.0, ImageURLsConsistent: true}
}

func mustNormalize(t *testing.T, entry types.CatalogEntry) types.NormalizedEntry {
	t.Helper()
	normalized, err := NewNormalizer(nil).Normalize(entry)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return normalized
}

func floatPtr(v float64) *float64 { return &v }

func TestCascadeExactURLMatch(t *testing.T) {
	store := newFakeStore()
	store.productsByURL["https://shop.example/p/widget"] = &types.ProductRecord{
		URL: "https://shop.example/p/widget", Title: "Widget", Price: 99,
	}
	cascade := testCascade(store, trustingProfile())

	entry := mustNormalize(t, types.CatalogEntry{
		Retailer:  "shop",
		SourceURL: "https://shop.example/p/widget",
	})
	result, err := cascade.Run(context.Background(), entry)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Strategy != types.StrategyExactURL {
		t.Fatalf("strategy = %q, want exact_url", result.Strategy)
	}
	if result.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", result.Confidence)
	}
	if got := Classify(result); got != types.ConfirmedExisting {
		t.Fatalf("disposition = %q, want confirmed_existing", got)
	}
}

func TestCascadeNormalizedURLCatchesTrackingChurn(t *testing.T) {
	store := newFakeStore()
	store.productsByNorm["https://shop.example/p/widget"] = &types.ProductRecord{
		URL: "https://shop.example/p/widget", Title: "Widget", Price: 99,
	}
	cascade := testCascade(store, trustingProfile())

	entry := mustNormalize(t, types.CatalogEntry{
		Retailer:  "shop",
		SourceURL: "https://shop.example/p/widget?utm_source=newsletter&utm_campaign=aug",
	})
	result, err := cascade.Run(context.Background(), entry)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Strategy != types.StrategyNormalizedURL {
		t.Fatalf("strategy = %q, want normalized_url", result.Strategy)
	}
	if result.Confidence != 0.95 {
		t.Fatalf("confidence = %v, want 0.95", result.Confidence)
	}
	if got := Classify(result); got != types.ConfirmedExisting {
		t.Fatalf("disposition = %q, want confirmed_existing", got)
	}
}

func TestCascadeProductCode(t *testing.T) {
	store := newFakeStore()
	store.productsByCode["SKU-4412"] = &types.ProductRecord{
		URL: "https://shop.example/p/other-url", Title: "Widget", Price: 99, ProductCode: "SKU-4412",
	}

	t.Run("explicit code", func(t *testing.T) {
		cascade := testCascade(store, trustingProfile())
		entry := mustNormalize(t, types.CatalogEntry{
			Retailer:    "shop",
			SourceURL:   "https://shop.example/p/widget-renamed",
			ProductCode: "SKU-4412",
		})
		result, err := cascade.Run(context.Background(), entry)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if result.Strategy != types.StrategyProductCode {
			t.Fatalf("strategy = %q, want product_code", result.Strategy)
		}
		if result.Confidence != 0.95 {
			t.Fatalf("confidence = %v, want 0.95", result.Confidence)
		}
	})

	t.Run("code extracted from url path", func(t *testing.T) {
		cascade := testCascade(store, trustingProfile())
		entry := mustNormalize(t, types.CatalogEntry{
			Retailer:  "shop",
			SourceURL: "https://shop.example/products/SKU-4412",
		})
		result, err := cascade.Run(context.Background(), entry)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if result.Strategy != types.StrategyProductCode {
			t.Fatalf("strategy = %q, want product_code", result.Strategy)
		}
		if result.Confidence != 0.90 {
			t.Fatalf("confidence = %v, want 0.90 for url-derived code", result.Confidence)
		}
	})
}

func TestCascadeTitlePrice(t *testing.T) {
	store := newFakeStore()
	store.productsByTitleFold["blue widget xl"] = &types.ProductRecord{
		URL: "https://shop.example/p/relocated", Title: "Blue Widget XL", Price: 49.99,
	}
	cascade := testCascade(store, trustingProfile())

	entry := mustNormalize(t, types.CatalogEntry{
		Retailer:  "shop",
		SourceURL: "https://shop.example/p/brand-new-path",
		Title:     "Blue Widget XL",
		Price:     floatPtr(49.99),
	})
	result, err := cascade.Run(context.Background(), entry)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Strategy != types.StrategyTitlePrice {
		t.Fatalf("strategy = %q, want title_price", result.Strategy)
	}
	if result.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", result.Confidence)
	}
	if got := Classify(result); got != types.ConfirmedExisting {
		t.Fatalf("disposition = %q, want confirmed_existing", got)
	}
}

func TestCascadeFuzzyTitlePrice(t *testing.T) {
	store := newFakeStore()
	store.candidateProducts = []types.ProductRecord{
		{URL: "https://shop.example/p/close", Title: "Super Widget Deluxe 2000b", Price: 100},
		{URL: "https://shop.example/p/far", Title: "Completely Different Gadget", Price: 101},
	}
	cascade := testCascade(store, trustingProfile())

	entry := mustNormalize(t, types.CatalogEntry{
		Retailer:  "shop",
		SourceURL: "https://shop.example/p/unseen",
		Title:     "Super Widget Deluxe 2000",
		Price:     floatPtr(102),
	})
	result, err := cascade.Run(context.Background(), entry)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Strategy != types.StrategyFuzzyTitlePrice {
		t.Fatalf("strategy = %q, want fuzzy_title_price", result.Strategy)
	}
	if result.Product == nil || result.Product.URL != "https://shop.example/p/close" {
		t.Fatalf("matched %+v, want the closest-title candidate", result.Product)
	}
	// similarity 24/25 edit ratio: 1 - 1/25 = 0.96, so 0.85 + 0.5*0.11
	want := 0.85 + 0.5*(0.96-0.85)
	if math.Abs(result.Confidence-want) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", result.Confidence, want)
	}
	if got := Classify(result); got != types.SuspectedDuplicate {
		t.Fatalf("disposition = %q, want suspected_duplicate", got)
	}
}

func TestCascadeFuzzyBelowFloorIsNoMatch(t *testing.T) {
	store := newFakeStore()
	store.candidateProducts = []types.ProductRecord{
		{URL: "https://shop.example/p/far", Title: "Completely Different Gadget", Price: 100},
	}
	cascade := testCascade(store, trustingProfile())

	entry := mustNormalize(t, types.CatalogEntry{
		Retailer:  "shop",
		SourceURL: "https://shop.example/p/unseen",
		Title:     "Super Widget Deluxe 2000",
		Price:     floatPtr(100),
	})
	result, err := cascade.Run(context.Background(), entry)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Matched() {
		t.Fatalf("matched %+v, want no match", result)
	}
	if got := Classify(result); got != types.ConfirmedNew {
		t.Fatalf("disposition = %q, want confirmed_new", got)
	}
}

func TestCascadeImageOverlap(t *testing.T) {
	images := []string{
		"https://img.example/a.jpg",
		"https://img.example/b.jpg",
	}

	t.Run("full overlap accepted", func(t *testing.T) {
		store := newFakeStore()
		store.imageProducts = []types.ProductRecord{
			{URL: "https://shop.example/p/rehosted", Title: "Widget", Price: 100, ImageURLs: images},
		}
		cascade := testCascade(store, trustingProfile())
		entry := mustNormalize(t, types.CatalogEntry{
			Retailer:  "shop",
			SourceURL: "https://shop.example/p/unseen",
			Price:     floatPtr(102),
			ImageURLs: images,
		})
		result, err := cascade.Run(context.Background(), entry)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if result.Strategy != types.StrategyImageOverlap {
			t.Fatalf("strategy = %q, want image_overlap", result.Strategy)
		}
		if math.Abs(result.Confidence-0.95) > 1e-9 {
			t.Fatalf("confidence = %v, want 0.95 at full overlap", result.Confidence)
		}
		if got := Classify(result); got != types.SuspectedDuplicate {
			t.Fatalf("disposition = %q, want suspected_duplicate", got)
		}
	})

	t.Run("half overlap stays below acceptance", func(t *testing.T) {
		store := newFakeStore()
		store.imageProducts = []types.ProductRecord{
			{URL: "https://shop.example/p/rehosted", Title: "Widget", Price: 100, ImageURLs: images[:1]},
		}
		cascade := testCascade(store, trustingProfile())
		entry := mustNormalize(t, types.CatalogEntry{
			Retailer:  "shop",
			SourceURL: "https://shop.example/p/unseen",
			Price:     floatPtr(100),
			ImageURLs: images,
		})
		result, err := cascade.Run(context.Background(), entry)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if result.Matched() {
			t.Fatalf("matched %+v, want no accepted match at half overlap", result)
		}
	})
}

func TestCascadeSkipsURLStrategiesForUnstableRetailer(t *testing.T) {
	store := newFakeStore()
	store.productsByURL["https://shop.example/p/widget"] = &types.ProductRecord{
		URL: "https://shop.example/p/widget", Title: "Widget", Price: 99,
	}

	profiles := map[string]types.RetailerProfile{
		"low stability score":      {URLStabilityScore: 0.3, ImageURLsConsistent: true},
		"preferred fuzzy strategy": {URLStabilityScore: 1.0, ImageURLsConsistent: true, PreferredStrategy: types.StrategyFuzzyTitlePrice},
	}
	for name, profile := range profiles {
		t.Run(name, func(t *testing.T) {
			store.urlLookups = 0
			cascade := testCascade(store, profile)
			entry := mustNormalize(t, types.CatalogEntry{
				Retailer:  "shop",
				SourceURL: "https://shop.example/p/widget",
			})
			result, err := cascade.Run(context.Background(), entry)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if result.Matched() {
				t.Fatalf("matched %+v via a url strategy that should be skipped", result)
			}
			if store.urlLookups != 0 {
				t.Fatalf("url-based lookups = %d, want 0", store.urlLookups)
			}
		})
	}
}

func TestCascadeStoreErrorPropagates(t *testing.T) {
	store := newFakeStore()
	store.lookupErr = errors.New("connection refused")
	cascade := testCascade(store, trustingProfile())

	entry := mustNormalize(t, types.CatalogEntry{
		Retailer:  "shop",
		SourceURL: "https://shop.example/p/widget",
	})
	if _, err := cascade.Run(context.Background(), entry); err == nil {
		t.Fatal("want store error to surface, got nil")
	}
}

func TestClassify(t *testing.T) {
	product := &types.ProductRecord{URL: "https://shop.example/p/widget"}
	cases := []struct {
		name   string
		result types.MatchResult
		want   types.Disposition
	}{
		{"no match", types.MatchResult{}, types.ConfirmedNew},
		{"exact url", types.MatchResult{Strategy: types.StrategyExactURL, Confidence: 1.0, Product: product}, types.ConfirmedExisting},
		{"normalized url", types.MatchResult{Strategy: types.StrategyNormalizedURL, Confidence: 0.95, Product: product}, types.ConfirmedExisting},
		{"product code", types.MatchResult{Strategy: types.StrategyProductCode, Confidence: 0.95, Product: product}, types.ConfirmedExisting},
		{"title price", types.MatchResult{Strategy: types.StrategyTitlePrice, Confidence: 1.0, Product: product}, types.ConfirmedExisting},
		{"fuzzy", types.MatchResult{Strategy: types.StrategyFuzzyTitlePrice, Confidence: 0.92, Product: product}, types.SuspectedDuplicate},
		{"image overlap", types.MatchResult{Strategy: types.StrategyImageOverlap, Confidence: 0.95, Product: product}, types.SuspectedDuplicate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.result); got != tc.want {
				t.Fatalf("Classify(%s) = %q, want %q", tc.name, got, tc.want)
			}
		})
	}
}
