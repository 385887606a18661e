package catalog

import (
	"context"
	"errors"
	"testing"

	"catalogwatch/internal/config"
	"catalogwatch/pkg/types"
)

func testEngine(t *testing.T, cfg config.Config, store *fakeStore) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg, store, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestEngineScanPartitionsEntries(t *testing.T) {
	store := newFakeStore()
	store.productsByURL["https://shop.example/p/known"] = &types.ProductRecord{
		URL: "https://shop.example/p/known", Title: "Known Widget", Price: 100.00,
		ImageURLs: []string{"https://img.example/known.jpg"},
	}
	store.candidateProducts = []types.ProductRecord{
		{URL: "https://shop.example/p/lookalike", Title: "Super Widget Deluxe 2000b", Price: 50},
	}
	engine := testEngine(t, config.Default(), store)

	entries := []types.CatalogEntry{
		// existing, with a price drop worth flagging
		{Retailer: "shop", SourceURL: "https://shop.example/p/known", Title: "Known Widget", Price: floatPtr(95.00),
			ImageURLs: []string{"https://img.example/known.jpg"}},
		// fuzzy lookalike, escalates to review
		{Retailer: "shop", SourceURL: "https://shop.example/p/new-path", Title: "Super Widget Deluxe 2000", Price: floatPtr(50)},
		// nothing matches
		{Retailer: "shop", SourceURL: "https://shop.example/p/never-seen", Title: "Brand New Thing", Price: floatPtr(10)},
		// rejected: no url
		{Retailer: "shop", Title: "Orphan"},
		// duplicate of the first entry, collapsed within the scan
		{Retailer: "shop", SourceURL: "https://shop.example/p/known", Title: "Known Widget", Price: floatPtr(95.00)},
	}

	report, err := engine.Scan(context.Background(), "shop", "widgets", types.ScanTypeMonitor, entries)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(report.Existing) != 1 {
		t.Fatalf("existing = %d, want 1", len(report.Existing))
	}
	if len(report.Suspected) != 1 {
		t.Fatalf("suspected = %d, want 1", len(report.Suspected))
	}
	if len(report.New) != 1 {
		t.Fatalf("new = %d, want 1", len(report.New))
	}
	if len(report.Rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(report.Rejected))
	}
	if report.Total() != 3 {
		t.Fatalf("total = %d, want 3 after duplicate collapse", report.Total())
	}

	if report.Snapshots != 3 {
		t.Fatalf("snapshots = %d, want one row per classified entry", report.Snapshots)
	}
	if len(store.inserted) != 3 {
		t.Fatalf("baseline rows = %d, want 3", len(store.inserted))
	}
	for _, row := range store.inserted {
		if row.Fingerprint == "" || row.ScanType != types.ScanTypeMonitor {
			t.Fatalf("baseline row missing fingerprint or scan type: %+v", row)
		}
	}

	if len(report.PriceChanges) != 1 {
		t.Fatalf("price changes = %d, want 1", len(report.PriceChanges))
	}
	if report.PriceChanges[0].ProductURL != "https://shop.example/p/known" {
		t.Fatalf("price change url = %q", report.PriceChanges[0].ProductURL)
	}
	if len(store.enqueued) != 1 {
		t.Fatalf("enqueued price changes = %d, want 1", len(store.enqueued))
	}

	// both product-linked matches feed profile learning
	if len(store.observations) != 2 {
		t.Fatalf("link observations = %d, want 2", len(store.observations))
	}
}

func TestEngineScanDegradesOnStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.lookupErr = errors.New("connection reset")
	engine := testEngine(t, config.Default(), store)

	entries := []types.CatalogEntry{
		{Retailer: "shop", SourceURL: "https://shop.example/p/a", Title: "A", Price: floatPtr(10)},
		{Retailer: "shop", SourceURL: "https://shop.example/p/b", Title: "B", Price: floatPtr(20)},
	}
	report, err := engine.Scan(context.Background(), "shop", "widgets", types.ScanTypeMonitor, entries)
	if err != nil {
		t.Fatalf("scan should survive per-entry store failures: %v", err)
	}
	if len(report.New) != 2 {
		t.Fatalf("new = %d, want all entries degraded to confirmed_new", len(report.New))
	}
	for _, entry := range report.New {
		if !entry.Degraded {
			t.Fatalf("entry %q not flagged degraded", entry.Entry.SourceURL)
		}
	}
}

func TestEngineScanFailsWhenStoreFullyUnreachable(t *testing.T) {
	store := newFakeStore()
	outage := errors.New("connection refused")
	store.lookupErr = outage
	store.insertErr = outage
	store.profileErr = outage
	engine := testEngine(t, config.Default(), store)

	entries := []types.CatalogEntry{
		{Retailer: "shop", SourceURL: "https://shop.example/p/a", Title: "A", Price: floatPtr(10)},
		{Retailer: "shop", SourceURL: "https://shop.example/p/b", Title: "B", Price: floatPtr(20)},
	}
	_, err := engine.Scan(context.Background(), "shop", "widgets", types.ScanTypeMonitor, entries)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable when every entry degrades and no snapshot commits", err)
	}
}

func TestEngineScanSnapshotLogIsAppendOnly(t *testing.T) {
	store := newFakeStore()
	store.productsByURL["https://shop.example/p/known"] = &types.ProductRecord{
		URL: "https://shop.example/p/known", Title: "Known Widget", Price: 95.00,
	}
	engine := testEngine(t, config.Default(), store)

	entries := []types.CatalogEntry{
		{Retailer: "shop", SourceURL: "https://shop.example/p/known", Title: "Known Widget", Price: floatPtr(95.00)},
		{Retailer: "shop", SourceURL: "https://shop.example/p/fresh", Title: "Fresh Widget", Price: floatPtr(12.00)},
	}
	for i := 0; i < 2; i++ {
		if _, err := engine.Scan(context.Background(), "shop", "widgets", types.ScanTypeMonitor, entries); err != nil {
			t.Fatalf("scan %d: %v", i+1, err)
		}
	}

	if len(store.inserted) != 4 {
		t.Fatalf("baseline rows = %d, want 4: re-running a scan appends, never updates", len(store.inserted))
	}
	first, second := store.inserted[:2], store.inserted[2:]
	for i := range first {
		if first[i].CatalogURL != second[i].CatalogURL {
			t.Fatalf("row %d url changed between scans: %q vs %q", i, first[i].CatalogURL, second[i].CatalogURL)
		}
		if first[i].Fingerprint != second[i].Fingerprint {
			t.Fatalf("row %d same-day fingerprint differs: %q vs %q", i, first[i].Fingerprint, second[i].Fingerprint)
		}
	}
}

func TestEngineScanTruncatesOversizedInput(t *testing.T) {
	store := newFakeStore()
	cfg := config.Default()
	cfg.Scan.MaxEntries = 2
	engine := testEngine(t, cfg, store)

	entries := []types.CatalogEntry{
		{Retailer: "shop", SourceURL: "https://shop.example/p/a"},
		{Retailer: "shop", SourceURL: "https://shop.example/p/b"},
		{Retailer: "shop", SourceURL: "https://shop.example/p/c"},
	}
	report, err := engine.Scan(context.Background(), "shop", "", types.ScanTypeBaseline, entries)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if report.Total() != 2 {
		t.Fatalf("total = %d, want 2 after truncation", report.Total())
	}
}

func TestEngineScanRequiresRetailer(t *testing.T) {
	engine := testEngine(t, config.Default(), newFakeStore())
	if _, err := engine.Scan(context.Background(), "  ", "", types.ScanTypeMonitor, nil); err == nil {
		t.Fatal("want error for missing retailer")
	}
}

func TestEngineScanCancelled(t *testing.T) {
	store := newFakeStore()
	engine := testEngine(t, config.Default(), store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Scan(ctx, "shop", "", types.ScanTypeMonitor, []types.CatalogEntry{
		{Retailer: "shop", SourceURL: "https://shop.example/p/a"},
	})
	if err == nil {
		t.Fatal("want error for cancelled scan")
	}
}
