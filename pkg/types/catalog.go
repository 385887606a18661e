package types

import (
	"time"
)

// Strategy identifies one matching signal in the cascade.
type Strategy string

const (
	StrategyExactURL        Strategy = "exact_url"
	StrategyNormalizedURL   Strategy = "normalized_url"
	StrategyProductCode     Strategy = "product_code"
	StrategyTitlePrice      Strategy = "title_price"
	StrategyFuzzyTitlePrice Strategy = "fuzzy_title_price"
	StrategyImageOverlap    Strategy = "image_overlap"
)

// Disposition is the classification outcome for one catalog entry.
type Disposition string

const (
	ConfirmedNew       Disposition = "confirmed_new"
	SuspectedDuplicate Disposition = "suspected_duplicate"
	ConfirmedExisting  Disposition = "confirmed_existing"
)

// ScanType distinguishes the first full baseline pass from routine monitoring.
type ScanType string

const (
	ScanTypeBaseline ScanType = "baseline"
	ScanTypeMonitor  ScanType = "monitor"
)

// CatalogEntry is one listing seen during a crawl of a retailer category page.
// Price is nil when the listing carried no parseable price.
type CatalogEntry struct {
	Retailer    string   `json:"retailer"`
	Category    string   `json:"category"`
	SourceURL   string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	PriceText   string   `json:"price_text,omitempty"`
	ProductCode string   `json:"product_code,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}

// NormalizedEntry is a CatalogEntry after canonicalisation. The raw source
// URL is preserved for exact matching; CleanURL has tracking parameters
// stripped and is what the snapshot log stores; NormalizedURL additionally
// drops the whole query string for the normalized-URL strategy.
type NormalizedEntry struct {
	CatalogEntry

	CleanURL      string
	NormalizedURL string
	TitleFold     string
}

// ProductRecord is one tracked product owned by the downstream product store.
type ProductRecord struct {
	URL         string    `json:"url"`
	Retailer    string    `json:"retailer"`
	Title       string    `json:"title"`
	Price       float64   `json:"price"`
	ProductCode string    `json:"product_code,omitempty"`
	ImageURLs   []string  `json:"image_urls,omitempty"`
	FirstSeen   time.Time `json:"first_seen,omitempty"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// BaselineEntry is one append-only snapshot row: a catalog entry as seen on
// a particular scan, regardless of how it was classified.
type BaselineEntry struct {
	ID             int64     `json:"id,omitempty"`
	CatalogURL     string    `json:"catalog_url"`
	Retailer       string    `json:"retailer"`
	Category       string    `json:"category"`
	Title          string    `json:"title,omitempty"`
	Price          *float64  `json:"price,omitempty"`
	ProductCode    string    `json:"product_code,omitempty"`
	ImageURLs      []string  `json:"image_urls,omitempty"`
	Fingerprint    string    `json:"fingerprint"`
	DiscoveredDate time.Time `json:"discovered_date"`
	ScanType       ScanType  `json:"scan_type"`
}

// MatchResult is the outcome of one matcher or of the whole cascade.
// Product and Baseline are mutually exclusive; both nil means no match.
type MatchResult struct {
	Strategy   Strategy       `json:"strategy,omitempty"`
	Confidence float64        `json:"confidence"`
	Product    *ProductRecord `json:"product,omitempty"`
	Baseline   *BaselineEntry `json:"baseline,omitempty"`
}

// Matched reports whether any record was linked.
func (m MatchResult) Matched() bool {
	return m.Product != nil || m.Baseline != nil
}

// MatchedURL returns the URL of the linked record, if any.
func (m MatchResult) MatchedURL() string {
	switch {
	case m.Product != nil:
		return m.Product.URL
	case m.Baseline != nil:
		return m.Baseline.CatalogURL
	default:
		return ""
	}
}

// RetailerProfile captures learned per-retailer behaviour used to decide
// which matching strategies to trust.
type RetailerProfile struct {
	Retailer            string    `json:"retailer"`
	URLStabilityScore   float64   `json:"url_stability_score"`
	ImageURLsConsistent bool      `json:"image_urls_consistent"`
	PreferredStrategy   Strategy  `json:"preferred_strategy,omitempty"`
	SampleSize          int       `json:"sample_size"`
	UpdatedAt           time.Time `json:"updated_at,omitempty"`
}

// LinkObservation records, after a completed match, whether the catalog URL
// and the linked record's URL diverged. Profiles are recomputed from these
// rows rather than incremented in place.
type LinkObservation struct {
	Retailer       string    `json:"retailer"`
	CatalogURL     string    `json:"catalog_url"`
	LinkedURL      string    `json:"linked_url"`
	URLChanged     bool      `json:"url_changed"`
	ImageURLsMatch bool      `json:"image_urls_match"`
	ObservedAt     time.Time `json:"observed_at"`
}

// PriceChangeRecord is one detected divergence between a catalog price and
// the stored price of the matched product.
type PriceChangeRecord struct {
	ProductURL      string    `json:"product_url"`
	Retailer        string    `json:"retailer"`
	CatalogPrice    float64   `json:"catalog_price"`
	StoredPrice     float64   `json:"stored_price"`
	PriceDifference float64   `json:"price_difference"`
	Priority        string    `json:"priority"`
	DetectedAt      time.Time `json:"detected_at"`
}

// Priority values for PriceChangeRecord.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
)

// ClassifiedEntry pairs a normalized entry with its cascade result.
// Degraded marks entries that fell back to confirmed_new because a store
// lookup failed mid-cascade.
type ClassifiedEntry struct {
	Entry       NormalizedEntry `json:"entry"`
	Match       *MatchResult    `json:"match,omitempty"`
	Disposition Disposition     `json:"disposition"`
	Degraded    bool            `json:"degraded,omitempty"`
}

// RejectedEntry is an input entry dropped before matching.
type RejectedEntry struct {
	Entry  CatalogEntry `json:"entry"`
	Reason string       `json:"reason"`
}

// ScanReport aggregates the outcome of one full scan.
type ScanReport struct {
	RunID        string              `json:"run_id"`
	Retailer     string              `json:"retailer"`
	Category     string              `json:"category"`
	ScanType     ScanType            `json:"scan_type"`
	StartedAt    time.Time           `json:"started_at"`
	Duration     time.Duration       `json:"duration"`
	New          []ClassifiedEntry   `json:"new"`
	Suspected    []ClassifiedEntry   `json:"suspected_duplicates"`
	Existing     []ClassifiedEntry   `json:"existing"`
	Rejected     []RejectedEntry     `json:"rejected,omitempty"`
	PriceChanges []PriceChangeRecord `json:"price_changes,omitempty"`
	Snapshots    int                 `json:"snapshots"`
}

// Total returns the number of entries that received a disposition.
func (r ScanReport) Total() int {
	return len(r.New) + len(r.Suspected) + len(r.Existing)
}
