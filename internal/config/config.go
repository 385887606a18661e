package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to initialise the
// change-detection engine.
type Config struct {
	DB       SQLConfig      `yaml:"db"`
	Worker   WorkerConfig   `yaml:"worker"`
	Matching MatchingConfig `yaml:"matching"`
	Scan     ScanConfig     `yaml:"scan"`
	Ingest   IngestConfig   `yaml:"ingest"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SQLConfig describes the relational database connection used for persistence.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// WorkerConfig controls per-scan matching concurrency and queue sizing.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	QueueSize   int `yaml:"queue_size"`
}

// MatchingConfig tunes the strategy cascade. The defaults encode the tiered
// accept policy: exact and near-exact signals merge automatically, while
// approximate signals only ever escalate to review.
type MatchingConfig struct {
	NormalizedURLConfidence float64 `yaml:"normalized_url_confidence"`
	ProductCodeConfidence   float64 `yaml:"product_code_confidence"`
	CodeFromURLConfidence   float64 `yaml:"code_from_url_confidence"`

	URLAcceptThreshold        float64 `yaml:"url_accept_threshold"`
	CodeAcceptThreshold       float64 `yaml:"code_accept_threshold"`
	TitlePriceAcceptThreshold float64 `yaml:"title_price_accept_threshold"`
	FuzzyAcceptThreshold      float64 `yaml:"fuzzy_accept_threshold"`
	ImageAcceptThreshold      float64 `yaml:"image_accept_threshold"`

	FuzzySimilarityFloor float64 `yaml:"fuzzy_similarity_floor"`
	FuzzyConfidenceCap   float64 `yaml:"fuzzy_confidence_cap"`
	FuzzyPriceTolerance  float64 `yaml:"fuzzy_price_tolerance"`
	FuzzyCandidateLimit  int     `yaml:"fuzzy_candidate_limit"`

	ImageOverlapFloor float64 `yaml:"image_overlap_floor"`
	ImagePriceWindow  float64 `yaml:"image_price_window"`

	URLStabilityFloor float64  `yaml:"url_stability_floor"`
	TrackingParams    []string `yaml:"tracking_params"`
}

// ScanConfig controls one scan run: input bounds, store-query throttling,
// and price-change detection.
type ScanConfig struct {
	MaxEntries  int               `yaml:"max_entries"`
	QueryRate   RateLimitConfig   `yaml:"query_rate"`
	PriceChange PriceChangeConfig `yaml:"price_change"`
}

// RateLimitConfig applies a token bucket to store lookups per retailer.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Enabled reports whether store-query rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

// PriceChangeConfig tunes the price-change detector.
type PriceChangeConfig struct {
	Tolerance         float64 `yaml:"tolerance"`
	HighPriorityDelta float64 `yaml:"high_priority_delta"`
}

// IngestConfig describes how raw scan input is decoded into catalog entries.
type IngestConfig struct {
	Format     string        `yaml:"format"`
	MaxEntries int           `yaml:"max_entries"`
	HTML       HTMLSelectors `yaml:"html"`
}

// HTMLSelectors locates catalog entry fields inside an externally fetched
// catalog page. Selectors are generic CSS supplied per deployment; no
// retailer-specific extraction logic lives in code.
type HTMLSelectors struct {
	Entry    string `yaml:"entry"`
	Link     string `yaml:"link"`
	Title    string `yaml:"title"`
	Price    string `yaml:"price"`
	Image    string `yaml:"image"`
	CodeAttr string `yaml:"code_attr"`
}

// APIConfig configures the HTTP service.
type APIConfig struct {
	Listen             string `yaml:"listen"`
	MaxConcurrentScans int    `yaml:"max_concurrent_scans"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		DB: SQLConfig{
			Driver:      "postgres",
			AutoMigrate: true,
		},
		Worker: WorkerConfig{
			Concurrency: 16,
			QueueSize:   512,
		},
		Matching: MatchingConfig{
			NormalizedURLConfidence: 0.95,
			ProductCodeConfidence:   0.95,
			CodeFromURLConfidence:   0.90,

			URLAcceptThreshold:        0.95,
			CodeAcceptThreshold:       0.90,
			TitlePriceAcceptThreshold: 0.95,
			FuzzyAcceptThreshold:      0.85,
			ImageAcceptThreshold:      0.90,

			FuzzySimilarityFloor: 0.85,
			FuzzyConfidenceCap:   0.95,
			FuzzyPriceTolerance:  0.10,
			FuzzyCandidateLimit:  1000,

			ImageOverlapFloor: 0.50,
			ImagePriceWindow:  10.0,

			URLStabilityFloor: 0.50,
		},
		Scan: ScanConfig{
			MaxEntries: 10000,
			PriceChange: PriceChangeConfig{
				Tolerance:         0.01,
				HighPriorityDelta: 50.0,
			},
		},
		Ingest: IngestConfig{
			Format:     "json",
			MaxEntries: 10000,
		},
		API: APIConfig{
			Listen:             ":8080",
			MaxConcurrentScans: 4,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces required invariants for the engine configuration.
func (c Config) Validate() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be > 0 (got %d)", c.Worker.QueueSize)
	}
	m := c.Matching
	for _, check := range []struct {
		name  string
		value float64
	}{
		{"matching.normalized_url_confidence", m.NormalizedURLConfidence},
		{"matching.product_code_confidence", m.ProductCodeConfidence},
		{"matching.code_from_url_confidence", m.CodeFromURLConfidence},
		{"matching.url_accept_threshold", m.URLAcceptThreshold},
		{"matching.code_accept_threshold", m.CodeAcceptThreshold},
		{"matching.title_price_accept_threshold", m.TitlePriceAcceptThreshold},
		{"matching.fuzzy_accept_threshold", m.FuzzyAcceptThreshold},
		{"matching.image_accept_threshold", m.ImageAcceptThreshold},
		{"matching.fuzzy_similarity_floor", m.FuzzySimilarityFloor},
		{"matching.fuzzy_confidence_cap", m.FuzzyConfidenceCap},
		{"matching.image_overlap_floor", m.ImageOverlapFloor},
		{"matching.url_stability_floor", m.URLStabilityFloor},
	} {
		if check.value < 0 || check.value > 1 {
			return fmt.Errorf("%s must be within [0,1] (got %v)", check.name, check.value)
		}
	}
	if m.FuzzyPriceTolerance <= 0 || m.FuzzyPriceTolerance >= 1 {
		return fmt.Errorf("matching.fuzzy_price_tolerance must be within (0,1) (got %v)", m.FuzzyPriceTolerance)
	}
	if m.FuzzyCandidateLimit <= 0 {
		return fmt.Errorf("matching.fuzzy_candidate_limit must be > 0 (got %d)", m.FuzzyCandidateLimit)
	}
	if m.ImagePriceWindow <= 0 {
		return fmt.Errorf("matching.image_price_window must be > 0 (got %v)", m.ImagePriceWindow)
	}
	if c.Scan.MaxEntries <= 0 {
		return fmt.Errorf("scan.max_entries must be > 0 (got %d)", c.Scan.MaxEntries)
	}
	if c.Scan.PriceChange.Tolerance <= 0 {
		return fmt.Errorf("scan.price_change.tolerance must be > 0 (got %v)", c.Scan.PriceChange.Tolerance)
	}
	if c.Scan.PriceChange.HighPriorityDelta <= c.Scan.PriceChange.Tolerance {
		return fmt.Errorf("scan.price_change.high_priority_delta must exceed the tolerance (got %v)", c.Scan.PriceChange.HighPriorityDelta)
	}
	if rl := c.Scan.QueryRate; rl.Requests < 0 {
		return fmt.Errorf("scan.query_rate.requests must be >= 0 (got %d)", rl.Requests)
	}
	switch c.Ingest.Format {
	case "json", "html":
	default:
		return fmt.Errorf("ingest.format must be json or html (got %q)", c.Ingest.Format)
	}
	if c.Ingest.Format == "html" && strings.TrimSpace(c.Ingest.HTML.Entry) == "" {
		return errors.New("ingest.html.entry selector must be set for html ingest")
	}
	if c.API.MaxConcurrentScans <= 0 {
		return fmt.Errorf("api.max_concurrent_scans must be > 0 (got %d)", c.API.MaxConcurrentScans)
	}
	return nil
}

func (c *Config) normalise() {
	c.DB.Driver = strings.TrimSpace(c.DB.Driver)
	c.Ingest.Format = strings.ToLower(strings.TrimSpace(c.Ingest.Format))
	c.API.Listen = strings.TrimSpace(c.API.Listen)
	if len(c.Matching.TrackingParams) > 0 {
		c.Matching.TrackingParams = dedupeLower(c.Matching.TrackingParams)
	}
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}
