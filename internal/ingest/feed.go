// Package ingest decodes externally produced scan input into catalog
// entries. It is the shape-coercion boundary between the excluded
// extraction layer and the matching engine; it never fetches anything.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"catalogwatch/pkg/types"
)

// feedEntry tolerates the field variants upstream extractors emit: price as
// a number or as raw text, url under "url" or "source_url".
type feedEntry struct {
	Retailer    string          `json:"retailer"`
	Category    string          `json:"category"`
	URL         string          `json:"url"`
	SourceURL   string          `json:"source_url"`
	Title       string          `json:"title"`
	Price       json.RawMessage `json:"price"`
	ProductCode string          `json:"product_code"`
	ImageURLs   []string        `json:"image_urls"`
}

type feedDocument struct {
	Retailer string      `json:"retailer"`
	Category string      `json:"category"`
	Entries  []feedEntry `json:"entries"`
}

// DecodeFeed reads a JSON feed: either a top-level array of entries or an
// object with retailer/category defaults and an "entries" array. Arbitrary
// additional fields are ignored.
func DecodeFeed(r io.Reader, maxEntries int) ([]types.CatalogEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	var doc feedDocument
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &doc.Entries); err != nil {
			return nil, fmt.Errorf("decode feed: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode feed: %w", err)
		}
	}

	entries := make([]types.CatalogEntry, 0, len(doc.Entries))
	for _, raw := range doc.Entries {
		entry := types.CatalogEntry{
			Retailer:    firstNonEmpty(raw.Retailer, doc.Retailer),
			Category:    firstNonEmpty(raw.Category, doc.Category),
			SourceURL:   firstNonEmpty(raw.URL, raw.SourceURL),
			Title:       raw.Title,
			ProductCode: raw.ProductCode,
			ImageURLs:   raw.ImageURLs,
		}
		applyPrice(&entry, raw.Price)
		entries = append(entries, entry)
		if maxEntries > 0 && len(entries) >= maxEntries {
			break
		}
	}
	return entries, nil
}

// applyPrice accepts a JSON number or a textual price. Text is carried as
// PriceText so the normalizer owns the parsing policy.
func applyPrice(entry *types.CatalogEntry, raw json.RawMessage) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		entry.Price = &number
		return
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		entry.PriceText = text
		return
	}
	// Last resort: some feeds emit bare unquoted text.
	if v, err := strconv.ParseFloat(strings.Trim(string(raw), `"`), 64); err == nil {
		entry.Price = &v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
