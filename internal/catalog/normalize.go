package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"catalogwatch/pkg/types"
)

// ErrMissingSourceURL rejects entries that cannot be matched at all.
var ErrMissingSourceURL = errors.New("catalog entry missing source url")

// defaultTrackingParams are query parameters that identify campaigns, not
// products. Deployments can extend the list via matching.tracking_params.
var defaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "msclkid", "mc_cid", "mc_eid",
	"ref", "referrer", "affid", "cjevent", "irclickid",
}

// Normalizer canonicalises raw crawled entries before matching. It is a
// pure transformation; rejected entries carry a typed reason.
type Normalizer struct {
	tracking map[string]struct{}
}

// NewNormalizer builds a normalizer with the default tracking-parameter set
// plus any extras.
func NewNormalizer(extraTrackingParams []string) *Normalizer {
	tracking := make(map[string]struct{}, len(defaultTrackingParams)+len(extraTrackingParams))
	for _, p := range defaultTrackingParams {
		tracking[p] = struct{}{}
	}
	for _, p := range extraTrackingParams {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			tracking[p] = struct{}{}
		}
	}
	return &Normalizer{tracking: tracking}
}

// Normalize canonicalises one entry. The original title and URL are
// preserved for display; folded and stripped forms are attached for
// comparison. A price that fails to parse becomes absent rather than
// failing the entry.
func (n *Normalizer) Normalize(entry types.CatalogEntry) (types.NormalizedEntry, error) {
	entry.SourceURL = strings.TrimSpace(entry.SourceURL)
	if entry.SourceURL == "" {
		return types.NormalizedEntry{}, ErrMissingSourceURL
	}
	entry.Retailer = strings.TrimSpace(entry.Retailer)
	entry.Category = strings.TrimSpace(entry.Category)
	entry.Title = strings.TrimSpace(entry.Title)
	entry.ProductCode = strings.TrimSpace(entry.ProductCode)

	if entry.Price == nil && entry.PriceText != "" {
		if price, err := ParsePrice(entry.PriceText); err == nil {
			entry.Price = &price
		}
	}

	normalized := types.NormalizedEntry{
		CatalogEntry:  entry,
		CleanURL:      n.cleanURL(entry.SourceURL),
		NormalizedURL: stripQuery(entry.SourceURL),
		TitleFold:     strings.ToLower(entry.Title),
	}
	return normalized, nil
}

// cleanURL removes tracking parameters, the fragment, and a trailing slash
// while keeping meaningful query parameters.
func (n *Normalizer) cleanURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	parsed.Fragment = ""
	if parsed.RawQuery != "" {
		values := parsed.Query()
		for param := range values {
			if _, tracked := n.tracking[strings.ToLower(param)]; tracked {
				values.Del(param)
			}
		}
		parsed.RawQuery = values.Encode()
	}
	cleaned := parsed.String()
	if parsed.RawQuery == "" {
		cleaned = strings.TrimRight(cleaned, "/")
	}
	return cleaned
}

// stripQuery drops the whole query string and fragment and trims the
// trailing slash. This is the comparison form for the normalized-URL
// strategy.
func stripQuery(raw string) string {
	if idx := strings.IndexAny(raw, "?#"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimRight(raw, "/")
}

var priceDigits = regexp.MustCompile(`-?\d[\d.,\s\x{00A0}]*`)

// ParsePrice coerces heterogeneous textual prices ("$99.00", "99,00 €",
// "1.299,00") into a decimal amount.
func ParsePrice(text string) (float64, error) {
	match := priceDigits.FindString(text)
	if match == "" {
		return 0, fmt.Errorf("no numeric price in %q", text)
	}
	cleaned := strings.ReplaceAll(match, " ", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// The later separator is the decimal point, the other is grouping.
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if isGroupingSeparator(cleaned, lastComma, ",") {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	case lastDot >= 0:
		if isGroupingSeparator(cleaned, lastDot, ".") {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", text, err)
	}
	return value, nil
}

// isGroupingSeparator reports whether the single separator kind in the
// string looks like a thousands separator (exactly three digits follow and
// it appears more than once, or three digits follow a leading group).
func isGroupingSeparator(s string, lastIdx int, sep string) bool {
	if strings.Count(s, sep) > 1 {
		return true
	}
	return len(s)-lastIdx-1 == 3 && lastIdx >= 1
}
