package ingest

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"catalogwatch/internal/config"
	"catalogwatch/pkg/types"
)

// ExtractHTML pulls catalog entries out of an externally fetched catalog
// page using deployment-supplied CSS selectors. The base URL resolves
// relative links; no retailer-specific logic lives here.
func ExtractHTML(r io.Reader, baseURL, retailer, category string, sel config.HTMLSelectors, maxEntries int) ([]types.CatalogEntry, error) {
	if strings.TrimSpace(sel.Entry) == "" {
		return nil, fmt.Errorf("html ingest requires an entry selector")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse catalog html: %w", err)
	}

	var entries []types.CatalogEntry
	doc.Find(sel.Entry).EachWithBreak(func(_ int, node *goquery.Selection) bool {
		entry := types.CatalogEntry{
			Retailer: retailer,
			Category: category,
		}

		linkNode := node
		if sel.Link != "" {
			linkNode = node.Find(sel.Link).First()
		}
		href, _ := linkNode.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return true
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return true
		}
		resolved.Fragment = ""
		entry.SourceURL = resolved.String()

		if sel.Title != "" {
			entry.Title = strings.TrimSpace(node.Find(sel.Title).First().Text())
		}
		if sel.Price != "" {
			entry.PriceText = strings.TrimSpace(node.Find(sel.Price).First().Text())
		}
		if sel.CodeAttr != "" {
			if code, ok := node.Attr(sel.CodeAttr); ok {
				entry.ProductCode = strings.TrimSpace(code)
			}
		}
		if sel.Image != "" {
			seen := make(map[string]struct{})
			node.Find(sel.Image).Each(func(_ int, img *goquery.Selection) {
				src, ok := img.Attr("src")
				if !ok || strings.TrimSpace(src) == "" {
					src, _ = img.Attr("data-src")
				}
				src = strings.TrimSpace(src)
				if src == "" {
					return
				}
				resolvedImg, err := base.Parse(src)
				if err != nil {
					return
				}
				key := resolvedImg.String()
				if _, dup := seen[key]; dup {
					return
				}
				seen[key] = struct{}{}
				entry.ImageURLs = append(entry.ImageURLs, key)
			})
		}

		entries = append(entries, entry)
		return maxEntries <= 0 || len(entries) < maxEntries
	})
	return entries, nil
}
